package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLen = 6
	minNameLen     = 2
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return invalid("email", "invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return invalid("password", "password must be at least 6 characters")
	}
	return nil
}

func validateName(name string) error {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < minNameLen {
		return invalid("name", "name must be at least 2 characters")
	}
	return nil
}
