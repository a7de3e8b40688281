package auth

import (
	"strings"
	"time"
)

// Role is the single role a user holds.
type Role string

const (
	RoleEngineer Role = "engineer"
	RoleManager  Role = "manager"
	RoleObserver Role = "observer"
)

// Roles lists every valid role.
var Roles = []Role{RoleEngineer, RoleManager, RoleObserver}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleEngineer, RoleManager, RoleObserver:
		return true
	}
	return false
}

// ParseRole normalises s and validates it.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	return r, r.Valid()
}

// User is an identity record. Password holds a bcrypt hash.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public returns a copy safe to hand to clients.
func (u User) Public() User {
	u.Password = ""
	return u
}

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ProfileUpdate changes the fields that are set.
type ProfileUpdate struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}
