package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"defectra.org/internal/obs"
	"defectra.org/internal/store"
)

// Service owns the user registry and the single current session.
// Every successful mutation is written through to the KV port before it returns.
type Service struct {
	mu      sync.RWMutex
	kv      store.KV
	users   []User
	current *User
	nextID  int64
	now     func() time.Time
	cost    int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHashCost sets the bcrypt cost for new password hashes.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// NewService hydrates the registry from kv. When the users key is absent the
// registry is seeded from seedUsers and written back. Plaintext passwords found
// in the seed or in storage are replaced by bcrypt hashes.
func NewService(ctx context.Context, kv store.KV, seedUsers []User, opts ...ServiceOption) (*Service, error) {
	if kv == nil {
		return nil, errors.New("auth: kv store is required")
	}
	s := &Service{kv: kv, now: time.Now, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}

	var users []User
	ok, err := store.GetJSON(ctx, kv, store.KeyUsers, &users)
	if err != nil {
		return nil, fmt.Errorf("auth: load users: %w", err)
	}
	if !ok {
		users = append([]User(nil), seedUsers...)
	}
	upgraded, err := s.hashPlaintext(users)
	if err != nil {
		return nil, err
	}
	s.users = users
	for _, u := range users {
		if u.ID >= s.nextID {
			s.nextID = u.ID + 1
		}
	}
	if s.nextID == 0 {
		s.nextID = 1
	}

	var current *User
	if _, err := store.GetJSON(ctx, kv, store.KeyCurrentUser, &current); err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	if current != nil {
		// The registry is authoritative; a session for a vanished user is dropped.
		if i := s.indexByID(current.ID); i >= 0 {
			u := s.users[i]
			s.current = &u
		}
	}
	if !ok || upgraded {
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
	}

	obs.Info("auth_hydrated", map[string]any{
		"users":   len(s.users),
		"seeded":  !ok,
		"session": s.current != nil,
	})
	return s, nil
}

// Authenticate checks the credentials and opens a session for the matching user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.authenticate(ctx, email, password)
	obs.RecordAuth("authenticate", outcome(err))
	return u, err
}

func (s *Service) authenticate(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, invalid("", "email and password are required")
	}
	if err := validateEmail(email); err != nil {
		return User{}, err
	}
	if err := validatePassword(password); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByEmail(email)
	if i < 0 || !CheckPassword(s.users[i].Password, password) {
		return User{}, ErrInvalidCredentials
	}
	u := s.users[i]
	if err := s.setSession(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Register creates a new account and opens a session for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	u, err := s.register(ctx, req)
	obs.RecordAuth("register", outcome(err))
	return u, err
}

func (s *Service) register(ctx context.Context, req RegisterRequest) (User, error) {
	email := normalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if email != "" && s.indexByEmail(email) >= 0 {
		return User{}, ErrDuplicateEmail
	}
	if strings.TrimSpace(req.Name) == "" || email == "" || req.Password == "" || strings.TrimSpace(req.Role) == "" {
		return User{}, invalid("", "all fields are required")
	}
	if err := validateName(req.Name); err != nil {
		return User{}, err
	}
	if err := validateEmail(email); err != nil {
		return User{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return User{}, err
	}
	role, ok := ParseRole(req.Role)
	if !ok {
		return User{}, invalid("role", "unknown role "+req.Role)
	}
	hash, err := HashPassword(req.Password, s.cost)
	if err != nil {
		return User{}, fmt.Errorf("auth: hash password: %w", err)
	}

	now := s.now().UTC()
	u := User{
		ID:        s.nextID,
		Email:     email,
		Password:  hash,
		Name:      strings.TrimSpace(req.Name),
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	prevUsers, prevCurrent := s.users, s.current
	s.users = append(append([]User(nil), s.users...), u)
	s.current = &u
	if err := s.persist(ctx); err != nil {
		s.users, s.current = prevUsers, prevCurrent
		return User{}, err
	}
	s.nextID++
	return u, nil
}

// QuickLogin opens a session for the first registered user holding role.
// It skips the credential check and exists for demo use.
func (s *Service) QuickLogin(ctx context.Context, role string) (User, error) {
	u, err := s.quickLogin(ctx, role)
	obs.RecordAuth("quick_login", outcome(err))
	return u, err
}

func (s *Service) quickLogin(ctx context.Context, role string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if string(u.Role) == role {
			if err := s.setSession(ctx, &u); err != nil {
				return User{}, err
			}
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: %s", ErrNoUserForRole, role)
}

// Logout clears the session. Calling it without a session is a no-op.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSession(ctx, nil)
}

// UpdateProfile validates and applies the set fields of upd to the user.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (User, error) {
	u, err := s.updateProfile(ctx, userID, upd)
	obs.RecordAuth("update_profile", outcome(err))
	return u, err
}

func (s *Service) updateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (User, error) {
	if upd.Name != nil {
		if err := validateName(*upd.Name); err != nil {
			return User{}, err
		}
	}
	var email string
	if upd.Email != nil {
		email = normalizeEmail(*upd.Email)
		if err := validateEmail(email); err != nil {
			return User{}, err
		}
	}
	var hash string
	if upd.Password != nil {
		if err := validatePassword(*upd.Password); err != nil {
			return User{}, err
		}
		var err error
		if hash, err = HashPassword(*upd.Password, s.cost); err != nil {
			return User{}, fmt.Errorf("auth: hash password: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(userID)
	if i < 0 {
		return User{}, fmt.Errorf("%w: %d", ErrNotFound, userID)
	}
	u := s.users[i]
	if upd.Email != nil && email != normalizeEmail(u.Email) {
		if j := s.indexByEmail(email); j >= 0 && s.users[j].ID != userID {
			return User{}, ErrDuplicateEmail
		}
		u.Email = email
	}
	if upd.Name != nil {
		u.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Password != nil {
		u.Password = hash
	}
	u.UpdatedAt = s.now().UTC()

	prevUsers, prevCurrent := s.users, s.current
	s.users = append([]User(nil), s.users...)
	s.users[i] = u
	if s.current != nil && s.current.ID == userID {
		s.current = &u
	}
	if err := s.persist(ctx); err != nil {
		s.users, s.current = prevUsers, prevCurrent
		return User{}, err
	}
	return u, nil
}

// CurrentUser returns the session user, if any.
func (s *Service) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return User{}, false
	}
	return *s.current, true
}

// User looks a user up by id.
func (s *Service) User(id int64) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexByID(id); i >= 0 {
		return s.users[i], true
	}
	return User{}, false
}

// Users returns the registry in registration order.
func (s *Service) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]User(nil), s.users...)
}

// setSession must be called with mu held.
func (s *Service) setSession(ctx context.Context, u *User) error {
	prev := s.current
	s.current = u
	if err := store.SetJSON(ctx, s.kv, store.KeyCurrentUser, u); err != nil {
		s.current = prev
		return fmt.Errorf("auth: persist session: %w", err)
	}
	return nil
}

// persist writes the registry and the session. Must be called with mu held.
func (s *Service) persist(ctx context.Context) error {
	if err := store.SetJSON(ctx, s.kv, store.KeyUsers, s.users); err != nil {
		return fmt.Errorf("auth: persist users: %w", err)
	}
	if err := store.SetJSON(ctx, s.kv, store.KeyCurrentUser, s.current); err != nil {
		return fmt.Errorf("auth: persist session: %w", err)
	}
	return nil
}

// hashPlaintext replaces plaintext passwords in users with hashes and reports
// whether anything changed. Empty passwords are left alone; they never match.
func (s *Service) hashPlaintext(users []User) (bool, error) {
	changed := false
	for i := range users {
		if users[i].Password == "" || isHashed(users[i].Password) {
			continue
		}
		hash, err := HashPassword(users[i].Password, s.cost)
		if err != nil {
			return false, fmt.Errorf("auth: hash password for user %d: %w", users[i].ID, err)
		}
		users[i].Password = hash
		changed = true
	}
	return changed, nil
}

func (s *Service) indexByEmail(email string) int {
	for i, u := range s.users {
		if normalizeEmail(u.Email) == email {
			return i
		}
	}
	return -1
}

func (s *Service) indexByID(id int64) int {
	for i, u := range s.users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid_input"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrNoUserForRole):
		return "no_user_for_role"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
