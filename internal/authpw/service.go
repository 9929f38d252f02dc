// Package authpw provides email/password registration and sign-in.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"rememberall/api/internal/store"
	"rememberall/api/internal/util"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Register creates a new user account. The password policy and email
// format are validated before anything touches the store.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if name == "" || email == "" || req.Password == "" {
		return store.User{}, errors.New("name, email, and password are required")
	}
	if !ValidEmail(email) {
		return store.User{}, errors.New("invalid email format")
	}
	if problems := ValidatePassword(req.Password); len(problems) > 0 {
		return store.User{}, errors.New(strings.Join(problems, "; "))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password. Both failure modes
// collapse into ErrInvalidCredentials so the response does not reveal
// whether the email is registered.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

const minPasswordLength = 8

// ValidatePassword returns a problem per unmet requirement, empty when the
// password is acceptable.
func ValidatePassword(password string) []string {
	var upper, lower, digit int
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsLower(r):
			lower++
		case unicode.IsDigit(r):
			digit++
		}
	}

	var problems []string
	if len(password) < minPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters long", minPasswordLength))
	}
	if upper < 1 {
		problems = append(problems, "password must contain at least 1 uppercase letter")
	}
	if lower < 1 {
		problems = append(problems, "password must contain at least 1 lowercase letter")
	}
	if digit < 1 {
		problems = append(problems, "password must contain at least 1 digit")
	}
	return problems
}

// PasswordRequirements describes the policy for clients.
func PasswordRequirements() string {
	return fmt.Sprintf("Password requirements: at least %d characters, 1 uppercase letter, 1 lowercase letter, 1 digit.", minPasswordLength)
}

// ValidEmail applies the same structural checks the rest of the system
// relies on: one @, a non-empty local part, a dotted domain, no spaces.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || strings.Contains(email, " ") {
		return false
	}
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return true
}
