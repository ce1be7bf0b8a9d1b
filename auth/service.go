package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"salescast/db"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

const (
	minPasswordLength = 8
	// bcrypt only hashes the first 72 bytes and rejects longer input.
	maxPasswordBytes  = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// UserStore is the persistence the auth service needs. *db.Store satisfies it.
type UserStore interface {
	CreateUser(ctx context.Context, u *db.User) error
	FindUserByUsername(ctx context.Context, username string) (*db.User, error)
	FindUserByEmail(ctx context.Context, email string) (*db.User, error)
	FindUserByID(ctx context.Context, id int64) (*db.User, error)
}

type RegistrationForm struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// FormErrors maps form field names to a message for that field.
type FormErrors map[string]string

func (e FormErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, field := range []string{"username", "email", "password", "confirm_password"} {
		if msg, ok := e[field]; ok {
			parts = append(parts, field+": "+msg)
		}
	}
	return strings.Join(parts, "; ")
}

// Validate normalises the form in place and returns nil when it is acceptable.
func (f *RegistrationForm) Validate() FormErrors {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))

	errs := FormErrors{}
	if !usernamePattern.MatchString(f.Username) {
		errs["username"] = "must be 3-32 characters of letters, digits, '_', '.' or '-'"
	}
	if addr, err := mail.ParseAddress(f.Email); err != nil || addr.Address != f.Email {
		errs["email"] = "must be a valid email address"
	}
	if len(f.Password) < minPasswordLength {
		errs["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLength)
	} else if len(f.Password) > maxPasswordBytes {
		errs["password"] = fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)
	}
	if f.Password != f.ConfirmPassword {
		errs["confirm_password"] = "does not match password"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

type Service struct {
	store  UserStore
	hasher *BcryptHasher
	logger *zap.Logger
}

func NewService(store UserStore, hasher *BcryptHasher, logger *zap.Logger) *Service {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, hasher: hasher, logger: logger.Named("auth")}
}

// Register validates the form and creates the account. Validation and uniqueness
// problems come back as FormErrors.
func (s *Service) Register(ctx context.Context, form RegistrationForm) (*User, error) {
	if errs := form.Validate(); errs != nil {
		return nil, errs
	}
	hash, err := s.hasher.Hash(form.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	record := &db.User{Username: form.Username, Email: form.Email, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, record); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, s.conflictErrors(ctx, form)
		}
		return nil, err
	}
	s.logger.Info("user registered", zap.Int64("user_id", record.ID), zap.String("username", record.Username))
	return NewUser(*record), nil
}

func (s *Service) conflictErrors(ctx context.Context, form RegistrationForm) FormErrors {
	errs := FormErrors{}
	if _, err := s.store.FindUserByUsername(ctx, form.Username); err == nil {
		errs["username"] = "is already taken"
	}
	if _, err := s.store.FindUserByEmail(ctx, form.Email); err == nil {
		errs["email"] = "is already registered"
	}
	if len(errs) == 0 {
		errs["username"] = "is already taken"
	}
	return errs
}

// Authenticate checks the credentials. Unknown users and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	record, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Info("login failed", zap.String("username", username), zap.String("reason", "unknown user"))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	user := NewUser(*record)
	if !user.CheckPassword(password) {
		s.logger.Info("login failed", zap.String("username", username), zap.String("reason", "bad password"))
		return nil, ErrInvalidCredentials
	}
	s.logger.Info("user logged in", zap.Int64("user_id", record.ID))
	return user, nil
}

func (s *Service) Lookup(ctx context.Context, id int64) (*User, error) {
	record, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewUser(*record), nil
}
