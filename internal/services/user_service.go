package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"homeward/marketplace/internal/auth"
	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/models"
)

var emailRegexp = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Register(ctx context.Context, email, name, password string, role models.Role) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	SetVerified(ctx context.Context, userID string, kind models.VerificationKind, verified bool) error
}

// userService implements IUserService.
type userService struct {
	store          db.Store
	cfg            *config.Config
	now            db.Clock
	passwordRegexp *regexp.Regexp
	passwords      auth.PasswordHasher
}

// NewUserService creates a new UserService.
func NewUserService(store db.Store, cfg *config.Config) IUserService {
	return &userService{
		store:          store,
		cfg:            cfg,
		now:            db.UTCNow,
		passwordRegexp: regexp.MustCompile(cfg.PasswordRegexp),
		passwords:      auth.NewPasswordHasher(cfg.BcryptCost),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with a bcrypt-hashed password.
func (s *userService) Register(ctx context.Context, email, name, password string, role models.Role) (*models.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	switch {
	case !emailRegexp.MatchString(email):
		return nil, validationErr("invalid email address")
	case name == "":
		return nil, validationErr("name is required")
	case !s.passwordRegexp.MatchString(password):
		return nil, validationErr("password does not meet requirements")
	case !role.Valid():
		return nil, validationErr("invalid role %q", role)
	}

	if _, err := s.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !isNotFound(err) {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, validationErr("password is too long")
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := s.store.Add(ctx, db.UsersCollection, user)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to insert user %s: %w", email, err)
	}
	user.ID = id
	return user, nil
}

// Authenticate returns the user whose email and password match.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.passwords.Matches(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if s.passwords.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}
	return user, nil
}

// rehash stores a hash of password at the configured cost. Failures are logged.
func (s *userService) rehash(ctx context.Context, user *models.User, password string) {
	hash, err := s.passwords.Hash(password)
	if err == nil {
		err = s.store.Set(ctx, db.UsersCollection, user.ID, db.Fields{"password": hash, "updated_at": s.now()}, true)
	}
	if err != nil {
		slog.Warn("Failed to upgrade password hash", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
}

func (s *userService) FindByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.store.Get(ctx, db.UsersCollection, userID, &user); err != nil {
		return nil, notFound(err, "user", userID)
	}
	return &user, nil
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	var users []models.User
	err := s.store.Query(ctx, db.UsersCollection, db.Query{
		Filters: []db.Filter{db.Where("email", db.OpEq, email)},
		Limit:   1,
	}, &users)
	if err != nil {
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
	}
	return &users[0], nil
}

// SetVerified sets the user's verification flag for kind.
func (s *userService) SetVerified(ctx context.Context, userID string, kind models.VerificationKind, verified bool) error {
	if !kind.Valid() {
		return validationErr("invalid verification kind %q", kind)
	}
	if _, err := s.FindByID(ctx, userID); err != nil {
		return err
	}
	return s.store.Set(ctx, db.UsersCollection, userID, db.Fields{
		kind.VerifiedField(): verified,
		"updated_at":         db.ServerTimestamp,
	}, true)
}
