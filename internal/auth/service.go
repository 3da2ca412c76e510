package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
)

const RoleAdmin = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("email, name and password are required")
	ErrUserExists         = errors.New("user already exists")
)

type Service struct {
	queries *db.Queries
	tokens  *TokenManager
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(cfg config.AuthConfig, queries *db.Queries, logger *slog.Logger) (*Service, error) {
	tokens, err := NewTokenManager(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queries: queries, tokens: tokens, logger: logger, now: time.Now}, nil
}

// Login checks the password and issues a session. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (Session, db.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, db.User{}, ErrInvalidCredentials
	}
	user, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || db.IsMissingTable(err) {
			return Session{}, db.User{}, ErrInvalidCredentials
		}
		return Session{}, db.User{}, fmt.Errorf("lookup user: %w", err)
	}
	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.WarnContext(ctx, "stored password hash unreadable", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return Session{}, db.User{}, ErrInvalidCredentials
	}
	if !ok {
		return Session{}, db.User{}, ErrInvalidCredentials
	}

	session, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return Session{}, db.User{}, err
	}
	if err := s.queries.TouchUserLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "record login time", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	return session, user, nil
}

// Verify resolves a session token to its claims.
func (s *Service) Verify(token string) (Claims, error) {
	return s.tokens.Parse(strings.TrimSpace(token))
}

// Issue creates a session for an already authenticated user.
func (s *Service) Issue(user db.User) (Session, error) {
	return s.tokens.Issue(user.ID, user.Email, user.Role)
}

// CreateAdmin stores a new administrator.
func (s *Service) CreateAdmin(ctx context.Context, email, name, password string) (db.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" || password == "" {
		return db.User{}, ErrInvalidInput
	}
	if _, err := s.queries.GetUserByEmail(ctx, email); err == nil {
		return db.User{}, ErrUserExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return db.User{}, fmt.Errorf("lookup user: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return db.User{}, err
	}
	user, err := s.queries.CreateUser(ctx, db.CreateUserParams{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         RoleAdmin,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return db.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// EnsureAdmin returns the first administrator, creating one from the
// supplied credentials when none exists.
func (s *Service) EnsureAdmin(ctx context.Context, email, name, password string) (db.User, bool, error) {
	existing, err := s.queries.GetFirstAdmin(ctx)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return db.User{}, false, fmt.Errorf("lookup admin: %w", err)
	}
	user, err := s.CreateAdmin(ctx, email, name, password)
	if err != nil {
		return db.User{}, false, err
	}
	return user, true, nil
}

// HasAdmin reports whether an administrator account exists.
func (s *Service) HasAdmin(ctx context.Context) (bool, error) {
	_, err := s.queries.GetFirstAdmin(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows), db.IsMissingTable(err):
		return false, nil
	default:
		return false, err
	}
}

// Me loads the user behind verified claims.
func (s *Service) Me(ctx context.Context, claims Claims) (db.User, error) {
	user, err := s.queries.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.User{}, ErrInvalidToken
		}
		return db.User{}, err
	}
	return user, nil
}
