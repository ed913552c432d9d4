package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/dkoval/todolist/internal/domain"
	"github.com/dkoval/todolist/internal/repository"
	"github.com/dkoval/todolist/internal/session"
	"github.com/dkoval/todolist/pkg/config"
	"github.com/dkoval/todolist/pkg/crypto"
)

const minPasswordLength = 6

// Validation failures surfaced on the signup and login forms.
var (
	ErrMissingFields      = errors.New("username and password are required")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrUsernameTaken      = errors.New("that username is already taken")
	ErrInvalidCredentials = errors.New("username and password did not match")
)

// Service handles account and session workflows.
type Service struct {
	users    repository.UserRepository
	sessions session.Store
	logger   *slog.Logger
	cfg      config.AppConfig
}

// New constructs a Service.
func New(users repository.UserRepository, sessions session.Store, logger *slog.Logger, cfg config.AppConfig) Service {
	return Service{users: users, sessions: sessions, logger: logger, cfg: cfg}
}

// Signup registers a new user and opens a session for it.
func (s Service) Signup(ctx context.Context, username, password1, password2 string) (*domain.User, domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password1 == "" || password2 == "" {
		return nil, domain.Session{}, ErrMissingFields
	}
	if password1 != password2 {
		return nil, domain.Session{}, ErrPasswordMismatch
	}
	if len(password1) < minPasswordLength {
		return nil, domain.Session{}, ErrPasswordTooShort
	}
	hash, err := crypto.HashPassword(password1)
	if err != nil {
		return nil, domain.Session{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.Session{}, ErrUsernameTaken
		}
		return nil, domain.Session{}, err
	}
	sess, err := s.sessions.Create(ctx, user.ID, s.cfg.SessionTTL)
	if err != nil {
		return nil, domain.Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, sess, nil
}

// Login authenticates a user and opens a session. Unknown usernames and wrong
// passwords produce the same error so the form confirms nothing.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, domain.Session{}, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Session{}, ErrInvalidCredentials
		}
		return nil, domain.Session{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, domain.Session{}, ErrInvalidCredentials
	}
	sess, err := s.sessions.Create(ctx, user.ID, s.cfg.SessionTTL)
	if err != nil {
		return nil, domain.Session{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, sess, nil
}

// Logout revokes the session behind the token. Unknown tokens are ignored.
func (s Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, token)
}

// Authenticate resolves a session token to its user.
func (s Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, session.ErrNotFound
	}
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.users.GetUserByID(ctx, sess.UserID)
}
