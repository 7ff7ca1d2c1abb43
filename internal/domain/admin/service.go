package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/hms/hms/internal/platform/auth"
)

// Service manages users and issues login tokens.
type Service struct {
	users  UserRepository
	jwt    auth.JWTConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(users UserRepository, jwt auth.JWTConfig, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		jwt:    jwt,
		logger: logger.With().Str("component", "admin").Logger(),
		now:    time.Now,
	}
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
	LinkedID    *string   `json:"linked_id,omitempty"`
}

// CreateUser hashes password and stores the user. DOCTOR users must carry
// the doctor id they act for.
func (s *Service) CreateUser(ctx context.Context, username, password, role string, linkedID *string) (*User, error) {
	username = strings.TrimSpace(username)
	role = strings.ToUpper(strings.TrimSpace(role))
	switch {
	case username == "":
		return nil, fmt.Errorf("%w: username is required", ErrInvalid)
	case len(password) < 8:
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalid)
	case !validRoles[role]:
		return nil, fmt.Errorf("%w: role must be ADMIN, DOCTOR or STAFF", ErrInvalid)
	case role == RoleDoctor && (linkedID == nil || *linkedID == ""):
		return nil, fmt.Errorf("%w: doctor users need a linked doctor id", ErrInvalid)
	}
	if role != RoleDoctor {
		linkedID = nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{Username: username, PasswordHash: string(hash), Role: role, LinkedID: linkedID}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", username).Str("role", role).Msg("user created")
	return u, nil
}

// Authenticate checks the credentials. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	u, err := s.Authenticate(ctx, username, password)
	if err != nil {
		s.logger.Warn().Str("username", username).Msg("login failed")
		return nil, err
	}
	linked := ""
	if u.LinkedID != nil {
		linked = *u.LinkedID
	}
	signed, exp, err := auth.IssueToken(s.jwt, u.Username, u.Role, linked, s.now())
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp, Role: u.Role, LinkedID: u.LinkedID}, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *Service) DeleteUser(ctx context.Context, username string) error {
	if err := s.users.Delete(ctx, username); err != nil {
		return err
	}
	s.logger.Info().Str("username", username).Msg("user deleted")
	return nil
}
