package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	RoleAdmin   = "ADMIN"
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type ServiceConfig struct {
	Secret            string
	TokenTTL          time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
	Now               func() time.Time
}

type Service struct {
	store             UserStore
	tokens            *TokenIssuer
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
	now               func() time.Time

	guardMu sync.Mutex
	guards  map[string]*loginGuard
}

type loginGuard struct {
	failures    int
	lockedUntil time.Time
}

type CreateUserInput struct {
	Email    string
	Password string
	FullName string
	Role     string
}

type LoginResult struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func NewService(store UserStore, cfg ServiceConfig) (*Service, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}
	tokens, err := NewTokenIssuer(cfg.Secret, cfg.TokenTTL, cfg.Now)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:             store,
		tokens:            tokens,
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
		now:               cfg.Now,
		guards:            make(map[string]*loginGuard),
	}, nil
}

// Login checks the password and returns a signed bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.AuthenticatePassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *Service) AuthenticatePassword(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if s.isGuardLocked(email) {
		return nil, ErrRateLimited
	}

	u, hash, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.registerFailure(email)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if !u.IsActive {
		s.registerFailure(email)
		return nil, ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		s.registerFailure(email)
		return nil, ErrInvalidCredentials
	}

	s.clearGuard(email)
	return u, nil
}

// UserFromToken resolves a bearer token to an active user.
func (s *Service) UserFromToken(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return u, nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if !isValidRole(role) {
		return nil, fmt.Errorf("%w: role must be ADMIN, TEACHER or STUDENT", ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return nil, fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:        uuid.NewString(),
		Email:     email,
		FullName:  fullName,
		Role:      role,
		IsActive:  true,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.CreateUser(ctx, u, string(hash)); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, role string) ([]User, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role != "" && !isValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}
	return s.store.ListUsers(ctx, role)
}

func (s *Service) CountUsers(ctx context.Context) (map[string]int, error) {
	return s.store.CountUsers(ctx)
}

// BootstrapAdmin creates the first admin account when the email is unused.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	if _, _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	if _, err := s.CreateUser(ctx, CreateUserInput{Email: email, Password: password, FullName: "Administrator", Role: RoleAdmin}); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil
		}
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Printf("bootstrap admin created email=%s", email)
	return nil
}

func (s *Service) isGuardLocked(key string) bool {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	g, ok := s.guards[key]
	return ok && s.now().Before(g.lockedUntil)
}

func (s *Service) registerFailure(key string) {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	g, ok := s.guards[key]
	if !ok {
		g = &loginGuard{}
		s.guards[key] = g
	}
	g.failures++
	if g.failures >= s.loginMaxFailures {
		g.failures = 0
		g.lockedUntil = s.now().Add(s.loginLockDuration)
	}
}

func (s *Service) clearGuard(key string) {
	s.guardMu.Lock()
	delete(s.guards, key)
	s.guardMu.Unlock()
}

func isValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
