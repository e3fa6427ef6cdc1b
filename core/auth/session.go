package auth

import (
	"context"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrNoCredentials    = errors.New("no stored credentials")
	ErrNotAuthenticated = errors.New("not logged in")
	ErrAdminRequired    = errors.New("admin rights required")
	errInvalidToken     = errors.New("invalid token")
	errTokenExpired     = errors.New("token has expired")
)

// Claims are the backend's access token claims. They are read, never verified:
// the backend is the only party holding the signing key.
type Claims struct {
	jwt.StandardClaims
	Role string `json:"role,omitempty"`
}

func parseClaims(token string) (*Claims, error) {
	claims := new(Claims)
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return nil, errInvalidToken
	}
	if !claims.VerifyExpiresAt(nowFunc().Unix(), false) {
		return nil, errTokenExpired
	}
	return claims, nil
}

// Session holds the current user, explicitly constructed and passed to whatever needs it.
// Init hydrates it from the CredentialStore; Logout and Clear tear it down.
type Session struct {
	store    CredentialStore
	validate *validator.Validate

	mu    sync.RWMutex
	creds *Credentials
}

func NewSession(store CredentialStore, validate *validator.Validate) *Session {
	return &Session{store: store, validate: validate}
}

// Init hydrates the session from stored credentials.
// Missing, unreadable or expired tokens leave the session logged out.
func (s *Session) Init() error {
	creds, err := s.store.Load()
	if err != nil {
		if errors.Cause(err) == ErrNoCredentials {
			s.set(nil)
			return nil
		}
		return errors.Wrap(err, "loading credentials")
	}
	if _, err := parseClaims(creds.AccessToken); err != nil {
		s.set(nil)
		return errors.Wrap(s.store.Delete(), "deleting stale credentials")
	}
	s.set(&creds)
	return nil
}

func (s *Session) Login(ctx context.Context, authr Authenticator, req LoginRequest) (User, error) {
	if err := req.Validate(s.validate); err != nil {
		return User{}, err
	}
	res, err := authr.Login(ctx, req)
	if err != nil {
		return User{}, errors.Wrap(err, "logging in")
	}
	creds := res.Credentials()
	if err := s.store.Save(creds); err != nil {
		return User{}, errors.Wrap(err, "saving credentials")
	}
	s.set(&creds)
	return creds.User, nil
}

// Logout drops the session and its stored credentials.
func (s *Session) Logout() error {
	s.set(nil)
	if err := s.store.Delete(); err != nil {
		return errors.Wrap(err, "deleting credentials")
	}
	return nil
}

// Clear invalidates the session, eg. after the backend rejected the token.
func (s *Session) Clear() {
	_ = s.Logout()
}

func (s *Session) set(creds *Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.AccessToken
}

func (s *Session) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return User{}, false
	}
	return s.creds.User, true
}

func (s *Session) IsAuthenticated() bool {
	_, ok := s.User()
	return ok
}

func (s *Session) IsAdmin() bool {
	usr, ok := s.User()
	return ok && usr.IsAdmin()
}

// RequireUser returns the current user or ErrNotAuthenticated.
func (s *Session) RequireUser() (User, error) {
	usr, ok := s.User()
	if !ok {
		return User{}, ErrNotAuthenticated
	}
	return usr, nil
}

// RequireAdmin returns the current user if they are an admin.
func (s *Session) RequireAdmin() (User, error) {
	usr, err := s.RequireUser()
	if err != nil {
		return User{}, err
	}
	if !usr.IsAdmin() {
		return User{}, ErrAdminRequired
	}
	return usr, nil
}
