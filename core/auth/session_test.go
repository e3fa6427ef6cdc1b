package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/rollcall/core"
)

type memStore struct {
	creds   *Credentials
	deleted int
}

func (m *memStore) Load() (Credentials, error) {
	if m.creds == nil {
		return Credentials{}, ErrNoCredentials
	}
	return *m.creds, nil
}

func (m *memStore) Save(creds Credentials) error {
	m.creds = &creds
	return nil
}

func (m *memStore) Delete() error {
	m.creds = nil
	m.deleted++
	return nil
}

type authenticatorFunc func(ctx context.Context, req LoginRequest) (TokenResponse, error)

func (f authenticatorFunc) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	return f(ctx, req)
}

func makeToken(t *testing.T, sub string, role string, exp time.Time) string {
	claims := Claims{
		StandardClaims: jwt.StandardClaims{Subject: sub, ExpiresAt: exp.Unix()},
		Role:           role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("makeToken() failed: %v", err)
	}
	return token
}

func newValidate() *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	return validate
}

func TestSession_Init(t *testing.T) {
	admin := User{ID: 1, Name: "Admin", Role: RoleAdmin}
	valid := makeToken(t, "1", RoleAdmin, time.Now().Add(time.Hour))
	expired := makeToken(t, "1", RoleAdmin, time.Now().Add(-time.Hour))

	tests := []struct {
		name        string
		stored      *Credentials
		wantAuthed  bool
		wantDeleted int
	}{
		{name: "nothing stored", wantAuthed: false},
		{name: "valid token", stored: &Credentials{AccessToken: valid, User: admin}, wantAuthed: true},
		{name: "expired token", stored: &Credentials{AccessToken: expired, User: admin}, wantDeleted: 1},
		{name: "garbage token", stored: &Credentials{AccessToken: "lol", User: admin}, wantDeleted: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{creds: tt.stored}
			sess := NewSession(store, newValidate())
			if err := sess.Init(); err != nil {
				t.Fatalf("Init() unexpected error = %v", err)
			}
			assert.Equal(t, tt.wantAuthed, sess.IsAuthenticated())
			assert.Equal(t, tt.wantDeleted, store.deleted)
			if tt.wantAuthed {
				assert.Equal(t, valid, sess.Token())
				assert.True(t, sess.IsAdmin())
			} else {
				assert.Empty(t, sess.Token())
			}
		})
	}
}

func TestSession_LoginLogout(t *testing.T) {
	token := makeToken(t, "7", RoleStudent, time.Now().Add(time.Hour))
	calls := 0
	authr := authenticatorFunc(func(_ context.Context, req LoginRequest) (TokenResponse, error) {
		calls++
		if req.Password != "good" {
			return TokenResponse{}, errors.New("Invalid credentials")
		}
		return TokenResponse{AccessToken: token, TokenType: "bearer", Role: RoleStudent, UserID: 7, Name: "Hero"}, nil
	})

	store := &memStore{}
	sess := NewSession(store, newValidate())

	// invalid forms never reach the backend
	_, err := sess.Login(context.Background(), authr, LoginRequest{Email: "not-an-email", Password: "good"})
	assert.Error(t, err)
	assert.Equal(t, 0, calls)

	_, err = sess.Login(context.Background(), authr, LoginRequest{Email: "hero@college.edu", Password: "bad"})
	assert.Error(t, err)
	assert.False(t, sess.IsAuthenticated())
	assert.Nil(t, store.creds)

	usr, err := sess.Login(context.Background(), authr, LoginRequest{Email: " Hero@College.edu ", Password: "good"})
	if assert.NoError(t, err) {
		assert.Equal(t, User{ID: 7, Name: "Hero", Role: RoleStudent}, usr)
		assert.Equal(t, token, sess.Token())
		assert.False(t, sess.IsAdmin())
		assert.NotNil(t, store.creds)
	}

	_, err = sess.RequireAdmin()
	assert.Equal(t, ErrAdminRequired, err)

	assert.NoError(t, sess.Logout())
	assert.False(t, sess.IsAuthenticated())
	assert.Nil(t, store.creds)

	// idempotent
	sess.Clear()
	assert.False(t, sess.IsAuthenticated())
	_, err = sess.RequireUser()
	assert.Equal(t, ErrNotAuthenticated, err)
}

func TestParseClaims_nowFunc(t *testing.T) {
	token := makeToken(t, "1", RoleAdmin, time.Now().Add(time.Hour))

	nowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err := parseClaims(token)
	nowFunc = time.Now // reset
	assert.Equal(t, errTokenExpired, err)

	claims, err := parseClaims(token)
	if assert.NoError(t, err) {
		assert.Equal(t, RoleAdmin, claims.Role)
		assert.Equal(t, "1", claims.Subject)
	}
}
