package auth

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rollcall/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

var AllRoles = []string{RoleAdmin, RoleStudent}

type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsStudent() bool {
	return u.Role == RoleStudent
}

// Credentials is what gets persisted between runs.
type Credentials struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

type (
	// CredentialStore persists Credentials. Load returns ErrNoCredentials when nothing is stored.
	CredentialStore interface {
		Load() (Credentials, error)
		Save(creds Credentials) error
		Delete() error
	}

	// Authenticator exchanges a LoginRequest for a token.
	Authenticator interface {
		Login(ctx context.Context, req LoginRequest) (TokenResponse, error)
	}
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	UserID      int    `json:"user_id"`
	Name        string `json:"name"`
}

func (tr TokenResponse) Credentials() Credentials {
	return Credentials{
		AccessToken: tr.AccessToken,
		User:        User{ID: tr.UserID, Name: tr.Name, Role: tr.Role},
	}
}
