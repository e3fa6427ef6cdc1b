package testutil

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/rollcall/core"
	"github.com/trezcool/rollcall/core/auth"
	"github.com/trezcool/rollcall/core/student"
)

// NewConfig returns the default config, with credentials kept in a temp dir.
func NewConfig(t *testing.T) *core.Config {
	conf := core.NewConfig()
	conf.Env = "TEST"
	conf.Debug = true
	conf.CredentialsFile = filepath.Join(t.TempDir(), "credentials.json")
	return conf
}

// NewValidate returns a validator with every custom validation registered.
func NewValidate() *validator.Validate {
	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	student.InitValidators(validate, translator)
	return validate
}

// NewStudentForm returns a valid registration form, unique per roll number.
func NewStudentForm(rollNumber, fullName string) student.NewStudent {
	return student.NewStudent{
		Name:       fullName,
		Email:      rollNumber + "@college.edu",
		Password:   "Str0ng!Secret",
		RollNumber: rollNumber,
		FullName:   fullName,
		Branch:     "CSE",
		Semester:   3,
	}
}

// MemStore is an in-memory auth.CredentialStore.
type MemStore struct {
	mu    sync.Mutex
	creds *auth.Credentials
}

var _ auth.CredentialStore = (*MemStore)(nil)

func (m *MemStore) Load() (auth.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return auth.Credentials{}, auth.ErrNoCredentials
	}
	return *m.creds, nil
}

func (m *MemStore) Save(creds auth.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

func (m *MemStore) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

// LoggedIn returns a session of usr holding a token issued by b.
func LoggedIn(t *testing.T, b *Backend, usr auth.User) *auth.Session {
	store := &MemStore{creds: &auth.Credentials{AccessToken: b.Token(usr), User: usr}}
	sess := auth.NewSession(store, NewValidate())
	if err := sess.Init(); err != nil {
		t.Fatalf("LoggedIn() failed: %v", err)
	}
	return sess
}
