package credsvc

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core/auth"
)

// FileStore keeps the credentials of the logged in user in a JSON file only its owner can read.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ auth.CredentialStore = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (auth.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := ioutil.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return auth.Credentials{}, auth.ErrNoCredentials
		}
		return auth.Credentials{}, errors.Wrap(err, "reading credentials")
	}
	var creds auth.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return auth.Credentials{}, errors.Wrap(err, "decoding credentials")
	}
	if creds.AccessToken == "" {
		return auth.Credentials{}, auth.ErrNoCredentials
	}
	return creds, nil
}

func (s *FileStore) Save(creds auth.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding credentials")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrap(err, "creating credentials dir")
	}

	// write to a temp file, then rename it over path
	tmp, err := ioutil.TempFile(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "setting credentials mode")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing credentials")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "writing credentials")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "saving credentials")
}

// Delete removes the credentials file. A missing file is not an error.
func (s *FileStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting credentials")
	}
	return nil
}
