package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps the same single user record in a JSON file, for the CLI client.
type FileStore struct {
	path string
}

type fileRecord struct {
	User    json.RawMessage `json:"user"`
	SavedAt time.Time       `json:"saved_at"`
}

// NewFileStore stores the record at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultFilePath is ~/.ensemblelung/session.json.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ensemblelung", "session.json"), nil
}

// Set writes the user record, replacing any previous one.
func (f *FileStore) Set(user User) error {
	if !json.Valid([]byte(user)) {
		return fmt.Errorf("user record is not valid JSON")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileRecord{User: json.RawMessage(user), SavedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0600)
}

// Get reads the user record. ErrNoSession means nothing is stored.
func (f *FileStore) Get() (User, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decode %s: %w", f.path, err)
	}
	if len(rec.User) == 0 || string(rec.User) == "null" {
		return "", ErrNoSession
	}
	return User(rec.User), nil
}

// Clear removes the record. Clearing an empty store is not an error.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
