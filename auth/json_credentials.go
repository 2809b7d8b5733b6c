package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"healthrecords/models"
)

// JSONCredentials keeps credentials in one JSON file next to the JSON
// identity directory, rewritten atomically on every change.
type JSONCredentials struct {
	path string

	mu      sync.RWMutex
	byEmail map[string]Credential
}

type credentialsFile struct {
	Credentials []Credential `json:"credentials"`
}

func NewJSONCredentials(path string) (*JSONCredentials, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}

	s := &JSONCredentials{path: path, byEmail: make(map[string]Credential)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %v", err)
	}

	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %v", err)
	}
	for _, cred := range file.Credentials {
		s.byEmail[cred.Email] = cred
	}
	return s, nil
}

func (s *JSONCredentials) Create(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[cred.Email]; exists {
		return ErrEmailTaken
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	s.byEmail[cred.Email] = *cred
	if err := s.saveLocked(); err != nil {
		delete(s.byEmail, cred.Email)
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *JSONCredentials) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.byEmail[email]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &cred, nil
}

func (s *JSONCredentials) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]Credential)
	for email, cred := range s.byEmail {
		if cred.AccountID == accountID {
			removed[email] = cred
			delete(s.byEmail, email)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := s.saveLocked(); err != nil {
		for email, cred := range removed {
			s.byEmail[email] = cred
		}
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *JSONCredentials) saveLocked() error {
	file := credentialsFile{Credentials: make([]Credential, 0, len(s.byEmail))}
	for _, cred := range s.byEmail {
		file.Credentials = append(file.Credentials, cred)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %v", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %v", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save credentials file: %v", err)
	}
	return nil
}
