package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"healthrecords/models"
)

var (
	// ErrEmailTaken is returned by SignUp when the email already has an account.
	ErrEmailTaken = errors.New("an account with this email already exists")
	// ErrCredentialNotFound is returned by stores for an unknown email. Callers
	// of the authenticator only ever see ErrInvalidCredentials.
	ErrCredentialNotFound = errors.New("credential not found")
)

// Credential is one sign-in record. AccountID is the opaque id handed to the
// rest of the system; it never changes.
type Credential struct {
	AccountID    string    `gorm:"primaryKey;size:64" json:"account_id"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash []byte    `gorm:"not null" json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Credential) TableName() string {
	return "credentials"
}

type CredentialStore interface {
	Create(ctx context.Context, cred *Credential) error
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	// Delete removes the credential of accountID. Deleting an unknown
	// account is not an error.
	Delete(ctx context.Context, accountID string) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SQLCredentials keeps credentials in the same database as the directory.
type SQLCredentials struct {
	db *gorm.DB
}

func NewSQLCredentials(db *gorm.DB) (*SQLCredentials, error) {
	if err := db.AutoMigrate(&Credential{}); err != nil {
		return nil, fmt.Errorf("failed to migrate credentials table: %w", err)
	}
	return &SQLCredentials{db: db}, nil
}

func (s *SQLCredentials) Create(ctx context.Context, cred *Credential) error {
	err := s.db.WithContext(ctx).Create(cred).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrEmailTaken
	}
	return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
}

func (s *SQLCredentials) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	var cred Credential
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return &cred, nil
}

func (s *SQLCredentials) Delete(ctx context.Context, accountID string) error {
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&Credential{}).Error; err != nil {
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return nil
}

// MemoryCredentials is a process-local store used by tests.
type MemoryCredentials struct {
	mu      sync.RWMutex
	byEmail map[string]Credential
}

func NewMemoryCredentials() *MemoryCredentials {
	return &MemoryCredentials{byEmail: make(map[string]Credential)}
}

func (m *MemoryCredentials) Create(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[cred.Email]; exists {
		return ErrEmailTaken
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}
	m.byEmail[cred.Email] = *cred
	return nil
}

func (m *MemoryCredentials) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.byEmail[email]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &cred, nil
}

func (m *MemoryCredentials) Delete(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, cred := range m.byEmail {
		if cred.AccountID == accountID {
			delete(m.byEmail, email)
		}
	}
	return nil
}
