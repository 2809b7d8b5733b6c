package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"healthrecords/models"
)

// JSONDirectory keeps all identities in one JSON file, rewritten atomically on
// every change. Suitable for single-user deployments.
type JSONDirectory struct {
	path string

	mu        sync.RWMutex
	byAccount map[string]*models.Identity
	byWallet  map[string]string // wallet key -> account id
}

type directoryFile struct {
	Identities []*models.Identity `json:"identities"`
}

func NewJSONDirectory(path string) (*JSONDirectory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %v", err)
	}

	d := &JSONDirectory{
		path:      path,
		byAccount: make(map[string]*models.Identity),
		byWallet:  make(map[string]string),
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *JSONDirectory) load() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read identities file: %v", err)
	}

	var file directoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal identities: %v", err)
	}
	for _, identity := range file.Identities {
		if err := validateIdentity(identity); err != nil {
			return fmt.Errorf("invalid identity in %s: %v", d.path, err)
		}
		d.byAccount[identity.AccountID] = identity
		d.byWallet[models.WalletKey(identity.BoundWallet)] = identity.AccountID
	}
	log.Printf("Loaded %d identities from %s", len(file.Identities), d.path)
	return nil
}

func (d *JSONDirectory) FindByWallet(ctx context.Context, address common.Address) (*models.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byWallet[models.WalletKey(address)]
	if !ok {
		return nil, models.ErrIdentityNotFound
	}
	identity := *d.byAccount[id]
	return &identity, nil
}

func (d *JSONDirectory) FindByAccountID(ctx context.Context, accountID string) (*models.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	identity, ok := d.byAccount[accountID]
	if !ok {
		return nil, models.ErrIdentityNotFound
	}
	cp := *identity
	return &cp, nil
}

func (d *JSONDirectory) Create(ctx context.Context, identity *models.Identity) error {
	if err := validateIdentity(identity); err != nil {
		return &models.ValidationError{Field: "identity", Message: err.Error()}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byAccount[identity.AccountID]; exists {
		return models.ErrDuplicateAccount
	}
	walletKey := models.WalletKey(identity.BoundWallet)
	if _, bound := d.byWallet[walletKey]; bound {
		return models.ErrWalletAlreadyBound
	}

	now := time.Now().UTC()
	stored := *identity
	stored.CreatedAt = now
	stored.UpdatedAt = now

	d.byAccount[stored.AccountID] = &stored
	d.byWallet[walletKey] = stored.AccountID
	if err := d.saveLocked(); err != nil {
		delete(d.byAccount, stored.AccountID)
		delete(d.byWallet, walletKey)
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}

	identity.CreatedAt = now
	identity.UpdatedAt = now
	return nil
}

func (d *JSONDirectory) UpdateProfile(ctx context.Context, accountID string, profile models.Profile) (*models.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	identity, ok := d.byAccount[accountID]
	if !ok {
		return nil, models.ErrIdentityNotFound
	}

	previous := *identity
	identity.Profile = profile
	identity.UpdatedAt = time.Now().UTC()
	if err := d.saveLocked(); err != nil {
		*identity = previous
		return nil, fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}

	cp := *identity
	return &cp, nil
}

func (d *JSONDirectory) saveLocked() error {
	file := directoryFile{Identities: make([]*models.Identity, 0, len(d.byAccount))}
	for _, identity := range d.byAccount {
		file.Identities = append(file.Identities, identity)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identities: %v", err)
	}

	// Write to temporary file first
	tempPath := d.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write identities file: %v", err)
	}
	if err := os.Rename(tempPath, d.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save identities file: %v", err)
	}
	return nil
}
