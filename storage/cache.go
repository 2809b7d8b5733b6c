package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"healthrecords/models"
)

// ErrNotCached is returned when nothing has been stored for a key yet.
var ErrNotCached = errors.New("not cached")

// Snapshot wraps a cached value with the time it was read from the ledger.
type Snapshot[T any] struct {
	Value    T         `json:"value"`
	SyncedAt time.Time `json:"synced_at"`
}

// Cache keeps the last ledger reads for each wallet so the client can still
// show records when the ledger is unreachable. It is never consulted for
// writes.
type Cache struct {
	db *leveldb.DB
	mu sync.Mutex
}

func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %v", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// NewCache wraps an already opened database.
func NewCache(db *leveldb.DB) *Cache {
	return &Cache{db: db}
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func filesKey(owner common.Address) []byte {
	return []byte("files/" + models.WalletKey(owner))
}

func vitalsKey(owner common.Address) []byte {
	return []byte("vitals/" + models.WalletKey(owner))
}

func profileKey(accountID string) []byte {
	return []byte("profile/" + accountID)
}

func (c *Cache) SaveFiles(owner common.Address, files []models.FileRecord) error {
	return put(c, filesKey(owner), files)
}

func (c *Cache) LoadFiles(owner common.Address) (Snapshot[[]models.FileRecord], error) {
	return get[[]models.FileRecord](c, filesKey(owner))
}

func (c *Cache) SaveVitals(owner common.Address, reports []models.DailyReport) error {
	return put(c, vitalsKey(owner), reports)
}

func (c *Cache) LoadVitals(owner common.Address) (Snapshot[[]models.DailyReport], error) {
	return get[[]models.DailyReport](c, vitalsKey(owner))
}

func (c *Cache) SaveProfile(accountID string, profile models.Profile) error {
	return put(c, profileKey(accountID), profile)
}

func (c *Cache) LoadProfile(accountID string) (Snapshot[models.Profile], error) {
	return get[models.Profile](c, profileKey(accountID))
}

// Clear drops every cached entry. Called on sign-out so one user's records
// never show up in the next session.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, prefix := range []string{"files/", "vitals/", "profile/"} {
		iter := c.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return fmt.Errorf("failed to scan cache: %v", err)
		}
	}
	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to clear cache: %v", err)
	}
	log.Printf("Cleared %d cached entries", batch.Len())
	return nil
}

func put[T any](c *Cache, key []byte, value T) error {
	data, err := json.Marshal(Snapshot[T]{Value: value, SyncedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %v", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.Put(key, data, nil); err != nil {
		return fmt.Errorf("failed to write %s: %v", key, err)
	}
	return nil
}

func get[T any](c *Cache, key []byte) (Snapshot[T], error) {
	var snap Snapshot[T]
	data, err := c.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return snap, ErrNotCached
		}
		return snap, fmt.Errorf("failed to read %s: %v", key, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal %s: %v", key, err)
	}
	return snap, nil
}
