package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"healthrecords/models"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("failed to open in-memory cache: %v", err)
	}
	c := NewCache(db)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheRoundTripPerWallet(t *testing.T) {
	c := newTestCache(t)
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob := common.HexToAddress("0x2222222222222222222222222222222222222222")

	files := []models.FileRecord{{Name: "scan.pdf", CID: "QmA", Category: "Report", Timestamp: time.Unix(1700000000, 0).UTC()}}
	if err := c.SaveFiles(alice, files); err != nil {
		t.Fatalf("SaveFiles failed: %v", err)
	}

	snap, err := c.LoadFiles(alice)
	if err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	if len(snap.Value) != 1 || snap.Value[0].CID != "QmA" {
		t.Errorf("unexpected cached files: %+v", snap.Value)
	}
	if snap.SyncedAt.IsZero() {
		t.Errorf("expected sync time to be recorded")
	}

	if _, err := c.LoadFiles(bob); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected ErrNotCached for another wallet, got %v", err)
	}
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(t)
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")

	if err := c.SaveVitals(owner, []models.DailyReport{{HeartRate: 72}}); err != nil {
		t.Fatalf("SaveVitals failed: %v", err)
	}
	if err := c.SaveProfile("acct-1", models.Profile{Name: "Asha"}); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := c.LoadVitals(owner); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected vitals to be cleared, got %v", err)
	}
	if _, err := c.LoadProfile("acct-1"); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected profile to be cleared, got %v", err)
	}
}
