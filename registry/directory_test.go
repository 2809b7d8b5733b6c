package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"healthrecords/models"
)

var (
	walletA = common.HexToAddress("0xAbC0000000000000000000000000000000000001")
	walletB = common.HexToAddress("0xdef0000000000000000000000000000000000002")
)

func directories(t *testing.T) map[string]Directory {
	t.Helper()

	jsonDir, err := NewJSONDirectory(filepath.Join(t.TempDir(), "identities.json"))
	if err != nil {
		t.Fatalf("json directory: %v", err)
	}

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDir, err := NewSQLDirectory(db)
	if err != nil {
		t.Fatalf("sql directory: %v", err)
	}

	return map[string]Directory{"json": jsonDir, "sql": sqlDir}
}

func patient(id string, wallet common.Address) *models.Identity {
	return &models.Identity{
		AccountID:   id,
		Role:        models.RolePatient,
		BoundWallet: wallet,
		Profile:     models.Profile{Name: id, Email: id + "@example.com", Phone: "+919876543210"},
	}
}

func TestCreateAndFind(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := dir.Create(ctx, patient("acct-1", walletA)); err != nil {
				t.Fatalf("create failed: %v", err)
			}

			byID, err := dir.FindByAccountID(ctx, "acct-1")
			if err != nil {
				t.Fatalf("find by account: %v", err)
			}
			if byID.BoundWallet != walletA || byID.Role != models.RolePatient {
				t.Fatalf("unexpected identity %+v", byID)
			}

			lower := common.HexToAddress("0xabc0000000000000000000000000000000000001")
			byWallet, err := dir.FindByWallet(ctx, lower)
			if err != nil {
				t.Fatalf("find by wallet: %v", err)
			}
			if byWallet.AccountID != "acct-1" {
				t.Fatalf("expected acct-1, got %s", byWallet.AccountID)
			}

			if _, err := dir.FindByWallet(ctx, walletB); !errors.Is(err, models.ErrIdentityNotFound) {
				t.Fatalf("expected ErrIdentityNotFound, got %v", err)
			}
			if _, err := dir.FindByAccountID(ctx, "missing"); !errors.Is(err, models.ErrIdentityNotFound) {
				t.Fatalf("expected ErrIdentityNotFound, got %v", err)
			}
		})
	}
}

func TestWalletBoundOnceAcrossRoles(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := dir.Create(ctx, patient("acct-1", walletA)); err != nil {
				t.Fatalf("create failed: %v", err)
			}

			doctor := patient("acct-2", common.HexToAddress("0xABC0000000000000000000000000000000000001"))
			doctor.Role = models.RoleDoctor
			if err := dir.Create(ctx, doctor); !errors.Is(err, models.ErrWalletAlreadyBound) {
				t.Fatalf("expected ErrWalletAlreadyBound, got %v", err)
			}
			if _, err := dir.FindByAccountID(ctx, "acct-2"); !errors.Is(err, models.ErrIdentityNotFound) {
				t.Fatalf("rejected registration must not create an identity, got %v", err)
			}
		})
	}
}

func TestDuplicateAccount(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := dir.Create(ctx, patient("acct-1", walletA)); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if err := dir.Create(ctx, patient("acct-1", walletB)); !errors.Is(err, models.ErrDuplicateAccount) {
				t.Fatalf("expected ErrDuplicateAccount, got %v", err)
			}
			if _, err := dir.FindByWallet(ctx, walletB); !errors.Is(err, models.ErrIdentityNotFound) {
				t.Fatalf("duplicate account must not bind the second wallet, got %v", err)
			}
		})
	}
}

func TestConcurrentRegistrationsSameWallet(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 8
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- dir.Create(ctx, patient(string(rune('a'+i))+"-acct", walletA))
				}(i)
			}
			wg.Wait()
			close(errs)

			created := 0
			for err := range errs {
				switch {
				case err == nil:
					created++
				case errors.Is(err, models.ErrWalletAlreadyBound):
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if created != 1 {
				t.Fatalf("expected exactly one identity for the wallet, got %d", created)
			}
		})
	}
}

func TestUpdateProfileKeepsBinding(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := dir.Create(ctx, patient("acct-1", walletA)); err != nil {
				t.Fatalf("create failed: %v", err)
			}

			updated, err := dir.UpdateProfile(ctx, "acct-1", models.Profile{Name: "Asha", BloodGroup: "O+"})
			if err != nil {
				t.Fatalf("update profile: %v", err)
			}
			if updated.Profile.Name != "Asha" || updated.Profile.BloodGroup != "O+" {
				t.Fatalf("profile not updated: %+v", updated.Profile)
			}
			if updated.BoundWallet != walletA || updated.Role != models.RolePatient {
				t.Fatalf("binding changed: %+v", updated)
			}

			if _, err := dir.UpdateProfile(ctx, "missing", models.Profile{}); !errors.Is(err, models.ErrIdentityNotFound) {
				t.Fatalf("expected ErrIdentityNotFound, got %v", err)
			}
		})
	}
}

func TestJSONDirectoryReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")
	dir, err := NewJSONDirectory(path)
	if err != nil {
		t.Fatalf("json directory: %v", err)
	}
	if err := dir.Create(context.Background(), patient("acct-1", walletA)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	reloaded, err := NewJSONDirectory(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := reloaded.FindByWallet(context.Background(), walletA); err != nil {
		t.Fatalf("identity lost on reload: %v", err)
	}
	if err := reloaded.Create(context.Background(), patient("acct-2", walletA)); !errors.Is(err, models.ErrWalletAlreadyBound) {
		t.Fatalf("expected ErrWalletAlreadyBound after reload, got %v", err)
	}
}
