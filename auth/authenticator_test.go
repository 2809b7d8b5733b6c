package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"healthrecords/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestAuthenticator(t *testing.T, store CredentialStore) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(store, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}
	return a
}

func stores(t *testing.T) map[string]CredentialStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlStore, err := NewSQLCredentials(db)
	if err != nil {
		t.Fatalf("failed to create sql store: %v", err)
	}
	jsonStore, err := NewJSONCredentials(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatalf("failed to create json store: %v", err)
	}
	return map[string]CredentialStore{
		"memory": NewMemoryCredentials(),
		"sql":    sqlStore,
		"json":   jsonStore,
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := newTestAuthenticator(t, store)
			ctx := context.Background()

			created, err := a.SignUp(ctx, "Asha@Example.com", "hunter22")
			if err != nil {
				t.Fatalf("SignUp failed: %v", err)
			}
			if created.AccountID == "" || created.Token == "" {
				t.Fatalf("expected account id and token, got %+v", created)
			}

			session, err := a.SignIn(ctx, "asha@example.com", "hunter22")
			if err != nil {
				t.Fatalf("SignIn failed: %v", err)
			}
			if session.AccountID != created.AccountID {
				t.Errorf("expected account %s, got %s", created.AccountID, session.AccountID)
			}

			if _, err := a.SignIn(ctx, "asha@example.com", "wrong-pass"); !errors.Is(err, models.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
			}
			if _, err := a.SignIn(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, models.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
			}
			if _, err := a.SignUp(ctx, "asha@example.com", "another1"); !errors.Is(err, ErrEmailTaken) {
				t.Errorf("expected ErrEmailTaken, got %v", err)
			}
		})
	}
}

func TestVerifyAndSignOut(t *testing.T) {
	a := newTestAuthenticator(t, NewMemoryCredentials())
	session, err := a.SignUp(context.Background(), "ravi@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	claims, err := a.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.AccountID != session.AccountID {
		t.Errorf("expected claims for %s, got %s", session.AccountID, claims.AccountID)
	}

	a.SignOut(session.Token)
	if _, err := a.Verify(session.Token); !errors.Is(err, models.ErrNotSignedIn) {
		t.Errorf("expected signed out token to be refused, got %v", err)
	}
	if _, err := a.Verify("not-a-token"); !errors.Is(err, models.ErrNotSignedIn) {
		t.Errorf("expected garbage token to be refused, got %v", err)
	}
}

func TestExpiredTokenIsRefused(t *testing.T) {
	a := newTestAuthenticator(t, NewMemoryCredentials())
	session, err := a.SignUp(context.Background(), "old@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := a.Verify(session.Token); !errors.Is(err, models.ErrNotSignedIn) {
		t.Errorf("expected expired token to be refused, got %v", err)
	}
}

func TestShortSecretIsRefused(t *testing.T) {
	if _, err := NewAuthenticator(NewMemoryCredentials(), []byte("short"), time.Hour); err == nil {
		t.Fatalf("expected short secret to be refused")
	}
}

func TestDiscardFreesEmail(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a := newTestAuthenticator(t, store)
			ctx := context.Background()

			session, err := a.SignUp(ctx, "meera@example.com", "hunter22")
			if err != nil {
				t.Fatalf("SignUp failed: %v", err)
			}
			if err := a.Discard(ctx, session); err != nil {
				t.Fatalf("Discard failed: %v", err)
			}
			if _, err := a.Verify(session.Token); !errors.Is(err, models.ErrNotSignedIn) {
				t.Errorf("expected discarded token to be refused, got %v", err)
			}
			if _, err := a.SignIn(ctx, "meera@example.com", "hunter22"); !errors.Is(err, models.ErrInvalidCredentials) {
				t.Errorf("expected discarded account to be unknown, got %v", err)
			}
			if _, err := a.SignUp(ctx, "meera@example.com", "hunter22"); err != nil {
				t.Errorf("expected email to be free again, got %v", err)
			}
		})
	}
}

func TestJSONCredentialsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewJSONCredentials(path)
	if err != nil {
		t.Fatalf("failed to create json store: %v", err)
	}
	created, err := newTestAuthenticator(t, store).SignUp(context.Background(), "asha@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	reopened, err := NewJSONCredentials(path)
	if err != nil {
		t.Fatalf("failed to reopen json store: %v", err)
	}
	a := newTestAuthenticator(t, reopened)
	session, err := a.SignIn(context.Background(), "asha@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignIn after reopen failed: %v", err)
	}
	if session.AccountID != created.AccountID {
		t.Errorf("expected account %s, got %s", created.AccountID, session.AccountID)
	}
	if _, err := a.SignUp(context.Background(), "asha@example.com", "other12"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken after reopen, got %v", err)
	}
}
