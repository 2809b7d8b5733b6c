package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"

	"healthrecords/models"
)

func newTestKeystore(t *testing.T, n int) (*keystore.KeyStore, []common.Address) {
	t.Helper()
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	for i := 0; i < n; i++ {
		if _, err := ks.NewAccount("secret"); err != nil {
			t.Fatalf("new account: %v", err)
		}
	}
	// Accounts are ordered by key file; the first one is revealed on connect.
	addrs := make([]common.Address, 0, n)
	for _, acc := range ks.Accounts() {
		addrs = append(addrs, acc.Address)
	}
	return ks, addrs
}

func TestConnectWithoutSigner(t *testing.T) {
	c := NewConnector(nil, big.NewInt(1337))
	if _, err := c.Connect(context.Background()); !errors.Is(err, models.ErrNoSignerAvailable) {
		t.Fatalf("expected ErrNoSignerAvailable, got %v", err)
	}
	if _, ok := c.CurrentAddress(); ok {
		t.Fatalf("expected no current address")
	}
}

func TestConnectEmptyKeystore(t *testing.T) {
	ks, _ := newTestKeystore(t, 0)
	c := NewConnector(NewKeystoreSignerFrom(ks, "secret"), big.NewInt(1337))
	if _, err := c.Connect(context.Background()); !errors.Is(err, models.ErrNoSignerAvailable) {
		t.Fatalf("expected ErrNoSignerAvailable, got %v", err)
	}
}

func TestConnectWrongPassphraseIsRejection(t *testing.T) {
	ks, _ := newTestKeystore(t, 1)
	c := NewConnector(NewKeystoreSignerFrom(ks, "wrong"), big.NewInt(1337))
	if _, err := c.Connect(context.Background()); !errors.Is(err, models.ErrUserRejected) {
		t.Fatalf("expected ErrUserRejected, got %v", err)
	}
}

func TestConnectAndSwitch(t *testing.T) {
	ks, addrs := newTestKeystore(t, 2)
	c := NewConnector(NewKeystoreSignerFrom(ks, "secret"), big.NewInt(1337))

	changes := make(chan AddressChange, 4)
	sub := c.SubscribeAddressChanges(changes)
	defer sub.Unsubscribe()

	got, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if got != addrs[0] {
		t.Fatalf("expected %s, got %s", addrs[0].Hex(), got.Hex())
	}
	first := waitChange(t, changes)
	if first.Current != addrs[0] || first.Previous != (common.Address{}) {
		t.Fatalf("unexpected first change %+v", first)
	}

	if err := c.Switch(addrs[1]); err != nil {
		t.Fatalf("switch failed: %v", err)
	}
	if cur, _ := c.CurrentAddress(); cur != addrs[1] {
		t.Fatalf("current address not updated when Switch returned: %s", cur.Hex())
	}
	second := waitChange(t, changes)
	if second.Previous != addrs[0] || second.Current != addrs[1] {
		t.Fatalf("unexpected second change %+v", second)
	}
	// The signer's own notification for the same account must not repeat it.
	select {
	case extra := <-changes:
		t.Fatalf("unexpected duplicate change %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	c.Disconnect()
	third := waitChange(t, changes)
	if third.Current != (common.Address{}) {
		t.Fatalf("expected disconnect change, got %+v", third)
	}
}

func TestLateSwitchNotificationsDoNotUndoNewerSwitch(t *testing.T) {
	ks, addrs := newTestKeystore(t, 2)
	c := NewConnector(NewKeystoreSignerFrom(ks, "secret"), big.NewInt(1337))
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	for i := 0; i < 20; i++ {
		for _, addr := range []common.Address{addrs[1], addrs[0]} {
			if err := c.Switch(addr); err != nil {
				t.Fatalf("switch failed: %v", err)
			}
			if cur, _ := c.CurrentAddress(); cur != addr {
				t.Fatalf("iteration %d: expected %s right after Switch, got %s", i, addr.Hex(), cur.Hex())
			}
		}
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cur, _ := c.CurrentAddress(); cur != addrs[0] {
			t.Fatalf("a late notification moved the wallet to %s", cur.Hex())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTransactOptsRequiresConnectedSender(t *testing.T) {
	ks, addrs := newTestKeystore(t, 2)
	c := NewConnector(NewKeystoreSignerFrom(ks, "secret"), big.NewInt(1337))

	if _, err := c.TransactOpts(context.Background(), addrs[0]); !errors.Is(err, models.ErrWalletNotConnected) {
		t.Fatalf("expected ErrWalletNotConnected, got %v", err)
	}
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := c.TransactOpts(context.Background(), addrs[1]); !errors.Is(err, models.ErrWalletMismatch) {
		t.Fatalf("expected ErrWalletMismatch, got %v", err)
	}
	opts, err := c.TransactOpts(context.Background(), addrs[0])
	if err != nil {
		t.Fatalf("transact opts: %v", err)
	}
	if opts.From != addrs[0] {
		t.Fatalf("expected from %s, got %s", addrs[0].Hex(), opts.From.Hex())
	}
}

func waitChange(t *testing.T, ch <-chan AddressChange) AddressChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for address change")
	}
	return AddressChange{}
}
