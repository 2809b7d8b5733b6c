package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"healthrecords/models"
)

// Signer is the account source the connector talks to. It plays the part of
// a browser-injected wallet: it reveals accounts on request, announces account
// switches and signs transactions for the revealed account.
type Signer interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription
	TransactOpts(ctx context.Context, account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}

// Selector is implemented by signers that let the operator switch accounts.
type Selector interface {
	Select(account common.Address) error
}

// KeystoreSigner serves accounts from an encrypted go-ethereum keystore.
type KeystoreSigner struct {
	ks         *keystore.KeyStore
	passphrase string

	mu       sync.Mutex
	selected *accounts.Account
	feed     event.Feed
}

func NewKeystoreSigner(dir, passphrase string) *KeystoreSigner {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	return NewKeystoreSignerFrom(ks, passphrase)
}

func NewKeystoreSignerFrom(ks *keystore.KeyStore, passphrase string) *KeystoreSigner {
	return &KeystoreSigner{ks: ks, passphrase: passphrase}
}

// RequestAccounts unlocks and reveals the selected account, defaulting to the
// first account in the keystore. A wrong passphrase counts as a rejection.
func (s *KeystoreSigner) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil {
		all := s.ks.Accounts()
		if len(all) == 0 {
			return nil, models.ErrNoSignerAvailable
		}
		acc := all[0]
		s.selected = &acc
	}
	if err := s.ks.Unlock(*s.selected, s.passphrase); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUserRejected, err)
	}
	return []common.Address{s.selected.Address}, nil
}

// Select switches the active account and announces the switch to subscribers.
func (s *KeystoreSigner) Select(address common.Address) error {
	acc, err := s.ks.Find(accounts.Account{Address: address})
	if err != nil {
		if errors.Is(err, keystore.ErrNoMatch) {
			return fmt.Errorf("account %s not in keystore: %w", address.Hex(), models.ErrNoSignerAvailable)
		}
		return err
	}
	if err := s.ks.Unlock(acc, s.passphrase); err != nil {
		return fmt.Errorf("%w: %v", models.ErrUserRejected, err)
	}

	s.mu.Lock()
	s.selected = &acc
	s.mu.Unlock()

	s.feed.Send([]common.Address{acc.Address})
	return nil
}

func (s *KeystoreSigner) SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription {
	return s.feed.Subscribe(ch)
}

func (s *KeystoreSigner) TransactOpts(ctx context.Context, account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyStoreTransactorWithChainID(s.ks, accounts.Account{Address: account}, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor for %s: %w", account.Hex(), err)
	}
	opts.Context = ctx
	return opts, nil
}

// SignText signs msg with the personal-message prefix, the way a browser
// wallet answers personal_sign.
func (s *KeystoreSigner) SignText(account common.Address, msg []byte) ([]byte, error) {
	sig, err := s.ks.SignHash(accounts.Account{Address: account}, TextHash(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to sign message for %s: %w", account.Hex(), err)
	}
	return sig, nil
}
