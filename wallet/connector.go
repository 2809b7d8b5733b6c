package wallet

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"healthrecords/models"
)

// AddressChange is published whenever the connected address changes.
type AddressChange struct {
	Previous common.Address
	Current  common.Address
}

// Connector holds the process-local wallet session: the address the signer
// last revealed, or the zero address when nothing is connected.
type Connector struct {
	signer  Signer
	chainID *big.Int

	mu      sync.RWMutex
	current common.Address
	sub     event.Subscription
	// echoes are accounts selected through Switch whose notification from
	// the signer has not arrived yet, in selection order.
	echoes []common.Address

	switchMu sync.Mutex

	feed event.Feed
}

func NewConnector(signer Signer, chainID *big.Int) *Connector {
	return &Connector{signer: signer, chainID: chainID}
}

// Connect asks the signer to reveal an address. A rejected request is
// reported once; the caller may simply call Connect again.
func (c *Connector) Connect(ctx context.Context) (common.Address, error) {
	if c.signer == nil {
		return common.Address{}, models.ErrNoSignerAvailable
	}

	accs, err := c.signer.RequestAccounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accs) == 0 {
		return common.Address{}, models.ErrUserRejected
	}

	c.mu.Lock()
	if c.sub == nil {
		ch := make(chan []common.Address, 8)
		c.sub = c.signer.SubscribeAccountsChanged(ch)
		go c.watch(ch, c.sub)
	}
	c.mu.Unlock()

	c.apply(accs)
	return accs[0], nil
}

// Switch asks the signer to change accounts. The new address is current when
// Switch returns; the signer's own notification for it is skipped.
func (c *Connector) Switch(address common.Address) error {
	sel, ok := c.signer.(Selector)
	if !ok || c.signer == nil {
		return models.ErrNoSignerAvailable
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	watching := c.sub != nil
	if watching {
		c.echoes = append(c.echoes, address)
	}
	c.mu.Unlock()

	if err := sel.Select(address); err != nil {
		if watching {
			c.mu.Lock()
			if n := len(c.echoes); n > 0 && c.echoes[n-1] == address {
				c.echoes = c.echoes[:n-1]
			}
			c.mu.Unlock()
		}
		return err
	}
	c.apply([]common.Address{address})
	return nil
}

func (c *Connector) CurrentAddress() (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.current != (common.Address{})
}

// SubscribeAddressChanges delivers every change of the connected address.
// Sends block until received, so subscribers should drain their channel.
func (c *Connector) SubscribeAddressChanges(ch chan<- AddressChange) event.Subscription {
	return c.feed.Subscribe(ch)
}

// HandleAccountsChanged applies an account-change notification. The new
// address is visible through CurrentAddress before subscribers hear of it.
func (c *Connector) HandleAccountsChanged(accs []common.Address) {
	c.apply(accs)
}

// Disconnect drops the signer subscription and forgets the current address.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.echoes = nil
	c.mu.Unlock()
	c.apply(nil)
}

// TransactOpts returns signing options for a write attributed to from, which
// must be the currently connected address.
func (c *Connector) TransactOpts(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	if c.signer == nil {
		return nil, models.ErrNoSignerAvailable
	}
	current, ok := c.CurrentAddress()
	if !ok {
		return nil, models.ErrWalletNotConnected
	}
	if current != from {
		return nil, fmt.Errorf("sender %s is not the connected wallet: %w", from.Hex(), models.ErrWalletMismatch)
	}
	return c.signer.TransactOpts(ctx, from, c.chainID)
}

func (c *Connector) watch(ch <-chan []common.Address, sub event.Subscription) {
	for {
		select {
		case accs := <-ch:
			if c.consumeEcho(accs) {
				continue
			}
			c.apply(accs)
		case <-sub.Err():
			return
		}
	}
}

// consumeEcho reports whether accs is the signer's notification of an
// account Switch already applied. A late echo must not undo a newer switch.
func (c *Connector) consumeEcho(accs []common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.echoes) == 0 || len(accs) == 0 || accs[0] != c.echoes[0] {
		return false
	}
	c.echoes = c.echoes[1:]
	return true
}

func (c *Connector) apply(accs []common.Address) {
	var next common.Address
	if len(accs) > 0 {
		next = accs[0]
	}

	c.mu.Lock()
	prev := c.current
	c.current = next
	c.mu.Unlock()

	if prev == next {
		return
	}
	log.Printf("Wallet account changed: %s -> %s", displayAddress(prev), displayAddress(next))
	c.feed.Send(AddressChange{Previous: prev, Current: next})
}

func displayAddress(a common.Address) string {
	if a == (common.Address{}) {
		return "<none>"
	}
	return a.Hex()
}
