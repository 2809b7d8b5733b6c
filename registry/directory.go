package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"healthrecords/models"
)

// Directory is the relational record of registered identities. It enforces
// that a wallet is bound to at most one account, across both roles.
type Directory interface {
	FindByWallet(ctx context.Context, address common.Address) (*models.Identity, error)
	FindByAccountID(ctx context.Context, accountID string) (*models.Identity, error)
	Create(ctx context.Context, identity *models.Identity) error
	UpdateProfile(ctx context.Context, accountID string, profile models.Profile) (*models.Identity, error)
}

func validateIdentity(identity *models.Identity) error {
	if identity == nil {
		return fmt.Errorf("identity is required")
	}
	if strings.TrimSpace(identity.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if !identity.Role.Valid() {
		return fmt.Errorf("invalid role %q", identity.Role)
	}
	if identity.BoundWallet == (common.Address{}) {
		return fmt.Errorf("bound wallet is required")
	}
	return nil
}
