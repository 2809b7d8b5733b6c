package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"healthrecords/models"
)

// TextSigner is implemented by signers able to answer a personal_sign request.
type TextSigner interface {
	SignText(account common.Address, msg []byte) ([]byte, error)
}

// NewChallenge returns a single-use message for an ownership proof.
func NewChallenge(address common.Address) string {
	return fmt.Sprintf("Prove ownership of %s\nNonce: %s", address.Hex(), uuid.NewString())
}

// TextHash is keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func TextHash(msg []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d", len(msg))
	h.Write(msg)
	return h.Sum(nil)
}

// ProveOwnership reports whether sig is a personal_sign signature of msg
// made by address. Both the 0/1 and 27/28 recovery id forms are accepted.
func ProveOwnership(address common.Address, msg, sig []byte) (bool, error) {
	if len(sig) != crypto.SignatureLength {
		return false, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(TextHash(msg), normalized)
	if err != nil {
		return false, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub) == address, nil
}

// Prove signs a fresh challenge with the connected account. It lets a
// caller check that this agent controls the address it reports.
func (c *Connector) Prove() (challenge string, sig []byte, err error) {
	current, ok := c.CurrentAddress()
	if !ok {
		return "", nil, models.ErrWalletNotConnected
	}
	ts, ok := c.signer.(TextSigner)
	if !ok {
		return "", nil, models.ErrNoSignerAvailable
	}
	challenge = NewChallenge(current)
	sig, err = ts.SignText(current, []byte(challenge))
	if err != nil {
		return "", nil, err
	}
	return challenge, sig, nil
}
