package models

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Identity is one registered principal. AccountID, Role and BoundWallet are
// fixed at creation; only Profile changes afterwards.
type Identity struct {
	AccountID   string         `json:"account_id"`
	Role        Role           `json:"role"`
	BoundWallet common.Address `json:"bound_wallet"`
	Profile     Profile        `json:"profile"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Profile struct {
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	DateOfBirth    time.Time `json:"date_of_birth,omitempty"`
	Gender         string    `json:"gender,omitempty"`
	BloodGroup     string    `json:"blood_group,omitempty"`
	WeightKg       float64   `json:"weight_kg,omitempty"`
	HeightCm       float64   `json:"height_cm,omitempty"`
	NationalID     string    `json:"national_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	Qualification  string    `json:"qualification,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
}

// WalletKey is the canonical storage form of an address: lowercase 0x-hex.
func WalletKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// AddressesMatch reports whether the bound and connected addresses designate
// the same account. An empty connected address never matches.
func AddressesMatch(bound, current common.Address) bool {
	if current == (common.Address{}) {
		return false
	}
	return bound == current
}

// ParseAddress accepts a 0x-prefixed, 40 hex digit address in any letter case.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, &ValidationError{Field: "address", Message: "address must be 0x-prefixed"}
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, &ValidationError{Field: "address", Message: "please enter a valid Ethereum address"}
	}
	return common.HexToAddress(s), nil
}
