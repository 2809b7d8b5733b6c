package models

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAddressIgnoresCase(t *testing.T) {
	upper, err := ParseAddress("0xABCDEF0123456789ABCDEF0123456789ABCDEF01")
	if err != nil {
		t.Fatalf("parse upper: %v", err)
	}
	lower, err := ParseAddress("0xabcdef0123456789abcdef0123456789abcdef01")
	if err != nil {
		t.Fatalf("parse lower: %v", err)
	}
	if !AddressesMatch(upper, lower) {
		t.Fatalf("expected case-insensitive match")
	}
	if WalletKey(upper) != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("unexpected wallet key %s", WalletKey(upper))
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abcdef0123456789abcdef0123456789abcdef01", "0x1234", "0xZZcdef0123456789abcdef0123456789abcdef01"} {
		_, err := ParseAddress(in)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error for %q, got %v", in, err)
		}
	}
}

func TestEmptyConnectedAddressNeverMatches(t *testing.T) {
	if AddressesMatch(common.Address{}, common.Address{}) {
		t.Fatalf("zero address must not match")
	}
}
