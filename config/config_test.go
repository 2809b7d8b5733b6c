package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestParseDefaultsAndFlags(t *testing.T) {
	t.Setenv("HEALTHRECORDS_CONTRACT", testContract)
	t.Setenv("HEALTHRECORDS_PORT", "9090")
	t.Setenv("HEALTHRECORDS_JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Parse([]string{"-directory", "json", "-session", "2h"}, "")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port from env, got %d", cfg.Port)
	}
	if cfg.DirectoryBackend != "json" || cfg.SessionDuration != 2*time.Hour {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.ContractAddress != common.HexToAddress(testContract) {
		t.Errorf("unexpected contract %s", cfg.ContractAddress.Hex())
	}
	if string(cfg.JWTSecret) != "0123456789abcdef0123" {
		t.Errorf("unexpected secret")
	}
	if !cfg.ConfirmWrites || cfg.WriteQueueSize != 1 {
		t.Errorf("unexpected write defaults: confirm=%v queue=%d", cfg.ConfirmWrites, cfg.WriteQueueSize)
	}
}

func TestParseLoadsEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "HEALTHRECORDS_CONTRACT=" + testContract + "\nPINATA_API_KEY=from-file\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("HEALTHRECORDS_CONTRACT")
		os.Unsetenv("PINATA_API_KEY")
	})

	cfg, err := Parse(nil, envFile)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.PinataAPIKey != "from-file" {
		t.Errorf("expected key from env file, got %q", cfg.PinataAPIKey)
	}
	if len(cfg.JWTSecret) == 0 {
		t.Errorf("expected a generated session secret")
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	t.Setenv("HEALTHRECORDS_CONTRACT", "not-an-address")
	if _, err := Parse(nil, ""); err == nil {
		t.Errorf("expected invalid contract to be refused")
	}

	t.Setenv("HEALTHRECORDS_CONTRACT", testContract)
	if _, err := Parse([]string{"-directory", "mongo"}, ""); err == nil {
		t.Errorf("expected unknown backend to be refused")
	}
	if _, err := Parse(nil, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("a missing env file is not an error, got %v", err)
	}
}
