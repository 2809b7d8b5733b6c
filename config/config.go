package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	StorageDir       string
	Port             int
	RPCURL           string
	ContractAddress  common.Address
	KeystoreDir      string
	Passphrase       string
	DirectoryBackend string
	PinataAPIBase    string
	PinataAPIKey     string
	PinataSecretKey  string
	GatewayBase      string
	JWTSecret        []byte
	SessionDuration  time.Duration
	ConfirmWrites    bool
	WriteQueueSize   int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Parse reads the configuration. Environment variables, optionally loaded
// from envFile, provide the defaults and command line flags override them.
// Secrets are only read from the environment.
func Parse(args []string, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %v", envFile, err)
		}
	}

	cfg := &Config{}
	var contract, jwtSecret string

	fset := flag.NewFlagSet("healthrecords", flag.ContinueOnError)
	fset.StringVar(&cfg.StorageDir, "storage", getString("HEALTHRECORDS_STORAGE_DIR", "data"), "Directory for the directory database and read cache")
	fset.IntVar(&cfg.Port, "port", getInt("HEALTHRECORDS_PORT", 8080), "Server port")
	fset.StringVar(&cfg.RPCURL, "rpc", getString("HEALTHRECORDS_RPC_URL", "http://127.0.0.1:8545"), "Ledger JSON-RPC endpoint")
	fset.StringVar(&contract, "contract", getString("HEALTHRECORDS_CONTRACT", ""), "Health record contract address")
	fset.StringVar(&cfg.KeystoreDir, "keystore", getString("HEALTHRECORDS_KEYSTORE_DIR", "keystore"), "Wallet keystore directory")
	fset.StringVar(&cfg.DirectoryBackend, "directory", getString("HEALTHRECORDS_DIRECTORY", "sql"), "Identity directory backend (sql or json)")
	fset.StringVar(&cfg.PinataAPIBase, "pinata", getString("PINATA_API_BASE", "https://api.pinata.cloud"), "Pinning service API base")
	fset.StringVar(&cfg.GatewayBase, "gateway", getString("IPFS_GATEWAY", "https://gateway.pinata.cloud/ipfs/"), "IPFS gateway base")
	fset.DurationVar(&cfg.SessionDuration, "session", getDuration("HEALTHRECORDS_SESSION", 24*time.Hour), "Sign-in session duration")
	fset.BoolVar(&cfg.ConfirmWrites, "confirm", getBool("HEALTHRECORDS_CONFIRM_WRITES", true), "Wait for ledger writes to be mined")
	fset.IntVar(&cfg.WriteQueueSize, "queue", getInt("HEALTHRECORDS_WRITE_QUEUE", 1), "Ledger writes admitted at once")
	fset.DurationVar(&cfg.ReadTimeout, "read-timeout", getDuration("HEALTHRECORDS_READ_TIMEOUT", 15*time.Second), "HTTP read timeout")
	fset.DurationVar(&cfg.WriteTimeout, "write-timeout", getDuration("HEALTHRECORDS_WRITE_TIMEOUT", 5*time.Minute), "HTTP write timeout")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	cfg.Passphrase = os.Getenv("HEALTHRECORDS_KEYSTORE_PASSPHRASE")
	cfg.PinataAPIKey = os.Getenv("PINATA_API_KEY")
	cfg.PinataSecretKey = os.Getenv("PINATA_SECRET_KEY")
	jwtSecret = os.Getenv("HEALTHRECORDS_JWT_SECRET")

	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("a valid contract address is required, got %q", contract)
	}
	cfg.ContractAddress = common.HexToAddress(contract)

	if cfg.DirectoryBackend != "sql" && cfg.DirectoryBackend != "json" {
		return nil, fmt.Errorf("directory backend must be sql or json, got %q", cfg.DirectoryBackend)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.WriteQueueSize < 1 {
		cfg.WriteQueueSize = 1
	}

	if jwtSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %v", err)
		}
		log.Printf("Warning: HEALTHRECORDS_JWT_SECRET not set, sessions will not survive a restart")
		jwtSecret = hex.EncodeToString(secret)
	}
	cfg.JWTSecret = []byte(jwtSecret)

	return cfg, nil
}

func getString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, val, def)
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %v", key, val, def)
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %v", key, val, def)
		return def
	}
	return d
}
