package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"healthrecords/api"
	"healthrecords/auth"
	"healthrecords/config"
	"healthrecords/ledger"
	"healthrecords/pinning"
	"healthrecords/registry"
	"healthrecords/service"
	"healthrecords/storage"
	"healthrecords/wallet"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Parse(os.Args[1:], ".env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := setupStorageDirectory(cfg.StorageDir); err != nil {
		log.Fatalf("Failed to setup storage: %v", err)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	backend, chainID, err := ledger.Dial(dialCtx, cfg.RPCURL)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to ledger at %s: %v", cfg.RPCURL, err)
	}
	defer backend.Close()
	log.Printf("Connected to chain %s at %s", chainID, cfg.RPCURL)

	signer := wallet.NewKeystoreSigner(cfg.KeystoreDir, cfg.Passphrase)
	connector := wallet.NewConnector(signer, chainID)
	defer connector.Disconnect()

	directory, credentials, closeDirectory, err := openDirectory(cfg)
	if err != nil {
		log.Fatalf("Failed to open identity directory: %v", err)
	}
	defer closeDirectory()

	authenticator, err := auth.NewAuthenticator(credentials, cfg.JWTSecret, cfg.SessionDuration)
	if err != nil {
		log.Fatalf("Failed to initialize authentication: %v", err)
	}

	ledgerClient, err := ledger.New(ledger.Config{
		Contract:      cfg.ContractAddress,
		ConfirmWrites: cfg.ConfirmWrites,
	}, backend, connector)
	if err != nil {
		log.Fatalf("Failed to bind contract %s: %v", cfg.ContractAddress.Hex(), err)
	}

	pinner := pinning.New(pinning.Config{
		APIBase:     cfg.PinataAPIBase,
		GatewayBase: cfg.GatewayBase,
		APIKey:      cfg.PinataAPIKey,
		SecretKey:   cfg.PinataSecretKey,
	}, &http.Client{Timeout: 2 * time.Minute})

	cache, err := storage.Open(filepath.Join(cfg.StorageDir, "cache"))
	if err != nil {
		log.Fatalf("Failed to open read cache: %v", err)
	}
	defer cache.Close()

	reconciler := service.NewReconciler(service.Dependencies{
		Wallet:    connector,
		Directory: directory,
		Ledger:    ledgerClient,
		Auth:      authenticator,
		Content:   pinner,
		Cache:     cache,
	}, cfg.WriteQueueSize)
	reconciler.Start()
	defer reconciler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewServer(reconciler, connector, cfg.WriteTimeout).Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout + 10*time.Second,
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverChan := make(chan error, 1)
	go func() {
		log.Printf("Starting server on port %d...\n", cfg.Port)
		serverChan <- server.ListenAndServe()
	}()

	select {
	case err := <-serverChan:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("Received signal: %v\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		cancel()
		log.Println("Server shutdown completed")
	}
}

// openDirectory returns the identity directory and the credential store for
// the configured backend, plus a function releasing them.
func openDirectory(cfg *config.Config) (registry.Directory, auth.CredentialStore, func(), error) {
	if cfg.DirectoryBackend == "json" {
		dir, err := registry.NewJSONDirectory(filepath.Join(cfg.StorageDir, "identities.json"))
		if err != nil {
			return nil, nil, nil, err
		}
		creds, err := auth.NewJSONCredentials(filepath.Join(cfg.StorageDir, "credentials.json"))
		if err != nil {
			return nil, nil, nil, err
		}
		return dir, creds, func() {}, nil
	}

	db, err := registry.OpenSQLite(filepath.Join(cfg.StorageDir, "healthrecords.db"))
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	dir, err := registry.NewSQLDirectory(db)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	credentials, err := auth.NewSQLCredentials(db)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	return dir, credentials, closeDB, nil
}

func setupStorageDirectory(baseDir string) error {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(baseDir, "cache"), 0755)
}
