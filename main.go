package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"sealchat/config"
	"sealchat/crypto"
	"sealchat/session"
	"sealchat/storage"
	"sealchat/transport"
)

func main() {
	// A .env next to the binary overrides nothing that is already set;
	// absence is not an error.
	_ = godotenv.Load()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	privateKey, err := crypto.EnsureX25519PrivateKey(cfg.X25519PrivateKeyPath)
	if err != nil {
		log.Fatalf("startup failed while preparing X25519 keypair: %v", err)
	}

	fingerprint := crypto.KeyFingerprint(privateKey.PublicKey())
	if cfg.KeyFingerprint != fingerprint {
		cfg.KeyFingerprint = fingerprint
		if err := config.Save(cfgPath, cfg); err != nil {
			log.Fatalf("startup failed while persisting key fingerprint: %v", err)
		}
	}

	fmt.Printf("User ID:         %s\n", cfg.UserID)
	fmt.Printf("Display Name:    %s\n", cfg.DisplayName)
	fmt.Printf("Server:          %s\n", cfg.ServerURL)
	fmt.Printf("History API:     %s\n", cfg.HistoryURL)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(cfg.KeyFingerprint))
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := transport.Dial(ctx, cfg.ServerURL, nil)
	if err != nil {
		log.Fatalf("startup failed while connecting to %s: %v", cfg.ServerURL, err)
	}
	defer func() { _ = client.Close() }()

	publicKeyBase64 := crypto.PublicKeyBase64(privateKey)
	if err := client.PublishPublicKey(ctx, publicKeyBase64, fingerprint); err != nil {
		log.Fatalf("startup failed while publishing public key: %v", err)
	}

	keys, err := session.NewKeyStore(cfg.UserID, cfg.X25519PrivateKeyPath, store)
	if err != nil {
		log.Fatalf("startup failed while preparing key store: %v", err)
	}

	registry := session.NewRegistry()
	defer registry.CloseAll()

	if partnerID := os.Getenv("SEALCHAT_PARTNER_ID"); partnerID != "" {
		history, err := transport.NewHistoryClient(cfg.HistoryURL)
		if err != nil {
			log.Fatalf("startup failed while preparing history client: %v", err)
		}
		engine, err := registry.Open(session.EngineOptions{
			Keys:      keys,
			PartnerID: partnerID,
			Commands:  client,
			Events:    client.Events(),
			History:   history,
			OnState:   logSnapshot,
		})
		if err != nil {
			log.Fatalf("startup failed while opening session with %s: %v", partnerID, err)
		}
		if err := engine.Init(ctx); err != nil {
			log.Printf("session init with %s: %v", partnerID, err)
		}
		fmt.Printf("Session:         open with %s\n", partnerID)
	}

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

func logSnapshot(snapshot session.Snapshot) {
	total := 0
	for _, group := range snapshot.Groups {
		total += len(group.Messages)
	}
	log.Printf("session %s: messages=%d keys=%s online=%v typing=%v connected=%v",
		snapshot.PartnerID, total, snapshot.KeyState.Status(),
		snapshot.PartnerOnline, snapshot.PartnerTyping, snapshot.Connected)
}
