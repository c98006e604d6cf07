// seed registers development accounts for local testing.
// Idempotent: accounts that already exist are skipped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"account-auth/backend/internal/account/repository"
	"account-auth/backend/internal/account/service"
	"account-auth/backend/internal/config"
	"account-auth/backend/internal/db"
	"account-auth/backend/internal/resetcode"
	"account-auth/backend/internal/security"
)

const devPassword = "password123"

type seedAccount struct {
	email    string
	phone    string
	username string
}

var accounts = []seedAccount{
	{email: "dev@example.com", phone: "+15550000001", username: "Dev User"},
	{email: "member@example.com", phone: "+15550000002", username: "Member User"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal("seed requires STORE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{ConnectRetries: uint64(cfg.DBConnectRetries)})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	hasher, err := security.NewHasher(cfg.PasswordHashAlgorithm, cfg.BcryptCost, security.Argon2Params{
		Time:    uint32(cfg.Argon2Time),
		Memory:  uint32(cfg.Argon2MemoryKB),
		Threads: uint8(cfg.Argon2Threads),
	})
	if err != nil {
		log.Fatalf("hasher: %v", err)
	}
	// Seeding never logs in, so tokens are not needed.
	svc := service.NewAuthService(
		repository.NewPostgresStore(pool, cfg.StoreTimeout()),
		hasher, nil, resetcode.NewGenerator(), slog.Default(),
	)

	for _, a := range accounts {
		res, err := svc.Register(ctx, a.email, a.phone, a.username, devPassword)
		switch {
		case errors.Is(err, service.ErrConflict):
			log.Printf("%s already exists. Skipping.", a.email)
		case err != nil:
			log.Fatalf("register %s: %v", a.email, err)
		default:
			log.Printf("registered %s (%s)", res.Email, res.ID)
		}
	}

	log.Println("Seed completed successfully.")
	for _, a := range accounts {
		fmt.Printf("Login: %s / %s\n", a.email, devPassword)
	}
}
