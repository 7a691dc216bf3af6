// seed creates a development user for local testing. Idempotent: an existing username is left as is.
// SEED_USERNAME and SEED_PASSWORD override the defaults.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/log"

	"speech-to-text/backend/internal/app"
	"speech-to-text/backend/internal/audit"
	"speech-to-text/backend/internal/config"
	identityservice "speech-to-text/backend/internal/identity/service"
	"speech-to-text/backend/internal/logging"
	"speech-to-text/backend/internal/security"
	sessionservice "speech-to-text/backend/internal/session/service"
)

const (
	defaultUsername = "dev"
	defaultPassword = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", "err", err)
	}
	logging.Install(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	username := envOr("SEED_USERNAME", defaultUsername)
	password := envOr("SEED_PASSWORD", defaultPassword)

	ctx := context.Background()
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal("stores", "err", err)
	}
	defer stores.Close()

	auth := identityservice.NewAuthService(
		stores.Users,
		sessionservice.NewManager(stores.Sessions, cfg.SessionTTL()),
		security.NewHasher(cfg.BcryptCost),
		audit.NewLogger(stores.Audit, nil),
	)

	res, err := auth.Register(ctx, username, password)
	switch {
	case errors.Is(err, identityservice.ErrUsernameTaken):
		log.Info("seed user already exists", "username", username)
	case err != nil:
		log.Fatal("seed", "err", err)
	default:
		log.Info("seed user created", "username", username, "user_id", res.UserID)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
