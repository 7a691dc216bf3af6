// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up|down|version.
package main

import (
	"flag"
	"os"

	"github.com/charmbracelet/log"

	"speech-to-text/backend/internal/config"
	"speech-to-text/backend/internal/db/migrate"
	"speech-to-text/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up, down or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}
	logging.Install(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}

	if *direction == "version" {
		version, dirty, ok, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			log.Error("migrate", "err", err)
			os.Exit(1)
		}
		if !ok {
			log.Info("no migrations applied")
			return
		}
		log.Info("schema version", "version", version, "dirty", dirty)
		return
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		log.Error("migrate", "err", err)
		os.Exit(1)
	}
}
