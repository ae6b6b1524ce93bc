// Command reconcile-wallets runs a single reconciliation sweep from the
// command line, for incident response and cron-style scheduling outside the
// main process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"raspadinha-platform/config"
	"raspadinha-platform/internal/database"
	"raspadinha-platform/internal/events"
	"raspadinha-platform/internal/vault"
	"raspadinha-platform/internal/wallet"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report drift without writing repairs")
	jsonOut := flag.Bool("json", false, "print the report as JSON")
	timeout := flag.Duration("timeout", 10*time.Minute, "maximum sweep duration")
	batchSize := flag.Int("batch-size", 500, "wallets per batch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to create vault client: %v", err)
	}
	if vaultClient.IsEnabled() {
		creds, err := vaultClient.GetDatabaseCredentials(ctx)
		if err != nil {
			log.Fatalf("Failed to read database credentials from vault: %v", err)
		}
		cfg.DatabaseConfig.User = creds.Username
		cfg.DatabaseConfig.Password = creds.Password
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	reconciler := wallet.NewReconciler(repo, events.NewEventBus(), *batchSize, logger)
	report, err := reconciler.Run(ctx, *dryRun)
	if err != nil {
		log.Fatalf("Sweep failed after %d wallets: %v", report.Checked, err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
	} else {
		mode := "repair"
		if *dryRun {
			mode = "dry-run"
		}
		fmt.Printf("Reconciliation (%s): %d checked, %d drifted, %d repaired\n",
			mode, report.Checked, report.Drifted, report.Repaired)
		for _, f := range report.Findings {
			fmt.Printf("  %s %d: cached %s, expected %s, drift %s\n",
				f.PrincipalType, f.PrincipalID,
				f.Cached.StringFixed(2), f.Expected.StringFixed(2), f.Drift.StringFixed(2))
		}
	}

	if report.Drifted > report.Repaired {
		os.Exit(1)
	}
}
