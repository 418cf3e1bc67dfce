package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"driftmirror/internal/config"
	"driftmirror/internal/database"
	"driftmirror/internal/gate"
	"driftmirror/internal/gateway"
	"driftmirror/internal/reconcile"
	"driftmirror/internal/subscriptions"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Validate credentials, ensure a live subscription, and run an initial sync",
	Long: `bootstrap runs the same sequence the /bootstrap HTTP endpoint runs, from
the command line: validate the stored credential against the provider,
resolve the default drive, make sure a push-notification subscription is
live for it, clear any stored cursor, enable the credential gate, and drive
one full reconciliation pass.`,
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	db, err := database.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Init(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	client := gateway.NewClient("https://graph.microsoft.com/v1.0", cfg.Bearer, logger)
	g := gate.New(client, db, logger)
	subs := subscriptions.New(client, db, cfg.SharedSecretFloor, logger)
	engine := reconcile.New(client, db, g, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := g.Validate(ctx)
	if err != nil {
		return fmt.Errorf("validate credential: %w", err)
	}
	if !result.Valid {
		return fmt.Errorf("credential invalid: %s", result.Reason)
	}
	fmt.Printf("credential valid, principal=%s\n", result.Principal)

	driveID, err := client.ResolveDefaultDrive(ctx)
	if err != nil {
		return fmt.Errorf("resolve default drive: %w", err)
	}
	fmt.Printf("resolved drive: %s\n", driveID)

	sub, err := subs.EnsureLive(ctx, driveID, cfg.NotifyURL)
	if err != nil {
		return fmt.Errorf("ensure subscription live: %w", err)
	}
	fmt.Printf("subscription live: %s (expires %s)\n", sub.ProviderSubscriptionID, sub.Expiry.Format(time.RFC3339))

	if err := db.ClearCursor(driveID); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}

	g.Enable(result.Principal)

	recResult, err := engine.ReconcileDrive(ctx, driveID, "")
	if err != nil {
		return fmt.Errorf("initial reconciliation pass: %w", err)
	}
	fmt.Printf("initial sync complete: %d items processed, %d changes recorded\n", recResult.ItemsProcessed, recResult.ChangesDetected)
	return nil
}
