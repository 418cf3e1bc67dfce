package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"driftmirror/internal/config"
	"driftmirror/internal/database"
	"driftmirror/internal/gateway"
	"driftmirror/internal/subscriptions"
)

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "Inspect and manage push-notification subscriptions",
}

var subscriptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally known subscriptions",
	RunE:  runSubscriptionsList,
}

var subscriptionsCreateCmd = &cobra.Command{
	Use:   "create RESOURCE",
	Short: "Create or renew a subscription for a watched resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriptionsCreate,
}

var subscriptionsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a local subscription record and its provider counterpart",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriptionsDelete,
}

var subscriptionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove local records whose provider subscription is confirmed gone",
	RunE:  runSubscriptionsSweep,
}

func init() {
	subscriptionsCmd.AddCommand(subscriptionsListCmd, subscriptionsCreateCmd, subscriptionsDeleteCmd, subscriptionsSweepCmd)
	rootCmd.AddCommand(subscriptionsCmd)
}

func openSubscriptionDeps() (*config.Config, *database.DB, *gateway.Client, *subscriptions.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	db, err := database.Open(cfg.StoreDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Init(); err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("init schema: %w", err)
	}

	client := gateway.NewClient("https://graph.microsoft.com/v1.0", cfg.Bearer, logger)
	subs := subscriptions.New(client, db, cfg.SharedSecretFloor, logger)
	return cfg, db, client, subs, nil
}

func runSubscriptionsList(cmd *cobra.Command, args []string) error {
	_, db, _, _, err := openSubscriptionDeps()
	if err != nil {
		return err
	}
	defer db.Close()

	subs, err := db.ListSubscriptions()
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		fmt.Println("no subscriptions")
		return nil
	}
	for _, s := range subs {
		fmt.Printf("%d\t%s\t%s\texpires %s (%s)\n", s.ID, s.Resource, s.ProviderSubscriptionID, s.Expiry.Format(time.RFC3339), humanize.Time(s.Expiry))
	}
	return nil
}

func runSubscriptionsCreate(cmd *cobra.Command, args []string) error {
	cfg, db, _, subs, err := openSubscriptionDeps()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sub, err := subs.EnsureLive(ctx, args[0], cfg.NotifyURL)
	if err != nil {
		return fmt.Errorf("ensure subscription live: %w", err)
	}
	fmt.Printf("subscription live: %s (expires %s)\n", sub.ProviderSubscriptionID, sub.Expiry.Format(time.RFC3339))
	return nil
}

func runSubscriptionsDelete(cmd *cobra.Command, args []string) error {
	_, db, client, _, err := openSubscriptionDeps()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid subscription id %q: %w", args[0], err)
	}

	subs, err := db.ListSubscriptions()
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	var target *database.Subscription
	for _, s := range subs {
		if s.ID == id {
			target = s
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no subscription with id %d", id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.DeleteSubscription(ctx, target.ProviderSubscriptionID); err != nil {
		return fmt.Errorf("delete provider subscription: %w", err)
	}
	if err := db.DeleteSubscription(target.ID); err != nil {
		return fmt.Errorf("delete local subscription: %w", err)
	}
	fmt.Printf("deleted subscription %d (%s)\n", target.ID, target.Resource)
	return nil
}

func runSubscriptionsSweep(cmd *cobra.Command, args []string) error {
	_, db, _, subs, err := openSubscriptionDeps()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := subs.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired subscriptions: %w", err)
	}
	fmt.Printf("swept %d expired subscription(s)\n", n)
	return nil
}
