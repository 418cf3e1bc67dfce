package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "driftmirror",
	Short: "Cloud-drive delta-sync reconciliation core",
	Long: `driftmirror mirrors a cloud drive's file and folder hierarchy into a
relational store by consuming a provider's delta feed and push-notification
subscriptions, classifying every observed change into an append-only audit
log of creates, renames, moves, and deletes.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
