// Command sayboard is the companion-device daemon and CLI for the sayboard
// AAC phrase board: an offline-first sync engine, instruction dispatcher,
// and peer context relay over a local SQLite store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sayboard",
	Short: "Offline-first sync companion for the sayboard AAC phrase board",
	Long: `sayboard keeps a local phrase board in sync with the sayboard backend
and with a paired companion device.

All edits happen locally first and are tagged with a sync state; the sync
engine drains pending changes whenever the backend is reachable and pulls
server changes back. The daemon also processes remote instructions (context
packs, phrase pushes, speech requests, emergency override) and bridges
environment context from the paired device.

Common usage:
  sayboard login user@example.com secret   # authenticate against the backend
  sayboard daemon                          # run the background companion
  sayboard sync                            # one-shot sync pass
  sayboard status                          # local store and sync status
  sayboard emergency                       # apply the emergency board, offline`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: sayboard.yaml in the data dir or working directory)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
