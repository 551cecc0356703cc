package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sayboard/sayboard/internal/creds"
	"github.com/sayboard/sayboard/internal/netmon"
	"github.com/sayboard/sayboard/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		phrases, err := app.store.ListPhrases(ctx, store.PhraseFilter{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		var favorites, pendingPhrases int
		for _, p := range phrases {
			if p.Favorite {
				favorites++
			}
			if p.SyncState.Pending() {
				pendingPhrases++
			}
		}

		pending, err := app.store.CountPending(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		settings, err := app.store.GetSettings(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		outbox, err := app.store.ListPeerOutbox(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		auth := "yes"
		if _, err := app.creds.Token(); errors.Is(err, creds.ErrNoToken) {
			auth = "no (run: sayboard login)"
		} else if err != nil {
			auth = fmt.Sprintf("error: %v", err)
		}

		lastSync := "never"
		if v, err := app.store.GetMeta(ctx, store.MetaLastSync); err == nil && v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				lastSync = t.Local().Format("2006-01-02 15:04:05")
			}
		}

		reachable := "no"
		if addr, err := probeAddr(app.cfg.ServerURL); err == nil {
			if (&netmon.DialProber{Addr: addr, Timeout: 3 * time.Second}).Probe(ctx).Connected {
				reachable = "yes"
			}
		}

		fmt.Printf("Server:          %s (reachable: %s)\n", app.cfg.ServerURL, reachable)
		fmt.Printf("Data dir:        %s\n", app.cfg.DataDir)
		fmt.Printf("Authenticated:   %s\n", auth)
		fmt.Printf("Phrases:         %d (%d favorites, %d pending)\n", len(phrases), favorites, pendingPhrases)
		fmt.Printf("Settings:        %s/%.1fx speech, sync state %s\n",
			settings.Language, settings.SpeechRate, settings.SyncState)
		fmt.Printf("Last sync:       %s\n", lastSync)
		fmt.Printf("Pending changes: %d\n", pending)
		fmt.Printf("Peer outbox:     %d queued messages\n", len(outbox))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
