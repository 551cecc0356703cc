package main

import (
	"fmt"
	"os"

	"github.com/sayboard/sayboard/internal/engine"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against the backend",
	Long: `Run a single sync pass: upload pending phrase, settings, and usage-log
changes, then download server changes.

The pass runs even without a reachability probe; if the backend is
unreachable the individual calls fail and their items stay pending for the
next pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		eng := engine.New(app.store, app.client, nil, app.bus,
			&engine.Config{Logger: app.sink.Component("sync")})

		report, err := eng.Sync(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Uploaded:   %d created, %d updated, %d deleted, %d logs\n",
			report.PhrasesUploaded, report.PhrasesUpdated, report.PhrasesDeleted, report.LogsUploaded)
		fmt.Printf("Downloaded: %d phrase changes\n", report.PhrasesDownloaded)
		if report.ItemFailures > 0 {
			fmt.Printf("Failures:   %d items will retry next pass\n", report.ItemFailures)
		}
		fmt.Printf("Pending:    %d changes\n", report.PendingChanges)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
