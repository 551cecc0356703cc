package main

import (
	"fmt"
	"os"

	"github.com/sayboard/sayboard/internal/dispatch"
	"github.com/sayboard/sayboard/internal/speech"
	"github.com/spf13/cobra"
)

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Apply the emergency phrase board immediately",
	Long: `Replace the current board with the fixed emergency phrase set and speak
the first phrase.

This works entirely offline: the emergency phrases are built in, the board
swap is local, and the replaced phrases sync out later like any other
pending change. Favorite phrases are kept.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		dispatcher := dispatch.New(dispatch.Config{
			Store:   app.store,
			Bus:     app.bus,
			Speaker: speech.Detect(app.cfg.SpeechCommand, app.sink.Component("speech")),
			Logger:  app.sink.Component("dispatch"),
		})

		if err := dispatcher.Handle(ctx, dispatch.TypeEmergency, nil, "cli"); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Emergency board applied")
	},
}

func init() {
	rootCmd.AddCommand(emergencyCmd)
}
