package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sayboard/sayboard/internal/model"
	"github.com/sayboard/sayboard/internal/speech"
	"github.com/spf13/cobra"
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>...",
	Short: "Speak text through the configured synthesizer",
	Long: `Speak the given text aloud and record a usage-log entry.

The log entry is queued locally and uploaded with the next sync pass, like
every other pending change.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		text := strings.Join(args, " ")
		speaker := speech.Detect(app.cfg.SpeechCommand, app.sink.Component("speech"))
		if err := speaker.Speak(ctx, text); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		entry := model.NewUsageLog(model.EventCustomSpoken, uuid.NewString())
		entry.PhraseText = text
		if err := app.store.AppendLog(ctx, entry); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to record usage log: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(speakCmd)
}
