// Package speech forwards text to a text-to-speech backend.
//
// The dispatcher and CLI only depend on the Speaker interface; the concrete
// backend is an external synthesizer binary, with a log-only fallback for
// hosts that have none installed.
package speech

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Speaker speaks a piece of text aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// CommandSpeaker shells out to a synthesizer binary, passing the text as the
// final argument.
type CommandSpeaker struct {
	command string
	args    []string
	logger  *log.Logger
}

// NewCommandSpeaker creates a speaker that runs command with the given fixed
// arguments plus the text to speak.
func NewCommandSpeaker(command string, args []string, logger *log.Logger) *CommandSpeaker {
	if logger == nil {
		logger = log.New(os.Stderr, "[speech] ", log.LstdFlags)
	}
	return &CommandSpeaker{command: command, args: args, logger: logger}
}

// Speak runs the synthesizer. Empty text is a no-op.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	args := append(append([]string(nil), s.args...), text)
	cmd := exec.CommandContext(ctx, s.command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to run %s: %w (output: %s)", s.command, err, strings.TrimSpace(string(out)))
	}
	s.logger.Printf("Spoke: %q", text)
	return nil
}

// LogSpeaker records utterances without producing audio. Used when no
// synthesizer is configured and in tests.
type LogSpeaker struct {
	logger *log.Logger
}

func NewLogSpeaker(logger *log.Logger) *LogSpeaker {
	if logger == nil {
		logger = log.New(os.Stderr, "[speech] ", log.LstdFlags)
	}
	return &LogSpeaker{logger: logger}
}

func (s *LogSpeaker) Speak(ctx context.Context, text string) error {
	s.logger.Printf("Would speak: %q", text)
	return nil
}

// Detect picks a speaker for this host: the configured command if any,
// otherwise the platform synthesizer if one is on PATH, otherwise log-only.
func Detect(command string, logger *log.Logger) Speaker {
	if command != "" {
		return NewCommandSpeaker(command, nil, logger)
	}

	candidates := []string{"espeak-ng", "espeak"}
	if runtime.GOOS == "darwin" {
		candidates = []string{"say"}
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c); err == nil {
			return NewCommandSpeaker(c, nil, logger)
		}
	}
	return NewLogSpeaker(logger)
}
