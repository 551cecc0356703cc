package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sayboard/sayboard/internal/dispatch"
	"github.com/sayboard/sayboard/internal/engine"
	"github.com/sayboard/sayboard/internal/model"
	"github.com/sayboard/sayboard/internal/netmon"
	"github.com/sayboard/sayboard/internal/phrasegen"
	"github.com/sayboard/sayboard/internal/relay"
	"github.com/sayboard/sayboard/internal/speech"
	"github.com/sayboard/sayboard/internal/store"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync companion",
	Long: `Run the sayboard daemon: reachability-triggered sync, server
instruction polling, the instruction inbox, and the peer context relay.

The daemon syncs whenever connectivity returns (debounced to absorb
flapping) and on a fixed interval while connected. Remote instructions are
pulled from the server queue and acknowledged once processed; instruction
files dropped into the inbox directory by push-notification relays are
handled the same way. The peer relay listens for the companion device's
context broadcasts and applies them to the local board.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	logger := app.sink.Component("daemon")
	sessionID := uuid.NewString()

	if err := seedStarterPhrases(ctx, app.store); err != nil {
		logger.Printf("WARNING: failed to seed starter phrases: %v", err)
	}
	if err := app.store.AppendLog(ctx, model.NewUsageLog(model.EventAppOpened, sessionID)); err != nil {
		logger.Printf("WARNING: failed to record session start: %v", err)
	}

	// Reachability monitor probing the backend host.
	addr, err := probeAddr(app.cfg.ServerURL)
	if err != nil {
		return err
	}
	monitor := netmon.New(&netmon.DialProber{Addr: addr}, &netmon.Config{
		Interval: app.cfg.ProbeInterval,
		Logger:   app.sink.Component("netmon"),
	})

	eng := engine.New(app.store, app.client, monitor, app.bus,
		&engine.Config{Logger: app.sink.Component("sync")})

	var generator phrasegen.Generator = phrasegen.StaticGenerator{}
	if app.cfg.AnthropicAPIKey != "" {
		generator = phrasegen.NewClaudeGenerator(app.cfg.AnthropicAPIKey,
			phrasegen.WithLogger(app.sink.Component("phrasegen")))
	}

	dispatcher := dispatch.New(dispatch.Config{
		Store:     app.store,
		Bus:       app.bus,
		Syncer:    eng,
		Settings:  app.client,
		Speaker:   speech.Detect(app.cfg.SpeechCommand, app.sink.Component("speech")),
		Generator: generator,
		SessionID: sessionID,
		Logger:    app.sink.Component("dispatch"),
	})

	inbox, err := dispatch.NewInbox(app.cfg.InboxDir(), dispatcher, app.sink.Component("inbox"))
	if err != nil {
		return err
	}
	if err := inbox.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := inbox.Stop(); err != nil {
			logger.Printf("WARNING: inbox stop: %v", err)
		}
	}()

	rly := relay.New(app.store, dispatcher, app.bus, relay.Config{
		Addr:      app.cfg.RelayAddr,
		DeviceID:  app.cfg.DeviceID,
		SessionID: sessionID,
		Logger:    app.sink.Component("relay"),
	})
	if err := rly.Start(); err != nil {
		return err
	}
	defer func() {
		if err := rly.Stop(); err != nil {
			logger.Printf("WARNING: relay stop: %v", err)
		}
	}()

	if app.cfg.PeerURL != "" {
		if err := rly.Dial(ctx, app.cfg.PeerURL); err != nil {
			logger.Printf("WARNING: peer not reachable yet: %v", err)
		}
	}

	// Reconnects trigger a sync, coalesced through the debounce window so
	// link flapping produces one pass, not a burst.
	debouncer := netmon.NewDebouncer(app.cfg.DebounceWindow, func() {
		if _, err := eng.Sync(context.Background()); err != nil {
			logger.Printf("WARNING: sync pass failed: %v", err)
		}
	})
	defer debouncer.Stop()

	statusCh, cancelSub := monitor.Subscribe()
	defer cancelSub()
	go func() {
		for st := range statusCh {
			if st.Connected {
				logger.Println("Connectivity restored, scheduling sync")
				debouncer.Trigger()
			}
		}
	}()

	monitor.Start()
	defer monitor.Stop()

	// Register this device once the backend is first reachable.
	go func() {
		if !monitor.WaitForConnection(ctx, time.Minute) {
			return
		}
		err := app.client.RegisterDevice(ctx, app.cfg.DeviceID, runtime.GOOS, hostname())
		if err != nil {
			logger.Printf("WARNING: device registration failed: %v", err)
			return
		}
		logger.Printf("Registered device %s", app.cfg.DeviceID)
	}()

	// Periodic work while connected: background sync and instruction polling.
	go func() {
		syncTicker := time.NewTicker(app.cfg.SyncInterval)
		pollTicker := time.NewTicker(app.cfg.InstructionPollInterval)
		defer syncTicker.Stop()
		defer pollTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-syncTicker.C:
				if monitor.Connected() {
					if _, err := eng.Sync(ctx); err != nil {
						logger.Printf("WARNING: sync pass failed: %v", err)
					}
				}
			case <-pollTicker.C:
				if monitor.Connected() {
					pollInstructions(ctx, app, dispatcher, logger)
				}
			}
		}
	}()

	logger.Printf("Daemon running (session %s), peer relay on %s", sessionID, rly.Addr())
	<-ctx.Done()

	// Shutdown: record session end and, when still connected, try to flush
	// it with a final pass.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.store.AppendLog(shutdownCtx, model.NewUsageLog(model.EventAppClosed, sessionID)); err != nil {
		logger.Printf("WARNING: failed to record session end: %v", err)
	}
	if monitor.Connected() {
		if _, err := eng.Sync(shutdownCtx); err != nil {
			logger.Printf("WARNING: final sync failed: %v", err)
		}
	}

	logger.Println("Daemon stopped")
	return nil
}

// seedStarterPhrases populates an empty store with the built-in starter set
// so a first run has a usable board before any sync.
func seedStarterPhrases(ctx context.Context, st *store.Store) error {
	existing, err := st.ListPhrases(ctx, store.PhraseFilter{})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	return st.Batch(ctx, func(b *store.Batch) error {
		for _, text := range phrasegen.StarterPhrases() {
			if err := b.InsertPhrase(model.NewPhrase(text, "")); err != nil {
				return err
			}
		}
		return nil
	})
}

// pollInstructions drains the server instruction queue. Each processed
// instruction is acknowledged so the server stops re-delivering it; an
// instruction whose effect failed stays unacknowledged and is retried on
// the next poll. Malformed instructions are discarded by the dispatcher and
// acknowledged so they are never re-delivered.
func pollInstructions(ctx context.Context, app *app, d *dispatch.Dispatcher, logger *log.Logger) {
	pending, err := app.client.PendingInstructions(ctx)
	if err != nil {
		logger.Printf("WARNING: failed to poll instructions: %v", err)
		return
	}

	for _, inst := range pending {
		if err := d.Handle(ctx, inst.Type, inst.Payload, "server"); err != nil {
			logger.Printf("WARNING: instruction %s failed, will retry: %v", inst.ID, err)
			continue
		}
		if err := app.client.AckInstruction(ctx, inst.ID); err != nil {
			logger.Printf("WARNING: failed to acknowledge instruction %s: %v", inst.ID, err)
		}
	}
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
