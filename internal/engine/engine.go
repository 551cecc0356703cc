// Package engine implements the offline-first sync pass.
//
// A pass reconciles locally-mutated entities against the remote backend in
// a fixed order: phrases, then settings, then usage logs; within each type,
// upload before download so freshly-created local entities are never
// shadowed by a download that doesn't know about them yet.
//
// The engine is non-reentrant: at most one pass runs at any time and a
// trigger during an active pass is dropped, not queued. Individual item
// failures never abort a pass; they are logged and retried on the next one.
// The pass as a whole fails only if a store transaction commit fails.
package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sayboard/sayboard/internal/api"
	"github.com/sayboard/sayboard/internal/events"
	"github.com/sayboard/sayboard/internal/model"
	"github.com/sayboard/sayboard/internal/store"
)

// Gateway is the slice of the remote API the engine drives.
// *api.Client satisfies it; tests substitute a fake server.
type Gateway interface {
	ListPhrases(ctx context.Context, category string) ([]api.PhraseDTO, error)
	CreatePhrase(ctx context.Context, text, category string) (*api.PhraseDTO, error)
	UpdatePhrase(ctx context.Context, serverID, text, category string, usageCount int, favorite bool) (*api.PhraseDTO, error)
	DeletePhrase(ctx context.Context, serverID string) error
	GetSettings(ctx context.Context) (*api.SettingsDTO, error)
	PutSettings(ctx context.Context, settings api.SettingsDTO) (*api.SettingsDTO, error)
	LogEvents(ctx context.Context, events []api.EventDTO) error
}

// Connectivity reports whether the backend is reachable.
// *netmon.Monitor satisfies it.
type Connectivity interface {
	Connected() bool
}

// alwaysConnected is the fallback when no monitor is wired (tests, one-shot
// CLI sync where the user explicitly asked).
type alwaysConnected struct{}

func (alwaysConnected) Connected() bool { return true }

// Config holds engine configuration.
type Config struct {
	// Logger for engine activity.
	Logger *log.Logger
}

// Engine orchestrates sync passes.
type Engine struct {
	store  *store.Store
	gw     Gateway
	conn   Connectivity
	bus    *events.Bus
	logger *log.Logger

	syncing atomic.Bool

	// Published only at pass boundaries so readers never observe a
	// transient mid-pass value.
	statsMu      sync.Mutex
	pendingCount int
	lastSync     time.Time
}

// Report summarizes one sync pass.
type Report struct {
	Skipped    bool
	SkipReason string

	PhrasesUploaded   int
	PhrasesUpdated    int
	PhrasesDeleted    int
	PhrasesDownloaded int
	SettingsUploaded  bool
	SettingsApplied   bool
	LogsUploaded      int
	ItemFailures      int

	PendingChanges int
	Duration       time.Duration
}

// New creates a sync engine. conn may be nil for callers that gate
// connectivity themselves; bus may be nil to disable event publication.
func New(st *store.Store, gw Gateway, conn Connectivity, bus *events.Bus, config *Config) *Engine {
	logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
	if config != nil && config.Logger != nil {
		logger = config.Logger
	}
	if conn == nil {
		conn = alwaysConnected{}
	}

	return &Engine{
		store:  st,
		gw:     gw,
		conn:   conn,
		bus:    bus,
		logger: logger,
	}
}

// PendingChanges returns the pending-change count published by the last pass.
func (e *Engine) PendingChanges() int {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.pendingCount
}

// LastSync returns the completion time of the last pass, zero if none ran.
func (e *Engine) LastSync() time.Time {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.lastSync
}

// Syncing reports whether a pass is currently in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// Sync runs one full pass. A trigger while a pass is already in flight is a
// no-op (Report.Skipped is set); so is a trigger while disconnected. The
// returned error is non-nil only when the pass failed as a whole.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return &Report{Skipped: true, SkipReason: "sync already in progress"}, nil
	}
	defer e.syncing.Store(false)

	if !e.conn.Connected() {
		return &Report{Skipped: true, SkipReason: "not connected"}, nil
	}

	started := time.Now()
	report := &Report{}

	e.logger.Println("Starting sync pass")

	// Entity-type order is fixed: phrases, settings, logs.
	if err := e.syncPhrases(ctx, report); err != nil {
		return e.finishPass(ctx, report, started, err)
	}
	if err := e.syncSettings(ctx, report); err != nil {
		return e.finishPass(ctx, report, started, err)
	}
	if err := e.syncLogs(ctx, report); err != nil {
		return e.finishPass(ctx, report, started, err)
	}

	return e.finishPass(ctx, report, started, nil)
}

// finishPass publishes the pending count and last-sync timestamp. The stats
// are published even when items failed; passErr is non-nil only for a
// whole-pass store failure.
func (e *Engine) finishPass(ctx context.Context, report *Report, started time.Time, passErr error) (*Report, error) {
	report.Duration = time.Since(started)

	count, err := e.store.CountPending(ctx)
	if err != nil {
		e.logger.Printf("WARNING: failed to recompute pending count: %v", err)
		if passErr == nil {
			passErr = err
		}
	} else {
		report.PendingChanges = count
	}

	finished := time.Now()
	e.statsMu.Lock()
	e.pendingCount = report.PendingChanges
	e.lastSync = finished
	e.statsMu.Unlock()

	if passErr == nil {
		if err := e.store.SetMeta(ctx, store.MetaLastSync, finished.UTC().Format(time.RFC3339)); err != nil {
			e.logger.Printf("WARNING: failed to record last sync time: %v", err)
		}
	}

	if passErr != nil {
		e.logger.Printf("Sync pass failed: %v", passErr)
	} else {
		e.logger.Printf("Sync pass complete: up=%d updated=%d deleted=%d down=%d logs=%d failures=%d pending=%d (%s)",
			report.PhrasesUploaded, report.PhrasesUpdated, report.PhrasesDeleted,
			report.PhrasesDownloaded, report.LogsUploaded, report.ItemFailures,
			report.PendingChanges, report.Duration.Round(time.Millisecond))
	}

	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.TypeSyncCompleted, Data: *report})
	}

	return report, passErr
}

// syncPhrases runs the four-step phrase reconciliation.
func (e *Engine) syncPhrases(ctx context.Context, report *Report) error {
	// Step 1: upload pending_upload.
	uploads, err := e.store.ListPhrases(ctx, store.PhraseFilter{SyncState: model.StatePendingUpload})
	if err != nil {
		return err
	}
	for _, p := range uploads {
		dto, err := e.gw.CreatePhrase(ctx, p.Text, p.Category)
		if err != nil {
			if errors.Is(err, api.ErrNotAuthenticated) {
				// Every remaining phrase call would fail the same way; one
				// attempt is enough to learn the credential is missing.
				e.logger.Printf("WARNING: not authenticated, skipping phrase sync")
				report.ItemFailures++
				return nil
			}
			e.logger.Printf("WARNING: failed to upload phrase %s: %v", p.ID, err)
			report.ItemFailures++
			continue
		}
		if err := e.store.MarkPhraseSynced(ctx, p.ID, dto.ID); err != nil {
			return err
		}
		report.PhrasesUploaded++
	}

	// Step 2: upload pending_update.
	updates, err := e.store.ListPhrases(ctx, store.PhraseFilter{SyncState: model.StatePendingUpdate})
	if err != nil {
		return err
	}
	for _, p := range updates {
		if p.ServerID == "" {
			// Data-integrity anomaly: a pending_update phrase that never
			// synced should not exist. Skipped, never attempted.
			e.logger.Printf("WARNING: phrase %s is pending_update without a server id, skipping", p.ID)
			continue
		}
		if _, err := e.gw.UpdatePhrase(ctx, p.ServerID, p.Text, p.Category, p.UsageCount, p.Favorite); err != nil {
			if errors.Is(err, api.ErrNotAuthenticated) {
				e.logger.Printf("WARNING: not authenticated, skipping phrase sync")
				report.ItemFailures++
				return nil
			}
			e.logger.Printf("WARNING: failed to update phrase %s: %v", p.ID, err)
			report.ItemFailures++
			continue
		}
		if err := e.store.MarkPhraseSynced(ctx, p.ID, p.ServerID); err != nil {
			return err
		}
		report.PhrasesUpdated++
	}

	// Step 3: upload pending_delete. The local record exists only to carry
	// the delete intent, so it is removed after the attempt regardless of
	// the server's answer - except on a transport failure, which retries.
	deletes, err := e.store.ListPhrases(ctx, store.PhraseFilter{SyncState: model.StatePendingDelete})
	if err != nil {
		return err
	}
	for _, p := range deletes {
		if p.ServerID != "" {
			if err := e.gw.DeletePhrase(ctx, p.ServerID); err != nil {
				if errors.Is(err, api.ErrNotAuthenticated) {
					// Keep the delete intent; removing locally here would
					// orphan the server record once a credential returns.
					e.logger.Printf("WARNING: not authenticated, skipping phrase sync")
					report.ItemFailures++
					return nil
				}
				if errors.Is(err, api.ErrNetwork) {
					e.logger.Printf("WARNING: failed to delete phrase %s (will retry): %v", p.ID, err)
					report.ItemFailures++
					continue
				}
				e.logger.Printf("WARNING: server rejected delete of phrase %s, removing locally: %v", p.ID, err)
			}
		}
		if err := e.store.RemovePhrase(ctx, p.ID); err != nil {
			return err
		}
		report.PhrasesDeleted++
	}

	// Step 4: download. A local entity in any pending state is never
	// overwritten; local pending intent wins until upload time.
	remote, err := e.gw.ListPhrases(ctx, "")
	if err != nil {
		e.logger.Printf("WARNING: phrase download failed: %v", err)
		report.ItemFailures++
		return nil
	}

	return e.applyPhraseDownload(ctx, remote, report)
}

// applyPhraseDownload merges the remote collection in one transaction so
// readers never observe a partially applied download.
func (e *Engine) applyPhraseDownload(ctx context.Context, remote []api.PhraseDTO, report *Report) error {
	// Pending uploads that survived step 1 (e.g. an ambiguous failure on a
	// prior pass that actually created the server record): collapse
	// duplicates by adopting the server identifier instead of materializing
	// a second copy.
	pendingUploads, err := e.store.ListPhrases(ctx, store.PhraseFilter{SyncState: model.StatePendingUpload})
	if err != nil {
		return err
	}
	uploadsByText := make(map[string]*model.Phrase, len(pendingUploads))
	for _, p := range pendingUploads {
		uploadsByText[p.Text] = p
	}

	type change struct {
		insert *model.Phrase
		update *model.Phrase
	}
	var changes []change

	for _, dto := range remote {
		// Garbage remote content is discarded per record, never allowed to
		// fail the pass: a bad server row would otherwise wedge every
		// subsequent pass on the same record.
		if dto.ID == "" || dto.PhraseText == "" {
			e.logger.Printf("WARNING: discarding invalid remote phrase %q", dto.ID)
			report.ItemFailures++
			continue
		}

		local, err := e.store.GetPhraseByServerID(ctx, dto.ID)
		if errors.Is(err, store.ErrNotFound) {
			if dup, ok := uploadsByText[dto.PhraseText]; ok {
				adopted := *dup
				adopted.ServerID = dto.ID
				adopted.SyncState = model.StateSynced
				changes = append(changes, change{update: &adopted})
				delete(uploadsByText, dto.PhraseText)
				continue
			}

			changes = append(changes, change{insert: &model.Phrase{
				ID:         uuid.NewString(),
				Text:       dto.PhraseText,
				Category:   dto.Category,
				UsageCount: dto.UsageCount,
				Favorite:   dto.IsFavorite,
				SyncState:  model.StateSynced,
				ServerID:   dto.ID,
				CreatedAt:  dto.CreatedAt.Time,
				UpdatedAt:  dto.UpdatedAt.Time,
			}})
			continue
		}
		if err != nil {
			return err
		}

		if local.SyncState != model.StateSynced {
			continue // pending local intent wins
		}
		if !dto.UpdatedAt.Time.After(local.UpdatedAt) {
			continue // remote must be strictly newer
		}

		merged := *local
		merged.Text = dto.PhraseText
		merged.Category = dto.Category
		merged.UsageCount = dto.UsageCount
		merged.Favorite = dto.IsFavorite
		merged.UpdatedAt = dto.UpdatedAt.Time
		changes = append(changes, change{update: &merged})
	}

	if len(changes) == 0 {
		return nil
	}

	err = e.store.Batch(ctx, func(b *store.Batch) error {
		for _, c := range changes {
			if c.insert != nil {
				if err := b.InsertPhrase(c.insert); err != nil {
					return err
				}
			} else if err := b.UpdatePhrase(c.update); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	report.PhrasesDownloaded += len(changes)
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.TypePhrasesChanged})
	}
	return nil
}

// syncSettings is the one-record variant: local pending beats download,
// otherwise download wins, with no per-field merge.
func (e *Engine) syncSettings(ctx context.Context, report *Report) error {
	local, err := e.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	if local.SyncState.Pending() {
		_, err := e.gw.PutSettings(ctx, api.SettingsDTO{
			Language:     local.Language,
			SpeechRate:   local.SpeechRate,
			AIEnabled:    local.AIEnabled,
			ResponseMode: string(local.ResponseMode),
			UpdatedAt:    api.Timestamp{Time: local.UpdatedAt},
		})
		if err != nil {
			e.logger.Printf("WARNING: failed to upload settings: %v", err)
			report.ItemFailures++
		} else {
			if err := e.store.MarkSettingsSynced(ctx); err != nil {
				return err
			}
			local.SyncState = model.StateSynced
			report.SettingsUploaded = true
		}
	}

	remote, err := e.gw.GetSettings(ctx)
	if err != nil {
		e.logger.Printf("WARNING: settings download failed: %v", err)
		report.ItemFailures++
		return nil
	}

	if local.SyncState.Pending() {
		return nil // the failed upload still shadows the download
	}

	merged := &model.Settings{
		Language:     remote.Language,
		SpeechRate:   remote.SpeechRate,
		AIEnabled:    remote.AIEnabled,
		ResponseMode: model.ResponseMode(remote.ResponseMode),
		SyncState:    model.StateSynced,
		UpdatedAt:    remote.UpdatedAt.Time,
	}
	if err := merged.Validate(); err != nil {
		e.logger.Printf("WARNING: discarding invalid remote settings: %v", err)
		report.ItemFailures++
		return nil
	}
	if err := e.store.SaveSettings(ctx, merged); err != nil {
		return err
	}
	report.SettingsApplied = true

	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.TypeSettingsChanged})
	}
	return nil
}

// syncLogs uploads all pending usage logs as one batch. Logs are write-only
// to the server; they transition to synced only if the whole batch call
// succeeds, otherwise the whole batch retries next pass.
func (e *Engine) syncLogs(ctx context.Context, report *Report) error {
	logs, err := e.store.ListPendingLogs(ctx)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}

	dtos := make([]api.EventDTO, len(logs))
	ids := make([]string, len(logs))
	for i, l := range logs {
		dtos[i] = api.EventDTO{
			EventType:  string(l.Event),
			EventData:  l.Payload,
			PhraseUsed: l.PhraseText,
			SessionID:  l.SessionID,
		}
		ids[i] = l.ID
	}

	if err := e.gw.LogEvents(ctx, dtos); err != nil {
		e.logger.Printf("WARNING: failed to upload %d usage logs: %v", len(logs), err)
		report.ItemFailures++
		return nil
	}

	if err := e.store.MarkLogsSynced(ctx, ids); err != nil {
		return err
	}
	report.LogsUploaded = len(logs)
	return nil
}
