package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/sayboard/sayboard/internal/api"
	"github.com/sayboard/sayboard/internal/engine"
	"github.com/sayboard/sayboard/internal/events"
	"github.com/sayboard/sayboard/internal/model"
	"github.com/sayboard/sayboard/internal/phrasegen"
	"github.com/sayboard/sayboard/internal/speech"
	"github.com/sayboard/sayboard/internal/store"
)

// Syncer triggers a sync pass. *engine.Engine satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (*engine.Report, error)
}

// SettingsSource fetches the server's settings record. *api.Client
// satisfies it.
type SettingsSource interface {
	GetSettings(ctx context.Context) (*api.SettingsDTO, error)
}

// Config wires a Dispatcher's collaborators. Store and Bus are required;
// the rest may be nil, in which case the corresponding instruction types
// degrade gracefully (logged, no effect).
type Config struct {
	Store     *store.Store
	Bus       *events.Bus
	Syncer    Syncer
	Settings  SettingsSource
	Speaker   speech.Speaker
	Generator phrasegen.Generator
	SessionID string
	Logger    *log.Logger
}

// Dispatcher decodes and processes instructions.
type Dispatcher struct {
	store     *store.Store
	bus       *events.Bus
	syncer    Syncer
	settings  SettingsSource
	speaker   speech.Speaker
	gen       phrasegen.Generator
	sessionID string
	logger    *log.Logger
}

// New creates a dispatcher.
func New(config Config) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dispatch] ", log.LstdFlags)
	}
	gen := config.Generator
	if gen == nil {
		gen = phrasegen.StaticGenerator{}
	}
	speaker := config.Speaker
	if speaker == nil {
		speaker = speech.NewLogSpeaker(logger)
	}
	return &Dispatcher{
		store:     config.Store,
		bus:       config.Bus,
		syncer:    config.Syncer,
		settings:  config.Settings,
		speaker:   speaker,
		gen:       gen,
		sessionID: config.SessionID,
		logger:    logger,
	}
}

// Handle decodes and processes one raw instruction. A malformed payload is
// discarded with a log line and a nil error; it will never be retried. A
// non-nil error means the instruction was recognized but its effect failed
// and the caller may retry.
func (d *Dispatcher) Handle(ctx context.Context, typ string, payload map[string]string, sender string) error {
	inst, err := Decode(typ, payload, sender)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			d.logger.Printf("Discarding instruction: %v", err)
			return nil
		}
		return err
	}
	return d.Process(ctx, inst)
}

// Process runs the effect of an already-decoded instruction and emits the
// instruction_handled notification on success.
func (d *Dispatcher) Process(ctx context.Context, inst *Instruction) error {
	var err error
	switch inst.Type {
	case TypeSyncPhrases:
		err = d.handleSync(ctx)
	case TypeLoadContextPack:
		err = d.handleLoadContextPack(ctx, inst.Payload.(LoadContextPack))
	case TypeUpdatePhrases:
		p := inst.Payload.(UpdatePhrases)
		err = d.ReplacePhrases(ctx, p.Phrases, p.Category)
	case TypeSpeakMessage:
		err = d.speaker.Speak(ctx, inst.Payload.(SpeakMessage).Text)
	case TypeUpdateSettings:
		err = d.handleUpdateSettings(ctx)
	case TypeEmergency:
		err = d.handleEmergency(ctx)
	default:
		// Decode guarantees a recognized type; a hand-built Instruction with
		// an unknown type is a programming error at the call site.
		return fmt.Errorf("%w: unrecognized type %q", ErrMalformed, inst.Type)
	}
	if err != nil {
		d.logger.Printf("WARNING: failed to process %s instruction: %v", inst.Type, err)
		return err
	}

	d.logger.Printf("Processed %s instruction", inst.Type)
	if d.bus != nil {
		d.bus.Publish(events.Event{Type: events.TypeInstructionHandled, Data: inst.Type})
	}
	return nil
}

func (d *Dispatcher) handleSync(ctx context.Context) error {
	if d.syncer == nil {
		d.logger.Println("No sync engine wired, ignoring syncPhrases")
		return nil
	}
	report, err := d.syncer.Sync(ctx)
	if err != nil {
		return err
	}
	if report.Skipped {
		d.logger.Printf("Sync trigger dropped: %s", report.SkipReason)
	}
	return nil
}

func (d *Dispatcher) handleLoadContextPack(ctx context.Context, p LoadContextPack) error {
	phrases, err := d.gen.Generate(ctx, p.Scenario, phrasegen.DefaultPackSize)
	if err != nil {
		return fmt.Errorf("failed to generate context pack for %q: %w", p.Scenario, err)
	}
	if err := d.ReplacePhrases(ctx, phrases, p.Scenario); err != nil {
		return err
	}

	audit := model.NewUsageLog(model.EventPackGenerated, d.sessionID)
	audit.Payload = p.Scenario
	if err := d.store.AppendLog(ctx, audit); err != nil {
		d.logger.Printf("WARNING: failed to record context pack audit log: %v", err)
	}
	return nil
}

// ReplacePhrases applies the updatePhrases effect: every current
// non-favorite phrase is marked pending_delete (or removed outright if it
// never reached the server), and the new set is inserted as fresh
// pending_upload entities. The whole replacement is one transaction.
// Favorites are never touched. Applying the same set twice converges to the
// same end state.
func (d *Dispatcher) ReplacePhrases(ctx context.Context, phrases []string, category string) error {
	current, err := d.store.ListPhrases(ctx, store.PhraseFilter{ExcludeDeleted: true})
	if err != nil {
		return err
	}

	err = d.store.Batch(ctx, func(b *store.Batch) error {
		for _, p := range current {
			if p.Favorite {
				continue
			}
			if err := b.DeletePhrase(p.ID); err != nil {
				return err
			}
		}
		for _, text := range phrases {
			fresh := model.NewPhrase(text, category)
			if err := b.InsertPhrase(fresh); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if d.bus != nil {
		d.bus.Publish(events.Event{Type: events.TypePhrasesChanged})
	}
	return nil
}

// handleUpdateSettings pulls the server's settings record and overwrites the
// local one, unless a pending local edit shadows it.
func (d *Dispatcher) handleUpdateSettings(ctx context.Context) error {
	if d.settings == nil {
		d.logger.Println("No settings source wired, ignoring updateSettings")
		return nil
	}

	local, err := d.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if local.SyncState.Pending() {
		d.logger.Println("Local settings have pending changes, skipping server refresh")
		return nil
	}

	remote, err := d.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch settings: %w", err)
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
		return fmt.Errorf("server returned invalid settings: %w", err)
	}
	if err := d.store.SaveSettings(ctx, merged); err != nil {
		return err
	}

	if d.bus != nil {
		d.bus.Publish(events.Event{Type: events.TypeSettingsChanged})
	}
	return nil
}

// handleEmergency swaps the board to the fixed emergency set and speaks the
// first phrase. No network is touched; the phrases are embedded and the
// board mutation is purely local.
func (d *Dispatcher) handleEmergency(ctx context.Context) error {
	phrases := phrasegen.EmergencyPhrases()
	if err := d.ReplacePhrases(ctx, phrases, "emergency"); err != nil {
		return err
	}

	first := phrases[0]
	if d.bus != nil {
		d.bus.Publish(events.Event{Type: events.TypeSpeakRequested, Data: first})
		d.bus.Publish(events.Event{Type: events.TypeEmergencyActivated})
	}
	if err := d.speaker.Speak(ctx, first); err != nil {
		// The board swap already happened; a speech failure must not make
		// the caller retry the whole instruction.
		d.logger.Printf("WARNING: failed to speak emergency phrase: %v", err)
	}
	return nil
}
