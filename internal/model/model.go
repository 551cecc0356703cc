// Package model provides the data structures shared across the sayboard
// sync engine: phrases, user settings, usage logs, and their sync-state tags.
//
// The structures are deliberately flat with last-write-wins timestamps so a
// record can round-trip between the local store and the remote server without
// a merge step. Sync-state transitions are the only mutation the engine ever
// performs on a record it did not author.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncState tags a local record with its reconciliation status against the
// remote server.
type SyncState string

const (
	// StateSynced means the local record matches the last known server copy.
	StateSynced SyncState = "synced"
	// StatePendingUpload means the record was created locally and never sent.
	StatePendingUpload SyncState = "pending_upload"
	// StatePendingUpdate means the record was modified locally after a prior sync.
	StatePendingUpdate SyncState = "pending_update"
	// StatePendingDelete means the record was deleted locally and the server
	// deletion has not been confirmed yet.
	StatePendingDelete SyncState = "pending_delete"
)

// Valid reports whether s is one of the recognized sync states.
func (s SyncState) Valid() bool {
	switch s {
	case StateSynced, StatePendingUpload, StatePendingUpdate, StatePendingDelete:
		return true
	}
	return false
}

// Pending reports whether the state represents an unconfirmed local mutation.
func (s SyncState) Pending() bool {
	return s.Valid() && s != StateSynced
}

// Phrase is a board phrase the user can speak.
//
// ID is an opaque local identifier, stable for the entity lifetime. ServerID
// is present iff the phrase has synced at least once. Favorite phrases are
// never auto-deleted by context-pack replacement.
type Phrase struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Category   string    `json:"category,omitempty"`
	UsageCount int       `json:"usage_count"`
	Favorite   bool      `json:"favorite"`
	SyncState  SyncState `json:"sync_state"`
	ServerID   string    `json:"server_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewPhrase creates a locally-authored phrase in pending_upload state.
func NewPhrase(text, category string) *Phrase {
	now := time.Now().UTC()
	return &Phrase{
		ID:        uuid.NewString(),
		Text:      text,
		Category:  category,
		SyncState: StatePendingUpload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the phrase invariants.
func (p *Phrase) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Text == "" {
		return fmt.Errorf("text is required")
	}
	if !p.SyncState.Valid() {
		return fmt.Errorf("invalid sync state %q", p.SyncState)
	}
	if p.ServerID != "" && p.SyncState == StatePendingUpload {
		return fmt.Errorf("phrase %s has a server id but was never synced", p.ID)
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if p.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// ResponseMode selects how the watch presents reply options.
type ResponseMode string

const (
	ResponseModeSimple ResponseMode = "simple"
	ResponseModeFull   ResponseMode = "full"
)

// Voice speed bounds enforced by Settings.Validate.
const (
	MinSpeechRate = 0.5
	MaxSpeechRate = 2.0
)

// Settings is the singleton-per-device user settings record. Exactly one live
// instance exists; the store creates it lazily on first access.
type Settings struct {
	Language     string       `json:"language"`
	SpeechRate   float64      `json:"speech_rate"`
	AIEnabled    bool         `json:"ai_enabled"`
	ResponseMode ResponseMode `json:"response_mode"`
	SyncState    SyncState    `json:"sync_state"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// DefaultSettings returns the settings seeded on first access.
func DefaultSettings() *Settings {
	return &Settings{
		Language:     "en",
		SpeechRate:   1.0,
		AIEnabled:    true,
		ResponseMode: ResponseModeSimple,
		SyncState:    StatePendingUpload,
		UpdatedAt:    time.Now().UTC(),
	}
}

// Validate checks the settings invariants.
func (s *Settings) Validate() error {
	if s.Language == "" {
		return fmt.Errorf("language is required")
	}
	if s.SpeechRate < MinSpeechRate || s.SpeechRate > MaxSpeechRate {
		return fmt.Errorf("speech rate must be between %.1f and %.1f (got %.2f)",
			MinSpeechRate, MaxSpeechRate, s.SpeechRate)
	}
	if !s.SyncState.Valid() {
		return fmt.Errorf("invalid sync state %q", s.SyncState)
	}
	return nil
}

// EventType classifies a usage log entry.
type EventType string

const (
	EventPhraseSpoken    EventType = "phrase_spoken"
	EventCustomSpoken    EventType = "custom_text_spoken"
	EventPackGenerated   EventType = "context_pack_generated"
	EventSettingsChanged EventType = "settings_changed"
	EventAppOpened       EventType = "app_opened"
	EventAppClosed       EventType = "app_closed"
	EventSyncCompleted   EventType = "sync_completed"
	EventError           EventType = "error"
)

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPhraseSpoken, EventCustomSpoken, EventPackGenerated,
		EventSettingsChanged, EventAppOpened, EventAppClosed,
		EventSyncCompleted, EventError:
		return true
	}
	return false
}

// UsageLog is an append-only analytics event. It is never mutated after
// creation except for the sync-state transition to synced, and never deleted
// locally except after confirmed upload.
type UsageLog struct {
	ID         string    `json:"id"`
	Event      EventType `json:"event"`
	Payload    string    `json:"payload,omitempty"`
	PhraseText string    `json:"phrase_text,omitempty"`
	SessionID  string    `json:"session_id"`
	SyncState  SyncState `json:"sync_state"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewUsageLog creates a pending_upload log entry for the given session.
func NewUsageLog(event EventType, sessionID string) *UsageLog {
	return &UsageLog{
		ID:        uuid.NewString(),
		Event:     event,
		SessionID: sessionID,
		SyncState: StatePendingUpload,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the log invariants.
func (l *UsageLog) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !l.Event.Valid() {
		return fmt.Errorf("invalid event type %q", l.Event)
	}
	if l.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if !l.SyncState.Valid() {
		return fmt.Errorf("invalid sync state %q", l.SyncState)
	}
	if l.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// ContextType classifies an environment detected by the peer device.
type ContextType string

const (
	ContextRestaurant ContextType = "restaurant"
	ContextMedical    ContextType = "medical"
	ContextTransit    ContextType = "transit"
	ContextShopping   ContextType = "shopping"
	ContextHome       ContextType = "home"
	ContextUnknown    ContextType = "unknown"
)

// ReceivedContext is the ephemeral environment classification received from
// the peer device. It is not persisted; each receipt supersedes the previous.
type ReceivedContext struct {
	Type       ContextType `json:"type"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source"`
	PlaceName  string      `json:"place_name,omitempty"`
	SceneText  string      `json:"scene_text,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Validate checks the context bounds.
func (c *ReceivedContext) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1] (got %.2f)", c.Confidence)
	}
	return nil
}
