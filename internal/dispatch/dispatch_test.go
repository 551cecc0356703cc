package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sayboard/sayboard/internal/api"
	"github.com/sayboard/sayboard/internal/engine"
	"github.com/sayboard/sayboard/internal/events"
	"github.com/sayboard/sayboard/internal/model"
	"github.com/sayboard/sayboard/internal/store"
)

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *recordingSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSpeaker) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type fakeGenerator struct {
	phrases []string
	err     error
	calls   int
}

func (g *fakeGenerator) Generate(ctx context.Context, scenario string, limit int) ([]string, error) {
	g.calls++
	return g.phrases, g.err
}

// failingSettings fails the test if the dispatcher reaches for the network.
type failingSettings struct {
	t *testing.T
}

func (f *failingSettings) GetSettings(ctx context.Context) (*api.SettingsDTO, error) {
	f.t.Error("network call attempted")
	return nil, api.ErrNetwork
}

type fakeSyncer struct {
	calls  int
	report engine.Report
}

func (s *fakeSyncer) Sync(ctx context.Context) (*engine.Report, error) {
	s.calls++
	r := s.report
	return &r, nil
}

func setupDispatcher(t *testing.T, config Config) (*Dispatcher, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	config.Store = s
	if config.Bus == nil {
		config.Bus = events.NewBus(nil)
	}
	return New(config), s
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		typ       string
		payload   map[string]string
		malformed bool
	}{
		{name: "sync", typ: "syncPhrases"},
		{name: "emergency", typ: "emergency"},
		{name: "update settings", typ: "updateSettings"},
		{name: "context pack", typ: "loadContextPack", payload: map[string]string{"scenario": "restaurant"}},
		{name: "context pack without scenario", typ: "loadContextPack", malformed: true},
		{name: "update phrases", typ: "updatePhrases", payload: map[string]string{"phrases": "Hello\nGoodbye"}},
		{name: "update phrases empty list", typ: "updatePhrases", payload: map[string]string{"phrases": "  \n "}, malformed: true},
		{name: "speak", typ: "speakMessage", payload: map[string]string{"text": "Hi"}},
		{name: "speak without text", typ: "speakMessage", malformed: true},
		{name: "missing type", typ: "", malformed: true},
		{name: "unknown type", typ: "selfDestruct", malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := Decode(tt.typ, tt.payload, "")
			if tt.malformed {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("Decode() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if inst.Type != tt.typ {
				t.Errorf("Type = %q, want %q", inst.Type, tt.typ)
			}
			if inst.ReceivedAt.IsZero() {
				t.Error("ReceivedAt not stamped")
			}
		})
	}
}

func TestDecode_UpdatePhrasesList(t *testing.T) {
	inst, err := Decode(TypeUpdatePhrases, map[string]string{
		"phrases":  JoinPhraseList([]string{"One", "Two", "Three"}),
		"category": "restaurant",
	}, "peer-1")
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	p := inst.Payload.(UpdatePhrases)
	if len(p.Phrases) != 3 || p.Phrases[2] != "Three" {
		t.Errorf("Phrases = %q, want three entries ending in %q", p.Phrases, "Three")
	}
	if p.Category != "restaurant" {
		t.Errorf("Category = %q, want %q", p.Category, "restaurant")
	}
	if inst.Sender != "peer-1" {
		t.Errorf("Sender = %q, want %q", inst.Sender, "peer-1")
	}
}

func TestHandle_MalformedDiscardedSilently(t *testing.T) {
	speaker := &recordingSpeaker{}
	d, s := setupDispatcher(t, Config{Speaker: speaker})
	ctx := context.Background()

	if err := d.Handle(ctx, "unknownType", nil, ""); err != nil {
		t.Fatalf("Handle() returned %v, want nil (silent discard)", err)
	}

	phrases, err := s.ListPhrases(ctx, store.PhraseFilter{})
	if err != nil {
		t.Fatalf("ListPhrases() failed: %v", err)
	}
	if len(phrases) != 0 {
		t.Errorf("discarded instruction mutated the store: %d phrases", len(phrases))
	}
	if len(speaker.all()) != 0 {
		t.Error("discarded instruction reached the speaker")
	}
}

func TestHandle_Emergency(t *testing.T) {
	speaker := &recordingSpeaker{}
	bus := events.NewBus(nil)
	d, s := setupDispatcher(t, Config{
		Speaker:  speaker,
		Bus:      bus,
		Settings: &failingSettings{t: t},
	})
	ctx := context.Background()

	// Existing board: two synced phrases plus a favorite.
	for _, seed := range []struct {
		text     string
		favorite bool
	}{
		{"Hello", false},
		{"Goodbye", false},
		{"Call my sister", true},
	} {
		p := model.NewPhrase(seed.text, "")
		p.Favorite = seed.favorite
		if err := s.InsertPhrase(ctx, p); err != nil {
			t.Fatalf("InsertPhrase() failed: %v", err)
		}
		if err := s.MarkPhraseSynced(ctx, p.ID, "srv-"+p.ID[:8]); err != nil {
			t.Fatalf("MarkPhraseSynced() failed: %v", err)
		}
	}

	speakCh, cancel := bus.Subscribe(events.TypeSpeakRequested)
	defer cancel()

	if err := d.Handle(ctx, TypeEmergency, nil, ""); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}

	all, err := s.ListPhrases(ctx, store.PhraseFilter{})
	if err != nil {
		t.Fatalf("ListPhrases() failed: %v", err)
	}

	var uploads, deletes, favorites int
	for _, p := range all {
		switch {
		case p.SyncState == model.StatePendingDelete:
			deletes++
		case p.Favorite:
			favorites++
			if p.SyncState != model.StateSynced {
				t.Errorf("favorite %q transitioned to %q", p.Text, p.SyncState)
			}
		case p.SyncState == model.StatePendingUpload:
			uploads++
		default:
			t.Errorf("unexpected phrase %q in state %q", p.Text, p.SyncState)
		}
	}
	if deletes != 2 {
		t.Errorf("%d phrases pending delete, want 2", deletes)
	}
	if uploads != 8 {
		t.Errorf("%d emergency phrases pending upload, want 8", uploads)
	}
	if favorites != 1 {
		t.Errorf("%d favorites survived, want 1", favorites)
	}

	spoken := speaker.all()
	if len(spoken) != 1 || spoken[0] != "I need help now" {
		t.Errorf("spoken = %q, want the first emergency phrase", spoken)
	}
	select {
	case evt := <-speakCh:
		if evt.Data != "I need help now" {
			t.Errorf("speak request data = %v, want first emergency phrase", evt.Data)
		}
	default:
		t.Error("no speak request emitted")
	}
}

func TestHandle_EmergencyTwiceConverges(t *testing.T) {
	d, s := setupDispatcher(t, Config{Speaker: &recordingSpeaker{}})
	ctx := context.Background()

	if err := d.Handle(ctx, TypeEmergency, nil, ""); err != nil {
		t.Fatalf("first Handle() failed: %v", err)
	}
	if err := d.Handle(ctx, TypeEmergency, nil, ""); err != nil {
		t.Fatalf("second Handle() failed: %v", err)
	}

	all, err := s.ListPhrases(ctx, store.PhraseFilter{ExcludeDeleted: true})
	if err != nil {
		t.Fatalf("ListPhrases() failed: %v", err)
	}
	if len(all) != 8 {
		t.Errorf("%d phrases on the board after repeat, want 8", len(all))
	}
}

func TestHandle_LoadContextPack(t *testing.T) {
	gen := &fakeGenerator{phrases: []string{"Table for two", "The check, please"}}
	d, s := setupDispatcher(t, Config{Generator: gen, SessionID: "sess-1"})
	ctx := context.Background()

	payload := map[string]string{"scenario": "restaurant"}
	if err := d.Handle(ctx, TypeLoadContextPack, payload, ""); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}

	phrases, err := s.ListPhrases(ctx, store.PhraseFilter{ExcludeDeleted: true})
	if err != nil {
		t.Fatalf("ListPhrases() failed: %v", err)
	}
	if len(phrases) != 2 {
		t.Fatalf("%d phrases on the board, want 2", len(phrases))
	}
	for _, p := range phrases {
		if p.Category != "restaurant" {
			t.Errorf("phrase %q category = %q, want %q", p.Text, p.Category, "restaurant")
		}
		if p.SyncState != model.StatePendingUpload {
			t.Errorf("phrase %q state = %q, want %q", p.Text, p.SyncState, model.StatePendingUpload)
		}
	}

	logs, err := s.ListPendingLogs(ctx)
	if err != nil {
		t.Fatalf("ListPendingLogs() failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != model.EventPackGenerated {
		t.Fatalf("audit logs = %+v, want one context_pack_generated entry", logs)
	}
	if logs[0].SessionID != "sess-1" || logs[0].Payload != "restaurant" {
		t.Errorf("audit log session/payload = %q/%q, want sess-1/restaurant", logs[0].SessionID, logs[0].Payload)
	}
}

func TestHandle_SpeakMessageDoesNotTouchStore(t *testing.T) {
	speaker := &recordingSpeaker{}
	d, s := setupDispatcher(t, Config{Speaker: speaker})
	ctx := context.Background()

	if err := d.Handle(ctx, TypeSpeakMessage, map[string]string{"text": "Hello there"}, ""); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if spoken := speaker.all(); len(spoken) != 1 || spoken[0] != "Hello there" {
		t.Errorf("spoken = %q, want [\"Hello there\"]", spoken)
	}

	count, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	// Only the lazily-seeded settings record is pending.
	if count > 1 {
		t.Errorf("speakMessage left %d pending changes", count)
	}
}

func TestHandle_SyncPhrasesInvokesEngine(t *testing.T) {
	syncer := &fakeSyncer{}
	d, _ := setupDispatcher(t, Config{Syncer: syncer})

	if err := d.Handle(context.Background(), TypeSyncPhrases, nil, ""); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if syncer.calls != 1 {
		t.Errorf("syncer called %d times, want 1", syncer.calls)
	}
}

type stubSettings struct {
	dto   api.SettingsDTO
	calls int
}

func (s *stubSettings) GetSettings(ctx context.Context) (*api.SettingsDTO, error) {
	s.calls++
	return &s.dto, nil
}

func TestHandle_UpdateSettings(t *testing.T) {
	src := &stubSettings{dto: api.SettingsDTO{
		Language: "sv", SpeechRate: 1.2, AIEnabled: true, ResponseMode: "full",
		UpdatedAt: api.Timestamp{Time: time.Now()},
	}}
	d, s := setupDispatcher(t, Config{Settings: src})
	ctx := context.Background()

	// Clean local record: the refresh applies.
	if _, err := s.GetSettings(ctx); err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if err := s.MarkSettingsSynced(ctx); err != nil {
		t.Fatalf("MarkSettingsSynced() failed: %v", err)
	}
	if err := d.Handle(ctx, TypeUpdateSettings, nil, ""); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if got.Language != "sv" {
		t.Errorf("Language = %q, want refreshed %q", got.Language, "sv")
	}

	// Pending local edit: the refresh is skipped entirely.
	got.Language = "no"
	got.SyncState = model.StatePendingUpdate
	if err := s.SaveSettings(ctx, got); err != nil {
		t.Fatalf("SaveSettings() failed: %v", err)
	}
	before := src.calls
	if err := d.Handle(ctx, TypeUpdateSettings, nil, ""); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if src.calls != before {
		t.Error("settings refresh fetched from server despite pending local edit")
	}
	got, err = s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if got.Language != "no" {
		t.Errorf("Language = %q, pending local edit must win", got.Language)
	}
}
