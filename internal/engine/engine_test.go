package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sayboard/sayboard/internal/api"
	"github.com/sayboard/sayboard/internal/events"
	"github.com/sayboard/sayboard/internal/model"
	"github.com/sayboard/sayboard/internal/store"
)

// fakeGateway is a deterministic in-memory stand-in for the REST backend.
type fakeGateway struct {
	mu      sync.Mutex
	phrases map[string]api.PhraseDTO // keyed by server id
	nextID  int

	settings    api.SettingsDTO
	hasSettings bool

	createErr   error
	updateErr   error
	deleteErr   error
	listErr     error
	logErr      error
	putErr      error
	getErr      error
	createCalls int
	deleteCalls int
	listCalls   int
	logBatches  [][]api.EventDTO

	// blockList, when non-nil, parks ListPhrases until closed. Used by the
	// reentrancy test to hold a pass open.
	blockList chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{phrases: make(map[string]api.PhraseDTO)}
}

func (g *fakeGateway) ListPhrases(ctx context.Context, category string) ([]api.PhraseDTO, error) {
	g.mu.Lock()
	block := g.blockList
	g.mu.Unlock()
	if block != nil {
		<-block
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.listCalls++
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]api.PhraseDTO, 0, len(g.phrases))
	for _, dto := range g.phrases {
		out = append(out, dto)
	}
	return out, nil
}

func (g *fakeGateway) CreatePhrase(ctx context.Context, text, category string) (*api.PhraseDTO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	dto := api.PhraseDTO{
		ID:         fmt.Sprintf("srv-%d", g.nextID),
		PhraseText: text,
		Category:   category,
		CreatedAt:  api.Timestamp{Time: time.Now()},
		UpdatedAt:  api.Timestamp{Time: time.Now()},
	}
	g.phrases[dto.ID] = dto
	return &dto, nil
}

func (g *fakeGateway) UpdatePhrase(ctx context.Context, serverID, text, category string, usageCount int, favorite bool) (*api.PhraseDTO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	dto, ok := g.phrases[serverID]
	if !ok {
		return nil, &api.HTTPError{Status: 404}
	}
	dto.PhraseText = text
	dto.Category = category
	dto.UsageCount = usageCount
	dto.IsFavorite = favorite
	dto.UpdatedAt = api.Timestamp{Time: time.Now()}
	g.phrases[serverID] = dto
	return &dto, nil
}

func (g *fakeGateway) DeletePhrase(ctx context.Context, serverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.phrases, serverID)
	return nil
}

func (g *fakeGateway) GetSettings(ctx context.Context) (*api.SettingsDTO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	if !g.hasSettings {
		g.settings = api.SettingsDTO{
			Language: "en", SpeechRate: 1.0, AIEnabled: true,
			ResponseMode: "simple",
			UpdatedAt:    api.Timestamp{Time: time.Now()},
		}
		g.hasSettings = true
	}
	s := g.settings
	return &s, nil
}

func (g *fakeGateway) PutSettings(ctx context.Context, settings api.SettingsDTO) (*api.SettingsDTO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.putErr != nil {
		return nil, g.putErr
	}
	g.settings = settings
	g.hasSettings = true
	return &g.settings, nil
}

func (g *fakeGateway) LogEvents(ctx context.Context, events []api.EventDTO) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.logErr != nil {
		return g.logErr
	}
	g.logBatches = append(g.logBatches, events)
	return nil
}

// offline mimics a disconnected reachability monitor.
type offline struct{}

func (offline) Connected() bool { return false }

func setupEngine(t *testing.T) (*Engine, *store.Store, *fakeGateway) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	gw := newFakeGateway()
	e := New(s, gw, nil, events.NewBus(nil), nil)
	return e, s, gw
}

// settleSettings runs GetSettings and marks the seeded record synced so
// tests can focus on phrase behavior without settings noise.
func settleSettings(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetSettings(ctx); err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if err := s.MarkSettingsSynced(ctx); err != nil {
		t.Fatalf("MarkSettingsSynced() failed: %v", err)
	}
}

func TestSync_UploadsPendingPhrase(t *testing.T) {
	e, s, _ := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	p := model.NewPhrase("I need water", "")
	if err := s.InsertPhrase(ctx, p); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if report.PhrasesUploaded != 1 {
		t.Errorf("PhrasesUploaded = %d, want 1", report.PhrasesUploaded)
	}

	got, err := s.GetPhrase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPhrase() failed: %v", err)
	}
	if got.Text != "I need water" {
		t.Errorf("Text = %q, want %q", got.Text, "I need water")
	}
	if got.SyncState != model.StateSynced {
		t.Errorf("SyncState = %q, want %q", got.SyncState, model.StateSynced)
	}
	if got.ServerID != "srv-1" {
		t.Errorf("ServerID = %q, want %q", got.ServerID, "srv-1")
	}
	if report.PendingChanges != 0 {
		t.Errorf("PendingChanges = %d, want 0", report.PendingChanges)
	}
}

func TestSync_DownloadMaterializesRemotePhrase(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	gw.phrases["srv-2"] = api.PhraseDTO{
		ID:         "srv-2",
		PhraseText: "Hello",
		CreatedAt:  api.Timestamp{Time: time.Now().Add(-time.Hour)},
		UpdatedAt:  api.Timestamp{Time: time.Now()},
	}

	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	got, err := s.GetPhraseByServerID(ctx, "srv-2")
	if err != nil {
		t.Fatalf("GetPhraseByServerID() failed: %v", err)
	}
	if got.Text != "Hello" {
		t.Errorf("Text = %q, want %q", got.Text, "Hello")
	}
	if got.SyncState != model.StateSynced {
		t.Errorf("SyncState = %q, want %q", got.SyncState, model.StateSynced)
	}
}

func TestSync_DownloadNeverClobbersPendingEdit(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	p := model.NewPhrase("original", "")
	if err := s.InsertPhrase(ctx, p); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}
	if err := s.MarkPhraseSynced(ctx, p.ID, "srv-5"); err != nil {
		t.Fatalf("MarkPhraseSynced() failed: %v", err)
	}

	// Local edit shadows the record.
	p.Text = "locally edited"
	p.SyncState = model.StatePendingUpdate
	p.ServerID = "srv-5"
	p.UpdatedAt = time.Now()
	if err := s.UpdatePhrase(ctx, p); err != nil {
		t.Fatalf("UpdatePhrase() failed: %v", err)
	}

	// The upload fails, so the pending state survives into the download
	// step, where a strictly newer remote version is waiting.
	gw.updateErr = api.ErrNetwork
	gw.phrases["srv-5"] = api.PhraseDTO{
		ID:         "srv-5",
		PhraseText: "remote edit",
		CreatedAt:  api.Timestamp{Time: time.Now().Add(-time.Hour)},
		UpdatedAt:  api.Timestamp{Time: time.Now().Add(time.Hour)},
	}

	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	got, err := s.GetPhrase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPhrase() failed: %v", err)
	}
	if got.Text != "locally edited" {
		t.Errorf("Text = %q, want the local edit preserved", got.Text)
	}
	if got.SyncState != model.StatePendingUpdate {
		t.Errorf("SyncState = %q, want %q", got.SyncState, model.StatePendingUpdate)
	}
}

func TestSync_DeleteRetriedOnNetworkFailure(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	p := model.NewPhrase("delete me", "")
	if err := s.InsertPhrase(ctx, p); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}
	if err := s.MarkPhraseSynced(ctx, p.ID, "srv-7"); err != nil {
		t.Fatalf("MarkPhraseSynced() failed: %v", err)
	}
	if err := s.DeletePhrase(ctx, p.ID); err != nil {
		t.Fatalf("DeletePhrase() failed: %v", err)
	}

	gw.deleteErr = api.ErrNetwork
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	got, err := s.GetPhrase(ctx, p.ID)
	if err != nil {
		t.Fatalf("phrase removed despite network failure: %v", err)
	}
	if got.SyncState != model.StatePendingDelete {
		t.Errorf("SyncState = %q, want %q", got.SyncState, model.StatePendingDelete)
	}

	// Next pass with the network back: delete lands and the record goes.
	gw.deleteErr = nil
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if _, err := s.GetPhrase(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("phrase still present after successful delete, err = %v", err)
	}
}

func TestSync_DeleteRemovesLocallyOnServerRejection(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	p := model.NewPhrase("delete me", "")
	if err := s.InsertPhrase(ctx, p); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}
	if err := s.MarkPhraseSynced(ctx, p.ID, "srv-8"); err != nil {
		t.Fatalf("MarkPhraseSynced() failed: %v", err)
	}
	if err := s.DeletePhrase(ctx, p.ID); err != nil {
		t.Fatalf("DeletePhrase() failed: %v", err)
	}

	// A 410 means the server already forgot the record; local removal
	// proceeds regardless.
	gw.deleteErr = &api.HTTPError{Status: 410}
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	if _, err := s.GetPhrase(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("phrase still present after rejected delete, err = %v", err)
	}
}

func TestSync_NonReentrant(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	block := make(chan struct{})
	gw.blockList = block

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.Sync(ctx)
	}()

	// Give the first pass time to reach the blocked download.
	for i := 0; i < 100 && !e.Syncing(); i++ {
		time.Sleep(time.Millisecond)
	}
	if !e.Syncing() {
		t.Fatal("first pass never started")
	}

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if !report.Skipped {
		t.Error("concurrent trigger was not dropped")
	}

	close(block)
	wg.Wait()

	gw.mu.Lock()
	listCalls := gw.listCalls
	gw.mu.Unlock()
	if listCalls != 1 {
		t.Errorf("download ran %d times, want 1", listCalls)
	}
}

func TestSync_SkippedWhenDisconnected(t *testing.T) {
	_, s, gw := setupEngine(t)
	ctx := context.Background()
	e := New(s, gw, offline{}, nil, nil)

	if err := s.InsertPhrase(ctx, model.NewPhrase("queued", "")); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if !report.Skipped {
		t.Error("pass ran while disconnected")
	}

	gw.mu.Lock()
	calls := gw.createCalls + gw.listCalls
	gw.mu.Unlock()
	if calls != 0 {
		t.Errorf("%d network calls attempted while disconnected", calls)
	}
}

func TestSync_PendingCountAccuracy(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	// One phrase will upload fine, one will fail and stay pending.
	ok := model.NewPhrase("will sync", "")
	if err := s.InsertPhrase(ctx, ok); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if report.PendingChanges != 0 {
		t.Errorf("PendingChanges = %d, want 0", report.PendingChanges)
	}

	gw.createErr = api.ErrNetwork
	stuck := model.NewPhrase("will not sync", "")
	if err := s.InsertPhrase(ctx, stuck); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}
	if err := s.AppendLog(ctx, model.NewUsageLog(model.EventAppOpened, "sess")); err != nil {
		t.Fatalf("AppendLog() failed: %v", err)
	}
	gw.logErr = api.ErrNetwork

	report, err = e.Sync(ctx)
	if err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if report.PendingChanges != 2 {
		t.Errorf("PendingChanges = %d, want 2 (stuck phrase + stuck log)", report.PendingChanges)
	}
	if e.PendingChanges() != 2 {
		t.Errorf("PendingChanges() = %d, want 2", e.PendingChanges())
	}
	if e.LastSync().IsZero() {
		t.Error("LastSync() not published after a pass with failures")
	}
}

func TestSync_CollapsesDuplicateCreateByServerID(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	// Simulates a retry after an ambiguous failure: the create reached the
	// server on a previous pass but the response was lost, so the phrase is
	// still pending_upload locally while the server already has it.
	p := model.NewPhrase("I need water", "")
	if err := s.InsertPhrase(ctx, p); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}
	gw.createErr = api.ErrNetwork
	gw.phrases["srv-9"] = api.PhraseDTO{
		ID:         "srv-9",
		PhraseText: "I need water",
		CreatedAt:  api.Timestamp{Time: time.Now()},
		UpdatedAt:  api.Timestamp{Time: time.Now()},
	}

	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	phrases, err := s.ListPhrases(ctx, store.PhraseFilter{})
	if err != nil {
		t.Fatalf("ListPhrases() failed: %v", err)
	}
	if len(phrases) != 1 {
		t.Fatalf("got %d local phrases, want 1 (duplicate collapsed)", len(phrases))
	}
	if phrases[0].ServerID != "srv-9" {
		t.Errorf("ServerID = %q, want adopted %q", phrases[0].ServerID, "srv-9")
	}
	if phrases[0].SyncState != model.StateSynced {
		t.Errorf("SyncState = %q, want %q", phrases[0].SyncState, model.StateSynced)
	}
}

func TestSync_LogBatchIsAtomic(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	for i := 0; i < 3; i++ {
		if err := s.AppendLog(ctx, model.NewUsageLog(model.EventPhraseSpoken, "sess")); err != nil {
			t.Fatalf("AppendLog() failed: %v", err)
		}
	}

	gw.logErr = &api.HTTPError{Status: 500}
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	pending, err := s.ListPendingLogs(ctx)
	if err != nil {
		t.Fatalf("ListPendingLogs() failed: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("%d logs pending after failed batch, want all 3", len(pending))
	}

	gw.logErr = nil
	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if report.LogsUploaded != 3 {
		t.Errorf("LogsUploaded = %d, want 3", report.LogsUploaded)
	}

	gw.mu.Lock()
	batches := len(gw.logBatches)
	batchLen := 0
	if batches > 0 {
		batchLen = len(gw.logBatches[0])
	}
	gw.mu.Unlock()
	if batches != 1 || batchLen != 3 {
		t.Errorf("server saw %d batches (first len %d), want one batch of 3", batches, batchLen)
	}
}

func TestSync_SettingsPendingBeatsDownload(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	settings.Language = "fi"
	settings.SyncState = model.StatePendingUpdate
	if err := s.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("SaveSettings() failed: %v", err)
	}

	// Upload fails, download offers a different language. The pending
	// local record must survive untouched.
	gw.putErr = api.ErrNetwork
	gw.settings = api.SettingsDTO{
		Language: "de", SpeechRate: 1.5, AIEnabled: false,
		ResponseMode: "full",
		UpdatedAt:    api.Timestamp{Time: time.Now().Add(time.Hour)},
	}
	gw.hasSettings = true

	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if got.Language != "fi" {
		t.Errorf("Language = %q, want pending local %q", got.Language, "fi")
	}
	if got.SyncState != model.StatePendingUpdate {
		t.Errorf("SyncState = %q, want %q", got.SyncState, model.StatePendingUpdate)
	}

	// With the upload healthy the local record syncs, then the download
	// (now the same as the upload) applies cleanly.
	gw.putErr = nil
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	got, err = s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() failed: %v", err)
	}
	if got.Language != "fi" {
		t.Errorf("Language = %q after upload, want %q", got.Language, "fi")
	}
	if got.SyncState != model.StateSynced {
		t.Errorf("SyncState = %q, want %q", got.SyncState, model.StateSynced)
	}
}

func TestSync_UpdateWithoutServerIDIsAnomaly(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	// Should not exist; seeded directly to simulate corruption.
	p := model.NewPhrase("orphan", "")
	p.SyncState = model.StatePendingUpdate
	if err := s.InsertPhrase(ctx, p); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}

	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	gw.mu.Lock()
	creates := gw.createCalls
	gw.mu.Unlock()
	if creates != 0 {
		t.Errorf("anomalous phrase triggered %d create calls, want 0", creates)
	}

	got, err := s.GetPhrase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPhrase() failed: %v", err)
	}
	if got.SyncState != model.StatePendingUpdate {
		t.Errorf("SyncState = %q, anomaly must stay untouched", got.SyncState)
	}
}

func TestSync_InvalidRemotePhraseDiscardedPerRecord(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	// One garbage server row next to a good one, plus a pending usage log
	// behind the phrase stage.
	gw.phrases["srv-bad"] = api.PhraseDTO{ID: "srv-bad", PhraseText: ""}
	gw.phrases["srv-ok"] = api.PhraseDTO{
		ID: "srv-ok", PhraseText: "Hello",
		CreatedAt: api.Timestamp{Time: time.Now()},
		UpdatedAt: api.Timestamp{Time: time.Now()},
	}
	if err := s.AppendLog(ctx, model.NewUsageLog(model.EventAppOpened, "sess-1")); err != nil {
		t.Fatalf("AppendLog() failed: %v", err)
	}

	report, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	// The bad record is skipped, not allowed to fail the pass: the good
	// record still materializes and the log stage still runs.
	if report.PhrasesDownloaded != 1 {
		t.Errorf("PhrasesDownloaded = %d, want 1", report.PhrasesDownloaded)
	}
	if report.LogsUploaded != 1 {
		t.Errorf("LogsUploaded = %d, want 1", report.LogsUploaded)
	}
	if _, err := s.GetPhraseByServerID(ctx, "srv-bad"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("invalid remote phrase was materialized locally")
	}
	if _, err := s.GetPhraseByServerID(ctx, "srv-ok"); err != nil {
		t.Errorf("valid remote phrase missing: %v", err)
	}

	// The same server row must not wedge the next pass either.
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
}

func TestSync_NotAuthenticatedShortCircuitsPhraseUploads(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	for _, text := range []string{"one", "two", "three"} {
		if err := s.InsertPhrase(ctx, model.NewPhrase(text, "")); err != nil {
			t.Fatalf("InsertPhrase() failed: %v", err)
		}
	}
	gw.createErr = api.ErrNotAuthenticated

	_, err := e.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	if gw.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1 (missing credential learned once)", gw.createCalls)
	}
	if gw.listCalls != 0 {
		t.Errorf("listCalls = %d, want 0 (phrase stage short-circuited)", gw.listCalls)
	}

	pending, err := s.ListPhrases(ctx, store.PhraseFilter{SyncState: model.StatePendingUpload})
	if err != nil {
		t.Fatalf("ListPhrases() failed: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("pending uploads = %d, want 3", len(pending))
	}
}

func TestSync_NotAuthenticatedKeepsDeleteIntent(t *testing.T) {
	e, s, gw := setupEngine(t)
	ctx := context.Background()
	settleSettings(t, s)

	p := model.NewPhrase("Goodbye", "")
	if err := s.InsertPhrase(ctx, p); err != nil {
		t.Fatalf("InsertPhrase() failed: %v", err)
	}
	if err := s.MarkPhraseSynced(ctx, p.ID, "srv-1"); err != nil {
		t.Fatalf("MarkPhraseSynced() failed: %v", err)
	}
	if err := s.DeletePhrase(ctx, p.ID); err != nil {
		t.Fatalf("DeletePhrase() failed: %v", err)
	}
	gw.deleteErr = api.ErrNotAuthenticated

	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	got, err := s.GetPhrase(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPhrase() failed: %v", err)
	}
	if got.SyncState != model.StatePendingDelete {
		t.Errorf("SyncState = %q, want %q (delete intent must survive a missing credential)",
			got.SyncState, model.StatePendingDelete)
	}
}
