// Package relay bridges the peer device's environment-context broadcasts
// into the local instruction pipeline.
//
// Each device runs a small WebSocket endpoint; the companion dials it when
// in range. Incoming peer messages mutate the local board through the same
// dispatcher path as server instructions, so the UI treats peer-pushed
// context identically to server-pushed instructions. Outgoing messages try
// immediate delivery first and fall back to a store-and-forward outbox that
// drains when the peer reconnects.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sayboard/sayboard/internal/events"
	"github.com/sayboard/sayboard/internal/model"
	"github.com/sayboard/sayboard/internal/store"
)

// ErrNoPeer is returned by Send when no peer is connected and the message
// was queued for later delivery instead.
var ErrNoPeer = errors.New("no peer connected")

const writeTimeout = 5 * time.Second

// PhraseApplier applies a peer-pushed phrase list to the local board.
// *dispatch.Dispatcher satisfies it via ReplacePhrases.
type PhraseApplier interface {
	ReplacePhrases(ctx context.Context, phrases []string, category string) error
}

// Config holds relay configuration.
type Config struct {
	// Addr to listen on, e.g. ":9460". Empty picks an ephemeral port.
	Addr string
	// DeviceID identifies this device in the Sender field of outgoing
	// messages.
	DeviceID string
	// SessionID tags telemetry echoes recorded from the peer.
	SessionID string
	// Logger for relay activity.
	Logger *log.Logger
}

// Relay is the peer-to-peer context bridge.
type Relay struct {
	store   *store.Store
	applier PhraseApplier
	bus     *events.Bus
	logger  *log.Logger

	deviceID  string
	sessionID string

	addr     string
	listener net.Listener
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	currentMu sync.RWMutex
	current   *model.ReceivedContext

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a relay. The store backs the outbox; applier mutates the
// board; bus may be nil to disable event publication.
func New(st *store.Store, applier PhraseApplier, bus *events.Bus, config Config) *Relay {
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[relay] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		store:     st,
		applier:   applier,
		bus:       bus,
		logger:    logger,
		deviceID:  config.DeviceID,
		sessionID: config.SessionID,
		addr:      config.Addr,
		clients:   make(map[*websocket.Conn]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins listening for peer connections.
func (r *Relay) Start() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.addr, err)
	}
	r.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/peer", r.handleWebSocket)

	r.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Printf("Peer relay listening on %s", ln.Addr())
		if err := r.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.logger.Printf("Relay server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the relay down and closes all peer connections.
func (r *Relay) Stop() error {
	r.cancel()

	r.clientsMu.Lock()
	for conn := range r.clients {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(r.clients, conn)
	}
	r.clientsMu.Unlock()

	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("relay shutdown error: %w", err)
		}
	}

	r.wg.Wait()
	return nil
}

// Addr returns the listening address.
func (r *Relay) Addr() string {
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.addr
}

// PeerCount returns the number of connected peers.
func (r *Relay) PeerCount() int {
	r.clientsMu.RLock()
	defer r.clientsMu.RUnlock()
	return len(r.clients)
}

// Current returns the most recent peer context, nil if none was received.
// Each receipt supersedes the previous; no history is kept.
func (r *Relay) Current() *model.ReceivedContext {
	r.currentMu.RLock()
	defer r.currentMu.RUnlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

// Dial connects to a peer's relay endpoint and drains any queued outbox
// messages to it.
func (r *Relay) Dial(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial peer %s: %w", url, err)
	}

	r.addPeer(conn)
	r.drainOutbox(ctx, conn)
	return nil
}

// Send attempts immediate delivery to every connected peer, falling back to
// the store-and-forward outbox when none is reachable. A queued message
// returns ErrNoPeer so callers can tell the two tiers apart.
func (r *Relay) Send(ctx context.Context, msg Message) error {
	if msg.Sender == "" {
		msg.Sender = r.deviceID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode peer message: %w", err)
	}

	if r.broadcast(data) {
		return nil
	}

	if err := r.store.EnqueuePeerMessage(ctx, data); err != nil {
		return fmt.Errorf("failed to queue peer message: %w", err)
	}
	r.logger.Printf("No peer reachable, queued %s message", msg.Type)
	return ErrNoPeer
}

// broadcast writes data to all connected peers, reporting whether at least
// one delivery succeeded.
func (r *Relay) broadcast(data []byte) bool {
	r.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(r.clients))
	for conn := range r.clients {
		conns = append(conns, conn)
	}
	r.clientsMu.RUnlock()

	delivered := false
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			r.logger.Printf("Failed to send to peer: %v", err)
			r.removePeer(conn)
			continue
		}
		delivered = true
	}
	return delivered
}

func (r *Relay) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		r.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	r.addPeer(conn)
	r.drainOutbox(req.Context(), conn)
}

func (r *Relay) addPeer(conn *websocket.Conn) {
	r.clientsMu.Lock()
	r.clients[conn] = true
	count := len(r.clients)
	r.clientsMu.Unlock()

	r.logger.Printf("Peer connected (total: %d)", count)

	r.wg.Add(1)
	go r.readLoop(conn)
}

func (r *Relay) removePeer(conn *websocket.Conn) {
	r.clientsMu.Lock()
	if _, ok := r.clients[conn]; !ok {
		r.clientsMu.Unlock()
		return
	}
	delete(r.clients, conn)
	count := len(r.clients)
	r.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	r.logger.Printf("Peer disconnected (total: %d)", count)
}

// drainOutbox delivers queued messages in order to a freshly-connected
// peer. Delivery stops at the first failure; remaining messages stay queued.
func (r *Relay) drainOutbox(ctx context.Context, conn *websocket.Conn) {
	queued, err := r.store.ListPeerOutbox(ctx)
	if err != nil {
		r.logger.Printf("WARNING: failed to read peer outbox: %v", err)
		return
	}

	for _, msg := range queued {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, msg.Payload)
		cancel()
		if err != nil {
			r.logger.Printf("WARNING: outbox drain interrupted: %v", err)
			return
		}
		if err := r.store.DequeuePeerMessage(ctx, msg.ID); err != nil {
			r.logger.Printf("WARNING: failed to dequeue peer message %d: %v", msg.ID, err)
			return
		}
	}
	if len(queued) > 0 {
		r.logger.Printf("Delivered %d queued peer messages", len(queued))
	}
}

func (r *Relay) readLoop(conn *websocket.Conn) {
	defer r.wg.Done()
	defer r.removePeer(conn)

	for {
		_, data, err := conn.Read(r.ctx)
		if err != nil {
			return
		}
		r.handleRaw(r.ctx, data)
	}
}

// handleRaw decodes and applies one incoming peer message. Unparseable or
// unrecognized messages are logged and dropped, mirroring the dispatcher's
// best-effort boundary.
func (r *Relay) handleRaw(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Printf("Discarding unparseable peer message: %v", err)
		return
	}

	switch msg.Type {
	case MessageContextUpdate:
		r.handleContextUpdate(ctx, msg)
	case MessageCustomPhrases:
		r.handleCustomPhrases(ctx, msg)
	case MessageRequestContext:
		r.handleRequestContext()
	case MessagePhraseSpoken:
		r.handlePhraseSpoken(ctx, msg)
	default:
		r.logger.Printf("Discarding peer message with unrecognized type %q", msg.Type)
	}
}

func (r *Relay) handleContextUpdate(ctx context.Context, msg Message) {
	received := &model.ReceivedContext{
		Type:       contextType(msg.Environment),
		Confidence: msg.Confidence,
		Source:     msg.Sender,
		PlaceName:  msg.PlaceName,
		SceneText:  msg.SceneText,
		ReceivedAt: time.Now().UTC(),
	}
	if received.Source == "" {
		received.Source = "peer"
	}
	if err := received.Validate(); err != nil {
		r.logger.Printf("Discarding invalid peer context: %v", err)
		return
	}

	r.currentMu.Lock()
	r.current = received
	r.currentMu.Unlock()

	if len(msg.Phrases) > 0 && r.applier != nil {
		if err := r.applier.ReplacePhrases(ctx, msg.Phrases, msg.Environment); err != nil {
			r.logger.Printf("WARNING: failed to apply peer context phrases: %v", err)
		}
	}

	r.logger.Printf("Context update: %s (%.0f%%)", received.Type, received.Confidence*100)
	if r.bus != nil {
		r.bus.Publish(events.Event{Type: events.TypeContextReceived, Data: *received})
	}
}

func (r *Relay) handleCustomPhrases(ctx context.Context, msg Message) {
	if len(msg.Phrases) == 0 {
		r.logger.Println("Discarding custom_phrases message without phrases")
		return
	}
	if r.applier == nil {
		return
	}
	if err := r.applier.ReplacePhrases(ctx, msg.Phrases, msg.Scenario); err != nil {
		r.logger.Printf("WARNING: failed to apply peer phrases: %v", err)
	}
}

// handleRequestContext re-broadcasts the current context. Reply is
// immediate-tier only; a peer that asked and then vanished can ask again.
func (r *Relay) handleRequestContext() {
	current := r.Current()
	if current == nil {
		return
	}

	data, err := json.Marshal(Message{
		Type:        MessageContextUpdate,
		Sender:      r.deviceID,
		Timestamp:   time.Now().UTC(),
		Environment: string(current.Type),
		Confidence:  current.Confidence,
		PlaceName:   current.PlaceName,
		SceneText:   current.SceneText,
	})
	if err != nil {
		r.logger.Printf("WARNING: failed to encode context reply: %v", err)
		return
	}
	r.broadcast(data)
}

func (r *Relay) handlePhraseSpoken(ctx context.Context, msg Message) {
	if msg.Text == "" {
		return
	}
	audit := model.NewUsageLog(model.EventPhraseSpoken, r.sessionID)
	audit.PhraseText = msg.Text
	audit.Payload = "peer"
	if err := r.store.AppendLog(ctx, audit); err != nil {
		r.logger.Printf("WARNING: failed to record peer telemetry: %v", err)
	}
}

// contextType maps a peer environment string onto the known classification
// set, defaulting to unknown.
func contextType(environment string) model.ContextType {
	switch t := model.ContextType(environment); t {
	case model.ContextRestaurant, model.ContextMedical, model.ContextTransit,
		model.ContextShopping, model.ContextHome:
		return t
	default:
		return model.ContextUnknown
	}
}
