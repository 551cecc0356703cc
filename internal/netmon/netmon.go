// Package netmon observes connectivity to the sync backend.
//
// A probe loop samples reachability on an interval and publishes transitions
// to subscribers. Each subscriber observes every transition exactly once.
// WaitForConnection parks a caller until connectivity arrives or its timeout
// fires; a wait never leaks.
package netmon

import (
	"context"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// Transport is the coarse transport-class tag for the current link.
type Transport string

const (
	TransportWifi     Transport = "wifi"
	TransportCellular Transport = "cellular"
	TransportWired    Transport = "wired"
	TransportNone     Transport = "none"
	TransportUnknown  Transport = "unknown"
)

// Status is a connectivity snapshot.
type Status struct {
	Connected bool
	Transport Transport
}

// Prober samples current reachability. Implementations must be safe for
// repeated calls and should bound their own I/O.
type Prober interface {
	Probe(ctx context.Context) Status
}

// DialProber checks reachability by dialing a TCP endpoint, normally the
// sync backend's host. The transport class is reported as unknown because a
// plain dial cannot see the link type.
type DialProber struct {
	Addr    string
	Timeout time.Duration
}

// Probe implements Prober.
func (p *DialProber) Probe(ctx context.Context) Status {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return Status{Connected: false, Transport: TransportNone}
	}
	_ = conn.Close()
	return Status{Connected: true, Transport: TransportUnknown}
}

// Config holds monitor configuration.
type Config struct {
	// Interval is how often to sample reachability.
	Interval time.Duration
	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 10 * time.Second,
		Logger:   log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// Monitor tracks connectivity and fans out transitions.
type Monitor struct {
	prober Prober
	config *Config

	mu      sync.Mutex
	status  Status
	waiters []chan struct{}
	subs    map[int]chan Status
	nextID  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. The initial status is disconnected until the first
// probe completes (or SetStatus is called, which tests use directly).
func New(prober Prober, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		prober: prober,
		config: config,
		status: Status{Connected: false, Transport: TransportUnknown},
		subs:   make(map[int]chan Status),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the probe loop. Returns immediately.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.probeLoop()
}

// Stop shuts the monitor down and waits for the probe loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	// Sample once up front so Status is meaningful immediately.
	m.SetStatus(m.prober.Probe(m.ctx))

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.SetStatus(m.prober.Probe(m.ctx))
		}
	}
}

// Status returns the current connectivity snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether the backend is currently reachable.
func (m *Monitor) Connected() bool {
	return m.Status().Connected
}

// SetStatus records a new connectivity sample. Only an actual transition of
// the Connected flag or transport class is broadcast.
func (m *Monitor) SetStatus(st Status) {
	m.mu.Lock()

	if st == m.status {
		m.mu.Unlock()
		return
	}

	wasConnected := m.status.Connected
	m.status = st

	var woken []chan struct{}
	if st.Connected && !wasConnected {
		woken = m.waiters
		m.waiters = nil
	}

	subs := make([]chan Status, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	if st.Connected != wasConnected {
		m.config.Logger.Printf("Connectivity changed: connected=%v transport=%s", st.Connected, st.Transport)
	}

	for _, w := range woken {
		close(w)
	}

	// Non-blocking: a stalled subscriber loses the transition rather than
	// wedging the probe loop.
	for _, ch := range subs {
		select {
		case ch <- st:
		default:
			m.config.Logger.Printf("WARNING: subscriber buffer full, dropping transition")
		}
	}
}

// Subscribe registers a transition observer. The returned cancel func must
// be called to release the subscription; the channel is closed afterwards.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 16)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
		m.mu.Unlock()
	}

	return ch, cancel
}

// WaitForConnection parks the caller until connectivity becomes true or the
// timeout elapses. Returns true if connected, false on timeout or context
// cancellation. The pending wait is always released.
func (m *Monitor) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	m.mu.Lock()
	if m.status.Connected {
		m.mu.Unlock()
		return true
	}

	w := make(chan struct{})
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w:
		return true
	case <-timer.C:
	case <-ctx.Done():
	case <-m.ctx.Done():
	}

	// Timed out or cancelled: drop the waiter so it cannot leak.
	m.mu.Lock()
	for i, other := range m.waiters {
		if other == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return false
}
