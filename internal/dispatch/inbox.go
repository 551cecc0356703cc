package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// inboxSettle is how long a new inbox file must be quiet before it is read,
// so a writer's create+write sequence is seen as one instruction.
const inboxSettle = 100 * time.Millisecond

// inboxFile is the JSON shape of a dropped instruction file.
type inboxFile struct {
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload,omitempty"`
	Sender  string            `json:"sender,omitempty"`
}

// Inbox watches a directory for instruction files. Push-notification relays
// and background-refresh hooks deliver instructions by writing a JSON file
// into the inbox; each file is processed once and then removed, whether or
// not it was well-formed.
type Inbox struct {
	dir        string
	dispatcher *Dispatcher
	logger     *log.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	pending map[string]*time.Timer
}

// NewInbox creates an inbox over dir, creating the directory if needed.
func NewInbox(dir string, d *Dispatcher, logger *log.Logger) (*Inbox, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Inbox{
		dir:        dir,
		dispatcher: d,
		logger:     logger,
		watcher:    watcher,
		done:       make(chan struct{}),
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. Instruction files already sitting in the inbox are
// processed first so nothing delivered while the daemon was down is lost.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return fmt.Errorf("inbox already running")
	}
	in.running = true
	in.mu.Unlock()

	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory %s: %w", in.dir, err)
	}

	in.drainBacklog(ctx)

	in.wg.Add(1)
	go in.processEvents(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (in *Inbox) Stop() error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return nil
	}
	in.running = false
	for path, timer := range in.pending {
		timer.Stop()
		delete(in.pending, path)
	}
	in.mu.Unlock()

	close(in.done)
	if err := in.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	in.wg.Wait()
	return nil
}

func (in *Inbox) drainBacklog(ctx context.Context) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Printf("WARNING: failed to read inbox backlog: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		in.processFile(ctx, filepath.Join(in.dir, entry.Name()))
	}
}

func (in *Inbox) processEvents(ctx context.Context) {
	defer in.wg.Done()

	for {
		select {
		case <-in.done:
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				in.schedule(ctx, event.Name)
			}

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.logger.Printf("WARNING: inbox watch error: %v", err)
		}
	}
}

// schedule arms (or re-arms) the settle timer for one file.
func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running {
		return
	}

	if timer, ok := in.pending[path]; ok {
		timer.Stop()
	}
	in.pending[path] = time.AfterFunc(inboxSettle, func() {
		in.mu.Lock()
		delete(in.pending, path)
		running := in.running
		in.mu.Unlock()
		if running {
			in.processFile(ctx, path)
		}
	})
}

// processFile reads, handles, and removes one instruction file. The file is
// removed even when malformed; a payload that failed to decode once will
// never decode.
func (in *Inbox) processFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			in.logger.Printf("WARNING: failed to read instruction file %s: %v", path, err)
		}
		return
	}

	var file inboxFile
	if err := json.Unmarshal(data, &file); err != nil {
		in.logger.Printf("Discarding unparseable instruction file %s: %v", filepath.Base(path), err)
	} else if err := in.dispatcher.Handle(ctx, file.Type, file.Payload, file.Sender); err != nil {
		in.logger.Printf("WARNING: instruction file %s failed: %v", filepath.Base(path), err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		in.logger.Printf("WARNING: failed to remove instruction file %s: %v", path, err)
	}
}
