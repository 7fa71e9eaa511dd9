// Package player implements the request/response and event channel to
// the external media player described in §4.4: a JSON-over-local-socket
// IPC client with a pending-request map (§9's "Request/response over a
// stream" design note), property observation, and a playback-state
// cache kept current from unsolicited property-change events.
package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/everpcpc/syncplay-go/internal/protocol"
)

// command is one outbound request: {"command": [...], "request_id": N}.
type command struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id"`
}

// response is one inbound reply: {"request_id": N, "error": "...", "data": ...}.
type response struct {
	RequestID int             `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// wireEvent is one inbound unsolicited event.
type wireEvent struct {
	Event string          `json:"event"`
	Name  string          `json:"name"`  // property-change: observed property name
	ID    int              `json:"id"`   // property-change: observer id
	Data  json.RawMessage `json:"data"` // property-change: new value
	Reason string          `json:"reason"` // end-file: eof|stop|quit|error|redirect|unknown
}

// EventKind enumerates the player events of interest from §4.4.
type EventKind string

const (
	EventEndFile         EventKind = "end-file"
	EventFileLoaded      EventKind = "file-loaded"
	EventSeek            EventKind = "seek"
	EventPlaybackRestart EventKind = "playback-restart"
)

// Event is an adapter-level event surfaced to the coordinator.
type Event struct {
	Kind   EventKind
	Reason string // populated for EventEndFile
}

const reconnectWindow = 2 * time.Second

// Adapter is a connected player IPC session. Zero value is not usable;
// use Connect.
type Adapter struct {
	path string

	mu      sync.Mutex
	conn    net.Conn
	w       *bufio.Writer
	closed  bool

	nextID atomic.Int64

	pendingMu sync.Mutex
	pending   map[int]chan response

	cache *Cache

	events  chan Event
	errCh   chan error
	errOnce sync.Once

	// onReconnect, when non-nil, is called after a successful single
	// reconnect attempt (§4.4). Used by the coordinator to count
	// reconnects for its metrics.
	onReconnect func()

	wg sync.WaitGroup
}

// Dialer abstracts the local-socket connection so tests can substitute a
// net.Pipe or similar; on POSIX this is a UNIX domain socket, matching
// §6 ("Player IPC: UNIX domain socket (POSIX) or named pipe (Windows)").
type Dialer func(ctx context.Context, path string) (net.Conn, error)

// DialUnix connects to a UNIX domain socket at path.
func DialUnix(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

// Connect dials the player's IPC endpoint and starts the reader loop.
// onReconnect, if non-nil, is called each time the adapter transparently
// re-establishes the socket after an I/O error (§4.4).
func Connect(ctx context.Context, path string, dial Dialer, onReconnect func()) (*Adapter, error) {
	if dial == nil {
		dial = DialUnix
	}
	conn, err := dial(ctx, path)
	if err != nil {
		return nil, &protocol.PlayerDisconnectedError{Err: err}
	}
	a := &Adapter{
		path:        path,
		conn:        conn,
		w:           bufio.NewWriter(conn),
		pending:     make(map[int]chan response),
		cache:       NewCache(),
		events:      make(chan Event, 64),
		errCh:       make(chan error, 1),
		onReconnect: onReconnect,
	}
	a.wg.Add(1)
	go a.readLoop(dial)
	return a, nil
}

// Cache exposes the live playback-state cache.
func (a *Adapter) Cache() *Cache { return a.cache }

// Events returns the channel of player events (§4.4).
func (a *Adapter) Events() <-chan Event { return a.events }

// Err returns a channel that receives at most one terminal error. Close
// closes it without sending an error.
func (a *Adapter) Err() <-chan error { return a.errCh }

func (a *Adapter) fail(err error) {
	a.errOnce.Do(func() {
		a.errCh <- err
		close(a.errCh)
	})
}

// Close disconnects cleanly, failing every outstanding request with
// PlayerDisconnectedError (§4.4).
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	a.mu.Unlock()

	err := conn.Close()
	a.wg.Wait()
	a.failAllPending(&protocol.PlayerDisconnectedError{})
	a.errOnce.Do(func() { close(a.errCh) })
	return err
}

func (a *Adapter) failAllPending(err error) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	for id, ch := range a.pending {
		close(ch)
		delete(a.pending, id)
	}
	_ = err
}

// send writes a command frame without waiting for a response
// ("fire-and-forget" semantics for observe/loadfile/seek/showText).
func (a *Adapter) send(cmd command) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return &protocol.PlayerDisconnectedError{}
	}
	conn := a.conn
	a.mu.Unlock()

	// The write happens outside a.mu so that Close can still close conn
	// (and so unblock this write) while the player is not reading.
	// net.Conn serializes concurrent Write calls, so lines never interleave.
	if _, err := conn.Write(b); err != nil {
		return &protocol.PlayerDisconnectedError{Err: err}
	}
	return nil
}

// request sends a command and waits for its matching response, with a
// timeout (§4.4 default 5s, overridable via ctx deadline).
func (a *Adapter) request(ctx context.Context, cmdArgs []any) (response, error) {
	id := int(a.nextID.Add(1))
	ch := make(chan response, 1)

	a.pendingMu.Lock()
	a.pending[id] = ch
	a.pendingMu.Unlock()

	cleanup := func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}

	if err := a.send(command{Command: cmdArgs, RequestID: id}); err != nil {
		cleanup()
		return response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return response{}, &protocol.PlayerDisconnectedError{}
		}
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return response{}, &protocol.PlayerTimeoutError{Op: fmt.Sprint(cmdArgs)}
	}
}

// GetProperty performs a synchronous-style request/response read of a
// player property (§4.4), defaulting to a 5s timeout if ctx carries none.
func (a *Adapter) GetProperty(ctx context.Context, name string) (json.RawMessage, error) {
	ctx, cancel := withDefaultTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := a.request(ctx, []any{"get_property", name})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" && resp.Error != "success" {
		return nil, &protocol.ProtocolError{Reason: "get_property " + name + ": " + resp.Error}
	}
	return resp.Data, nil
}

// SetProperty sends set_property and waits for the player's response
// (5s default timeout if ctx carries none), returning an error if the
// player reports one.
func (a *Adapter) SetProperty(ctx context.Context, name string, value any) error {
	ctx, cancel := withDefaultTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := a.request(ctx, []any{"set_property", name, value})
	if err != nil {
		return err
	}
	if resp.Error != "" && resp.Error != "success" {
		return &protocol.ProtocolError{Reason: "set_property " + name + ": " + resp.Error}
	}
	return nil
}

// ObserveProperty registers interest in property-change events for name,
// tagged with the given observer id.
func (a *Adapter) ObserveProperty(id int, name string) error {
	return a.send(command{Command: []any{"observe_property", id, name}})
}

// UnobserveProperty cancels a prior ObserveProperty.
func (a *Adapter) UnobserveProperty(id int) error {
	return a.send(command{Command: []any{"unobserve_property", id}})
}

// LoadFile loads a file by OS path; the filename portion is the identity
// used by the protocol (§4.4).
func (a *Adapter) LoadFile(path string) error {
	return a.send(command{Command: []any{"loadfile", path}})
}

// Seek positions playback. mode defaults to "absolute".
func (a *Adapter) Seek(seconds float64, mode string) error {
	if mode == "" {
		mode = "absolute"
	}
	return a.send(command{Command: []any{"seek", seconds, mode}})
}

// ShowText requests an on-screen overlay; fire-and-forget, ignored if the
// player rejects it.
func (a *Adapter) ShowText(message string, durationMs int) error {
	return a.send(command{Command: []any{"show-text", message, durationMs}})
}

// SetPaused sets pause state via setProperty("pause", ...).
func (a *Adapter) SetPaused(ctx context.Context, paused bool) error {
	return a.SetProperty(ctx, "pause", paused)
}

func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// readLoop drains IPC messages, dispatching responses to pending
// requesters and events to a.events, updating the cache for observed
// properties. On I/O error it attempts a single reconnect within
// reconnectWindow (§4.4); if that also fails it surfaces
// PlayerDisconnected.
func (a *Adapter) readLoop(dial Dialer) {
	defer a.wg.Done()
	for {
		err := a.drain()
		a.mu.Lock()
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return
		}
		if err == nil {
			return
		}
		if reconnErr := a.reconnectOnce(dial); reconnErr != nil {
			a.failAllPending(&protocol.PlayerDisconnectedError{Err: err})
			a.fail(&protocol.PlayerDisconnectedError{Err: err})
			return
		}
	}
}

func (a *Adapter) reconnectOnce(dial Dialer) error {
	ctx, cancel := context.WithTimeout(context.Background(), reconnectWindow)
	defer cancel()
	conn, err := dial(ctx, a.path)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.conn = conn
	a.w = bufio.NewWriter(conn)
	a.mu.Unlock()
	slog.Warn("player ipc reconnected", "path", a.path)
	if a.onReconnect != nil {
		a.onReconnect()
	}
	return nil
}

func (a *Adapter) drain() error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		a.dispatch(line)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("player IPC stream closed")
}

func (a *Adapter) dispatch(line []byte) {
	var probe struct {
		RequestID *int   `json:"request_id"`
		Event     string `json:"event"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return
	}
	if probe.RequestID != nil {
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return
		}
		a.pendingMu.Lock()
		ch, ok := a.pending[resp.RequestID]
		if ok {
			delete(a.pending, resp.RequestID)
		}
		a.pendingMu.Unlock()
		if ok {
			ch <- resp
			close(ch)
		}
		return
	}
	if probe.Event == "" {
		return
	}
	var ev wireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return
	}
	a.handleEvent(ev)
}

func (a *Adapter) handleEvent(ev wireEvent) {
	switch EventKind(ev.Event) {
	case "property-change":
		a.applyPropertyChange(ev.Name, ev.Data)
	case EventEndFile:
		a.emit(Event{Kind: EventEndFile, Reason: normalizeReason(ev.Reason)})
	case EventFileLoaded:
		a.emit(Event{Kind: EventFileLoaded})
	case EventSeek:
		a.emit(Event{Kind: EventSeek})
	case EventPlaybackRestart:
		a.emit(Event{Kind: EventPlaybackRestart})
	}
}

func normalizeReason(r string) string {
	switch r {
	case "eof", "stop", "quit", "error", "redirect":
		return r
	default:
		return "unknown"
	}
}

func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		// Event queue full: drop rather than block the reader loop. The
		// playback-state cache (updated separately, below) stays correct
		// even if a transient event notification is lost.
	}
}

// applyPropertyChange updates the Cache for the observed properties
// named in §4.4: time-pos, pause, filename, duration, path, speed.
func (a *Adapter) applyPropertyChange(name string, data json.RawMessage) {
	switch name {
	case "time-pos":
		var v float64
		if json.Unmarshal(data, &v) == nil {
			a.cache.setPosition(v)
		}
	case "pause":
		var v bool
		if json.Unmarshal(data, &v) == nil {
			a.cache.setPaused(v)
		}
	case "filename", "path":
		var v string
		if json.Unmarshal(data, &v) == nil {
			a.cache.setFilename(v)
		}
	case "duration":
		var v float64
		if json.Unmarshal(data, &v) == nil {
			a.cache.setDuration(v)
		}
	case "speed":
		var v float64
		if json.Unmarshal(data, &v) == nil {
			a.cache.setSpeed(v)
		}
	}
}
