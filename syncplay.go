// Package syncplay is the programmatic facade over the core: a
// coordinator that owns the protocol transport, the player adapter, the
// room/user model, and the sync engine, and exposes connect/disconnect
// plus observable streams the way an embedding application would drive
// it headlessly (§6).
package syncplay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/everpcpc/syncplay-go/internal/config"
	"github.com/everpcpc/syncplay-go/internal/engine"
	"github.com/everpcpc/syncplay-go/internal/metrics"
	"github.com/everpcpc/syncplay-go/internal/player"
	"github.com/everpcpc/syncplay-go/internal/protocol"
	"github.com/everpcpc/syncplay-go/internal/room"
	"github.com/everpcpc/syncplay-go/internal/transport"
)

// ConnState enumerates the protocol endpoint's state machine (§4.5).
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateTLSProbing
	StateHelloPending
	StateActive
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateTLSProbing:
		return "tls-probing"
	case StateHelloPending:
		return "hello-pending"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// PlaybackState is one observable snapshot of the global playback
// reference (§3), handed out to observers.
type PlaybackState struct {
	Position float64
	Paused   bool
	SetBy    string
}

// ChatMessage is one observable chat event.
type ChatMessage struct {
	Username string
	Message  string
}

// ConnectOptions bundles the parameters of Client.Connect (§6).
type ConnectOptions struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Room     string
	Password string
}

// Client is the coordinator described in §4.6: it owns the transport,
// the protocol endpoint state, the player adapter, the room model, and
// the sync engine, and is the sole writer of all of their shared state.
// The zero value is not usable; use New.
type Client struct {
	cfg     config.Config
	id      uuid.UUID
	metrics *metrics.Metrics

	mu    sync.RWMutex
	state ConnState
	conn  *transport.Conn
	eng   *engine.Engine
	model *room.Model

	adapter   *player.Adapter
	adapterMu sync.Mutex

	chatLimiter *rate.Limiter

	sessionCancel context.CancelFunc
	wg            sync.WaitGroup

	statusCh   chan ConnState
	tlsCh      chan transport.Status
	chatCh     chan ChatMessage
	playbackCh chan PlaybackState
	rttCh      chan time.Duration

	// lastSendMonotonic and lastClientPingMarker track the client's own
	// outbound RTT probe (§4.5): the marker is stamped on every outbound
	// State.Ping.ClientLatencyCalculation, and RTT is computed when the
	// server echoes that same marker back.
	lastSendMonotonic    time.Time
	lastClientPingMarker float64

	// pendingServerLatencyCalc/haveServerLatencyCalc hold the most recent
	// server-stamped LatencyCalculation marker, to be echoed back verbatim
	// on the next outbound State so the server can compute its own RTT.
	pendingServerLatencyCalc float64
	haveServerLatencyCalc    bool

	// refArrivalTime and latencyEstimate feed engine.ProjectReference's
	// age-compensation term (§4.3): the monotonic time the last reference
	// State arrived, and half the most recent measured RTT.
	refArrivalTime  time.Time
	latencyEstimate float64
}

// New returns a Client configured with cfg (zero value means defaults).
// Its Prometheus collectors are not registered; see Metrics.
func New(cfg config.Config) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		cfg:         cfg,
		id:          uuid.New(),
		metrics:     metrics.New("syncplay"),
		state:       StateDisconnected,
		eng:         engine.New(engine.Thresholds{SeekFastForward: cfg.SeekFastForward, SeekRewind: cfg.SeekRewind, SlowdownEntry: cfg.SlowdownEntry, SlowdownExit: cfg.SlowdownExit, SlowdownRate: cfg.SlowdownRate}),
		chatLimiter: rate.NewLimiter(rate.Limit(cfg.ChatRateLimit), 1),
		statusCh:    make(chan ConnState, 8),
		tlsCh:       make(chan transport.Status, 8),
		chatCh:      make(chan ChatMessage, 64),
		playbackCh:  make(chan PlaybackState, 64),
		rttCh:       make(chan time.Duration, 8),
	}
}

// Metrics exposes the client's Prometheus collectors for external
// registration.
func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// StatusStream, TLSStatusStream, ChatStream, PlaybackStream, and
// RTTStream are the observable streams from §6. Each delivers
// best-effort notifications: when a stream's buffer is full the new value
// is dropped, so a slow consumer can miss values, the latest included.
func (c *Client) StatusStream() <-chan ConnState          { return c.statusCh }
func (c *Client) TLSStatusStream() <-chan transport.Status { return c.tlsCh }
func (c *Client) ChatStream() <-chan ChatMessage           { return c.chatCh }
func (c *Client) PlaybackStream() <-chan PlaybackState     { return c.playbackCh }
func (c *Client) RTTStream() <-chan time.Duration          { return c.rttCh }

// Users returns a snapshot of every user in the local room.
func (c *Client) Users() []room.User {
	c.mu.RLock()
	m := c.model
	c.mu.RUnlock()
	if m == nil {
		return nil
	}
	return m.RoomUsers(m.LocalRoom())
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.publishStatus(s)
}

func (c *Client) publishStatus(s ConnState) {
	select {
	case c.statusCh <- s:
	default:
	}
}

func (c *Client) publishTLS(s transport.Status) {
	select {
	case c.tlsCh <- s:
	default:
	}
}

func (c *Client) publishChat(m ChatMessage) {
	select {
	case c.chatCh <- m:
	default:
	}
}

func (c *Client) publishPlayback(p PlaybackState) {
	select {
	case c.playbackCh <- p:
	default:
	}
}

func (c *Client) publishRTT(d time.Duration) {
	select {
	case c.rttCh <- d:
	default:
	}
}

// State returns the endpoint's current protocol state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// AttachPlayer connects the adapter to the external player's local IPC
// socket described in §4.4. Must be called before Connect for the
// coordinator to emit state ticks and apply engine actions; calling it
// after Connect is also safe, it just means the coordinator has no
// player to drive until the attach completes.
func (c *Client) AttachPlayer(ctx context.Context, socketPath string, dial player.Dialer) error {
	a, err := player.Connect(ctx, socketPath, dial, c.metrics.IncReconnect)
	if err != nil {
		return err
	}
	c.adapterMu.Lock()
	c.adapter = a
	c.adapterMu.Unlock()

	for id, name := range map[int]string{1: "time-pos", 2: "pause", 3: "filename", 4: "duration", 5: "speed"} {
		if err := a.ObserveProperty(id, name); err != nil {
			slog.Warn("syncplay: observe property failed", "property", name, "err", err)
		}
	}

	c.wg.Add(1)
	go c.playerEventLoop(a)
	return nil
}

// Connect dials the coordination server and drives the handshake
// (§4.5). On success the endpoint reaches Active and the coordinator's
// background tasks (heartbeat tick, inbound dispatch) start; on failure
// the endpoint reaches Failed and an error is returned.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	c.mu.Lock()
	localUser := opts.Username
	c.model = room.New(localUser)
	c.mu.Unlock()

	c.setState(StateTLSProbing)

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := transport.Dial(ctx, addr, transport.Options{
		RequestTLS:    opts.TLS,
		TLSHandshake:  c.cfg.TLSHandshakeTimeout,
		Connect:       c.cfg.ConnectTimeout,
		MaxFrameLen:   c.cfg.MaxFrameLen,
		InboundQueue:  c.cfg.InboundQueueCapacity,
		OutboundQueue: c.cfg.OutboundQueueCapacity,
		OnDrop:        func(kind string) { c.metrics.IncQueueDrop("outbound", kind) },
	})
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.publishTLS(conn.Status())
	c.recordTLSOutcome(conn.Status())

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(StateHelloPending)

	conn.Send(protocol.Frame{Hello: &protocol.Hello{
		Username: opts.Username,
		Room:     &protocol.RoomRef{Name: opts.Room},
		Version:  c.cfg.ClientVersion,
		Features: &protocol.Features{SharedPlaylists: true, Readiness: true, Chat: true},
		Password: opts.Password,
	}})

	sessionCtx, cancel := context.WithCancel(ctx)
	c.sessionCancel = cancel

	helloResult := make(chan error, 1)
	c.wg.Add(1)
	go c.dispatchLoop(sessionCtx, conn, opts.Username, opts.Room, helloResult)

	select {
	case err := <-helloResult:
		if err != nil {
			c.setState(StateFailed)
			return err
		}
	case <-ctx.Done():
		c.setState(StateFailed)
		return &protocol.CancelledError{Op: "connect"}
	}

	c.setState(StateActive)

	// A file-loaded event handled before the session was Active could not
	// be sent then; announce the player's current file now.
	c.adapterMu.Lock()
	a := c.adapter
	c.adapterMu.Unlock()
	if a != nil && a.Cache().Snapshot().Filename != "" {
		c.handlePlayerEvent(a, player.Event{Kind: player.EventFileLoaded})
	}

	c.wg.Add(1)
	go c.tickLoop(sessionCtx, conn)

	return nil
}

func (c *Client) recordTLSOutcome(s transport.Status) {
	switch s {
	case transport.StatusEnabled:
		c.metrics.IncTLSOutcome("enabled")
	case transport.StatusUnsupported:
		c.metrics.IncTLSOutcome("unsupported")
	}
}

// Disconnect aborts the current session cleanly (§4.6): cancels
// outstanding operations, closes the transport, and transitions to
// Disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.sessionCancel
	c.conn = nil
	c.sessionCancel = nil
	model := c.model
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if model != nil {
		model.RemoveAllExceptLocal()
	}

	c.adapterMu.Lock()
	adapter := c.adapter
	c.adapter = nil
	c.adapterMu.Unlock()
	if adapter != nil {
		adapter.Close()
	}

	c.wg.Wait()
	c.setState(StateDisconnected)
	return err
}

// SendChat emits a Chat message, rate-limited per SPEC_FULL §4.9.
// Dropped (not queued) when the limiter is exhausted, matching the
// "drop rather than buffer stale chat" policy used for outbound State.
func (c *Client) SendChat(text string) error {
	conn := c.activeConn()
	if conn == nil {
		return &protocol.ProtocolError{Reason: "not connected"}
	}
	if !c.chatLimiter.Allow() {
		return fmt.Errorf("syncplay: chat rate limit exceeded")
	}
	conn.Send(protocol.Frame{Chat: &protocol.Chat{Message: text}})
	return nil
}

// SetReady emits a readiness change (§4.5).
func (c *Client) SetReady(ready bool) error {
	conn := c.activeConn()
	if conn == nil {
		return &protocol.ProtocolError{Reason: "not connected"}
	}
	conn.Send(protocol.Frame{Set: &protocol.Set{Ready: &protocol.ReadyRef{IsReady: ready, ManuallyInitiated: true}}})
	return nil
}

// ChangeRoom emits a room change (§4.5/§6).
func (c *Client) ChangeRoom(name string) error {
	conn := c.activeConn()
	if conn == nil {
		return &protocol.ProtocolError{Reason: "not connected"}
	}
	conn.Send(protocol.Frame{Set: &protocol.Set{Room: &protocol.RoomRef{Name: name}}})
	return nil
}

// LoadMedia instructs the attached player to load path and, on success,
// the resulting file-loaded event is echoed to the server as a Set (§4.6).
func (c *Client) LoadMedia(path string) error {
	c.adapterMu.Lock()
	a := c.adapter
	c.adapterMu.Unlock()
	if a == nil {
		return &protocol.PlayerDisconnectedError{}
	}
	return a.LoadFile(path)
}

func (c *Client) activeConn() *transport.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateActive {
		return nil
	}
	return c.conn
}

// dispatchLoop drains inbound frames, applies them to the room model and
// playback state, and runs the Hello handshake as its first step.
func (c *Client) dispatchLoop(ctx context.Context, conn *transport.Conn, localUser, defaultRoom string, helloResult chan<- error) {
	defer c.wg.Done()

	helloDone := false
	for {
		select {
		case f, ok := <-conn.Inbound():
			if !ok {
				if !helloDone {
					helloResult <- &protocol.TransportError{}
				}
				return
			}
			if !helloDone {
				switch {
				case f.Hello != nil:
					helloDone = true
					roomName := defaultRoom
					if f.Hello.Room != nil && f.Hello.Room.Name != "" {
						roomName = f.Hello.Room.Name
					}
					c.model.ApplySet(room.SetDelta{User: localUser, Room: roomName})
					helloResult <- nil
				case f.Error != nil:
					helloDone = true
					helloResult <- &protocol.ServerError{Message: f.Error.Message}
					return
				default:
					continue
				}
				continue
			}
			c.applyInbound(f)
		case err := <-conn.Err():
			if !helloDone {
				helloResult <- err
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) applyInbound(f protocol.Frame) {
	switch {
	case f.List != nil:
		views := make(map[string]map[string]room.RoomUserView, len(f.List.Rooms))
		for roomName, users := range f.List.Rooms {
			uv := make(map[string]room.RoomUserView, len(users))
			for uname, ru := range users {
				view := room.RoomUserView{Ready: ru.IsReady, IsController: ru.IsController}
				if ru.File != nil {
					view.File = &room.File{Name: ru.File.Name, Size: ru.File.Size, Duration: ru.File.Duration}
				}
				uv[uname] = view
			}
			views[roomName] = uv
		}
		c.model.ApplyList(views)

	case f.Set != nil:
		c.applySet(f.Set)

	case f.State != nil:
		c.applyState(f.State)

	case f.Chat != nil:
		c.publishChat(ChatMessage{Username: f.Chat.Username, Message: f.Chat.Message})

	case f.Error != nil:
		slog.Error("syncplay: server error", "message", f.Error.Message)
	}
}

func (c *Client) applySet(s *protocol.Set) {
	d := room.SetDelta{User: s.User}
	if s.File != nil {
		d.File = &room.File{Name: s.File.Name, Size: s.File.Size, Duration: s.File.Duration}
	}
	if s.Room != nil {
		d.Room = s.Room.Name
	}
	if s.Ready != nil {
		d.HasReady = true
		d.Ready = s.Ready.IsReady
	}
	if s.ControllerAuth != nil {
		d.HasController = true
		d.IsController = s.ControllerAuth.IsController
	}
	c.model.ApplySet(d)
}

func (c *Client) applyState(s *protocol.State) {
	if s.PlayState == nil {
		return
	}
	now := time.Now()

	c.mu.Lock()
	c.refArrivalTime = now
	if s.Ping != nil && s.Ping.LatencyCalculation != 0 {
		c.pendingServerLatencyCalc = s.Ping.LatencyCalculation
		c.haveServerLatencyCalc = true
	}
	c.mu.Unlock()

	c.publishPlayback(PlaybackState{Position: s.PlayState.Position, Paused: s.PlayState.Paused, SetBy: s.PlayState.SetBy})

	if s.Ping != nil && s.Ping.ClientLatencyCalculation != 0 {
		c.mu.Lock()
		sent := c.lastSendMonotonic
		marker := c.lastClientPingMarker
		matched := !sent.IsZero() && s.Ping.ClientLatencyCalculation == marker
		if matched {
			c.mu.Unlock()
			rtt := time.Since(sent)
			c.publishRTT(rtt)
			c.metrics.ObserveRTT(rtt.Seconds())
			c.mu.Lock()
			c.latencyEstimate = rtt.Seconds() / 2
		}
		c.mu.Unlock()
	}

	c.runEngineTick(*s.PlayState)
}

// runEngineTick feeds the sync engine the current player cache snapshot
// against the age-compensated reference position (§4.3) and applies the
// resulting action to the attached player (§4.6).
func (c *Client) runEngineTick(ref protocol.PlayState) {
	c.adapterMu.Lock()
	a := c.adapter
	c.adapterMu.Unlock()
	if a == nil {
		return
	}

	snap := a.Cache().Snapshot()
	now := time.Now()
	localPos := engine.ProjectPosition(snap.Position, snap.Paused, snap.Speed, now.Sub(snap.LastUpdated).Seconds())

	c.mu.RLock()
	arrival := c.refArrivalTime
	latency := c.latencyEstimate
	c.mu.RUnlock()

	refPosNow := engine.ProjectReference(ref.Position, ref.Paused, now.Sub(arrival).Seconds(), latency)

	action := c.eng.Decide(engine.Input{
		LocalPos:    localPos,
		LocalPaused: snap.Paused,
		RefPosNow:   refPosNow,
		RefPaused:   ref.Paused,
		DoSeek:      ref.DoSeek,
		Duration:    snap.Duration,
	})

	c.applyEngineAction(a, action)
}

func (c *Client) applyEngineAction(a *player.Adapter, action engine.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PlayerRequestTimeout)
	defer cancel()

	switch action.Kind {
	case engine.ActionSeek:
		if err := a.Seek(action.SeekTo, "absolute"); err != nil {
			slog.Warn("syncplay: seek failed", "err", err)
		}
	case engine.ActionSetPaused:
		if err := a.SetPaused(ctx, action.Paused); err != nil {
			slog.Warn("syncplay: set-paused failed", "err", err)
		}
	case engine.ActionSlowdown, engine.ActionResetSpeed:
		if err := a.SetProperty(ctx, "speed", action.SpeedTarget); err != nil {
			slog.Warn("syncplay: set speed failed", "err", err)
		}
	}
}

// tickLoop drives the periodic heartbeat described in §4.5 (default 1 Hz):
// emits an outbound State reflecting the playback-state cache and echoes
// the server's latency marker for RTT estimation.
func (c *Client) tickLoop(ctx context.Context, conn *transport.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sendHeartbeat(conn)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendHeartbeat(conn *transport.Conn) {
	c.adapterMu.Lock()
	a := c.adapter
	c.adapterMu.Unlock()

	st := &protocol.PlayState{}
	if a != nil {
		snap := a.Cache().Snapshot()
		st.Position = snap.Position
		st.Paused = snap.Paused
	}

	now := time.Now()
	marker := float64(now.UnixNano()) / 1e9

	c.mu.Lock()
	c.lastSendMonotonic = now
	c.lastClientPingMarker = marker
	ping := &protocol.Ping{ClientLatencyCalculation: marker}
	if c.haveServerLatencyCalc {
		ping.LatencyCalculation = c.pendingServerLatencyCalc
	}
	c.mu.Unlock()

	conn.Send(protocol.Frame{State: &protocol.State{PlayState: st, Ping: ping}})
}

// playerEventLoop forwards player adapter events into outbound protocol
// messages: a file-loaded event becomes a Set{file} (§8 scenario 5).
func (c *Client) playerEventLoop(a *player.Adapter) {
	defer c.wg.Done()
	for {
		select {
		case ev, ok := <-a.Events():
			if !ok {
				return
			}
			c.handlePlayerEvent(a, ev)
		case err, ok := <-a.Err():
			if !ok {
				return
			}
			slog.Error("syncplay: player adapter error", "err", err)
			return
		}
	}
}

func (c *Client) handlePlayerEvent(a *player.Adapter, ev player.Event) {
	if ev.Kind != player.EventFileLoaded {
		return
	}
	snap := a.Cache().Snapshot()
	conn := c.activeConn()
	if conn == nil {
		return
	}
	name := room.FileIdentity(snap.Filename, c.cfg.AnonymizeFilenames, c.cfg.AnonymizeSalt)
	conn.Send(protocol.Frame{Set: &protocol.Set{File: &protocol.FileRef{Name: name, Duration: snap.Duration}}})
}
