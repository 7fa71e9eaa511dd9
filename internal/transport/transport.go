// Package transport implements §4.2's outbound TCP connection with
// optional opportunistic TLS upgrade, exposing two logically independent
// channels (inbound, outbound) backed by a read half and a write half
// over a single session.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/everpcpc/syncplay-go/internal/protocol"
)

// Status is the TLS negotiation state described in §3/§4.2.
type Status int32

const (
	StatusUnknown Status = iota
	StatusPending
	StatusEnabled
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusEnabled:
		return "enabled"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Options configures Dial.
type Options struct {
	RequestTLS     bool
	TLSHandshake   time.Duration // default 10s
	Connect        time.Duration // default 15s
	MaxFrameLen    int           // default protocol.DefaultMaxFrameLen
	InboundQueue   int           // default 256
	OutboundQueue  int           // default 256
	// TLSConfig, when non-nil, is used instead of a config built from
	// standard root certificates — primarily for tests.
	TLSConfig *tls.Config
	// OnDrop, when non-nil, is called each time the outbound queue drops a
	// frame to relieve backpressure (§5).
	OnDrop func(kind string)
}

func (o Options) withDefaults() Options {
	if o.TLSHandshake <= 0 {
		o.TLSHandshake = 10 * time.Second
	}
	if o.Connect <= 0 {
		o.Connect = 15 * time.Second
	}
	if o.MaxFrameLen <= 0 {
		o.MaxFrameLen = protocol.DefaultMaxFrameLen
	}
	if o.InboundQueue <= 0 {
		o.InboundQueue = 256
	}
	if o.OutboundQueue <= 0 {
		o.OutboundQueue = 256
	}
	return o
}

// Conn is one connection to the coordination server. Zero value is not
// usable; use Dial.
type Conn struct {
	host string

	mu     sync.Mutex
	raw    net.Conn // underlying socket, swapped in place on TLS upgrade
	closed bool

	status atomic.Int32 // Status

	inbound  chan protocol.Frame
	outbound *outboundQueue

	errOnce sync.Once
	errCh   chan error

	wg sync.WaitGroup
}

// Dial opens a TCP connection to addr ("host:port"), optionally performs
// the opportunistic TLS probe/upgrade described in §4.2, and starts the
// reader/writer goroutines. The returned Conn's TLS status reflects the
// outcome (enabled/unsupported); a TLS handshake failure after an
// affirmative server reply returns a *protocol.TLSError and no Conn.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.Connect)
	defer cancel()
	var d net.Dialer
	raw, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &protocol.TransportError{Err: fmt.Errorf("dial %s: %w", addr, err)}
	}

	c := &Conn{
		host:     host,
		raw:      raw,
		inbound:  make(chan protocol.Frame, opts.InboundQueue),
		outbound: newOutboundQueue(opts.OutboundQueue, opts.OnDrop),
		errCh:    make(chan error, 1),
	}
	c.status.Store(int32(StatusUnknown))

	if opts.RequestTLS {
		if err := c.negotiateTLS(ctx, opts); err != nil {
			raw.Close()
			return nil, err
		}
	} else {
		c.status.Store(int32(StatusUnsupported))
	}

	c.wg.Add(2)
	go c.readLoop(opts.MaxFrameLen)
	go c.writeLoop()

	return c, nil
}

// negotiateTLS implements the probe/upgrade sequence from §4.2: send
// {"TLS":{"startTLS":"send"}} on the cleartext socket; on an affirmative
// reply, perform the TLS handshake in place using host for SNI.
func (c *Conn) negotiateTLS(ctx context.Context, opts Options) error {
	c.status.Store(int32(StatusPending))

	w := protocol.NewWriter(c.raw)
	if err := w.WriteFrame(protocol.Frame{TLS: &protocol.TLS{StartTLS: "send"}}); err != nil {
		return &protocol.TransportError{Err: fmt.Errorf("send TLS probe: %w", err)}
	}

	r := protocol.NewReader(c.raw)
	reply, err := r.ReadFrame()
	if err != nil {
		return &protocol.TransportError{Err: fmt.Errorf("read TLS probe reply: %w", err)}
	}
	if reply.TLS == nil || reply.TLS.StartTLS != "true" {
		c.status.Store(int32(StatusUnsupported))
		return nil
	}

	tlsCfg := opts.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: c.host}
	}

	hsCtx, cancel := context.WithTimeout(ctx, opts.TLSHandshake)
	defer cancel()

	tlsConn := tls.Client(c.raw, tlsCfg)
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		return &protocol.TLSError{Err: err}
	}
	c.raw = tlsConn
	c.status.Store(int32(StatusEnabled))
	return nil
}

// Status returns the current TLS negotiation state.
func (c *Conn) Status() Status { return Status(c.status.Load()) }

// Inbound returns the channel of frames read from the server. Closed
// after a read error or graceful disconnect; check Err() afterward.
func (c *Conn) Inbound() <-chan protocol.Frame { return c.inbound }

// Send enqueues a frame for the writer goroutine. Per §5's backpressure
// policy, if the outbound queue is full, the oldest State frame is
// dropped to make room (state is idempotent and regenerated on the next
// heartbeat tick anyway), or the oldest frame of any kind if none is a
// State; Send itself never blocks.
func (c *Conn) Send(f protocol.Frame) {
	c.outbound.push(f)
}

// Err returns a channel that receives at most one error when the
// connection fails. Errors seen after Close are not reported, and Close
// does not close the channel.
func (c *Conn) Err() <-chan error { return c.errCh }

func (c *Conn) fail(err error) {
	c.errOnce.Do(func() {
		c.errCh <- err
		close(c.errCh)
	})
}

// Close performs a graceful shutdown: stops the writer, closes the
// socket, and waits for both goroutines to exit.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.raw
	c.mu.Unlock()

	c.outbound.close()
	err := conn.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) readLoop(maxFrameLen int) {
	defer c.wg.Done()
	defer close(c.inbound)

	r := protocol.NewReaderSize(c.raw, maxFrameLen)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.fail(wrapReadErr(err))
			}
			return
		}
		select {
		case c.inbound <- f:
		default:
			c.fail(&protocol.BackpressureError{Queue: "inbound"})
			return
		}
	}
}

func wrapReadErr(err error) error {
	if _, ok := err.(*protocol.FramingError); ok {
		return err
	}
	return &protocol.TransportError{Err: err}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	w := protocol.NewWriter(c.raw)
	for {
		f, ok := c.outbound.pop()
		if !ok {
			return
		}
		if err := w.WriteFrame(f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.fail(&protocol.TransportError{Err: err})
			}
			return
		}
	}
}
