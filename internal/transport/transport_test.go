package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/everpcpc/syncplay-go/internal/protocol"
)

func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return l
}

func TestDialWithoutTLSExchangesFrames(t *testing.T) {
	l := listenLocal(t)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := protocol.NewReader(conn)
		w := protocol.NewWriter(conn)
		f, err := r.ReadFrame()
		if err != nil || f.Hello == nil {
			t.Errorf("server: expected Hello, got %+v err=%v", f, err)
			return
		}
		w.WriteFrame(protocol.Frame{Hello: &protocol.Hello{Username: f.Hello.Username, Version: "1.7.0"}})
	}()

	c, err := Dial(context.Background(), l.Addr().String(), Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if c.Status() != StatusUnsupported {
		t.Errorf("status = %v, want unsupported (TLS not requested)", c.Status())
	}

	c.Send(protocol.Frame{Hello: &protocol.Hello{Username: "alice", Version: "1.7.0"}})

	select {
	case f := <-c.Inbound():
		if f.Hello == nil || f.Hello.Username != "alice" {
			t.Errorf("got %+v, want echoed Hello", f)
		}
	case err := <-c.Err():
		t.Fatalf("unexpected transport error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server Hello reply")
	}
	<-done
}

func TestOpportunisticTLSNackStaysCleartext(t *testing.T) {
	l := listenLocal(t)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := protocol.NewReader(conn)
		w := protocol.NewWriter(conn)
		probe, err := r.ReadFrame()
		if err != nil || probe.TLS == nil || probe.TLS.StartTLS != "send" {
			t.Errorf("server: expected TLS probe, got %+v err=%v", probe, err)
			return
		}
		w.WriteFrame(protocol.Frame{TLS: &protocol.TLS{StartTLS: "false"}})
		// Protocol continues in cleartext.
		f, _ := r.ReadFrame()
		if f.Hello != nil {
			w.WriteFrame(protocol.Frame{Hello: &protocol.Hello{Username: f.Hello.Username, Version: "1.7.0"}})
		}
	}()

	c, err := Dial(context.Background(), l.Addr().String(), Options{RequestTLS: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if c.Status() != StatusUnsupported {
		t.Fatalf("status = %v, want unsupported after TLS nack", c.Status())
	}

	c.Send(protocol.Frame{Hello: &protocol.Hello{Username: "bob", Version: "1.7.0"}})
	select {
	case f := <-c.Inbound():
		if f.Hello == nil || f.Hello.Username != "bob" {
			t.Errorf("got %+v, want echoed Hello over cleartext", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
