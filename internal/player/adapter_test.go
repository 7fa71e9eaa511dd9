package player

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

// fakePlayer serves one net.Conn end as a minimal mpv-style IPC peer:
// it echoes get_property/set_property responses and can push events.
type fakePlayer struct {
	conn net.Conn
	w    *bufio.Writer
}

func newFakePlayer(conn net.Conn) *fakePlayer {
	return &fakePlayer{conn: conn, w: bufio.NewWriter(conn)}
}

func (f *fakePlayer) writeLine(s string) {
	f.w.WriteString(s)
	f.w.WriteByte('\n')
	f.w.Flush()
}

func pipeDialer(clientConn net.Conn) Dialer {
	return func(ctx context.Context, path string) (net.Conn, error) {
		return clientConn, nil
	}
}

func TestGetPropertyRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fp := newFakePlayer(server)
	go func() {
		sc := bufio.NewScanner(server)
		for sc.Scan() {
			line := sc.Text()
			if line == `{"command":["get_property","pause"],"request_id":1}` {
				fp.writeLine(`{"request_id":1,"error":"success","data":false}`)
				return
			}
		}
	}()

	a, err := Connect(context.Background(), "", pipeDialer(client), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := a.GetProperty(ctx, "pause")
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if string(data) != "false" {
		t.Errorf("data = %s, want false", data)
	}
}

func TestGetPropertyTimeoutWithoutResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		sc := bufio.NewScanner(server)
		for sc.Scan() {
			// Never reply.
		}
	}()

	a, err := Connect(context.Background(), "", pipeDialer(client), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.GetProperty(ctx, "pause")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestPropertyChangeUpdatesCache(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fp := newFakePlayer(server)
	go func() {
		fp.writeLine(`{"event":"property-change","id":1,"name":"time-pos","data":42.5}`)
		fp.writeLine(`{"event":"property-change","id":2,"name":"pause","data":true}`)
	}()

	a, err := Connect(context.Background(), "", pipeDialer(client), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := a.Cache().Snapshot()
		if snap.Position == 42.5 && snap.Paused {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cache not updated in time: %+v", a.Cache().Snapshot())
}

func TestEndFileEventEmitted(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fp := newFakePlayer(server)
	go func() {
		fp.writeLine(`{"event":"end-file","reason":"eof"}`)
	}()

	a, err := Connect(context.Background(), "", pipeDialer(client), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()

	select {
	case ev := <-a.Events():
		if ev.Kind != EventEndFile || ev.Reason != "eof" {
			t.Errorf("got %+v, want end-file/eof", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for end-file event")
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	a, err := Connect(context.Background(), "", pipeDialer(client), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := a.GetProperty(ctx, "pause")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending request to fail")
	}
}
