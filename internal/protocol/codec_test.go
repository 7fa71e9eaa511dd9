package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRoundTripEveryKind(t *testing.T) {
	playlistIdx := 2
	cases := []Frame{
		{Hello: &Hello{Username: "alice", Room: &RoomRef{Name: "lobby"}, Version: "1.7.0", Features: &Features{SharedPlaylists: true, Readiness: true, Chat: true}}},
		{Set: &Set{User: "alice", File: &FileRef{Name: "movie.mkv", Size: 4000000000, Duration: 7200}, PlaylistIndex: &playlistIdx}},
		{List: &List{Rooms: map[string]map[string]RoomUser{"lobby": {"alice": {IsReady: true}}}}},
		{State: &State{PlayState: &PlayState{Position: 100.0, Paused: false, SetBy: "bob", DoSeek: false}}},
		{Chat: &Chat{Username: "alice", Message: "hi"}},
		{Error: &Error{Message: "bad password"}},
		{TLS: &TLS{StartTLS: "send"}},
	}
	for i, f := range cases {
		b, err := f.MarshalJSON()
		if err != nil {
			t.Fatalf("case %d: marshal: %v", i, err)
		}
		var got Frame
		if err := got.UnmarshalJSON(b); err != nil {
			t.Fatalf("case %d: unmarshal: %v", i, err)
		}
		b2, err := got.MarshalJSON()
		if err != nil {
			t.Fatalf("case %d: remarshal: %v", i, err)
		}
		if !bytes.Equal(b, b2) {
			t.Errorf("case %d: round-trip mismatch:\n  first:  %s\n  second: %s", i, b, b2)
		}
	}
}

func TestUnknownTopLevelKeyPreserved(t *testing.T) {
	line := []byte(`{"Chat":{"message":"hi"},"Future":{"foo":"bar"}}`)
	var f Frame
	if err := f.UnmarshalJSON(line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Chat == nil || f.Chat.Message != "hi" {
		t.Fatalf("chat not decoded: %+v", f)
	}
	if _, ok := f.Extra["Future"]; !ok {
		t.Fatalf("expected Future preserved in Extra, got %v", f.Extra)
	}
	b, err := f.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"Future":{"foo":"bar"}`) {
		t.Errorf("expected Future echoed back, got %s", b)
	}
}

func TestUnknownNestedMemberIgnoredNotRejected(t *testing.T) {
	line := []byte(`{"Hello":{"username":"alice","version":"1.7.0","newField":{"x":1}}}`)
	var f Frame
	if err := f.UnmarshalJSON(line); err != nil {
		t.Fatalf("unmarshal should tolerate unknown nested object: %v", err)
	}
	if f.Hello == nil || f.Hello.Username != "alice" {
		t.Fatalf("hello not decoded: %+v", f)
	}
}

func TestReaderWriterLineDelimited(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	want := []Frame{
		{Hello: &Hello{Username: "alice", Version: "1.7.0"}},
		{Chat: &Chat{Message: "hello room"}},
	}
	for _, f := range want {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	r := NewReader(&buf)
	for i, wantFrame := range want {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: read: %v", i, err)
		}
		gb, _ := got.MarshalJSON()
		wb, _ := wantFrame.MarshalJSON()
		if !bytes.Equal(gb, wb) {
			t.Errorf("frame %d: got %s want %s", i, gb, wb)
		}
	}
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF at stream end, got %v", err)
	}
}

func TestInvalidUTF8IsFramingError(t *testing.T) {
	bad := append([]byte{0xff, 0xfe}, '\n')
	r := NewReader(bytes.NewReader(bad))
	_, err := r.ReadFrame()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FramingError, got %v (%T)", err, err)
	}
}

func TestFrameAtMaxSizeAccepted(t *testing.T) {
	maxLen := 64
	msg := strings.Repeat("a", maxLen-len(`{"Chat":{"message":""}}`))
	line := []byte(`{"Chat":{"message":"` + msg + `"}}`)
	if len(line) != maxLen {
		t.Fatalf("test setup: line is %d bytes, want %d", len(line), maxLen)
	}
	r := NewReaderSize(bytes.NewReader(append(line, '\n')), maxLen)
	if _, err := r.ReadFrame(); err != nil {
		t.Fatalf("exact max-size frame should be accepted: %v", err)
	}
}

func TestFrameOverMaxSizeWithoutNewlineIsFramingError(t *testing.T) {
	maxLen := 32
	oversized := bytes.Repeat([]byte("a"), maxLen+1)
	r := NewReaderSize(bytes.NewReader(oversized), maxLen)
	_, err := r.ReadFrame()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FramingError for oversized unterminated frame, got %v", err)
	}
}

func TestEmptyStreamReturnsEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.ReadFrame()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
