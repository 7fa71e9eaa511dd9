// Package protocol implements the syncplay-go wire codec: line-delimited
// JSON frames exchanged with a protocol 1.7.x coordination server.
package protocol

import "encoding/json"

// Frame is the outer envelope for every message exchanged with the server.
// Exactly one of the message kinds below is non-nil for a well-formed
// frame. Unknown top-level keys are preserved in Extra rather than
// rejected, per the forward-compatibility requirement in §4.1.
type Frame struct {
	Hello *Hello `json:"Hello,omitempty"`
	Set   *Set   `json:"Set,omitempty"`
	List  *List  `json:"List,omitempty"`
	State *State `json:"State,omitempty"`
	Chat  *Chat  `json:"Chat,omitempty"`
	Error *Error `json:"Error,omitempty"`
	TLS   *TLS   `json:"TLS,omitempty"`

	// Extra holds any additional top-level keys the decoder didn't
	// recognize, keyed by name, preserved byte-for-byte for re-encoding.
	Extra ExtraFields `json:"-"`
}

// ExtraFields preserves JSON object members not mapped to a named struct
// field, so they round-trip through decode/encode instead of being
// silently dropped. A nil map is equivalent to "no extra fields".
type ExtraFields map[string]json.RawMessage

// Hello is the handshake message, sent by the client on connect and
// echoed (with server-side fields filled in) by the server on success.
type Hello struct {
	Username string      `json:"username"`
	Room     *RoomRef    `json:"room,omitempty"`
	Version  string      `json:"version"`
	Features *Features   `json:"features,omitempty"`
	Password string      `json:"password,omitempty"`
	MOTD     string      `json:"motd,omitempty"`
	Extra    ExtraFields `json:"-"`
}

// RoomRef names a room in a Hello or Set message.
type RoomRef struct {
	Name string `json:"name"`
}

// Features advertises protocol capabilities during the handshake.
type Features struct {
	SharedPlaylists bool `json:"sharedPlaylists,omitempty"`
	Readiness       bool `json:"readiness,omitempty"`
	Chat            bool `json:"chat,omitempty"`
}

// Set carries incremental user/room/file/readiness deltas in either
// direction: the server applies deltas to the authoritative model and
// rebroadcasts; the client emits deltas to describe local changes.
type Set struct {
	User           string         `json:"user,omitempty"`
	File           *FileRef       `json:"file,omitempty"`
	Room           *RoomRef       `json:"room,omitempty"`
	Ready          *ReadyRef      `json:"ready,omitempty"`
	PlaylistIndex  *int           `json:"playlistIndex,omitempty"`
	PlaylistChange []string       `json:"playlistChange,omitempty"`
	ControllerAuth *ControllerRef `json:"controllerAuth,omitempty"`
	Extra          ExtraFields    `json:"-"`
}

// FileRef describes a media file by identity (filename or anonymized
// hash), size, and duration.
type FileRef struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

// ReadyRef carries a readiness change.
type ReadyRef struct {
	IsReady           bool `json:"isReady"`
	ManuallyInitiated bool `json:"manuallyInitiated,omitempty"`
}

// ControllerRef asserts or revokes controller status for a user. Only the
// server is authoritative for this field; a client-originated
// ControllerRef is informational and the server may ignore it.
type ControllerRef struct {
	User         string `json:"user"`
	IsController bool   `json:"isController"`
}

// List is a full membership snapshot: rooms mapped to the users currently
// in them. Receiving a List replaces the known user set for every room it
// mentions — it is never a partial delta.
type List struct {
	Rooms map[string]map[string]RoomUser `json:"rooms"`
	Extra ExtraFields                    `json:"-"`
}

// RoomUser is one user entry within a List snapshot.
type RoomUser struct {
	File         *FileRef `json:"file,omitempty"`
	IsReady      bool     `json:"isReady,omitempty"`
	IsController bool     `json:"controller,omitempty"`
}

// State carries the authoritative global playback state, in either
// direction: server→client to assert the reference position, or
// client→server as a periodic heartbeat describing the local player.
type State struct {
	PlayState        *PlayState  `json:"playstate,omitempty"`
	IgnoringOnTheFly *OnTheFly   `json:"ignoringOnTheFly,omitempty"`
	Ping             *Ping       `json:"ping,omitempty"`
	Extra            ExtraFields `json:"-"`
}

// PlayState is the position/pause/ownership portion of a State message.
type PlayState struct {
	Position float64 `json:"position"`
	Paused   bool    `json:"paused"`
	SetBy    string  `json:"setBy,omitempty"`
	DoSeek   bool    `json:"doSeek,omitempty"`
}

// OnTheFly lets a client tell the server to ignore the next state change
// it's about to emit locally (used around an intentional local seek so
// the server doesn't treat it as drift). Empty object means "none".
type OnTheFly struct {
	Server string `json:"server,omitempty"`
	Client string `json:"client,omitempty"`
}

// Ping carries the RTT-estimation markers described in §4.5. Each side
// stamps its own outbound marker and expects the other side to echo it
// back verbatim on its next State: the server stamps LatencyCalculation
// and the client echoes the same value back in LatencyCalculation so the
// server can compute its RTT; the client stamps ClientLatencyCalculation
// and the server echoes it back in ClientLatencyCalculation so the
// client can compute RTT = now - localSendMonotonic.
type Ping struct {
	LatencyCalculation       float64 `json:"latencyCalculation,omitempty"`
	ClientLatencyCalculation float64 `json:"clientLatencyCalculation,omitempty"`
	ClientRTT                float64 `json:"clientRtt,omitempty"`
}

// Chat is a single chat message, in either direction.
type Chat struct {
	Username string      `json:"username,omitempty"`
	Message  string      `json:"message"`
	Extra    ExtraFields `json:"-"`
}

// Error is a server-reported protocol-level failure.
type Error struct {
	Message string      `json:"message"`
	Extra   ExtraFields `json:"-"`
}

// TLS carries the opportunistic-TLS probe/response described in §4.2.
type TLS struct {
	StartTLS string `json:"startTLS"`
}
