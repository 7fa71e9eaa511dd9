// Package config defines the tunables that shape the core's behavior:
// sync-engine thresholds, protocol timeouts, and the heartbeat interval.
// Unlike the external collaborators mentioned in the purpose/scope
// section, the core itself never reads or writes this struct to disk —
// it is constructed by the caller and handed to syncplay.New. The yaml
// tags exist so a caller-side config file can decode directly into it;
// nothing in this repository decodes YAML into Config.
package config

import "time"

// Config bundles every tunable the core consults.
type Config struct {
	// Engine thresholds, §4.3. Zero value means "use DefaultThresholds".
	SeekFastForward float64 `yaml:"seek_fastforward"`
	SeekRewind      float64 `yaml:"seek_rewind"`
	SlowdownEntry   float64 `yaml:"slowdown_entry"`
	SlowdownExit    float64 `yaml:"slowdown_exit"`
	SlowdownRate    float64 `yaml:"slowdown_rate"`

	// HeartbeatInterval is how often the coordinator emits an outbound
	// State message. Default 1 Hz (§4.5). Engine decisions run on each
	// inbound server State, not on this tick.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// PlayerRequestTimeout bounds each pause/speed request the coordinator
	// sends to the player when applying an engine action. Default 5s.
	PlayerRequestTimeout time.Duration `yaml:"player_request_timeout"`
	// TLSHandshakeTimeout bounds the opportunistic TLS upgrade (§5). Default 10s.
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`
	// ConnectTimeout bounds the initial TCP dial (§5). Default 15s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// MaxFrameLen bounds a single wire frame, in bytes (§4.1). Default 1 MiB.
	MaxFrameLen int `yaml:"max_frame_len"`
	// InboundQueueCapacity is the bounded inbound frame queue depth (§5). Default 256.
	InboundQueueCapacity int `yaml:"inbound_queue_capacity"`
	// OutboundQueueCapacity is the bounded outbound frame queue depth (§5). Default 256.
	OutboundQueueCapacity int `yaml:"outbound_queue_capacity"`

	// ChatRateLimit bounds outbound chat messages per second (SPEC_FULL §4.9).
	ChatRateLimit float64 `yaml:"chat_rate_limit"`

	// AnonymizeFilenames selects the hashed file-identity variant from §3.
	AnonymizeFilenames bool   `yaml:"anonymize_filenames"`
	AnonymizeSalt      string `yaml:"anonymize_salt"`

	// ClientVersion is echoed in the Hello handshake (§6: "Compatible with
	// server version 1.7.x").
	ClientVersion string `yaml:"client_version"`
}

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		SeekFastForward:       5.0,
		SeekRewind:            4.0,
		SlowdownEntry:         1.5,
		SlowdownExit:          0.5,
		SlowdownRate:          0.95,
		HeartbeatInterval:     time.Second,
		PlayerRequestTimeout:  5 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ConnectTimeout:        15 * time.Second,
		MaxFrameLen:           1 << 20,
		InboundQueueCapacity:  256,
		OutboundQueueCapacity: 256,
		ChatRateLimit:         5.0,
		ClientVersion:         "1.7.0",
	}
}

// WithDefaults fills any zero-valued field in cfg from Default(), so a
// caller only needs to set the fields they care to override.
func (cfg Config) WithDefaults() Config {
	d := Default()
	if cfg.SeekFastForward == 0 {
		cfg.SeekFastForward = d.SeekFastForward
	}
	if cfg.SeekRewind == 0 {
		cfg.SeekRewind = d.SeekRewind
	}
	if cfg.SlowdownEntry == 0 {
		cfg.SlowdownEntry = d.SlowdownEntry
	}
	if cfg.SlowdownExit == 0 {
		cfg.SlowdownExit = d.SlowdownExit
	}
	if cfg.SlowdownRate == 0 {
		cfg.SlowdownRate = d.SlowdownRate
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = d.HeartbeatInterval
	}
	if cfg.PlayerRequestTimeout == 0 {
		cfg.PlayerRequestTimeout = d.PlayerRequestTimeout
	}
	if cfg.TLSHandshakeTimeout == 0 {
		cfg.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	if cfg.MaxFrameLen == 0 {
		cfg.MaxFrameLen = d.MaxFrameLen
	}
	if cfg.InboundQueueCapacity == 0 {
		cfg.InboundQueueCapacity = d.InboundQueueCapacity
	}
	if cfg.OutboundQueueCapacity == 0 {
		cfg.OutboundQueueCapacity = d.OutboundQueueCapacity
	}
	if cfg.ChatRateLimit == 0 {
		cfg.ChatRateLimit = d.ChatRateLimit
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = d.ClientVersion
	}
	return cfg
}
