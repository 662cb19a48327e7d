package model

import "time"

// IPVersion selects which address families a Resolver may return.
type IPVersion string

const (
	IPAuto IPVersion = "auto"
	IPv4   IPVersion = "ipv4"
	IPv6   IPVersion = "ipv6"
)

// MultipathAlgorithm selects a multipath scheduling strategy.
type MultipathAlgorithm string

const (
	MultipathMinRTT      MultipathAlgorithm = "minrtt"
	MultipathRoundRobin  MultipathAlgorithm = "roundrobin"
	MultipathRedundant   MultipathAlgorithm = "redundant"
)

// ConnectionConfig is one immutable attempt variant in the retry ladder.
// Field names and defaults follow spec.md §3 exactly.
type ConnectionConfig struct {
	// transport
	Port                         uint16 `toml:"port"`
	MaxIdleTimeoutMs             int64  `toml:"max_idle_timeout_ms"`
	InitialMaxData               uint64 `toml:"initial_max_data"`
	InitialMaxStreamDataBidiLocal  uint64 `toml:"initial_max_stream_data_bidi_local"`
	InitialMaxStreamDataBidiRemote uint64 `toml:"initial_max_stream_data_bidi_remote"`
	InitialMaxStreamDataUni      uint64 `toml:"initial_max_stream_data_uni"`
	InitialMaxStreamsBidi        uint64 `toml:"initial_max_streams_bidi"`
	InitialMaxStreamsUni         uint64 `toml:"initial_max_streams_uni"`
	MaxAckDelay                  int64  `toml:"max_ack_delay"`
	ActiveConnectionIDLimit      uint64 `toml:"active_connection_id_limit"`
	SendUDPPayloadSize           uint64 `toml:"send_udp_payload_size"`
	MaxReceiveBufferSize         uint64 `toml:"max_receive_buffer_size"`

	// TLS / application
	VerifyPeer bool     `toml:"verify_peer"`
	ALPN       []string `toml:"alpn"`

	// multipath — accepted from config but inert against this engine's
	// transport; see DESIGN.md's "Multipath" entry for why quic-go
	// v0.46.0 gives the driver nothing to wire these into.
	EnableMultipath     bool               `toml:"enable_multipath"`
	MultipathAlgorithm  MultipathAlgorithm `toml:"multipath_algorithm"`

	// probing
	IPVersion IPVersion `toml:"ip_version"`
	Path      string    `toml:"path"`
	UserAgent string    `toml:"user_agent"`
}

// MaxIdleTimeout returns MaxIdleTimeoutMs as a time.Duration.
func (c *ConnectionConfig) MaxIdleTimeout() time.Duration {
	return time.Duration(c.MaxIdleTimeoutMs) * time.Millisecond
}

// MaxAckDelayDuration returns MaxAckDelay as a time.Duration.
func (c *ConnectionConfig) MaxAckDelayDuration() time.Duration {
	return time.Duration(c.MaxAckDelay) * time.Millisecond
}

// DefaultConnectionConfig returns the spec.md §3 defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Port:                     443,
		MaxIdleTimeoutMs:         10_000,
		InitialMaxData:           10 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 20,
		InitialMaxStreamDataBidiRemote: 1 << 20,
		InitialMaxStreamDataUni:  1 << 20,
		InitialMaxStreamsBidi:    100,
		InitialMaxStreamsUni:     100,
		MaxAckDelay:              25,
		ActiveConnectionIDLimit:  2,
		SendUDPPayloadSize:       1350,
		MaxReceiveBufferSize:     10 << 20,
		VerifyPeer:               true,
		ALPN:                     []string{"h3"},
		IPVersion:                IPAuto,
		Path:                     "/",
		UserAgent:                "quic-lab-runner",
	}
}

// ProbeTimeoutErrorCode is the well-known QUIC application error code
// a Driver uses to locally close a connection that exceeded its idle
// deadline (spec.md §4.7, "Cancellation & timeouts"). Spells "PROB"
// in ASCII.
const ProbeTimeoutErrorCode uint64 = 0x50524f42

// DomainTarget is one input line paired with its ordinal position.
type DomainTarget struct {
	Host  string
	Index int
}

// QlogEvent is one streaming transport-trace event as described in
// spec.md §3 and §4.4.
type QlogEvent struct {
	Time    float64        `json:"time"`
	Name    string         `json:"name"`
	Data    map[string]any `json:"data,omitempty"`
	GroupID string         `json:"group_id"`
}

// ProbeRecord is the probe-defined JSON value paired with a key,
// written verbatim by the Recorder (spec.md §3, "never inspects the value").
type ProbeRecord struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ProbeOutcome carries what the Scheduler needs to decide whether the
// retry ladder should stop, independent of what went into the record.
type ProbeOutcome struct {
	Success   bool
	TraceID   string
	Err       error
	Record    any
}
