// Package probe defines the AppProtocol contract of spec.md §4.9: the
// probe-specific callback surface a ConnectionDriver dispatches into
// once a QUIC connection is established. HTTP/3 is the default, and
// only, implementation shipped here (internal/probe/http3probe), but
// the interface is the extension point spec.md §2 calls out.
package probe

import (
	"context"

	"github.com/quic-go/quic-go"
)

// Stats summarizes one connection's transport-level counters, handed
// to AppProtocol.OnConnClosed by the Driver.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
}

// AppProtocol is the probe-specific callback surface. A fresh
// AppProtocol instance is created per attempt by the Scheduler
// (spec.md §4.8 step 2c); it is never reused across attempts.
type AppProtocol interface {
	// OnConnected runs the application-layer exchange over conn. It is
	// called once the transport reports handshake_confirmed, and the
	// Driver waits for it to return before proceeding to Closing.
	OnConnected(ctx context.Context, conn quic.EarlyConnection) error

	// OnConnClosed is called once the connection has reached its
	// terminal state, after OnConnected has returned.
	OnConnClosed(stats Stats, closeErr error)

	// Outcome reports whether the probe succeeded per its own
	// predicate (spec.md §4.8 step 2e: "handshake OK AND application
	// succeeded") and the ProbeRecord-ready value to persist.
	Outcome() (ok bool, record any)
}

// Factory constructs a fresh AppProtocol for one attempt.
type Factory func(cfg Config) AppProtocol

// Config carries what an AppProtocol needs to build its request,
// independent of transport-level ConnectionConfig fields.
type Config struct {
	Host      string
	Path      string
	UserAgent string
}
