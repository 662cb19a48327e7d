// Package http3probe implements the default AppProtocol of spec.md
// §1 and §4.9: an HTTP/3 GET issued over an already-established QUIC
// connection, using quic-go's http3.SingleDestinationRoundTripper the
// way the teacher layers an application protocol atop an endpoint
// that has already been dialed (internal/pdsl).
package http3probe

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/probe"
)

// Probe is the HTTP/3 GET AppProtocol.
type Probe struct {
	cfg probe.Config

	handshakeOK bool
	status      int
	bodyBytes   int64
	err         error
}

var _ probe.AppProtocol = &Probe{}

// New is a probe.Factory for the default HTTP/3 GET probe.
func New(cfg probe.Config) probe.AppProtocol {
	return &Probe{cfg: cfg}
}

// OnConnected issues a single HTTP/3 GET for cfg.Path over conn.
func (p *Probe) OnConnected(ctx context.Context, conn quic.EarlyConnection) error {
	p.handshakeOK = true

	rt := &http3.SingleDestinationRoundTripper{Connection: conn}
	rt.Start()

	url := fmt.Sprintf("https://%s%s", p.cfg.Host, p.cfg.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.err = &model.ApplicationError{Cause: err}
		return p.err
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		p.err = &model.ApplicationError{Cause: err}
		return p.err
	}
	defer resp.Body.Close()
	p.status = resp.StatusCode
	n, err := io.Copy(io.Discard, resp.Body)
	p.bodyBytes = n
	if err != nil {
		p.err = &model.ApplicationError{Cause: err}
		return p.err
	}
	return nil
}

// OnConnClosed keeps closeErr as the probe's error when OnConnected
// recorded none; stats are not added to the record.
func (p *Probe) OnConnClosed(stats probe.Stats, closeErr error) {
	if p.err == nil {
		p.err = closeErr
	}
}

// Outcome succeeds when the handshake completed and the response
// status is in [200, 400), per spec.md §4.9's success predicate.
func (p *Probe) Outcome() (ok bool, record any) {
	rec := map[string]any{
		"handshake_ok": p.handshakeOK,
		"http_status":  p.status,
		"body_bytes":   p.bodyBytes,
	}
	if p.err != nil {
		rec["error"] = p.err.Error()
	}
	ok = p.handshakeOK && p.status >= 200 && p.status < 400
	return ok, rec
}
