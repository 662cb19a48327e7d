package scheduler

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"

	"github.com/QUIC-Lab/quic-lab/internal/config"
	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/probe"
	"github.com/QUIC-Lab/quic-lab/internal/recorder"
	"github.com/QUIC-Lab/quic-lab/internal/resolve"
)

func newTestRecorder(t *testing.T) *recorder.Recorder {
	t.Helper()
	dir := t.TempDir()
	r, err := recorder.New(filepath.Join(dir, "probes.jsonl"), 1<<20)
	if err != nil {
		t.Fatalf("recorder.New: %v", err)
	}
	return r
}

// noopApp never succeeds, letting the tests below exercise the
// Scheduler's retry-ladder and bookkeeping without any real transport.
type noopApp struct{}

func (noopApp) OnConnected(ctx context.Context, conn quic.EarlyConnection) error { return nil }
func (noopApp) OnConnClosed(stats probe.Stats, closeErr error)                   {}
func (noopApp) Outcome() (bool, any)                                            { return false, nil }

func variant() model.ConnectionConfig {
	cc := model.DefaultConnectionConfig()
	cc.MaxIdleTimeoutMs = 200
	cc.VerifyPeer = false
	return cc
}

// unroutableDNSServer returns a loopback UDP address with nothing
// listening, so resolution fails fast via connection refused instead
// of hanging until a read timeout.
func unroutableDNSServer(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	addr := conn.LocalAddr().String()
	conn.Close()
	return addr
}

func TestRunLadderWritesExactlyOneRecordPerDomainOnExhaustion(t *testing.T) {
	rec := newTestRecorder(t)
	defer rec.Close()

	client := new(dns.Client)
	client.Timeout = 200 * time.Millisecond
	resolver := &resolve.Resolver{Servers: []string{unroutableDNSServer(t)}, Client: client}

	sched := New(
		config.SchedulerConfig{Concurrency: 2, Burst: 10, InterAttemptDelayMs: 1},
		[]model.ConnectionConfig{variant(), variant()},
		resolver,
		Sinks{Recorder: rec},
		func(cfg probe.Config) probe.AppProtocol { return noopApp{} },
		model.DiscardLogger,
	)

	domains := []model.DomainTarget{{Host: "unresolvable.invalid", Index: 0}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Run(ctx, domains); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sched.completed != 1 {
		t.Fatalf("completed = %d, want 1 (exactly one record per domain)", sched.completed)
	}
	if sched.succeeded != 0 {
		t.Fatalf("succeeded = %d, want 0 for an unresolvable host", sched.succeeded)
	}
}

func TestWorkersDefaultsToPositiveCountWhenConcurrencyIsZero(t *testing.T) {
	sched := &Scheduler{cfg: config.SchedulerConfig{Concurrency: 0}}
	if sched.workers() <= 0 {
		t.Fatal("expected a positive default worker count")
	}
}

func TestWorkersHonorsExplicitConcurrency(t *testing.T) {
	sched := &Scheduler{cfg: config.SchedulerConfig{Concurrency: 3}}
	if sched.workers() != 3 {
		t.Fatalf("workers() = %d, want 3", sched.workers())
	}
}

func TestRunWithNoDomainsReturnsImmediately(t *testing.T) {
	rec := newTestRecorder(t)
	defer rec.Close()

	sched := New(
		config.SchedulerConfig{Concurrency: 1, Burst: 1},
		[]model.ConnectionConfig{variant()},
		resolve.New(),
		Sinks{Recorder: rec},
		func(cfg probe.Config) probe.AppProtocol { return noopApp{} },
		model.DiscardLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sched.Run(ctx, nil); err != nil {
		t.Fatalf("Run with no domains: %v", err)
	}
	if sched.completed != 0 {
		t.Fatalf("completed = %d, want 0", sched.completed)
	}
}
