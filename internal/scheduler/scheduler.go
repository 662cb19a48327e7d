// Package scheduler implements the domain fan-out and per-domain
// retry ladder of spec.md §4.8 (component C8): a bounded worker pool
// draining an MPMC work queue, each worker running the full ladder for
// one domain to a single terminal ProbeRecord.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/QUIC-Lab/quic-lab/internal/config"
	"github.com/QUIC-Lab/quic-lab/internal/driver"
	"github.com/QUIC-Lab/quic-lab/internal/keylog"
	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/probe"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
	"github.com/QUIC-Lab/quic-lab/internal/ratelimit"
	"github.com/QUIC-Lab/quic-lab/internal/recorder"
	"github.com/QUIC-Lab/quic-lab/internal/resolve"
	"github.com/QUIC-Lab/quic-lab/internal/session"
)

// Sinks bundles the shared, internally-synchronized outputs every
// worker's Drivers write into (spec.md §3 "Ownership").
type Sinks struct {
	Mux      *qlogmux.Mux
	KeySink  *keylog.Sink
	Sessions *session.Store
	Recorder *recorder.Recorder
}

// Scheduler drives the full domain list to completion.
type Scheduler struct {
	cfg      config.SchedulerConfig
	variants []model.ConnectionConfig
	resolver *resolve.Resolver
	limiter  *ratelimit.Limiter
	sinks    Sinks
	factory  probe.Factory
	logger   model.Logger

	completed int64
	succeeded int64
	mu        sync.Mutex
}

// New constructs a Scheduler. variants is the ordered retry ladder
// tried for every domain; factory builds a fresh AppProtocol per
// attempt.
func New(cfg config.SchedulerConfig, variants []model.ConnectionConfig, resolver *resolve.Resolver,
	sinks Sinks, factory probe.Factory, logger model.Logger) *Scheduler {
	if logger == nil {
		logger = model.DiscardLogger
	}
	return &Scheduler{
		cfg:      cfg,
		variants: variants,
		resolver: resolver,
		limiter:  ratelimit.New(cfg.RequestsPerSecond, effectiveBurst(cfg.Burst)),
		sinks:    sinks,
		factory:  factory,
		logger:   logger,
	}
}

func effectiveBurst(burst int) int {
	if burst < 1 {
		return 1
	}
	return burst
}

// workers returns SchedulerConfig.Concurrency, or 10x the number of
// logical CPUs when it is zero, per spec.md §3.
func (s *Scheduler) workers() int {
	if s.cfg.Concurrency > 0 {
		return s.cfg.Concurrency
	}
	return 10 * runtime.NumCPU()
}

// Run fans domains out across the worker pool and blocks until every
// domain has reached a terminal ProbeRecord or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, domains []model.DomainTarget) error {
	queue := make(chan model.DomainTarget, len(domains))
	for _, d := range domains {
		queue <- d
	}
	close(queue)

	bar := s.newProgress(len(domains))
	defer s.finishProgress(bar)

	var wg sync.WaitGroup
	n := s.workers()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for domain := range queue {
				select {
				case <-ctx.Done():
					return
				default:
				}
				s.runLadder(ctx, domain)
				s.advanceProgress(bar)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// runLadder implements spec.md §4.8's per-domain algorithm: try each
// ConnectionConfig variant in order, stop on the first success, and
// record exactly one terminal ProbeRecord per domain (the success, or
// the last variant's failure once the ladder is exhausted or advancing
// stops making sense) — matching property 1's "total ProbeRecords
// written = number of domain lines". Per spec.md §9's resolved open
// question, the ladder only advances past a resolution or transport
// failure; an application-level failure (handshake completed, probe
// predicate failed) stops the ladder immediately, since trying a
// different transport variant cannot fix an application outcome.
func (s *Scheduler) runLadder(ctx context.Context, domain model.DomainTarget) {
	var last model.ProbeOutcome
	for i, cc := range s.variants {
		if ctx.Err() != nil {
			return
		}
		outcome := s.attempt(ctx, domain.Host, cc)
		last = outcome
		if outcome.Success || !advancesLadder(outcome) {
			break
		}
		if i < len(s.variants)-1 {
			select {
			case <-time.After(time.Duration(s.cfg.InterAttemptDelayMs) * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}
	s.recordOutcome(domain, last)
}

// advancesLadder reports whether a failed attempt should be followed
// by the next ConnectionConfig variant.
func advancesLadder(outcome model.ProbeOutcome) bool {
	switch model.KindOf(outcome.Err) {
	case "ResolutionError", "TransportError":
		return true
	default:
		return false
	}
}

// attempt runs one ConnectionConfig variant: acquire a rate token,
// resolve, dial, and run the probe to completion.
func (s *Scheduler) attempt(ctx context.Context, host string, cc model.ConnectionConfig) model.ProbeOutcome {
	if err := s.limiter.Acquire(ctx); err != nil {
		return model.ProbeOutcome{Success: false, Err: &model.CancelledError{Cause: err}}
	}

	endpoints, err := s.resolver.Lookup(ctx, host, cc.Port, cc.IPVersion)
	if err != nil {
		return model.ProbeOutcome{Success: false, Err: err}
	}
	endpoint := endpoints[0] // spec.md §3: "A host that resolves to multiple endpoints uses the first."

	app := s.factory(probe.Config{Host: host, Path: cc.Path, UserAgent: cc.UserAgent})
	d := driver.New(host, endpoint, cc, s.sinks.Mux, s.sinks.KeySink, s.sinks.Sessions, app, s.logger)
	return d.Run(ctx)
}

func (s *Scheduler) recordOutcome(domain model.DomainTarget, outcome model.ProbeOutcome) {
	if s.sinks.Recorder == nil {
		return
	}
	key := outcome.TraceID
	if key == "" {
		key = fmt.Sprintf("domain-%d", domain.Index)
	}
	value := map[string]any{
		"host":    domain.Host,
		"success": outcome.Success,
		"record":  outcome.Record,
	}
	if outcome.Err != nil {
		value["error"] = map[string]any{"kind": model.KindOf(outcome.Err), "message": outcome.Err.Error()}
	}
	if err := s.sinks.Recorder.Record(key, value); err != nil {
		s.logger.Warnf("scheduler: recording outcome for %s: %v", domain.Host, err)
	}
	s.mu.Lock()
	s.completed++
	if outcome.Success {
		s.succeeded++
	}
	s.mu.Unlock()
}

// progress is the minimal surface this package drives, satisfied by
// *progressbar.ProgressBar; factored out so tests can substitute a
// no-op without a real TTY.
type progress interface {
	Add(int) error
	Finish() error
}

func (s *Scheduler) newProgress(total int) progress {
	if total == 0 {
		return noopProgress{}
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return progressbar.NewOptions(total,
			progressbar.OptionSetDescription("probing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
		)
	}
	return s.newTickerProgress(total)
}

func (s *Scheduler) advanceProgress(p progress) {
	if p == nil {
		return
	}
	_ = p.Add(1)
}

func (s *Scheduler) finishProgress(p progress) {
	if p == nil {
		return
	}
	_ = p.Finish()
}

type noopProgress struct{}

func (noopProgress) Add(int) error { return nil }
func (noopProgress) Finish() error { return nil }

// tickerProgress is the non-TTY fallback of spec.md §4.8's "Progress
// reporting": a periodic textual summary logged every 5 seconds
// instead of a live redraw.
type tickerProgress struct {
	s       *Scheduler
	total   int
	done    chan struct{}
	mu      sync.Mutex
	count   int
}

func (s *Scheduler) newTickerProgress(total int) *tickerProgress {
	tp := &tickerProgress{s: s, total: total, done: make(chan struct{})}
	go tp.loop()
	return tp
}

func (tp *tickerProgress) loop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tp.log()
		case <-tp.done:
			return
		}
	}
}

func (tp *tickerProgress) log() {
	tp.mu.Lock()
	count := tp.count
	tp.mu.Unlock()
	tp.s.logger.Infof("progress: %d/%d domains probed", count, tp.total)
}

func (tp *tickerProgress) Add(n int) error {
	tp.mu.Lock()
	tp.count += n
	tp.mu.Unlock()
	return nil
}

func (tp *tickerProgress) Finish() error {
	close(tp.done)
	tp.log()
	return nil
}
