// Package maintenance keeps an unattended display healthy: it sends
// heartbeats, checks API health, watches memory and restarts the process
// at a configured time of day.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/agentworkforce/hearthboard/internal/metrics"
	"github.com/agentworkforce/hearthboard/internal/model"
)

const (
	ReasonHealth   = "health"
	ReasonMemory   = "memory"
	ReasonReload   = "scheduled_reload"
	DefaultReload  = "03:00"
	defaultTimeout = 15 * time.Second
)

// HealthPolicy decides when failed health checks warrant a restart.
type HealthPolicy interface {
	// Observe records one check result and reports whether to recover.
	Observe(err error) bool
}

type consecutiveFailures struct {
	threshold int
	count     int
}

// FailureThreshold recovers after n consecutive failed checks.
func FailureThreshold(n int) HealthPolicy {
	if n <= 0 {
		n = 1
	}
	return &consecutiveFailures{threshold: n}
}

func (p *consecutiveFailures) Observe(err error) bool {
	if err == nil {
		p.count = 0
		return false
	}
	p.count++
	if p.count >= p.threshold {
		p.count = 0
		return true
	}
	return false
}

type Options struct {
	Heartbeat         func(ctx context.Context) error
	HeartbeatInterval time.Duration

	Health         func(ctx context.Context) error
	HealthInterval time.Duration
	HealthPolicy   HealthPolicy
	// FeedStatus reports the change feed state. A feed stuck connecting or
	// reconnecting fails the health check even when the API answers.
	// Disconnected is a deliberate state (offline, unauthorized, stopped)
	// and does not count.
	FeedStatus func() model.ConnectionStatus

	SampleMemory   func() (uint64, error)
	MemoryInterval time.Duration
	// MemoryLimit in bytes; zero disables the watchdog.
	MemoryLimit uint64

	// ReloadAt is the daily restart time as HH:mm; empty disables it.
	ReloadAt string

	// Recover performs the restart. It is called from the scheduler's own
	// goroutines and may be called more than once.
	Recover func(reason string)

	Jitter  float64
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Collectors

	now func() time.Time
}

type Scheduler struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	reloadAt   string
	nextReload time.Time
	reloadCh   chan string

	// Owned by the health goroutine.
	healthFailures int
}

func NewScheduler(opts Options) *Scheduler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Minute
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = time.Minute
	}
	if opts.HealthPolicy == nil {
		opts.HealthPolicy = FailureThreshold(3)
	}
	if opts.MemoryInterval <= 0 {
		opts.MemoryInterval = time.Minute
	}
	if opts.SampleMemory == nil {
		opts.SampleMemory = ResidentMemory
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.Recover == nil {
		opts.Recover = func(string) {}
	}
	opts.Jitter = ClampJitterRatio(opts.Jitter)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		opts:     opts,
		logger:   logger,
		reloadAt: opts.ReloadAt,
		reloadCh: make(chan string, 1),
	}
}

// Start launches the four obligations. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.opts.Heartbeat != nil {
		s.spawn(func() { s.every(ctx, s.opts.HeartbeatInterval, s.heartbeat) })
	}
	if s.opts.Health != nil || s.opts.FeedStatus != nil {
		s.spawn(func() { s.every(ctx, s.opts.HealthInterval, s.health) })
	}
	if s.opts.MemoryLimit > 0 {
		s.spawn(func() { s.every(ctx, s.opts.MemoryInterval, s.memory) })
	}
	reloadAt := s.reloadAt
	s.spawn(func() { s.reloadLoop(ctx, reloadAt) })
}

// Stop cancels every timer and waits for in-flight work to return. No
// callback runs after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// SetReloadTime reschedules the daily restart. An empty value disables it.
func (s *Scheduler) SetReloadTime(at string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at == s.reloadAt {
		return
	}
	s.reloadAt = at
	select {
	case <-s.reloadCh:
	default:
	}
	s.reloadCh <- at
}

// NextReload reports the pending scheduled restart; zero when none is set.
func (s *Scheduler) NextReload() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextReload
}

func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(JitteredInterval(interval, s.opts.Jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			tick(ctx)
			timer.Reset(JitteredInterval(interval, s.opts.Jitter, rng.Float64()))
		}
	}
}

func (s *Scheduler) heartbeat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	err := s.opts.Heartbeat(ctx)
	s.opts.Metrics.Heartbeat(err)
	if err != nil {
		s.logger.Debug("heartbeat failed", "error", err)
	}
}

func (s *Scheduler) health(ctx context.Context) {
	var err error
	if s.opts.Health != nil {
		checkCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		err = s.opts.Health(checkCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
	}
	if err == nil {
		err = s.feedHealth()
	}
	if err != nil {
		s.healthFailures++
		s.logger.Warn("health check failed", "consecutive", s.healthFailures, "error", err)
	} else {
		s.healthFailures = 0
	}
	s.opts.Metrics.HealthFailures(s.healthFailures)
	if s.opts.HealthPolicy.Observe(err) {
		s.opts.Recover(ReasonHealth)
	}
}

func (s *Scheduler) feedHealth() error {
	if s.opts.FeedStatus == nil {
		return nil
	}
	switch st := s.opts.FeedStatus(); st {
	case model.StatusConnecting, model.StatusReconnecting:
		return fmt.Errorf("change feed %s", st)
	}
	return nil
}

func (s *Scheduler) memory(context.Context) {
	used, err := s.opts.SampleMemory()
	if err != nil {
		s.logger.Warn("memory sample failed", "error", err)
		return
	}
	s.opts.Metrics.MemorySample(used)
	if used >= s.opts.MemoryLimit {
		s.logger.Error("memory limit exceeded",
			"used", humanize.IBytes(used),
			"limit", humanize.IBytes(s.opts.MemoryLimit),
		)
		s.opts.Recover(ReasonMemory)
	}
}

func (s *Scheduler) reloadLoop(ctx context.Context, at string) {
	for {
		var fire <-chan time.Time
		var timer *time.Timer
		next := time.Time{}
		if at != "" {
			now := s.opts.now()
			var err error
			next, err = NextReload(now, at)
			if err != nil {
				s.logger.Warn("ignoring invalid reload time", "reload_at", at, "error", err)
				next = time.Time{}
			} else {
				timer = time.NewTimer(next.Sub(now))
				fire = timer.C
				s.logger.Info("scheduled reload", "at", next.Format(time.RFC3339))
			}
		}
		s.mu.Lock()
		s.nextReload = next
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case at = <-s.reloadCh:
			stopTimer(timer)
		case <-fire:
			s.opts.Recover(ReasonReload)
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
