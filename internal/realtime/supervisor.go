// Package realtime maintains the display's change-feed connection.
//
// A Supervisor owns at most one connection at a time. When a connection
// fails or drops it schedules a retry from a fixed backoff table; retries
// continue indefinitely except after an authentication failure, which needs
// the device to be paired again. Raw feed frames are delivered on
// Supervisor.Messages; the supervisor never interprets them.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentworkforce/hearthboard/internal/metrics"
	"github.com/agentworkforce/hearthboard/internal/model"
)

// DefaultBackoff is the reconnect delay table. The last entry repeats.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// BackoffDelay returns the delay before reconnect attempt number attempt
// (zero based).
func BackoffDelay(table []time.Duration, attempt int) time.Duration {
	if len(table) == 0 {
		table = DefaultBackoff
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(table) {
		attempt = len(table) - 1
	}
	return table[attempt]
}

// Conn is one open change-feed connection.
type Conn interface {
	// Read blocks until the next frame arrives, the connection fails or ctx
	// is done.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

type timerHandle interface {
	Stop() bool
}

type SupervisorOptions struct {
	Dialer  Dialer
	Backoff []time.Duration
	// OnStatus is called with the supervisor's lock held, in order, for
	// every status change. It must not call back into the Supervisor.
	OnStatus func(model.ConnectionStatus)
	// OnError receives every connection failure for logging or telemetry.
	OnError func(error)
	Logger  *slog.Logger
	Metrics *metrics.Collectors
	// Buffer is the capacity of the Messages channel.
	Buffer int

	afterFunc func(time.Duration, func()) timerHandle
	now       func() time.Time
}

type Supervisor struct {
	dialer    Dialer
	backoff   []time.Duration
	onStatus  func(model.ConnectionStatus)
	onError   func(error)
	logger    *slog.Logger
	metrics   *metrics.Collectors
	afterFunc func(time.Duration, func()) timerHandle
	now       func() time.Time

	mu           sync.Mutex
	status       model.ConnectionStatus
	attempt      int
	generation   uint64
	timer        timerHandle
	retryAt      time.Time
	cancelConn   context.CancelFunc
	offline      bool
	stopped      bool
	unauthorized bool
	lastErr      error

	wg        sync.WaitGroup
	messages  chan []byte
	closeOnce sync.Once
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	backoff := opts.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	afterFunc := opts.afterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) timerHandle { return time.AfterFunc(d, f) }
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		dialer:    opts.Dialer,
		backoff:   append([]time.Duration(nil), backoff...),
		onStatus:  opts.OnStatus,
		onError:   opts.OnError,
		logger:    logger,
		metrics:   opts.Metrics,
		afterFunc: afterFunc,
		now:       now,
		status:    model.StatusDisconnected,
		messages:  make(chan []byte, buffer),
	}
}

// Messages delivers raw frames in receipt order. It is closed by Stop.
func (s *Supervisor) Messages() <-chan []byte {
	return s.messages
}

func (s *Supervisor) Status() model.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RetryAt reports when the pending reconnect fires; zero when none is pending.
func (s *Supervisor) RetryAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryAt
}

// Unauthorized reports whether the last failure rejected the device credential.
func (s *Supervisor) Unauthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unauthorized
}

func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start opens a connection, replacing any current one.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

// RetryNow abandons any pending backoff and connects immediately with the
// attempt counter reset. It also clears an authentication failure, for use
// after the credential has been replaced. A healthy connection is kept.
func (s *Supervisor) RetryNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.status == model.StatusConnected && !s.unauthorized {
		return
	}
	s.attempt = 0
	s.unauthorized = false
	s.startLocked()
}

// Offline forces the disconnected status and suppresses retries until Online.
func (s *Supervisor) Offline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.offline = true
	s.cancelTimerLocked()
	s.closeConnLocked()
	s.setStatusLocked(model.StatusDisconnected)
}

// Online lifts the offline suppression. A disconnected supervisor reconnects
// immediately with the attempt counter reset.
func (s *Supervisor) Online() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.offline = false
	if s.status == model.StatusDisconnected && !s.unauthorized {
		s.attempt = 0
		s.startLocked()
	}
}

// Stop cancels any pending reconnect, closes the active connection, waits
// for the connection goroutine to exit and closes Messages. Stop is
// idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.cancelTimerLocked()
		s.closeConnLocked()
		s.setStatusLocked(model.StatusDisconnected)
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.closeOnce.Do(func() { close(s.messages) })
}

func (s *Supervisor) startLocked() {
	if s.stopped || s.offline || s.dialer == nil {
		return
	}
	s.cancelTimerLocked()
	s.closeConnLocked()
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelConn = cancel
	if s.status != model.StatusReconnecting {
		s.setStatusLocked(model.StatusConnecting)
	}
	s.wg.Add(1)
	go s.run(ctx, gen)
}

func (s *Supervisor) run(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.onDisconnect(gen, err)
		return
	}
	defer conn.Close()
	if !s.onConnect(gen) {
		return
	}
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.onDisconnect(gen, err)
			return
		}
		select {
		case s.messages <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) onConnect(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.stopped {
		return false
	}
	s.attempt = 0
	s.unauthorized = false
	s.lastErr = nil
	s.retryAt = time.Time{}
	s.setStatusLocked(model.StatusConnected)
	s.logger.Info("change feed connected")
	return true
}

func (s *Supervisor) onDisconnect(gen uint64, err error) {
	if err == nil {
		err = errors.New("connection closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.stopped {
		return
	}
	s.lastErr = err
	if s.onError != nil {
		s.onError(err)
	}
	s.cancelTimerLocked()
	s.closeConnLocked()
	if errors.Is(err, model.ErrUnauthorized) {
		s.unauthorized = true
		s.setStatusLocked(model.StatusDisconnected)
		s.logger.Error("change feed rejected device credential; not retrying", "error", err)
		return
	}
	if s.offline {
		s.setStatusLocked(model.StatusDisconnected)
		return
	}
	s.setStatusLocked(model.StatusReconnecting)
	delay := BackoffDelay(s.backoff, s.attempt)
	s.attempt++
	s.retryAt = s.now().Add(delay)
	s.metrics.ReconnectScheduled()
	s.logger.Warn("change feed disconnected; retrying",
		"attempt", s.attempt,
		"delay", delay,
		"error", err,
	)
	retryGen := s.generation
	s.timer = s.afterFunc(delay, func() { s.retry(retryGen) })
}

func (s *Supervisor) retry(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.stopped || s.offline {
		return
	}
	s.timer = nil
	s.retryAt = time.Time{}
	s.startLocked()
}

func (s *Supervisor) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.retryAt = time.Time{}
}

func (s *Supervisor) closeConnLocked() {
	if s.cancelConn != nil {
		s.cancelConn()
		s.cancelConn = nil
	}
	// Bump the generation so callbacks from the abandoned connection are
	// ignored.
	s.generation++
}

func (s *Supervisor) setStatusLocked(status model.ConnectionStatus) {
	if s.status == status {
		return
	}
	s.status = status
	s.metrics.SetConnectionStatus(status)
	if s.onStatus != nil {
		s.onStatus(status)
	}
}
