package maintenance

import (
	"log/slog"
	"sync"

	"github.com/agentworkforce/hearthboard/internal/metrics"
)

// Restarter turns the first recovery request into a process shutdown. The
// caller re-execs once every component has stopped; see Reexec.
type Restarter struct {
	shutdown func()
	logger   *slog.Logger
	metrics  *metrics.Collectors

	once   sync.Once
	mu     sync.Mutex
	reason string
}

func NewRestarter(shutdown func(), logger *slog.Logger, m *metrics.Collectors) *Restarter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restarter{shutdown: shutdown, logger: logger, metrics: m}
}

// Restart requests a full restart. Only the first request counts.
func (r *Restarter) Restart(reason string) {
	r.once.Do(func() {
		r.mu.Lock()
		r.reason = reason
		r.mu.Unlock()
		r.logger.Error("restarting display", "reason", reason)
		r.metrics.Restart(reason)
		if r.shutdown != nil {
			r.shutdown()
		}
	})
}

// Requested reports the reason of the restart request, if any.
func (r *Restarter) Requested() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason, r.reason != ""
}
