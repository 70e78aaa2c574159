package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/hearthboard/internal/backend"
	"github.com/agentworkforce/hearthboard/internal/dashboard"
	"github.com/agentworkforce/hearthboard/internal/delta"
	"github.com/agentworkforce/hearthboard/internal/display"
	"github.com/agentworkforce/hearthboard/internal/maintenance"
	"github.com/agentworkforce/hearthboard/internal/metrics"
	"github.com/agentworkforce/hearthboard/internal/model"
	"github.com/agentworkforce/hearthboard/internal/realtime"
	"github.com/agentworkforce/hearthboard/internal/session"
	"github.com/agentworkforce/hearthboard/internal/settings"
)

type runOptions struct {
	*rootOptions

	FeedURL           string
	FeedChannel       string
	SettingsFile      string
	HeartbeatInterval time.Duration
	HealthInterval    time.Duration
	HealthFailures    int
	MemoryInterval    time.Duration
	MemoryLimit       string
	ReloadAt          string
	MetricsAddr       string
	Jitter            float64
	Headless          bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the display: live sync, maintenance and the dashboard UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisplay(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.FeedURL, "feed-url", strings.TrimSpace(os.Getenv("HEARTHBOARD_FEED_URL")), "change feed URL (ws, wss, postgres); defaults to the API realtime endpoint")
	flags.StringVar(&opts.FeedChannel, "feed-channel", envOrDefault("HEARTHBOARD_FEED_CHANNEL", realtime.DefaultPostgresChannel), "LISTEN channel for postgres feeds")
	flags.StringVar(&opts.SettingsFile, "settings-file", strings.TrimSpace(os.Getenv("HEARTHBOARD_SETTINGS_FILE")), "local display settings YAML overriding the server's")
	flags.DurationVar(&opts.HeartbeatInterval, "heartbeat-interval", durationEnv("HEARTHBOARD_HEARTBEAT_INTERVAL", 5*time.Minute), "heartbeat interval")
	flags.DurationVar(&opts.HealthInterval, "health-interval", durationEnv("HEARTHBOARD_HEALTH_INTERVAL", time.Minute), "health check interval")
	flags.IntVar(&opts.HealthFailures, "health-failures", intEnv("HEARTHBOARD_HEALTH_FAILURES", 3), "consecutive failed health checks before restarting")
	flags.DurationVar(&opts.MemoryInterval, "memory-interval", durationEnv("HEARTHBOARD_MEMORY_INTERVAL", time.Minute), "memory sampling interval")
	flags.StringVar(&opts.MemoryLimit, "memory-limit", strings.TrimSpace(os.Getenv("HEARTHBOARD_MEMORY_LIMIT")), "resident memory limit (e.g. 400MB or 60%); empty disables the watchdog")
	flags.StringVar(&opts.ReloadAt, "reload-at", envOrDefault("HEARTHBOARD_RELOAD_AT", maintenance.DefaultReload), "daily restart time HH:mm until display settings provide one")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", strings.TrimSpace(os.Getenv("HEARTHBOARD_METRICS_ADDR")), "address to serve /metrics on; empty disables it")
	flags.Float64Var(&opts.Jitter, "interval-jitter", floatEnv("HEARTHBOARD_INTERVAL_JITTER", 0.1), "maintenance interval jitter ratio (0.0-1.0)")
	flags.BoolVar(&opts.Headless, "headless", boolEnv("HEARTHBOARD_HEADLESS", false), "sync without drawing the dashboard")
	return cmd
}

func runDisplay(parent context.Context, opts *runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := opts.log()
	if _, _, err := maintenance.ParseClock(opts.ReloadAt); err != nil {
		return err
	}
	dev, err := resolveDevice(opts.rootOptions, time.Now())
	if err != nil {
		return err
	}
	memoryLimit, err := maintenance.ParseMemoryLimit(opts.MemoryLimit, maintenance.TotalMemory)
	if err != nil {
		return err
	}
	feedURL := opts.FeedURL
	if feedURL == "" {
		if feedURL, err = defaultFeedURL(opts.BaseURL); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	decoder, err := delta.NewDecoder()
	if err != nil {
		return err
	}
	store := dashboard.NewStore(dashboard.StoreOptions{Logger: logger.With("component", "store"), Metrics: m})
	client := newBackendClient(opts.rootOptions, dev)
	dialer, err := realtime.BuildDialerFromURL(feedURL, realtime.DialerOptions{
		Token:       dev.token,
		HouseholdID: dev.householdID,
		Channel:     opts.FeedChannel,
	})
	if err != nil {
		return err
	}

	var sess *session.Session
	sup := realtime.NewSupervisor(realtime.SupervisorOptions{
		Dialer: dialer,
		OnStatus: func(status model.ConnectionStatus) {
			if sess != nil {
				sess.OnStatus(status)
			}
		},
		Logger:  logger.With("component", "feed"),
		Metrics: m,
	})
	sess, err = session.New(session.Options{
		Store:       store,
		Backend:     client,
		Feed:        sup,
		Decoder:     decoder,
		HouseholdID: dev.householdID,
		DisplayID:   dev.displayID,
		Logger:      logger.With("component", "session"),
		Metrics:     m,
		Timeout:     opts.Timeout,
	})
	if err != nil {
		return err
	}
	if opts.SettingsFile != "" {
		local, err := settings.Load(opts.SettingsFile)
		switch {
		case err == nil:
			sess.ApplyLocalSettings(local)
		case errors.Is(err, os.ErrNotExist):
			logger.Info("local settings file not found; using server settings", "path", opts.SettingsFile)
		default:
			return err
		}
	}

	sigCtx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	restarter := maintenance.NewRestarter(cancel, logger, m)

	link := &linkMonitor{feed: sup, check: client.Health, logger: logger.With("component", "link")}
	sched := maintenance.NewScheduler(maintenance.Options{
		Heartbeat: func(ctx context.Context) error {
			return client.Heartbeat(ctx, dev.displayID)
		},
		HeartbeatInterval: opts.HeartbeatInterval,
		Health:            link.Check,
		FeedStatus:        sup.Status,
		HealthInterval:    opts.HealthInterval,
		HealthPolicy:      maintenance.FailureThreshold(opts.HealthFailures),
		MemoryInterval:    opts.MemoryInterval,
		MemoryLimit:       memoryLimit,
		ReloadAt:          opts.ReloadAt,
		Recover:           restarter.Restart,
		Jitter:            opts.Jitter,
		Timeout:           opts.Timeout,
		Logger:            logger.With("component", "maintenance"),
		Metrics:           m,
	})

	attrs := []any{
		"household", dev.householdID,
		"display", dev.displayID,
		"feed", redactURL(feedURL),
		"reload_at", opts.ReloadAt,
	}
	if memoryLimit > 0 {
		attrs = append(attrs, "memory_limit", humanize.IBytes(memoryLimit))
	}
	if !dev.expiresAt.IsZero() {
		attrs = append(attrs, "token_expires", dev.expiresAt.Format(time.RFC3339))
	}
	logger.Info("display starting", attrs...)

	sup.Start()
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		followReloadTime(gctx, store, sched, logger)
		return nil
	})
	if opts.SettingsFile != "" {
		g.Go(func() error {
			err := settings.Watch(gctx, opts.SettingsFile, settings.DefaultDebounce, logger.With("component", "settings"), sess.ApplyLocalSettings)
			if err != nil {
				logger.Warn("settings watcher stopped", "error", err)
			}
			return nil
		})
	}
	if opts.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, opts.MetricsAddr, reg, logger)
		})
	}
	if !opts.Headless {
		g.Go(func() error {
			defer cancel()
			return runUI(gctx, sess, store)
		})
	}

	err = g.Wait()
	sched.Stop()
	sup.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if reason, ok := restarter.Requested(); ok {
		logger.Info("re-executing display", "reason", reason)
		if err := maintenance.Reexec(); err != nil {
			return fmt.Errorf("restart after %s failed: %w", reason, err)
		}
	}
	return nil
}

func runUI(ctx context.Context, sess *session.Session, store *dashboard.Store) error {
	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()
	program := tea.NewProgram(
		display.New(sess, store.State(), updates),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// followReloadTime keeps the scheduled reload in step with the display
// settings once they are known.
func followReloadTime(ctx context.Context, store *dashboard.Store, sched *maintenance.Scheduler, logger *slog.Logger) {
	updates, unsubscribe := store.Subscribe()
	defer unsubscribe()
	current := ""
	apply := func(st dashboard.State) {
		if !st.SettingsLoaded {
			return
		}
		at := strings.TrimSpace(st.Settings.ReloadTime)
		if at == "" || at == current {
			return
		}
		if _, _, err := maintenance.ParseClock(at); err != nil {
			logger.Warn("ignoring invalid reload time from settings", "reload_at", at, "error", err)
			return
		}
		current = at
		sched.SetReloadTime(at)
		logger.Info("scheduled reload moved", "reload_at", at, "next", sched.NextReload().Format(time.RFC3339))
	}
	apply(store.State())
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			apply(st)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// linkFeed is the part of the supervisor driven by network reachability.
type linkFeed interface {
	Offline()
	Online()
}

// linkMonitor turns the API health check into offline/online signals for the
// change feed. An unreachable network is not a fault of this process, so it
// does not count toward the health restart policy.
type linkMonitor struct {
	feed   linkFeed
	check  func(ctx context.Context) error
	logger *slog.Logger

	mu      sync.Mutex
	offline bool
}

func (l *linkMonitor) Check(ctx context.Context) error {
	err := l.check(ctx)
	var netErr net.Error
	unreachable := err != nil && errors.As(err, &netErr) && ctx.Err() == nil

	l.mu.Lock()
	changed := unreachable != l.offline
	l.offline = unreachable
	l.mu.Unlock()

	if changed {
		if unreachable {
			l.logger.Warn("network unreachable; pausing change feed", "error", err)
			l.feed.Offline()
		} else {
			l.logger.Info("network reachable again; resuming change feed")
			l.feed.Online()
		}
	}
	if unreachable {
		return nil
	}
	return err
}

// defaultFeedURL derives the websocket endpoint from the API base URL.
func defaultFeedURL(baseURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("cannot derive a feed url from base url %q", baseURL)
	}
	parsed.Path = path.Join("/", parsed.Path, "v1", "realtime")
	parsed.RawQuery = ""
	return parsed.String(), nil
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return parsed.Redacted()
}

var _ session.Backend = (*backend.HTTPClient)(nil)
