package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/hearthboard/internal/model"
)

const exitNeedsPairing = 3

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hearthboard-display:", err)
		if errors.Is(err, model.ErrNoCredential) || errors.Is(err, model.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "this display needs to be paired with a household")
			os.Exit(exitNeedsPairing)
		}
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	BaseURL     string
	TokenFile   string
	HouseholdID string
	DisplayID   string
	Timeout     time.Duration
	LogLevel    string
	LogFormat   string

	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hearthboard-display",
		Short:         "Household wall display kept in sync with the hearthboard API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.BaseURL, "base-url", envOrDefault("HEARTHBOARD_BASE_URL", "http://127.0.0.1:8080"), "hearthboard API base URL")
	flags.StringVar(&opts.TokenFile, "token-file", envOrDefault("HEARTHBOARD_TOKEN_FILE", "/etc/hearthboard/device.token"), "device credential file")
	flags.StringVar(&opts.HouseholdID, "household", strings.TrimSpace(os.Getenv("HEARTHBOARD_HOUSEHOLD_ID")), "household ID (defaults to the token claim)")
	flags.StringVar(&opts.DisplayID, "display", strings.TrimSpace(os.Getenv("HEARTHBOARD_DISPLAY_ID")), "display ID (defaults to the token claim)")
	flags.DurationVar(&opts.Timeout, "timeout", durationEnv("HEARTHBOARD_TIMEOUT", 15*time.Second), "per-request timeout")
	flags.StringVar(&opts.LogLevel, "log-level", envOrDefault("HEARTHBOARD_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	flags.StringVar(&opts.LogFormat, "log-format", envOrDefault("HEARTHBOARD_LOG_FORMAT", "text"), "log format (text|json)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newSnapshotCommand(opts))
	cmd.AddCommand(newNextReloadCommand(opts))
	return cmd
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration, using fallback", "name", name, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid number, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid boolean, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}
