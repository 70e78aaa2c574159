package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/hearthboard/internal/backend"
	"github.com/agentworkforce/hearthboard/internal/model"
)

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", format)
	}
}

func (o *rootOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

// device is the identity the display acts as.
type device struct {
	token       string
	householdID string
	displayID   string
	expiresAt   time.Time
}

// resolveDevice reads the credential and fills the household and display
// from its claims unless they were given explicitly.
func resolveDevice(opts *rootOptions, now time.Time) (device, error) {
	token, err := backend.LoadToken(opts.TokenFile)
	if err != nil {
		return device{}, err
	}
	dev := device{
		token:       token,
		householdID: strings.TrimSpace(opts.HouseholdID),
		displayID:   strings.TrimSpace(opts.DisplayID),
	}
	claims, err := backend.InspectToken(token, now)
	switch {
	case err == nil:
		dev.expiresAt = claims.ExpiresAt
	case errors.Is(err, model.ErrUnauthorized):
		return device{}, err
	default:
		// Opaque credentials are allowed as long as the ids are configured.
		opts.log().Debug("device token is not a readable jwt", "error", err)
	}
	if dev.householdID == "" {
		dev.householdID = claims.HouseholdID
	}
	if dev.displayID == "" {
		dev.displayID = claims.DisplayID
	}
	if dev.householdID == "" {
		return device{}, fmt.Errorf("household is required (--household, HEARTHBOARD_HOUSEHOLD_ID or a household_id token claim)")
	}
	if dev.displayID == "" {
		return device{}, fmt.Errorf("display is required (--display, HEARTHBOARD_DISPLAY_ID or a display_id token claim)")
	}
	return dev, nil
}

func newBackendClient(opts *rootOptions, dev device) *backend.HTTPClient {
	return backend.NewHTTPClient(opts.BaseURL, dev.token, &http.Client{Timeout: opts.Timeout})
}
