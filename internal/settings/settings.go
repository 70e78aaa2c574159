// Package settings reads the optional local display-settings file and
// watches it for edits.
package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/hearthboard/internal/maintenance"
	"github.com/agentworkforce/hearthboard/internal/model"
)

const DefaultDebounce = 250 * time.Millisecond

// Load reads a YAML settings file. Keys missing from the file keep their
// default values. Unknown keys are rejected so typos do not go unnoticed.
func Load(path string) (model.DisplaySettings, error) {
	settings := model.DefaultDisplaySettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil && !errors.Is(err, io.EOF) {
		return model.DefaultDisplaySettings(), fmt.Errorf("parse %s: %w", path, err)
	}
	if settings.ReloadTime != "" {
		if _, _, err := maintenance.ParseClock(settings.ReloadTime); err != nil {
			return model.DefaultDisplaySettings(), fmt.Errorf("parse %s: reload_time: %w", path, err)
		}
	}
	return settings, nil
}

// Watch calls onChange with freshly loaded settings whenever the file is
// written, created or replaced, until ctx is done. Bursts of events within
// debounce are collapsed into one reload. Invalid files are logged and
// skipped.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func(model.DisplaySettings)) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", "error", err)
		case <-fire:
			fire = nil
			settings, err := Load(abs)
			if err != nil {
				logger.Warn("ignoring settings file change", "path", abs, "error", err)
				continue
			}
			logger.Info("local settings reloaded", "path", abs)
			onChange(settings)
		}
	}
}
