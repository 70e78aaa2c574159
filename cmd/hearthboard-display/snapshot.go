package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/hearthboard/internal/dashboard"
	"github.com/agentworkforce/hearthboard/internal/delta"
	"github.com/agentworkforce/hearthboard/internal/maintenance"
	"github.com/agentworkforce/hearthboard/internal/model"
	"github.com/agentworkforce/hearthboard/internal/session"
)

type snapshotOutput struct {
	HouseholdID     string                   `json:"householdId"`
	DisplayID       string                   `json:"displayId"`
	LastUpdated     time.Time                `json:"lastUpdated"`
	Partial         bool                     `json:"partial"`
	Settings        model.DisplaySettings    `json:"settings"`
	CalendarSources []model.CalendarSource   `json:"calendarSources"`
	Events          []model.CalendarEvent    `json:"events"`
	Chores          []model.ChoreAssignment  `json:"chores"`
	Counts          map[model.EntityType]int `json:"counts"`
}

func newSnapshotCommand(rootOpts *rootOptions) *cobra.Command {
	var allowPartial bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the household state once and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			dev, err := resolveDevice(rootOpts, time.Now())
			if err != nil {
				return err
			}
			decoder, err := delta.NewDecoder()
			if err != nil {
				return err
			}
			store := dashboard.NewStore(dashboard.StoreOptions{Logger: rootOpts.log()})
			sess, err := session.New(session.Options{
				Store:       store,
				Backend:     newBackendClient(rootOpts, dev),
				Decoder:     decoder,
				HouseholdID: dev.householdID,
				DisplayID:   dev.displayID,
				Logger:      rootOpts.log(),
				Timeout:     rootOpts.Timeout,
			})
			if err != nil {
				return err
			}
			if err := sess.Sync(ctx); err != nil {
				if !allowPartial {
					return err
				}
				rootOpts.log().Warn("snapshot incomplete", "error", err)
			}

			st := store.State()
			out := snapshotOutput{
				HouseholdID:     dev.householdID,
				DisplayID:       dev.displayID,
				LastUpdated:     st.LastUpdated,
				Partial:         st.Partial,
				Settings:        st.Settings,
				CalendarSources: st.SourceList(),
				Events:          st.EventList(),
				Chores:          st.ChoreList(),
				Counts:          st.Counts(),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "print whatever loaded even if some collections failed")
	return cmd
}

func newNextReloadCommand(rootOpts *rootOptions) *cobra.Command {
	var at, nowRaw string
	cmd := &cobra.Command{
		Use:   "next-reload",
		Short: "Print when the scheduled daily reload will next fire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if nowRaw != "" {
				parsed, err := time.Parse(time.RFC3339, nowRaw)
				if err != nil {
					return fmt.Errorf("invalid --now %q: %w", nowRaw, err)
				}
				now = parsed
			}
			next, err := maintenance.NextReload(now, at)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", next.Format(time.RFC3339), humanize.RelTime(next, now, "ago", "from now"))
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", envOrDefault("HEARTHBOARD_RELOAD_AT", maintenance.DefaultReload), "reload time HH:mm")
	cmd.Flags().StringVar(&nowRaw, "now", "", "reference time (RFC 3339); defaults to the current time")
	return cmd
}
