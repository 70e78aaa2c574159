package model

import (
	"errors"
	"time"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoCredential = errors.New("no device credential")
	ErrMissingID    = errors.New("missing id")
)

type EntityType string

const (
	EntityEvents           EntityType = "events"
	EntityCalendarSources  EntityType = "calendar_sources"
	EntityChoreAssignments EntityType = "chore_assignments"
)

// EntityTypes lists the tables the display subscribes to, in subscription order.
var EntityTypes = []EntityType{EntityEvents, EntityCalendarSources, EntityChoreAssignments}

func (t EntityType) Valid() bool {
	switch t {
	case EntityEvents, EntityCalendarSources, EntityChoreAssignments:
		return true
	default:
		return false
	}
}

// PartialRows reports whether change-feed rows for t omit joined data that
// the REST snapshot carries.
func (t EntityType) PartialRows() bool {
	return t == EntityChoreAssignments
}

type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

var ConnectionStatuses = []ConnectionStatus{StatusConnecting, StatusConnected, StatusDisconnected, StatusReconnecting}

// Row is implemented by every entity that can travel over the change feed.
type Row interface {
	RowID() string
}

type CalendarEvent struct {
	ID             string    `json:"id"`
	SourceID       string    `json:"source_id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description,omitempty"`
	Location       *string   `json:"location,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	AllDay         bool      `json:"all_day"`
	RecurrenceRule *string   `json:"recurrence_rule,omitempty"`
}

func (e CalendarEvent) RowID() string { return e.ID }

type CalendarSource struct {
	ID           string     `json:"id"`
	HouseholdID  string     `json:"household_id"`
	Provider     string     `json:"provider"`
	Name         string     `json:"name"`
	Color        string     `json:"color"`
	Enabled      bool       `json:"enabled"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

func (s CalendarSource) RowID() string { return s.ID }

type ChoreSummary struct {
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
	Points int    `json:"points"`
}

type UserSummary struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ChoreAssignment carries embedded Chore and User summaries when it comes from
// a REST snapshot or mutation response. Change-feed rows leave both nil.
type ChoreAssignment struct {
	ID          string        `json:"id"`
	ChoreID     string        `json:"chore_id"`
	DueDate     string        `json:"due_date"`
	AssignedTo  *string       `json:"assigned_to"`
	CompletedAt *time.Time    `json:"completed_at"`
	Chore       *ChoreSummary `json:"chore,omitempty"`
	User        *UserSummary  `json:"user,omitempty"`
}

func (a ChoreAssignment) RowID() string { return a.ID }

// HasChoreSummary reports whether the assignment carries joined chore data.
func (a ChoreAssignment) HasChoreSummary() bool {
	return a.Chore != nil && a.Chore.Title != ""
}

func (a ChoreAssignment) Completed() bool {
	return a.CompletedAt != nil
}

type WidgetToggles struct {
	Calendar bool `json:"calendar" yaml:"calendar"`
	Chores   bool `json:"chores" yaml:"chores"`
	Weather  bool `json:"weather" yaml:"weather"`
	Photos   bool `json:"photos" yaml:"photos"`
}

type DisplaySettings struct {
	Theme            string        `json:"theme" yaml:"theme"`
	Layout           string        `json:"layout" yaml:"layout"`
	ClockFormat      string        `json:"clock_format" yaml:"clock_format"`
	Widgets          WidgetToggles `json:"widgets" yaml:"widgets"`
	BurnInProtection bool          `json:"burn_in_protection" yaml:"burn_in_protection"`
	AmbientAnimation bool          `json:"ambient_animation" yaml:"ambient_animation"`
	ReloadTime       string        `json:"reload_time" yaml:"reload_time"`
}

func DefaultDisplaySettings() DisplaySettings {
	return DisplaySettings{
		Theme:       "dark",
		Layout:      "standard",
		ClockFormat: "24h",
		Widgets: WidgetToggles{
			Calendar: true,
			Chores:   true,
		},
		BurnInProtection: true,
		ReloadTime:       "03:00",
	}
}
