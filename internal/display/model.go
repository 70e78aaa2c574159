// Package display renders the household dashboard in a terminal.
package display

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agentworkforce/hearthboard/internal/dashboard"
	"github.com/agentworkforce/hearthboard/internal/model"
	"github.com/agentworkforce/hearthboard/internal/session"
)

const writeTimeout = 15 * time.Second

// Controller is the slice of the display session the UI drives.
type Controller interface {
	Banner() session.Banner
	RetryNow()
	Refresh()
	CompleteChore(ctx context.Context, assignmentID string) error
	UncompleteChore(ctx context.Context, assignmentID string) error
}

type stateMsg dashboard.State

type tickMsg time.Time

type writeDoneMsg struct {
	title string
	err   error
}

type Model struct {
	ctrl    Controller
	updates <-chan dashboard.State
	now     func() time.Time

	state    dashboard.State
	banner   session.Banner
	clock    time.Time
	cursor   int
	width    int
	height   int
	help     help.Model
	showHelp bool
	status   string
}

// New builds the root model. updates is usually a dashboard.Store
// subscription; the program stops listening when it is closed.
func New(ctrl Controller, initial dashboard.State, updates <-chan dashboard.State) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		ctrl:    ctrl,
		updates: updates,
		now:     time.Now,
		state:   initial,
		help:    h,
	}
	m.clock = m.now()
	if ctrl != nil {
		m.banner = ctrl.Banner()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForState(m.updates), tickCmd())
}

func waitForState(updates <-chan dashboard.State) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return nil
		}
		return stateMsg(st)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case stateMsg:
		m.state = dashboard.State(msg)
		m.clampCursor()
		return m, waitForState(m.updates)

	case tickMsg:
		m.clock = time.Time(msg)
		if m.ctrl != nil {
			m.banner = m.ctrl.Banner()
		}
		return m, tickCmd()

	case writeDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Could not update %q: %v", msg.title, msg.err)
		} else {
			m.status = fmt.Sprintf("Updated %q", msg.title)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			return m, nil
		case key.Matches(msg, keys.Retry):
			if m.ctrl != nil {
				m.ctrl.RetryNow()
				m.banner = m.ctrl.Banner()
			}
			m.status = "Reconnecting…"
			return m, nil
		case key.Matches(msg, keys.Refresh):
			if m.ctrl != nil {
				m.ctrl.Refresh()
			}
			return m, nil
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.state.ChoreList())-1 {
				m.cursor++
			}
			return m, nil
		case key.Matches(msg, keys.Toggle):
			return m, m.toggleSelected()
		}
	}
	return m, nil
}

func (m *Model) clampCursor() {
	n := len(m.state.ChoreList())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) toggleSelected() tea.Cmd {
	chores := m.state.ChoreList()
	if m.ctrl == nil || m.cursor >= len(chores) {
		return nil
	}
	asg := chores[m.cursor]
	title := choreTitle(asg)
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		var err error
		if asg.Completed() {
			err = ctrl.UncompleteChore(ctx, asg.ID)
		} else {
			err = ctrl.CompleteChore(ctx, asg.ID)
		}
		return writeDoneMsg{title: title, err: err}
	}
}

func (m Model) View() string {
	settings := m.state.Settings
	if !m.state.SettingsLoaded {
		settings = model.DefaultDisplaySettings()
	}
	text := textStyle(settings.Theme)

	var sections []string
	sections = append(sections, clockStyle.Render(formatClock(m.clock, settings.ClockFormat)))
	if line := bannerLine(m.banner, m.clock); line != "" {
		sections = append(sections, line)
	}

	var panels []string
	if settings.Widgets.Calendar {
		panels = append(panels, panelStyle.Render(m.eventsView(text, settings.ClockFormat)))
	}
	if settings.Widgets.Chores {
		panels = append(panels, panelStyle.Render(m.choresView(text)))
	}
	if len(panels) > 0 {
		if settings.Layout == "compact" {
			sections = append(sections, lipgloss.JoinVertical(lipgloss.Left, panels...))
		} else {
			sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, panels...))
		}
	}

	footer := mutedStyle.Render("updated " + relative(m.state.LastUpdated, m.clock))
	if m.status != "" {
		footer += "  " + statusStyle.Render(m.status)
	}
	sections = append(sections, footer, m.help.View(keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) eventsView(text lipgloss.Style, clockFormat string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Calendar"))
	b.WriteString("\n")
	events := m.state.EventList()
	if len(events) == 0 {
		b.WriteString(mutedStyle.Render("Nothing scheduled"))
		return b.String()
	}
	for i, ev := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		when := "all day"
		if !ev.AllDay {
			when = formatEventTime(ev.StartTime.In(m.clock.Location()), clockFormat)
		}
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%-8s", when)))
		b.WriteString(" ")
		b.WriteString(text.Render(ev.Title))
	}
	return b.String()
}

func (m Model) choresView(text lipgloss.Style) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Chores"))
	b.WriteString("\n")
	chores := m.state.ChoreList()
	if len(chores) == 0 {
		b.WriteString(mutedStyle.Render("All clear"))
		return b.String()
	}
	for i, asg := range chores {
		if i > 0 {
			b.WriteString("\n")
		}
		marker := "[ ]"
		line := text.Render(choreTitle(asg))
		if asg.Completed() {
			marker = "[x]"
			line = doneStyle.Render(choreTitle(asg))
		}
		if asg.User != nil && asg.User.DisplayName != "" {
			line += mutedStyle.Render(" · " + asg.User.DisplayName)
		}
		prefix := "  "
		if i == m.cursor {
			prefix = selectedStyle.Render("> ")
		}
		b.WriteString(prefix + marker + " " + line)
	}
	return b.String()
}

func choreTitle(asg model.ChoreAssignment) string {
	if asg.HasChoreSummary() {
		return asg.Chore.Title
	}
	return "Chore " + asg.ChoreID
}

// bannerLine describes a connection problem; empty when connected.
func bannerLine(b session.Banner, now time.Time) string {
	if !b.Visible() {
		return ""
	}
	if b.NeedsPairing {
		return errorBannerStyle.Render("This display needs to be paired again")
	}
	switch b.Status {
	case model.StatusReconnecting:
		if !b.RetryAt.IsZero() {
			wait := b.RetryAt.Sub(now).Round(time.Second)
			if wait < 0 {
				wait = 0
			}
			return warnBannerStyle.Render(fmt.Sprintf("Connection lost. Reconnecting in %s (r to retry now)", wait))
		}
		return warnBannerStyle.Render("Connection lost. Reconnecting… (r to retry now)")
	case model.StatusConnecting:
		return warnBannerStyle.Render("Connecting…")
	default:
		return warnBannerStyle.Render("Offline (r to retry)")
	}
}

func formatClock(t time.Time, format string) string {
	if format == "12h" {
		return t.Format("3:04 PM · Mon Jan 2")
	}
	return t.Format("15:04 · Mon Jan 2")
}

func formatEventTime(t time.Time, format string) string {
	if format == "12h" {
		return t.Format("3:04 PM")
	}
	return t.Format("15:04")
}

func relative(then, now time.Time) string {
	if then.IsZero() {
		return "never"
	}
	d := now.Sub(then)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return then.Format("15:04")
	}
}
