package display

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7AA2F7")
	colorMuted   = lipgloss.Color("#666666")
	colorSuccess = lipgloss.Color("#2ECC71")
	colorWarning = lipgloss.Color("#F39C12")
	colorError   = lipgloss.Color("#E74C3C")
	colorSubtle  = lipgloss.Color("#414868")
	colorDarkFg  = lipgloss.Color("#C0CAF5")
	colorLightFg = lipgloss.Color("#1A1B26")
)

var (
	clockStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			MarginBottom(1)

	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	doneStyle     = lipgloss.NewStyle().Foreground(colorSuccess).Strikethrough(true)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)

	warnBannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(colorWarning).
			Padding(0, 1)

	errorBannerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(colorError).
				Padding(0, 1)

	statusStyle = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
)

func textStyle(theme string) lipgloss.Style {
	if theme == "light" {
		return lipgloss.NewStyle().Foreground(colorLightFg)
	}
	return lipgloss.NewStyle().Foreground(colorDarkFg)
}
