package status

import "github.com/charmbracelet/lipgloss"

// Mode colors. Amber marks a transition in flight.
var (
	colorOn      = lipgloss.Color("#22C55E")
	colorBusy    = lipgloss.Color("#EAB308")
	colorFail    = lipgloss.Color("#EF4444")
	colorOff     = lipgloss.Color("#6B7280")
	colorPrimary = lipgloss.Color("#4A9EFF")
	colorDim     = lipgloss.Color("#9CA3AF")
	colorWhite   = lipgloss.Color("#F9FAFB")
)

// Monitor frame and section styles.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorDim)

	sectionNameStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorWhite).
				MarginTop(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(colorDim)

	modeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1).
			MarginBottom(1)

	onStyle       = lipgloss.NewStyle().Bold(true).Foreground(colorOn)
	busyStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorBusy)
	failStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorFail)
	offStyle      = lipgloss.NewStyle().Foreground(colorOff)
	dimStyle      = lipgloss.NewStyle().Foreground(colorDim)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
)
