package bell

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	colorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	colorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	colorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	colorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			Background(colorBlue).
			Padding(0, 1)

	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			Background(colorRed).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().PaddingLeft(2)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Bold(true).
				Foreground(colorBlue).
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(colorBlue)

	unreadMarkStyle = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	dimmedStyle     = lipgloss.NewStyle().Foreground(colorGray)

	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorYellow).
			Padding(0, 1)

	toastStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	errorToastStyle = toastStyle.BorderForeground(colorRed)
	helpStyle       = lipgloss.NewStyle().Foreground(colorGray).Italic(true)
)

// stateStyle colours the connection indicator.
func stateStyle(connected, failed bool) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch {
	case connected:
		return base.Foreground(colorGreen)
	case failed:
		return base.Foreground(colorRed)
	default:
		return base.Foreground(colorYellow)
	}
}
