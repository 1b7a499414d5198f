package tui

import (
	"github.com/charmbracelet/lipgloss"

	"wavectl/internal/run"
)

const (
	// maxActivityLogLines bounds the in-memory log buffer.
	maxActivityLogLines = 500
	// minHeightForLog is the terminal height below which the log pane is hidden.
	minHeightForLog = 20
)

const (
	IconCheck     = "✔"
	IconCross     = "✘"
	IconSkip      = "⊘"
	IconPending   = "·"
	IconRolled    = "↺"
	IconHourglass = "⏳"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#B0B0B0", Dark: "#505050"}).
			Padding(0, 1)

	waveHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"})

	selectedRowStyle = lipgloss.NewStyle().
				Background(lipgloss.AdaptiveColor{Light: "#E4E4E4", Dark: "#3A3A3A"})

	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#008700", Dark: "#87D787"})
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"})
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD75F"})
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#808080", Dark: "#8A8A8A"})

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#303030", Dark: "#D0D0D0"}).
			Padding(0, 1)
)

// stateStyle picks the color of a component state.
func stateStyle(s run.ComponentState) lipgloss.Style {
	switch s {
	case run.StateHealthy, run.StateRolledBack:
		return healthyStyle
	case run.StateFailed, run.StateRollbackFailed:
		return failedStyle
	case run.StateApplying, run.StateVerifying:
		return activeStyle
	default:
		return mutedStyle
	}
}

// statusStyle picks the color of a run status.
func statusStyle(s run.Status) lipgloss.Style {
	switch s {
	case run.StatusSucceeded, run.StatusRolledBack, run.StatusPlanned:
		return healthyStyle
	case run.StatusFailed, run.StatusCancelled:
		return failedStyle
	default:
		return activeStyle
	}
}

// stateIcon returns the glyph for a settled state; in-flight states use the
// spinner instead.
func stateIcon(s run.ComponentState) string {
	switch s {
	case run.StateHealthy:
		return IconCheck
	case run.StateFailed, run.StateRollbackFailed:
		return IconCross
	case run.StateSkipped:
		return IconSkip
	case run.StateRolledBack:
		return IconRolled
	case run.StatePending:
		return IconPending
	default:
		return IconHourglass
	}
}
