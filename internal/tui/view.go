package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"wavectl/internal/run"
)

const (
	nameColumnWidth  = 28
	stateColumnWidth = 15
)

// View renders the run.
func (m *Model) View() string {
	if m.run == nil {
		return ""
	}
	width := m.width
	if width <= 0 {
		width = 100
	}

	sections := []string{
		m.renderHeader(width),
		panelStyle.Width(max(width-2, 10)).Render(m.renderComponents(max(width-6, 10))),
	}
	if m.viewport.Height > 0 {
		sections = append(sections, panelStyle.Width(max(width-2, 10)).Render(m.viewport.View()))
	}
	sections = append(sections, m.renderStatusBar(width), m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader(width int) string {
	stage := m.run.Stage
	if stage == "" {
		stage = "all"
	}
	title := fmt.Sprintf("wavectl · run %s · stage %s · %s", m.run.ID, stage, m.run.Status)
	return headerStyle.Width(width).Render(truncate(title, width-4))
}

// renderComponents lists components grouped by wave in plan order.
func (m *Model) renderComponents(width int) string {
	var b strings.Builder
	lastWave := -1
	for i, cs := range m.run.Ordered() {
		if i == 0 || cs.Wave != lastWave {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(waveHeaderStyle.Render(fmt.Sprintf("Wave %d", cs.Wave)))
			b.WriteString("\n")
			lastWave = cs.Wave
		}
		line := m.renderRow(cs, width)
		if i == m.cursor {
			line = selectedRowStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.run.Error != "" {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render(truncate(m.run.Error, width)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderRow(cs *run.ComponentStatus, width int) string {
	icon := stateIcon(cs.State)
	if cs.State == run.StateApplying || cs.State == run.StateVerifying {
		icon = m.spinner.View()
	}
	name := runewidth.FillRight(truncate(cs.Name, nameColumnWidth), nameColumnWidth)
	state := runewidth.FillRight(string(cs.State), stateColumnWidth)

	used := runewidth.StringWidth(icon) + 1 + nameColumnWidth + 1 + stateColumnWidth + 1
	detail := truncate(rowDetail(cs), max(width-used, 0))

	style := stateStyle(cs.State)
	return fmt.Sprintf("%s %s %s %s",
		style.Render(icon),
		name,
		style.Render(state),
		mutedStyle.Render(detail),
	)
}

// rowDetail summarizes attempts, errors and skip reasons.
func rowDetail(cs *run.ComponentStatus) string {
	var parts []string
	if cs.Attempt > 1 {
		parts = append(parts, fmt.Sprintf("attempt %d", cs.Attempt))
	}
	if cs.ProbeCycles > 1 {
		parts = append(parts, fmt.Sprintf("%d probe cycles", cs.ProbeCycles))
	}
	if cs.PreExisting {
		parts = append(parts, "pre-existing")
	}
	switch {
	case cs.SkipReason != "":
		parts = append(parts, "skipped: "+cs.SkipReason)
	case cs.LastError != "":
		parts = append(parts, cs.LastError)
	}
	return strings.Join(parts, " · ")
}

func (m *Model) renderStatusBar(width int) string {
	counts := m.run.Counts()
	summary := fmt.Sprintf("%d healthy · %d failed · %d skipped · %d pending",
		counts[run.StateHealthy], counts[run.StateFailed], counts[run.StateSkipped], counts[run.StatePending])
	if n := counts[run.StateRolledBack]; n > 0 {
		summary += fmt.Sprintf(" · %d rolled back", n)
	}

	left := statusStyle(m.run.Status).Render(string(m.run.Status))
	if !m.done && !m.run.Status.Terminal() {
		left = m.spinner.View() + " " + left
	}
	msg := ""
	if m.status.text != "" {
		style := healthyStyle
		if m.status.isErr {
			style = failedStyle
		}
		msg = "  " + style.Render(m.status.text)
	}
	return statusBarStyle.MaxWidth(width).Render(left + "  " + summary + msg)
}

// truncate shortens s to width display cells, marking the cut with an
// ellipsis.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
