package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// NewProgram creates the full-screen program for a run view.
func NewProgram(opts Options, programOpts ...tea.ProgramOption) (*tea.Program, *Model) {
	m := NewModel(opts)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, programOpts...)...)
	return p, m
}

// Run shows the run until the user quits and returns the final model.
func Run(opts Options) (*Model, error) {
	if opts.Run == nil {
		return nil, fmt.Errorf("tui: no run to display")
	}
	p, m := NewProgram(opts)
	if _, err := p.Run(); err != nil {
		return m, fmt.Errorf("tui: %w", err)
	}
	return m, nil
}
