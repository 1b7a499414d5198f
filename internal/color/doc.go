// Package color selects the background the terminal UI renders for.
//
// The TUI styles use lipgloss adaptive colors, which pick their light or
// dark variant from the detected terminal background. Detection fails in
// some terminals and multiplexers; --theme dark or --theme light forces the
// variant instead.
//
//	theme, err := color.ParseTheme("dark")
//	if err != nil {
//	    return err
//	}
//	color.Apply(theme)
package color
