package color

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme selects the terminal background the TUI renders for.
type Theme string

const (
	ThemeAuto  Theme = "auto"
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme parses a --theme value. Empty means auto.
func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case "", ThemeAuto:
		return ThemeAuto, nil
	case ThemeDark:
		return ThemeDark, nil
	case ThemeLight:
		return ThemeLight, nil
	default:
		return "", fmt.Errorf("unknown theme %q (use auto, dark or light)", s)
	}
}

// Initialize forces adaptive colors to render for a dark or light
// background.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
}

// Apply initializes colors for t. ThemeAuto keeps the detected background.
func Apply(t Theme) {
	switch t {
	case ThemeDark:
		Initialize(true)
	case ThemeLight:
		Initialize(false)
	}
}
