package shell

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorOK      = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorNOK     = lipgloss.Color("#EF4444")
)

type palette struct {
	ok      lipgloss.Style
	warning lipgloss.Style
	nok     lipgloss.Style
	enabled bool
}

func newPalette(enabled bool) palette {
	return palette{
		ok:      lipgloss.NewStyle().Foreground(colorOK),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		nok:     lipgloss.NewStyle().Foreground(colorNOK),
		enabled: enabled,
	}
}

// component colours a component by whether it is active.
func (p palette) component(active bool, s string) string {
	if !p.enabled {
		return s
	}
	if active {
		return p.ok.Render(s)
	}
	return p.nok.Render(s)
}

// dependency colours a dependency: available is OK, a missing required
// service is NOK and a missing optional one a warning.
func (p palette) dependency(available, required bool, s string) string {
	if !p.enabled {
		return s
	}
	switch {
	case available:
		return p.ok.Render(s)
	case required:
		return p.nok.Render(s)
	default:
		return p.warning.Render(s)
	}
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
