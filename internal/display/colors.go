package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color represents a semantic color of printed output.
type Color int

const (
	ColorNone Color = iota
	ColorSuccess
	ColorInfo
	ColorWarning
	ColorError
	ColorMuted
	ColorHighlight
)

// colorSystem applies fatih/color attributes when the output supports them.
type colorSystem struct {
	enabled  bool
	colorMap map[Color]*color.Color
}

func newColorSystem(enabled bool) *colorSystem {
	cs := &colorSystem{
		enabled: enabled,
		colorMap: map[Color]*color.Color{
			ColorSuccess:   color.New(color.FgHiGreen),
			ColorInfo:      color.New(color.FgCyan),
			ColorWarning:   color.New(color.FgHiYellow),
			ColorError:     color.New(color.FgHiRed),
			ColorMuted:     color.New(color.Faint),
			ColorHighlight: color.New(color.Bold),
		},
	}

	// Each color forces its own mode so detection stays per printer.
	for _, c := range cs.colorMap {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return cs
}

// Sprint colors text.
func (cs *colorSystem) Sprint(clr Color, text string) string {
	if !cs.enabled {
		return text
	}
	if c, ok := cs.colorMap[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

// Sprintf formats and colors text.
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Sprint(clr, fmt.Sprintf(format, args...))
}

// DetectColorSupport reports whether w is a terminal that should receive
// ANSI colors. NO_COLOR and TERM=dumb disable colors; FORCE_COLOR enables
// them even when w is not a terminal.
func DetectColorSupport(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}

	return termenv.NewOutput(f).EnvColorProfile() != termenv.Ascii
}

// DetectUnicodeSupport reports whether icons can use Unicode symbols.
func DetectUnicodeSupport(w io.Writer) bool {
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
