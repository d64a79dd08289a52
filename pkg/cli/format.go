// Package cli provides shared formatting helpers for the cdoctl command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/newtron-network/cdoctl/pkg/inventory"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

// SetColor turns ANSI colors on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

func wrap(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\033[0m"
}

// Green wraps s in ANSI green. Returns s unchanged when color is off.
func Green(s string) string { return wrap("\033[32m", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return wrap("\033[33m", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return wrap("\033[31m", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return wrap("\033[1m", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return wrap("\033[2m", s) }

// DotPad pads name with dots to the given width.
// Example: DotPad("batch 1", 20) → "batch 1 ............"
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}

// SyncLabel renders the sync state of d for tables.
func SyncLabel(d inventory.Device) string {
	switch {
	case d.InSync():
		return Green("in sync")
	case d.OOBDetectionState == inventory.OOBChangeDetected:
		return Red("out-of-band change")
	default:
		return Yellow("not synced (" + strings.ToLower(d.ConfigState) + ")")
	}
}

// StatusLabel renders a success flag.
func StatusLabel(ok bool) string {
	if ok {
		return Green("OK")
	}
	return Red("FAILED")
}

// PrintLines writes each line to w, prefixed with indent.
func PrintLines(w io.Writer, indent string, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(w, indent+l)
	}
}

// Section writes a bold heading followed by lines.
func Section(w io.Writer, title string, lines []string) {
	fmt.Fprintln(w, Bold(title))
	if len(lines) == 0 {
		fmt.Fprintln(w, "  "+Dim("(none)"))
		return
	}
	PrintLines(w, "  ", lines)
}
