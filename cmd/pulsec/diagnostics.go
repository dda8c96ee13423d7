package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/quantumctl/pulsec/internal/diagnostics"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
)

// printDiagnostics writes diagnostics to stderr, colored when attached to a
// terminal.
func printDiagnostics(diags diagnostics.List) {
	tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	for _, d := range diags {
		label := "warning"
		color := colorYellow
		if d.Severity == diagnostics.SeverityError {
			label = "error"
			color = colorRed
		}
		msg := d.Message
		if d.Window != nil {
			msg += " at " + d.Window.String()
		}
		if tty {
			fmt.Fprintf(os.Stderr, "%s%s[%s]%s %s\n", color, label, d.Code, colorReset, msg)
		} else {
			fmt.Fprintf(os.Stderr, "%s[%s] %s\n", label, d.Code, msg)
		}
	}
}
