package permission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotInteractive is returned when there is no terminal to ask on.
var ErrNotInteractive = errors.New("no interactive terminal")

// Confirmer asks a yes/no question. Implemented by [setup.Prompter].
type Confirmer interface {
	Confirm(label string, defaultYes bool) bool
}

// ConsoleDialog asks for permissions on the terminal.
type ConsoleDialog struct {
	prompt      Confirmer
	w           io.Writer
	interactive bool
}

// NewConsoleDialog creates a ConsoleDialog. When interactive is false every
// Ask fails with [ErrNotInteractive], which the negotiator treats as a denial.
func NewConsoleDialog(prompt Confirmer, w io.Writer, interactive bool) *ConsoleDialog {
	return &ConsoleDialog{prompt: prompt, w: w, interactive: interactive}
}

// Ask implements [Dialog].
func (d *ConsoleDialog) Ask(ctx context.Context, p Prompt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !d.interactive {
		return false, ErrNotInteractive
	}

	if p.ShowRationale && p.Rationale != "" {
		_, _ = fmt.Fprintf(d.w, "\n  %s\n", p.Rationale)
	}
	label := fmt.Sprintf("Allow access to %s (%s)?", describe(p.Capability), strings.Join(p.Permissions, ", "))
	return d.prompt.Confirm(label, false), nil
}

func describe(c Capability) string {
	switch c {
	case BackgroundLocation:
		return "your location in the background"
	default:
		return "your location"
	}
}
