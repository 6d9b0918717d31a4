package locationsettings

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotInteractive is returned when the dialog has no terminal to ask on.
var ErrNotInteractive = errors.New("no interactive terminal")

// Confirmer asks a yes/no question. Implemented by [setup.Prompter].
type Confirmer interface {
	Confirm(label string, defaultYes bool) bool
}

// ConsoleDialog asks the user on the terminal to turn on location sharing
// for the tracked device.
type ConsoleDialog struct {
	prompt      Confirmer
	w           io.Writer
	tracker     string
	interactive bool
}

// NewConsoleDialog creates a ConsoleDialog for the given tracker entity.
func NewConsoleDialog(prompt Confirmer, w io.Writer, tracker string, interactive bool) *ConsoleDialog {
	return &ConsoleDialog{prompt: prompt, w: w, tracker: tracker, interactive: interactive}
}

// Resolve implements [ResolutionDialog].
func (d *ConsoleDialog) Resolve(ctx context.Context, cause error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !d.interactive {
		return false, ErrNotInteractive
	}
	_, _ = fmt.Fprintf(d.w, "\n  Location for %s is not usable: %v\n", d.tracker, cause)
	_, _ = fmt.Fprintf(d.w, "  Turn on location in the Home Assistant companion app on that device.\n")
	return d.prompt.Confirm("Done? Check again", true), nil
}
