// Package setup implements the interactive first-run wizard and the launchd
// install helpers for PinReminder. Its [Prompter] also backs the console
// permission and location-settings dialogs used by "pinreminder add".
package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// IsInteractive reports whether f is attached to a terminal.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Prompter provides reusable terminal prompts backed by an io.Reader/Writer
// pair. In production these are os.Stdin and os.Stdout; tests inject buffers.
type Prompter struct {
	scanner *bufio.Scanner
	in      io.Reader
	w       io.Writer
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), in: r, w: w}
}

// String prompts for a text value. Enter without input returns defaultVal; an
// empty defaultVal makes the field required.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		if defaultVal != "" {
			_, _ = fmt.Fprintf(p.w, "  %s [%s]: ", label, defaultVal)
		} else {
			_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		}

		if !p.scanner.Scan() {
			return defaultVal
		}

		val := strings.TrimSpace(p.scanner.Text())
		if val == "" {
			if defaultVal != "" {
				return defaultVal
			}
			_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
			continue
		}
		return val
	}
}

// Optional prompts for a text value that may be left empty.
func (p *Prompter) Optional(label string) string {
	_, _ = fmt.Fprintf(p.w, "  %s (optional): ", label)
	if !p.scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(p.scanner.Text())
}

// Float prompts until the input parses as a number within [lo, hi].
func (p *Prompter) Float(label string, lo, hi float64) (float64, error) {
	for {
		_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		if !p.scanner.Scan() {
			return 0, fmt.Errorf("no input")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(p.scanner.Text()), 64)
		if err != nil || v < lo || v > hi {
			_, _ = fmt.Fprintf(p.w, "  (enter a number between %g and %g)\n", lo, hi)
			continue
		}
		return v, nil
	}
}

// Secret prompts for a sensitive value such as the HA token. Input is hidden
// when the reader is a terminal.
func (p *Prompter) Secret(label string) string {
	for {
		_, _ = fmt.Fprintf(p.w, "  %s: ", label)

		val, ok := p.readSecret()
		if !ok {
			return ""
		}
		if val == "" {
			_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
			continue
		}
		return val
	}
}

func (p *Prompter) readSecret() (string, bool) {
	if f, isFile := p.in.(*os.File); isFile && IsInteractive(f) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.w)
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(string(b)), true
	}
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// Confirm asks a yes/no question. defaultYes decides a bare Enter.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	_, _ = fmt.Fprintf(p.w, "  %s %s: ", label, hint)

	if !p.scanner.Scan() {
		return defaultYes
	}

	answer := strings.TrimSpace(strings.ToLower(p.scanner.Text()))
	if answer == "" {
		return defaultYes
	}
	return answer == "y" || answer == "yes"
}

// Select presents a numbered list and returns the zero-based index chosen.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}

	p.list(label, options)
	for {
		_, _ = fmt.Fprintf(p.w, "  Choice [1-%d]: ", len(options))

		if !p.scanner.Scan() {
			return -1, fmt.Errorf("no input")
		}

		n, err := strconv.Atoi(strings.TrimSpace(p.scanner.Text()))
		if err != nil || n < 1 || n > len(options) {
			_, _ = fmt.Fprintf(p.w, "  (enter a number between 1 and %d)\n", len(options))
			continue
		}
		return n - 1, nil
	}
}

// MultiSelect presents a numbered list and accepts comma-separated choices
// (e.g. "1,3"). Duplicates are dropped; order follows the input.
func (p *Prompter) MultiSelect(label string, options []string) ([]int, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("no options to select from")
	}

	p.list(label, options)
	for {
		_, _ = fmt.Fprintf(p.w, "  Choices (comma-separated, e.g. 1,3): ")

		if !p.scanner.Scan() {
			return nil, fmt.Errorf("no input")
		}
		if indices, ok := parseChoices(p.scanner.Text(), len(options)); ok {
			return indices, nil
		}
		_, _ = fmt.Fprintf(p.w, "  (enter numbers between 1 and %d, separated by commas)\n", len(options))
	}
}

func (p *Prompter) list(label string, options []string) {
	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}
}

func parseChoices(input string, n int) ([]int, bool) {
	seen := make(map[int]bool)
	var indices []int
	for _, part := range strings.Split(input, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 1 || v > n {
			return nil, false
		}
		if !seen[v] {
			seen[v] = true
			indices = append(indices, v-1)
		}
	}
	return indices, len(indices) > 0
}
