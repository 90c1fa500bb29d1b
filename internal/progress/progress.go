// Package progress renders in-flight turn indication for the chat session:
// a spinner on interactive terminals, plain lines on pipes, with Unicode
// and color degradation driven by detected terminal capabilities.
package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// TerminalCapabilities encapsulates detected terminal features.
type TerminalCapabilities struct {
	// IsTTY indicates whether stdout is a terminal (vs pipe/redirect).
	IsTTY bool
	// SupportsColor indicates whether the terminal supports ANSI colors.
	SupportsColor bool
	// SupportsUnicode indicates whether the terminal supports Unicode.
	SupportsUnicode bool
	// Width is the terminal width in columns (0 if unknown/pipe).
	Width int
}

// Symbols defines the character set for visual indicators.
type Symbols struct {
	Checkmark string
	Failure   string
	// SpinnerSet is the index into spinner.CharSets.
	SpinnerSet int
}

// DetectTerminalCapabilities detects terminal features.
func DetectTerminalCapabilities() TerminalCapabilities {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	noColor := os.Getenv("NO_COLOR") != ""
	forceASCII := os.Getenv("CAMCODE_ASCII") == "1"

	width := 0
	if isTTY {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}

	return TerminalCapabilities{
		IsTTY:           isTTY,
		SupportsColor:   isTTY && !noColor,
		SupportsUnicode: isTTY && !forceASCII,
		Width:           width,
	}
}

// SelectSymbols returns the symbol set for the detected capabilities.
func SelectSymbols(caps TerminalCapabilities) Symbols {
	if caps.SupportsUnicode {
		return Symbols{
			Checkmark:  "✓",
			Failure:    "✗",
			SpinnerSet: 14, // Unicode dots: ⠋ ⠙ ⠹ ⠸ ⠼ ⠴ ⠦ ⠧ ⠇ ⠏
		}
	}

	return Symbols{
		Checkmark:  "[OK]",
		Failure:    "[FAIL]",
		SpinnerSet: 9, // ASCII: | / - \
	}
}

// TurnDisplay shows the state of one conversational turn.
type TurnDisplay struct {
	capabilities TerminalCapabilities
	symbols      Symbols
	spinner      *spinner.Spinner
}

// NewTurnDisplay creates a display for the given terminal capabilities.
func NewTurnDisplay(caps TerminalCapabilities) *TurnDisplay {
	return &TurnDisplay{
		capabilities: caps,
		symbols:      SelectSymbols(caps),
	}
}

// Start begins indicating an in-flight turn.
func (d *TurnDisplay) Start(message string) {
	if d.capabilities.IsTTY {
		d.spinner = spinner.New(
			spinner.CharSets[d.symbols.SpinnerSet],
			100*time.Millisecond,
		)
		// Write to stderr to avoid interfering with response output.
		d.spinner.Writer = os.Stderr
		d.spinner.Suffix = " " + message
		d.spinner.Start()
		return
	}
	fmt.Fprintln(os.Stderr, message)
}

// Pause stops the spinner so an interactive prompt can use the terminal.
// It reports whether a spinner was actually running.
func (d *TurnDisplay) Pause() bool {
	if d.spinner != nil {
		d.spinner.Stop()
		d.spinner = nil
		return true
	}
	return false
}

// Complete stops the indicator and prints the turn summary.
func (d *TurnDisplay) Complete(summary string) {
	d.Pause()
	fmt.Fprintf(os.Stderr, "%s %s\n", d.symbols.Checkmark, summary)
}

// Fail stops the indicator and prints the failure.
func (d *TurnDisplay) Fail(err error) {
	d.Pause()
	fmt.Fprintf(os.Stderr, "%s turn failed: %v\n", d.symbols.Failure, err)
}
