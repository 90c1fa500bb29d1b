package errors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// FormatError renders a CLIError with colors for terminal display.
func FormatError(err *CLIError) string {
	if err == nil {
		return ""
	}

	var b strings.Builder

	header := color.New(color.FgRed, color.Bold)
	b.WriteString(header.Sprintf("%s:", err.Category))
	b.WriteString(" ")
	b.WriteString(err.Message)
	b.WriteString("\n")

	if err.Usage != "" {
		b.WriteString("\n")
		b.WriteString(color.New(color.Bold).Sprint("Usage:"))
		b.WriteString(" ")
		b.WriteString(err.Usage)
		b.WriteString("\n")
	}

	if len(err.Remediation) > 0 {
		b.WriteString("\n")
		b.WriteString(color.New(color.FgYellow).Sprint("To fix this:"))
		b.WriteString("\n")
		for _, step := range err.Remediation {
			b.WriteString("  • ")
			b.WriteString(step)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// FormatErrorPlain renders a CLIError without ANSI colors.
func FormatErrorPlain(err *CLIError) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", err.Category, err.Message)

	if err.Usage != "" {
		fmt.Fprintf(&b, "\nUsage: %s\n", err.Usage)
	}

	if len(err.Remediation) > 0 {
		b.WriteString("\nTo fix this:\n")
		for _, step := range err.Remediation {
			fmt.Fprintf(&b, "  - %s\n", step)
		}
	}

	return b.String()
}

// FormatSimpleError renders a plain error under the given category heading.
func FormatSimpleError(err error, category ErrorCategory) string {
	if err == nil {
		return ""
	}
	if cliErr := AsCLIError(err); cliErr != nil {
		return FormatError(cliErr)
	}
	return fmt.Sprintf("%s: %s\n", category, err.Error())
}

// PrintError writes a formatted CLIError to stderr.
func PrintError(err *CLIError) {
	FprintError(os.Stderr, err)
}

// FprintError writes a formatted CLIError to w.
func FprintError(w io.Writer, err *CLIError) {
	if err == nil {
		return
	}
	fmt.Fprint(w, FormatError(err))
}
