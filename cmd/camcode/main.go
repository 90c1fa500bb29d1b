package main

import (
	"fmt"
	"os"

	"github.com/cameron-labs/camcode/internal/cli"
	"github.com/cameron-labs/camcode/internal/errors"
)

func main() {
	if err := cli.Execute(); err != nil {
		if cliErr := errors.AsCLIError(err); cliErr != nil {
			fmt.Fprint(os.Stderr, errors.FormatError(cliErr))
			os.Exit(cliErr.Category.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
