// Command apppw-tester checks (email, app password) pairs from a CSV file by
// logging in over IMAP and SMTP. It never sends or reads mail.
package main

import (
	"fmt"
	"io"
	"os"

	apperrors "github.com/SeanNg93/Gmail-app-password-tester/pkg/errors"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err for the user. Errors without a stage come from
// cobra's own argument parsing and get a usage hint.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if apperrors.StageOf(err) == "" {
		fmt.Fprintln(w, "Run 'apppw-tester --help' for usage.")
	}
}
