package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fixhunt/internal/errors"
)

// exitInterrupted is the conventional status for a run stopped by SIGINT
const exitInterrupted = 130

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		printError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if stderrors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return errors.ExitCode(err)
}

// printError writes err and any suggested fixes it carries
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var coded *errors.Error
	if !stderrors.As(err, &coded) || len(coded.SuggestedFixes) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSuggested fixes:")
	for _, fix := range coded.SuggestedFixes {
		if fix.Command != "" {
			fmt.Fprintf(w, "  %s\n    %s\n", fix.Description, fix.Command)
		} else {
			fmt.Fprintf(w, "  %s\n", fix.Description)
		}
	}
}
