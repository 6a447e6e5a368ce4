// analyzer normalizes software installation exports into per-user entitlement counts and computes
// daily peak concurrency from session exports.
//
// Usage:
//
//	analyzer installations -in inventory.csv [-out dir] [-multiple-only]
//	analyzer sessions -in sessions.csv [-out dir] [-samples]
//
// Configuration comes from the environment and an optional .env file (see internal/config).
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Printf("analyzer: %v", err)
		stop()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: analyzer <installations|sessions> -in <file.csv> [flags]")
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "installations":
		return runInstallations(ctx, args[1:], stdout)
	case "sessions":
		return runSessions(ctx, args[1:], stdout)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}
