// migrate applies the report store migrations embedded in internal/db.
//
//	go run ./cmd/migrate -direction up|down|version
package main

import (
	"flag"
	"fmt"
	"os"

	"license-usage-analyzer/internal/config"
	"license-usage-analyzer/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up, down or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}

	if *direction == "version" {
		version, dirty, ok, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("no migrations applied")
			return
		}
		fmt.Printf("version %d (dirty=%t)\n", version, dirty)
		return
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
