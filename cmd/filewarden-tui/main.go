// Package main provides the TUI entry point for filewarden
package main

import (
	"flag"
	"fmt"
	"os"

	"filewarden/internal/tui"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		serverURL   string
		username    string
		password    string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "Filewarden server URL")
	flag.StringVar(&serverURL, "s", "http://localhost:8080", "Filewarden server URL (shorthand)")
	flag.StringVar(&username, "user", "", "Username for login (optional when auth is disabled)")
	flag.Parse()

	if showVersion {
		fmt.Printf("filewarden-tui %s\n", version)
		os.Exit(0)
	}

	// Password comes from the environment, never from argv.
	if username != "" {
		password = os.Getenv("FILEWARDEN_PASSWORD")
		if password == "" {
			fmt.Fprintln(os.Stderr, "Error: FILEWARDEN_PASSWORD must be set when -user is given")
			os.Exit(1)
		}
	}

	fmt.Println("Starting filewarden TUI...")
	fmt.Printf("Connecting to: %s\n", serverURL)

	if err := tui.Run(serverURL, username, password); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
