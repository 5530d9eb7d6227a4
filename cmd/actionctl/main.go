// Command actionctl validates actionpipe configs, dispatches actions from the
// command line, and serves the dispatch API over HTTP.
package main

import (
	"fmt"
	"io"
	"os"
)

var version = "dev"

// Command output goes through these so tests can capture it.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var commands = map[string]func([]string) error{
	"validate":  runValidate,
	"dispatch":  runDispatch,
	"serve":     runServe,
	"timelines": runTimelines,
}

func usage() {
	fmt.Fprintf(os.Stderr, `actionctl - action pipeline CLI (version %s)

Usage:
  actionctl <command> [options]

Commands:
  validate   Compile every action binding of a config file
  dispatch   Dispatch one action, or a JSONL stream of actions
  serve      Serve the dispatch API with hot config reload
  timelines  List recorded dispatch timelines from a SQLite event log

Settings are read from ACTIONPIPE_* environment variables; flags override them.
Run 'actionctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
