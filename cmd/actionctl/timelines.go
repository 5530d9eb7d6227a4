package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/actionpipe/config"
	"github.com/GoCodeAlone/actionpipe/events"
)

func runTimelines(args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("timelines", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", s.ConfigPath, "Config file whose events.sqlitePath is read")
	dbPath := fs.String("db", "", "SQLite event log path (overrides the config)")
	action := fs.String("action", "", "Only dispatches of this action")
	status := fs.String("status", "", "Only dispatches with this status")
	limit := fs.Int("limit", 20, "Maximum number of dispatches")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: actionctl timelines [options]\n\nList recorded dispatch timelines, most recent first.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		path = cfg.Events.SQLitePath
	}
	if path == "" {
		return fmt.Errorf("no event log: set -db or events.sqlitePath")
	}

	rec, err := events.NewSQLiteRecorder(path)
	if err != nil {
		return err
	}
	defer rec.Close()

	timelines, err := rec.Timelines(context.Background(), events.TimelineFilter{Action: *action, Status: *status, Limit: *limit})
	if err != nil {
		return err
	}
	return printTimelines(stdout, timelines, *asJSON)
}

func printTimelines(w io.Writer, timelines []events.DispatchTimeline, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, t := range timelines {
			if err := enc.Encode(t); err != nil {
				return err
			}
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISPATCH\tACTION\tSTATUS\tHANDLERS\tSTARTED\tDURATION")
	for _, t := range timelines {
		var started, dur string
		if t.StartedAt != nil {
			started = t.StartedAt.Format(time.RFC3339)
			if t.CompletedAt != nil {
				dur = t.CompletedAt.Sub(*t.StartedAt).Round(time.Microsecond).String()
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.DispatchID, t.Action, t.Status, len(t.Handlers), started, dur)
	}
	return tw.Flush()
}
