package main

import (
	"flag"
	"fmt"
	"maps"
	"slices"

	"github.com/GoCodeAlone/actionpipe"
	"github.com/GoCodeAlone/actionpipe/config"
	"github.com/GoCodeAlone/actionpipe/handlers"
)

func runValidate(args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: actionctl validate [config.yaml]\n\nCompile every action binding of a config file.\nThe path defaults to $ACTIONPIPE_CONFIG.\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := s.ConfigPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, "error", s.LogFormat)
	if err != nil {
		return err
	}

	// Compilation needs no live stores or publisher, only the handler factories.
	binder := config.NewBinder(actionpipe.New(actionpipe.WithLogger(logger)), handlers.NewDefaultRegistry(), handlers.Deps{Logger: logger}, logger)
	compiled, err := binder.Compile(cfg)
	if err != nil {
		return fmt.Errorf("validation failed:\n%w", err)
	}

	total := 0
	for _, action := range slices.Sorted(maps.Keys(compiled)) {
		total += len(compiled[action])
		for _, b := range compiled[action] {
			fmt.Fprintf(stdout, "  %-24s %-16s %s\n", action, b.Type, b.ID)
		}
	}
	fmt.Fprintf(stdout, "config %s is valid (%d actions, %d bindings, %d stores)\n",
		path, len(compiled), total, len(cfg.Stores))
	return nil
}
