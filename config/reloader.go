package config

import (
	"log/slog"
	"sync"
)

// Reloader applies config changes to a running register. Only action
// bindings are hot-reloaded; changes to other sections are logged as
// needing a restart.
type Reloader struct {
	mu          sync.Mutex
	current     *Config
	currentHash string
	binder      *Binder
	logger      *slog.Logger
}

// NewReloader binds every action of initial and returns a Reloader tracking it.
func NewReloader(initial *Config, binder *Binder, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hash, err := HashConfig(initial)
	if err != nil {
		return nil, err
	}
	if err := binder.Apply(initial, nil); err != nil {
		return nil, err
	}
	return &Reloader{current: initial, currentHash: hash, binder: binder, logger: logger}, nil
}

// Current returns the config last applied.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// HandleChange diffs the event's config against the current one and rebinds
// the actions whose bindings changed. An invalid config leaves every
// binding in place.
func (r *Reloader) HandleChange(evt ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sections := ChangedSections(r.current, evt.Config); len(sections) > 0 {
		r.logger.Warn("Config sections changed that require a restart", "sections", sections)
	}

	diff := DiffActions(r.current, evt.Config)
	if !diff.Changed() {
		r.logger.Debug("Config change has no binding differences")
		r.current = evt.Config
		r.currentHash = evt.NewHash
		return nil
	}

	actions := make([]string, 0, len(diff.Added)+len(diff.Removed)+len(diff.Modified))
	actions = append(actions, diff.Added...)
	actions = append(actions, diff.Removed...)
	actions = append(actions, diff.Modified...)

	if err := r.binder.Apply(evt.Config, actions); err != nil {
		r.logger.Error("Config reload failed", "source", evt.Source, "error", err)
		return err
	}

	r.logger.Info("Config reloaded",
		"source", evt.Source,
		"added", diff.Added, "removed", diff.Removed, "modified", diff.Modified)
	r.current = evt.Config
	r.currentHash = evt.NewHash
	return nil
}
