package config

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// ActionDiff lists action names by how their bindings changed.
type ActionDiff struct {
	Added     []string
	Removed   []string
	Modified  []string
	Unchanged []string
}

// Changed reports whether any action's bindings differ.
func (d *ActionDiff) Changed() bool {
	return len(d.Added)+len(d.Removed)+len(d.Modified) > 0
}

// DiffActions compares the action bindings of two configs. A nil config has
// no actions. Result slices are sorted.
func DiffActions(old, new *Config) *ActionDiff {
	diff := &ActionDiff{}
	oldActions, newActions := actionsOf(old), actionsOf(new)

	for name, bindings := range newActions {
		prev, exists := oldActions[name]
		switch {
		case !exists:
			diff.Added = append(diff.Added, name)
		case hashAny(prev) != hashAny(bindings):
			diff.Modified = append(diff.Modified, name)
		default:
			diff.Unchanged = append(diff.Unchanged, name)
		}
	}
	for name := range oldActions {
		if _, exists := newActions[name]; !exists {
			diff.Removed = append(diff.Removed, name)
		}
	}

	slices.Sort(diff.Added)
	slices.Sort(diff.Removed)
	slices.Sort(diff.Modified)
	slices.Sort(diff.Unchanged)
	return diff
}

// ChangedSections names the non-action sections that differ between two
// configs. Those sections are only read at startup.
func ChangedSections(old, new *Config) []string {
	var changed []string
	if hashAny(old.Engine) != hashAny(new.Engine) {
		changed = append(changed, "engine")
	}
	if hashAny(old.Metrics) != hashAny(new.Metrics) {
		changed = append(changed, "metrics")
	}
	if hashAny(old.Tracing) != hashAny(new.Tracing) {
		changed = append(changed, "tracing")
	}
	if hashAny(old.SLA) != hashAny(new.SLA) {
		changed = append(changed, "sla")
	}
	if hashAny(old.Events) != hashAny(new.Events) {
		changed = append(changed, "events")
	}
	if hashAny(old.Stores) != hashAny(new.Stores) {
		changed = append(changed, "stores")
	}
	return changed
}

func actionsOf(cfg *Config) map[string][]BindingConfig {
	if cfg == nil {
		return nil
	}
	return cfg.Actions
}

func hashAny(v any) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error:%v", err)
	}
	return hashBytes(data)
}
