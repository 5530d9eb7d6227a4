package handlers

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// NewSetFactory returns a Factory for "set" handlers, which write fixed
// values into a map payload and into pipeline state. Config:
//
//	values  mapping of payload keys to values
//	state   mapping of pipeline state keys to values
func NewSetFactory() Factory {
	return func(id string, cfg map[string]any, _ Deps) (pipeline.HandlerFunc, error) {
		values, err := configMap(cfg, "values")
		if err != nil {
			return nil, fmt.Errorf("set handler %q: %w", id, err)
		}
		state, err := configMap(cfg, "state")
		if err != nil {
			return nil, fmt.Errorf("set handler %q: %w", id, err)
		}
		if len(values) == 0 && len(state) == 0 {
			return nil, fmt.Errorf("set handler %q: 'values' or 'state' is required", id)
		}
		keys := slices.Sorted(maps.Keys(values))

		return func(_ context.Context, _ any, c pipeline.Controller) (any, error) {
			for _, k := range keys {
				if err := c.SetPayloadProperty(k, values[k]); err != nil {
					return nil, fmt.Errorf("set handler %q: %w", id, err)
				}
			}
			for k, v := range state {
				c.SetPipelineState(k, v)
			}
			return nil, nil
		}, nil
	}
}
