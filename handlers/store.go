package handlers

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// ErrNoStore is returned when a "store" handler names a store the deps do
// not provide.
var ErrNoStore = errors.New("store not available")

// NewStoreFactory returns a Factory for "store" handlers, which write to a
// named interfaces.Store. Config:
//
//	store       store name (required)
//	op          "set" (default), "merge" or "increment"
//	expression  value to write, defaults to the payload
//	by          increment step, defaults to 1
//	result      when true, the new store value is recorded as the result
func NewStoreFactory() Factory {
	return func(id string, cfg map[string]any, deps Deps) (pipeline.HandlerFunc, error) {
		name, err := requireString("store", id, cfg, "store")
		if err != nil {
			return nil, err
		}
		if deps.Stores == nil {
			return nil, fmt.Errorf("store handler %q: %w: %q", id, ErrNoStore, name)
		}
		s, ok := deps.Stores.Store(name)
		if !ok {
			return nil, fmt.Errorf("store handler %q: %w: %q", id, ErrNoStore, name)
		}

		op := configString(cfg, "op")
		if op == "" {
			op = "set"
		}
		if op != "set" && op != "merge" && op != "increment" {
			return nil, fmt.Errorf("store handler %q: unknown op %q", id, op)
		}
		by, err := configFloat(cfg, "by", 1)
		if err != nil {
			return nil, fmt.Errorf("store handler %q: %w", id, err)
		}

		var program *vm.Program
		if src := configString(cfg, "expression"); src != "" {
			if program, err = compileExpr(src); err != nil {
				return nil, fmt.Errorf("store handler %q: %w", id, err)
			}
		}
		recordResult := configBool(cfg, "result")

		return func(ctx context.Context, payload any, c pipeline.Controller) (any, error) {
			value := payload
			if program != nil {
				out, err := expr.Run(program, exprEnv(payload, c.AllPipelineState()))
				if err != nil {
					return nil, fmt.Errorf("store handler %q: %w", id, err)
				}
				value = out
			}

			var opErr error
			switch op {
			case "set":
				if err := s.SetValue(ctx, value); err != nil {
					return nil, fmt.Errorf("store handler %q: %w", id, err)
				}
			case "merge":
				patch, ok := value.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("store handler %q: merge needs a map value, got %T", id, value)
				}
				err := s.Update(ctx, func(current any) any {
					next := make(map[string]any)
					if m, ok := current.(map[string]any); ok {
						maps.Copy(next, m)
					}
					maps.Copy(next, patch)
					return next
				})
				if err != nil {
					return nil, fmt.Errorf("store handler %q: %w", id, err)
				}
			case "increment":
				err := s.Update(ctx, func(current any) any {
					opErr = nil
					n, err := toFloat(current)
					if err != nil {
						opErr = err
						return current
					}
					return n + by
				})
				if err == nil {
					err = opErr
				}
				if err != nil {
					return nil, fmt.Errorf("store handler %q: %w", id, err)
				}
			}

			if recordResult {
				v, err := s.GetValue(ctx)
				if err != nil {
					return nil, fmt.Errorf("store handler %q: %w", id, err)
				}
				return v, nil
			}
			return nil, nil
		}, nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("cannot increment %T", v)
	}
}
