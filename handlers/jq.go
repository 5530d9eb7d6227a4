package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// NewJQFactory returns a Factory for "jq" handlers, which run a jq program
// against the payload. Config:
//
//	expression  jq program (required)
//	target      "payload" (default) replaces the payload with the output;
//	            "result" records the output as the handler result
//
// A program yielding one value produces that value, several values produce
// a slice, and none produce nil.
func NewJQFactory() Factory {
	return func(id string, cfg map[string]any, deps Deps) (pipeline.HandlerFunc, error) {
		expression, err := requireString("jq", id, cfg, "expression")
		if err != nil {
			return nil, err
		}
		parsed, err := gojq.Parse(expression)
		if err != nil {
			return nil, fmt.Errorf("jq handler %q: invalid expression %q: %w", id, expression, err)
		}
		code, err := gojq.Compile(parsed)
		if err != nil {
			return nil, fmt.Errorf("jq handler %q: failed to compile expression %q: %w", id, expression, err)
		}

		target := configString(cfg, "target")
		switch target {
		case "", "payload":
			target = "payload"
		case "result":
		default:
			return nil, fmt.Errorf("jq handler %q: unknown target %q", id, target)
		}

		return func(ctx context.Context, payload any, c pipeline.Controller) (any, error) {
			out, err := runJQ(ctx, code, payload)
			if err != nil {
				return nil, fmt.Errorf("jq handler %q: %w", id, err)
			}
			if target == "result" {
				c.SetResult(out)
				return nil, nil
			}
			c.ModifyPayload(func(any) any { return out })
			return nil, nil
		}, nil
	}
}

func runJQ(ctx context.Context, code *gojq.Code, input any) (any, error) {
	normalized, err := normalizeJSON(input)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize input: %w", err)
	}

	iter := code.RunWithContext(ctx, normalized)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("expression error: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// normalizeJSON converts v into the JSON-compatible types gojq operates on
// via a marshal/unmarshal round trip.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
