package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// ErrNoPublisher is returned when a "publish" handler is configured without
// a publisher in its deps.
var ErrNoPublisher = errors.New("publisher not configured")

// NewPublishFactory returns a Factory for "publish" handlers, which send the
// payload as JSON to a subject, typically on NATS. Config:
//
//	subject     subject to publish on (required)
//	expression  message body, defaults to the payload
func NewPublishFactory() Factory {
	return func(id string, cfg map[string]any, deps Deps) (pipeline.HandlerFunc, error) {
		subject, err := requireString("publish", id, cfg, "subject")
		if err != nil {
			return nil, err
		}
		if deps.Publisher == nil {
			return nil, fmt.Errorf("publish handler %q: %w", id, ErrNoPublisher)
		}

		var program *vm.Program
		if src := configString(cfg, "expression"); src != "" {
			if program, err = compileExpr(src); err != nil {
				return nil, fmt.Errorf("publish handler %q: %w", id, err)
			}
		}

		return func(_ context.Context, payload any, c pipeline.Controller) (any, error) {
			body := payload
			if program != nil {
				out, err := expr.Run(program, exprEnv(payload, c.AllPipelineState()))
				if err != nil {
					return nil, fmt.Errorf("publish handler %q: %w", id, err)
				}
				body = out
			}
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("publish handler %q: encode: %w", id, err)
			}
			if err := deps.Publisher.Publish(subject, raw); err != nil {
				return nil, fmt.Errorf("publish handler %q: %w", id, err)
			}
			return nil, nil
		}, nil
	}
}
