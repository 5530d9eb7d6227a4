package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// ErrValidationFailed is returned by a "validate" handler configured to fail
// rather than abort.
var ErrValidationFailed = errors.New("validation failed")

// NewValidateFactory returns a Factory for "validate" handlers, which
// evaluate an expr-lang boolean against the payload. Config:
//
//	expression  boolean expression (required)
//	reason      abort reason, defaults to "validation failed: <expression>"
//	fail        when true, a false result fails the dispatch instead of
//	            aborting it
func NewValidateFactory() Factory {
	return func(id string, cfg map[string]any, _ Deps) (pipeline.HandlerFunc, error) {
		src, err := requireString("validate", id, cfg, "expression")
		if err != nil {
			return nil, err
		}
		program, err := compileExpr(src, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("validate handler %q: %w", id, err)
		}
		reason := configString(cfg, "reason")
		if reason == "" {
			reason = "validation failed: " + src
		}
		fail := configBool(cfg, "fail")

		return func(_ context.Context, payload any, c pipeline.Controller) (any, error) {
			out, err := expr.Run(program, exprEnv(payload, c.AllPipelineState()))
			if err != nil {
				return nil, fmt.Errorf("validate handler %q: %w", id, err)
			}
			if ok, _ := out.(bool); ok {
				return nil, nil
			}
			if fail {
				return nil, fmt.Errorf("%w: %s", ErrValidationFailed, reason)
			}
			c.Abort(reason, nil)
			return nil, nil
		}, nil
	}
}
