package handlers

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// NewResultFactory returns a Factory for "result" handlers, which record the
// value of an expr-lang expression as the handler result. Config:
//
//	expression  expression evaluated against the payload and state (required)
//	state       optional pipeline state key that also receives the value
func NewResultFactory() Factory {
	return func(id string, cfg map[string]any, _ Deps) (pipeline.HandlerFunc, error) {
		src, err := requireString("result", id, cfg, "expression")
		if err != nil {
			return nil, err
		}
		program, err := compileExpr(src)
		if err != nil {
			return nil, fmt.Errorf("result handler %q: %w", id, err)
		}
		stateKey := configString(cfg, "state")

		return func(_ context.Context, payload any, c pipeline.Controller) (any, error) {
			out, err := expr.Run(program, exprEnv(payload, c.AllPipelineState()))
			if err != nil {
				return nil, fmt.Errorf("result handler %q: %w", id, err)
			}
			if stateKey != "" {
				c.SetPipelineState(stateKey, out)
			}
			c.SetResult(out)
			return nil, nil
		}, nil
	}
}
