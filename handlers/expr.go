package handlers

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// Expression environment:
//
//	payload  the dispatch payload
//	state    pipeline state (handler expressions only)
//	<field>  each top-level field of a map payload
func exprEnv(payload any, state map[string]any) map[string]any {
	env := make(map[string]any)
	if m, ok := payload.(map[string]any); ok {
		for k, v := range m {
			env[k] = v
		}
	}
	env["payload"] = payload
	if state != nil {
		env["state"] = state
	}
	return env
}

func compileExpr(src string, opts ...expr.Option) (*vm.Program, error) {
	opts = append([]expr.Option{expr.AllowUndefinedVariables()}, opts...)
	return expr.Compile(src, opts...)
}

// CompileCondition compiles an expr-lang boolean expression into a handler
// condition. An evaluation error counts as false and is logged.
func CompileCondition(src string, logger *slog.Logger) (pipeline.ConditionFunc, error) {
	program, err := compileExpr(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(payload any) bool {
		out, err := expr.Run(program, exprEnv(payload, nil))
		if err != nil {
			logger.Warn("Condition evaluation failed", "condition", src, "error", err)
			return false
		}
		ok, _ := out.(bool)
		return ok
	}, nil
}
