package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// NewLogFactory returns a Factory for "log" handlers, which write the
// payload to the structured logger. Config:
//
//	message  log message, defaults to "Action dispatched"
//	level    debug, info (default), warn or error
func NewLogFactory() Factory {
	return func(id string, cfg map[string]any, deps Deps) (pipeline.HandlerFunc, error) {
		message := configString(cfg, "message")
		if message == "" {
			message = "Action dispatched"
		}
		var level slog.Level
		if s := configString(cfg, "level"); s != "" {
			if err := level.UnmarshalText([]byte(s)); err != nil {
				return nil, fmt.Errorf("log handler %q: invalid level %q: %w", id, s, err)
			}
		}
		logger := deps.logger()

		return func(ctx context.Context, payload any, c pipeline.Controller) (any, error) {
			logger.Log(ctx, level, message, "action", c.ActionName(), "handler", id, "payload", payload)
			return nil, nil
		}, nil
	}
}
