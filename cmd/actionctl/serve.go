package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/GoCodeAlone/actionpipe/config"
	"github.com/GoCodeAlone/actionpipe/events"
	"github.com/GoCodeAlone/actionpipe/observability/tracing"
	"github.com/GoCodeAlone/actionpipe/pipeline"
)

const maxPayloadBytes = 1 << 20

func runServe(args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", s.ConfigPath, "Config file path")
	addr := fs.String("addr", s.Addr, "HTTP listen address")
	watch := fs.Bool("watch", true, "Reload action bindings when the config file changes")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: actionctl serve [options]\n\nServe the dispatch API.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := loadRuntime(ctx, *configPath, s)
	if err != nil {
		return err
	}
	defer func() { _ = rt.close(context.Background()) }()
	logger := rt.logger

	reloader, err := config.NewReloader(rt.cfg, rt.binder, logger)
	if err != nil {
		return err
	}
	defer rt.binder.Release()

	if *watch {
		watcher := config.NewWatcher(config.NewFileSource(*configPath), func(evt config.ChangeEvent) {
			_ = reloader.HandleChange(evt)
		}, config.WithWatchDebounce(s.WatchDebounce), config.WithWatchLogger(logger))
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
		logger.Info("Config watcher started", "path", *configPath)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newServer(rt).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	// Abort what is still running so in-flight requests can return.
	rt.register.AbortAll("")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// server exposes a runtime over HTTP.
type server struct {
	rt     *runtime
	logger *slog.Logger
}

func newServer(rt *runtime) *server {
	return &server{rt: rt, logger: rt.logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /actions", s.handleListActions)
	s.handle(mux, "POST /actions/{name}", s.handleDispatch)
	s.handle(mux, "POST /scopes/{scope}/abort", s.handleAbort)
	s.handle(mux, "POST /scopes/{scope}/reset", s.handleReset)
	if s.rt.timelines != nil {
		s.handle(mux, "GET /dispatches", s.handleListTimelines)
		s.handle(mux, "GET /dispatches/{id}", s.handleTimeline)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if c := s.rt.collector; c != nil {
		mux.Handle("GET "+c.Path(), c.Handler())
	}
	if m := s.rt.sla; m != nil {
		s.handle(mux, "GET /sla", m.Handler().ServeHTTP)
	}

	var h http.Handler = mux
	if s.rt.tracing {
		h = tracing.HTTPMiddleware(h, "actionctl")
	}
	return h
}

// handle registers fn, counting requests when metrics are enabled.
func (s *server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if c := s.rt.collector; c != nil {
		h = c.InstrumentHandler(pattern, h)
	}
	mux.Handle(pattern, h)
}

func (s *server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.rt.register.Actions()})
}

// handleDispatch dispatches the named action with the JSON body as payload.
// The request context bounds the dispatch, so a disconnecting client aborts
// it. ?scope= selects the abort scope and ?wait=true waits for non-blocking
// handlers before responding.
func (s *server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var payload any
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
			return
		}
	}

	ctx := r.Context()
	if scope := r.URL.Query().Get("scope"); scope != "" {
		ctx = pipeline.WithScope(ctx, scope)
	}
	res := s.rt.register.DispatchWithResult(ctx, r.PathValue("name"), payload)

	results, skipped := res.Results, res.Skipped
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		all, err := res.Wait(ctx)
		if err != nil {
			writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		results, skipped = all, res.Skips()
	}

	status := http.StatusOK
	if res.Status == pipeline.StatusFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, newDispatchOutput(res, results, skipped))
}

func (s *server) handleAbort(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	n := s.rt.register.AbortAll(scope)
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "aborted": n})
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	s.rt.register.ResetAbortScope(scope)
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "reset": true})
}

func (s *server) handleListTimelines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.TimelineFilter{Action: q.Get("action"), Status: q.Get("status")}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	timelines, err := s.rt.timelines.Timelines(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list timelines", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list timelines")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatches": timelines})
}

func (s *server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	t, err := s.rt.timelines.Timeline(r.Context(), r.PathValue("id"))
	if errors.Is(err, events.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Failed to load timeline", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
