package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/actionpipe/pipeline"
)

// dispatchRequest is one line of a JSONL input stream.
type dispatchRequest struct {
	Action  string `json:"action"`
	Scope   string `json:"scope,omitempty"`
	Payload any    `json:"payload"`
}

type dispatchOptions struct {
	action      string
	scope       string
	payload     string
	input       string
	concurrency int
	wait        bool
}

func runDispatch(args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", s.ConfigPath, "Config file path")
	var opts dispatchOptions
	fs.StringVar(&opts.action, "action", "", "Action to dispatch (default for JSONL lines that name none)")
	fs.StringVar(&opts.scope, "scope", "", "Abort scope to dispatch in")
	fs.StringVar(&opts.payload, "payload", "", "JSON payload for a single dispatch")
	fs.StringVar(&opts.input, "input", "", "JSONL file of {\"action\",\"scope\",\"payload\"} lines, or - for stdin")
	fs.IntVar(&opts.concurrency, "concurrency", s.Concurrency, "Concurrent dispatches when reading -input")
	fs.BoolVar(&opts.wait, "wait", true, "Wait for non-blocking handlers before printing results")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: actionctl dispatch [options]\n\nDispatch actions and print one JSON result per line.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.input == "" && opts.action == "" {
		fs.Usage()
		return fmt.Errorf("-action or -input is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := loadRuntime(ctx, *configPath, s)
	if err != nil {
		return err
	}
	defer func() { _ = rt.close(context.Background()) }()

	if err := rt.binder.Apply(rt.cfg, nil); err != nil {
		return err
	}

	var in io.Reader
	switch opts.input {
	case "":
	case "-":
		in = os.Stdin
	default:
		f, err := os.Open(opts.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return dispatchAll(ctx, rt, opts, in, stdout)
}

// dispatchAll runs the single -payload dispatch, or every request read from
// in, and writes results to out in input order. It fails if any dispatch
// failed.
func dispatchAll(ctx context.Context, rt *runtime, opts dispatchOptions, in io.Reader, out io.Writer) error {
	var reqs []dispatchRequest
	if in == nil {
		req := dispatchRequest{Action: opts.action, Scope: opts.scope}
		if opts.payload != "" {
			if err := json.Unmarshal([]byte(opts.payload), &req.Payload); err != nil {
				return fmt.Errorf("invalid -payload: %w", err)
			}
		}
		reqs = append(reqs, req)
	} else {
		var err error
		if reqs, err = readRequests(in, opts); err != nil {
			return err
		}
	}

	outputs := make([]dispatchOutput, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.concurrency))
	for i, req := range reqs {
		g.Go(func() error {
			dctx := gctx
			if req.Scope != "" {
				dctx = pipeline.WithScope(dctx, req.Scope)
			}
			res := rt.register.DispatchWithResult(dctx, req.Action, req.Payload)
			results, skipped := res.Results, res.Skipped
			if opts.wait {
				all, err := res.Wait(ctx)
				if err != nil {
					return err
				}
				results, skipped = all, res.Skips()
			}
			outputs[i] = newDispatchOutput(res, results, skipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	failed := 0
	for _, o := range outputs {
		if o.Status == pipeline.StatusFailed {
			failed++
		}
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dispatches failed", failed, len(outputs))
	}
	return nil
}

func readRequests(in io.Reader, opts dispatchOptions) ([]dispatchRequest, error) {
	var reqs []dispatchRequest
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var req dispatchRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("input line %d: %w", line, err)
		}
		req.Action = firstNonEmpty(req.Action, opts.action)
		req.Scope = firstNonEmpty(req.Scope, opts.scope)
		if req.Action == "" {
			return nil, fmt.Errorf("input line %d: action is required", line)
		}
		reqs = append(reqs, req)
	}
	return reqs, scanner.Err()
}
