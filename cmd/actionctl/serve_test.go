package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/actionpipe/events"
)

func newTestServer(t *testing.T) (*runtime, *httptest.Server) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "events.db")
	rt := newTestRuntime(t, testConfig+`
metrics:
  enabled: true
sla:
  enabled: true
events:
  sqlitePath: `+dbPath+`
`)
	srv := httptest.NewServer(newServer(rt).routes())
	t.Cleanup(srv.Close)
	return rt, srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, out
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestServer_Dispatch(t *testing.T) {
	_, srv := newTestServer(t)

	resp, out := post(t, srv.URL+"/actions/order?wait=true", `{"qty": 3, "price": 2}`)
	if resp.StatusCode != http.StatusOK || out["status"] != "completed" {
		t.Fatalf("expected completed, got %d %v", resp.StatusCode, out)
	}
	results := out["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["value"] != float64(6) {
		t.Errorf("unexpected results %v", results)
	}

	resp, out = post(t, srv.URL+"/actions/order", `{"qty": 0}`)
	if resp.StatusCode != http.StatusOK || out["status"] != "aborted" || out["abortReason"] != "empty order" {
		t.Errorf("expected aborted, got %d %v", resp.StatusCode, out)
	}

	resp, out = post(t, srv.URL+"/actions/explode", ``)
	if resp.StatusCode != http.StatusInternalServerError || out["status"] != "failed" {
		t.Errorf("expected failed with 500, got %d %v", resp.StatusCode, out)
	}

	resp, _ = post(t, srv.URL+"/actions/order", `{bad json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", resp.StatusCode)
	}
}

func TestServer_AbortAndReset(t *testing.T) {
	_, srv := newTestServer(t)

	_, out := post(t, srv.URL+"/scopes/ui/abort", ``)
	if out["scope"] != "ui" || out["aborted"] != float64(0) {
		t.Errorf("unexpected abort response %v", out)
	}

	_, out = post(t, srv.URL+"/actions/order?scope=ui", `{"qty": 1, "price": 1}`)
	if out["status"] != "aborted" {
		t.Errorf("expected dispatch in aborted scope to abort, got %v", out)
	}
	_, out = post(t, srv.URL+"/actions/order", `{"qty": 1, "price": 1}`)
	if out["status"] != "completed" {
		t.Errorf("expected default scope unaffected, got %v", out)
	}

	post(t, srv.URL+"/scopes/ui/reset", ``)
	_, out = post(t, srv.URL+"/actions/order?scope=ui", `{"qty": 1, "price": 1}`)
	if out["status"] != "completed" {
		t.Errorf("expected completed after reset, got %v", out)
	}
}

func TestServer_TimelinesAndMetrics(t *testing.T) {
	rt, srv := newTestServer(t)

	_, out := post(t, srv.URL+"/actions/order", `{"qty": 1, "price": 1}`)
	id := out["id"].(string)
	post(t, srv.URL+"/actions/order", `{"qty": 0}`)

	resp, body := get(t, srv.URL+"/dispatches/"+id)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"dispatch_id":"`+id+`"`) {
		t.Errorf("unexpected timeline %d %s", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv.URL+"/dispatches/nope"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown dispatch, got %d", resp.StatusCode)
	}

	timelines, err := rt.timelines.Timelines(context.Background(), eventsFilter("order", "aborted"))
	if err != nil || len(timelines) != 1 {
		t.Errorf("expected one aborted timeline, got %v (%v)", timelines, err)
	}
	resp, body = get(t, srv.URL+"/dispatches?action=order&limit=1")
	if resp.StatusCode != http.StatusOK || strings.Count(body, `"dispatch_id"`) != 1 {
		t.Errorf("unexpected timeline list %d %s", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv.URL+"/dispatches?limit=x"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}

	_, body = get(t, srv.URL+"/metrics")
	for _, want := range []string{
		`actionpipe_dispatches_total{action="order",status="completed"} 1`,
		`actionpipe_dispatches_total{action="order",status="aborted"} 1`,
		`actionpipe_http_requests_total`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics", want)
		}
	}

	resp, body = get(t, srv.URL+"/sla")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"name":"error_rate"`) {
		t.Errorf("unexpected sla report %d %s", resp.StatusCode, body)
	}

	_, body = get(t, srv.URL+"/actions")
	if !strings.Contains(body, `"order"`) || !strings.Contains(body, `"explode"`) {
		t.Errorf("unexpected action list %s", body)
	}
}

func eventsFilter(action, status string) events.TimelineFilter {
	return events.TimelineFilter{Action: action, Status: status}
}
