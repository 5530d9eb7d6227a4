package config

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_DetectsChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "name: v1\nactions: {}\n")

	var calls atomic.Int32
	var lastName atomic.Value
	w := NewWatcher(NewFileSource(path), func(evt ChangeEvent) {
		lastName.Store(evt.Config.Name)
		calls.Add(1)
	}, WithWatchDebounce(50*time.Millisecond), WithWatchLogger(discardLogger()))
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = w.Stop() }()

	writeConfig(t, dir, "name: v2\nactions: {}\n")

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("expected a change notification")
	}
	if lastName.Load() != "v2" {
		t.Errorf("expected reloaded name v2, got %v", lastName.Load())
	}
}

func TestWatcher_IgnoresUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	content := "name: same\n"
	path := writeConfig(t, dir, content)

	var calls atomic.Int32
	w := NewWatcher(NewFileSource(path), func(ChangeEvent) { calls.Add(1) },
		WithWatchDebounce(30*time.Millisecond), WithWatchLogger(discardLogger()))
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeConfig(t, dir, content)
	time.Sleep(200 * time.Millisecond)
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no notification for identical content, got %d", calls.Load())
	}
}

func TestWatcher_StartMissingFile(t *testing.T) {
	w := NewWatcher(NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")), func(ChangeEvent) {})
	if err := w.Start(); err == nil {
		t.Error("expected Start to fail for a missing file")
	}
}
