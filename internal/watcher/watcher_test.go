package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherCreation(t *testing.T) {
	tmpDir := t.TempDir()
	script := filepath.Join(tmpDir, "policy.lua")

	w, err := New([]string{script}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	tracked := w.Tracked()
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked path, got %d", len(tracked))
	}
	if tracked[0] != script {
		t.Errorf("expected %s tracked, got %s", script, tracked[0])
	}
}

func TestWatcherReportsSettledWrite(t *testing.T) {
	tmpDir := t.TempDir()
	script := filepath.Join(tmpDir, "policy.lua")
	if err := os.WriteFile(script, []byte("return true"), 0600); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	w, err := New([]string{script}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(script, []byte("return false"), 0600); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}

	select {
	case event := <-w.Events():
		if event.Path != script {
			t.Errorf("expected path %s, got %s", script, event.Path)
		}
	case <-time.After(3 * time.Second):
		t.Error("timeout waiting for settled event")
	}
}

func TestWatcherIgnoresUntrackedFiles(t *testing.T) {
	tmpDir := t.TempDir()
	script := filepath.Join(tmpDir, "policy.lua")
	other := filepath.Join(tmpDir, "notes.txt")
	if err := os.WriteFile(script, []byte("return true"), 0600); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	w, err := New([]string{script}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(other, []byte("scratch"), 0600); err != nil {
		t.Fatalf("failed to write untracked file: %v", err)
	}

	select {
	case event := <-w.Events():
		t.Errorf("unexpected event for untracked file: %s", event.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherDebounce(t *testing.T) {
	tmpDir := t.TempDir()
	script := filepath.Join(tmpDir, "policy.lua")

	w, err := New([]string{script}, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	defer w.Stop()

	// An editor-style burst of writes must settle to a single report.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(script, []byte("return true -- rev "+string(rune('0'+i))), 0600); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	eventCount := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-w.Events():
			eventCount++
			if eventCount > 1 {
				t.Fatal("expected a single debounced event")
			}
		case <-timeout:
			if eventCount != 1 {
				t.Errorf("expected 1 event, got %d", eventCount)
			}
			return
		}
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	tmpDir := t.TempDir()
	script := filepath.Join(tmpDir, "policy.lua")

	w, err := New([]string{script}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop watcher: %v", err)
	}

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("expected events channel closed after Stop")
		}
	case <-time.After(time.Second):
		t.Error("events channel not closed after Stop")
	}
}
