package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	var reloads atomic.Int32
	w.reload = func(string) error {
		reloads.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(minimalConfig+"\n# edit\n"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	if reloads.Load() == 0 {
		t.Fatal("expected at least one reload")
	}
	if reloads.Load() > 2 {
		t.Errorf("expected rapid writes to be debounced, got %d reloads", reloads.Load())
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	var reloads atomic.Int32
	w.reload = func(string) error {
		reloads.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path+".bak", []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	cancel()
	<-done

	if reloads.Load() != 0 {
		t.Errorf("expected no reloads for sibling file, got %d", reloads.Load())
	}
}
