package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, e *testEnv, cb ReportCallback) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, e.ix, 50*time.Millisecond, quietLogger(), cb)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func indexed(e *testEnv, path string) bool {
	h, _ := e.db.GetHash(context.Background(), path)
	return h != ""
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	e := newEnv(t, nil)

	var mu sync.Mutex
	var reports []*Report
	startWatch(t, e, func(rep *Report) {
		mu.Lock()
		reports = append(reports, rep)
		mu.Unlock()
	})

	writeNote(t, e.vault, "new.md", "# New")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return indexed(e, "new.md")
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range reports {
			if r.Added == 1 {
				return true
			}
		}
		return false
	}, "expected a report with one added note")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	e := newEnv(t, nil)
	startWatch(t, e, nil)

	if err := os.MkdirAll(filepath.Join(e.vault, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	writeNote(t, e.vault, "subdir/deep.md", "# Deep")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return indexed(e, "subdir/deep.md")
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_ExcludedDirIgnored(t *testing.T) {
	e := newEnv(t, nil)
	var mu sync.Mutex
	runs := 0
	startWatch(t, e, func(*Report) {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	writeNote(t, e.vault, ".obsidian/plugin.md", "x")
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if runs != 0 {
		t.Errorf("runs = %d, want 0 for excluded path", runs)
	}
	if indexed(e, ".obsidian/plugin.md") {
		t.Error("excluded file indexed")
	}
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "del.md", "# Delete Me")
	e.run(t)
	if !indexed(e, "del.md") {
		t.Fatal("precondition: file should be indexed")
	}

	startWatch(t, e, nil)
	_ = os.Remove(filepath.Join(e.vault, "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !indexed(e, "del.md")
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "old.md", "# Rename")
	writeNote(t, e.vault, "ref.md", "[[old]]")
	e.run(t)

	startWatch(t, e, nil)
	_ = os.Rename(filepath.Join(e.vault, "old.md"), filepath.Join(e.vault, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !indexed(e, "old.md") && indexed(e, "renamed.md")
	}, "rename reconciliation failed: old path should be removed and new path indexed")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		n, _ := e.db.CountUnresolved(context.Background())
		return n == 1
	}, "link to renamed note should be unresolved")
}
