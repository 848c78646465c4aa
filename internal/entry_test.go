package internal

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/vaultlens/internal/events"
	"github.com/starford/vaultlens/internal/index"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	vault := filepath.Join(dir, "vault")
	if err := os.MkdirAll(filepath.Join(vault, ".obsidian"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"a.md":                "links to [[b]]\n",
		"b.md":                "target\n",
		".obsidian/plugin.md": "ignored\n",
	} {
		if err := os.WriteFile(filepath.Join(vault, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := NewDefaultConfig()
	cfg.Vault.Path = vault
	cfg.App.LogPath = filepath.Join(dir, "logs", "vaultlens.log")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestNew_MissingVault(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Vault.Path = filepath.Join(t.TempDir(), "nope")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if _, err := New(WithConfig(cfg), WithLogOutput(&bytes.Buffer{})); err == nil {
		t.Fatal("expected error for missing vault")
	}
}

func TestApp_IndexAndQuery(t *testing.T) {
	cfg := testConfig(t)
	var logs bytes.Buffer
	app, err := New(WithConfig(cfg), WithLogOutput(&logs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.Close()

	rep, err := app.Index(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if rep.Added != 2 || rep.LinksBroken != 0 {
		t.Errorf("report = %+v", rep)
	}

	dead, err := app.Engine.DeadEnds(context.Background(), app.DiagnoseDefaults())
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0].Path != "b.md" {
		t.Errorf("dead ends = %+v", dead)
	}

	if _, err := os.Stat(filepath.Join(cfg.Vault.Path, ".vaultlens", "index.db")); err != nil {
		t.Errorf("index not created in vault: %v", err)
	}

	if !strings.Contains(logs.String(), `"msg":"index: run complete"`) {
		t.Errorf("summary not logged: %s", logs.String())
	}
	if err := app.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(cfg.App.LogPath)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !bytes.Equal(data, logs.Bytes()) {
		t.Error("log file does not mirror the log output")
	}
}

func TestApp_DryRunWritesNothing(t *testing.T) {
	app, err := New(WithConfig(testConfig(t)), WithLogOutput(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	rep, err := app.Index(context.Background(), false, true)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Added != 2 || !rep.DryRun {
		t.Errorf("report = %+v", rep)
	}
	st, err := app.Engine.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Notes != 0 {
		t.Errorf("dry run stored %d notes", st.Notes)
	}
}

func TestApp_WatchPublishesRuns(t *testing.T) {
	app, err := New(WithConfig(testConfig(t)), WithLogOutput(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	sub := app.Events.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Watch(ctx, nil) }()

	select {
	case ev := <-sub:
		rep, ok := ev.Data.(*index.Report)
		if ev.Type != events.TypeIndexUpdated || !ok || rep.Added != 2 {
			t.Errorf("first event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for the initial run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}
