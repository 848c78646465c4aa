// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/vaultlens/internal/events"
	"github.com/starford/vaultlens/internal/exclude"
	"github.com/starford/vaultlens/internal/index"
	"github.com/starford/vaultlens/internal/mcpserver"
	"github.com/starford/vaultlens/internal/noteservice"
	"github.com/starford/vaultlens/internal/query"
	"github.com/starford/vaultlens/internal/storage"
)

// App is an opened vault: the one store handle and the components that
// share it.
type App struct {
	Config *Config
	Logger *slog.Logger
	DB     *index.DB
	Store  *storage.FS
	Engine *query.Engine
	Notes  *noteservice.Service
	Events *events.Broker

	logFile *os.File
}

// New opens the vault and its index with the given options.
func New(opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config
	a := &App{Config: cfg, Logger: app.logger}

	if a.Logger == nil {
		out := app.logOutput
		if out == nil {
			out = os.Stderr
		}
		logger, f, err := newLogger(cfg.App, out)
		if err != nil {
			return nil, err
		}
		a.Logger, a.logFile = logger, f
	}

	a.Logger.Debug("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	vaultEx, err := exclude.New(cfg.Vault.Exclude)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("vault exclude: %w", err)
	}
	a.Store, err = storage.NewFS(cfg.Vault.Path, vaultEx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a.DB, err = index.Open(cfg.SQLite.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}

	diagEx, err := exclude.New(cfg.Diagnose.Exclude)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("diagnose exclude: %w", err)
	}
	a.Engine = query.New(a.DB, query.Options{
		Exclude:       diagEx,
		CaseSensitive: cfg.Index.CaseSensitive,
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxDepth:      cfg.Graph.MaxDepth,
	})
	a.Notes = noteservice.NewService(a.Store, a.Engine)
	a.Events = events.NewBroker(0)
	return a, nil
}

// newLogger builds the JSON logger. When cfg.LogPath is set, lines are also
// appended to that file.
func newLogger(cfg ApplicationConfig, out io.Writer) (*slog.Logger, *os.File, error) {
	var f *os.File
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(out, f)
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, f, nil
}

// Close stops the event broker and releases the store handle and the log
// file.
func (a *App) Close() error {
	if a.Events != nil {
		a.Events.Close()
	}
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

// DiagnoseDefaults returns the configured orphan and dead-end toggles.
func (a *App) DiagnoseDefaults() query.DiagnoseOptions {
	return query.DiagnoseOptions{
		IgnoreEmbeds:  a.Config.Diagnose.IgnoreEmbeds,
		ApplyExcludes: a.Config.Diagnose.ApplyExcludes,
	}
}

// Indexer returns an indexer configured from the index section.
func (a *App) Indexer(force, dryRun bool) (*index.Indexer, error) {
	c := a.Config.Index
	return index.NewIndexer(a.DB, a.Store, a.Logger, index.Options{
		Workers:       c.Workers,
		BatchSize:     c.BatchSize,
		ChunkWindow:   c.Chunk.Window,
		ChunkOverlap:  c.Chunk.Overlap,
		PruneMissing:  c.PruneMissing,
		CaseSensitive: c.CaseSensitive,
		Force:         force,
		DryRun:        dryRun,
	})
}

// Index runs one index pass.
func (a *App) Index(ctx context.Context, force, dryRun bool) (*index.Report, error) {
	ix, err := a.Indexer(force, dryRun)
	if err != nil {
		return nil, err
	}
	return ix.Run(ctx)
}

// publish returns a report callback that announces every run on a.Events
// before handing it to cb.
func (a *App) publish(cb index.ReportCallback) index.ReportCallback {
	return func(rep *index.Report) {
		a.Events.PublishReport(rep)
		if cb != nil {
			cb(rep)
		}
	}
}

// Watch indexes once and then reindexes on every burst of vault changes
// until ctx is cancelled or the process is signalled. Every run is also
// published on a.Events.
func (a *App) Watch(ctx context.Context, cb index.ReportCallback) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ix, err := a.Indexer(false, false)
	if err != nil {
		return err
	}
	rep, err := ix.Run(ctx)
	if err != nil {
		return fmt.Errorf("initial index: %w", err)
	}
	cb = a.publish(cb)
	cb(rep)
	return index.Watch(ctx, ix, index.DefaultDebounce, a.Logger, cb)
}

// ServeMCP indexes once and serves the MCP tools over in and out. With
// watch set, the index follows vault changes while serving and each run is
// pushed to clients as a notification.
func (a *App) ServeMCP(ctx context.Context, in io.Reader, out io.Writer, watch bool) error {
	ix, err := a.Indexer(false, false)
	if err != nil {
		return err
	}
	if _, err := ix.Run(ctx); err != nil {
		a.Logger.Warn("initial index failed", slog.String("error", err.Error()))
	}

	srv := mcpserver.New(a.Engine, a.Notes, a.DiagnoseDefaults())

	g, gCtx := errgroup.WithContext(ctx)
	serveCtx, cancel := context.WithCancel(gCtx)
	defer cancel()

	if watch {
		g.Go(func() error {
			return index.Watch(serveCtx, ix, index.DefaultDebounce, a.Logger, a.publish(nil))
		})
		g.Go(func() error {
			srv.Forward(serveCtx, a.Events)
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		a.Logger.Info("MCP server starting", slog.String("vault", a.Config.Vault.Path))
		if err := srv.Serve(serveCtx, in, out, a.Logger); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			a.Logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-serveCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	a.Logger.Info("MCP server stopped")
	return nil
}
