package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/vaultlens/internal/checksum"
	"github.com/starford/vaultlens/internal/chunker"
	"github.com/starford/vaultlens/internal/models"
	"github.com/starford/vaultlens/internal/parser"
	"github.com/starford/vaultlens/internal/storage"
)

// Options tune an index run.
type Options struct {
	Workers       int  // parallel read/parse workers; <1 means GOMAXPROCS
	BatchSize     int  // files per write transaction; <1 means 200
	ChunkWindow   int  // runes per chunk
	ChunkOverlap  int  // runes carried into the next chunk
	PruneMissing  bool // remove notes whose file disappeared
	CaseSensitive bool // link resolution case policy
	Force         bool // reparse every file regardless of hash
	DryRun        bool // classify and count without writing
}

// Report summarises one index run.
type Report struct {
	Added         int                `json:"added"`
	Updated       int                `json:"updated"`
	Unchanged     int                `json:"unchanged"`
	Removed       int                `json:"removed"`
	LinksResolved int                `json:"links_resolved"`
	LinksBroken   int                `json:"links_broken"`
	Errors        []models.FileError `json:"errors,omitempty"`
	Duration      time.Duration      `json:"duration"`
	DryRun        bool               `json:"dry_run,omitempty"`
}

// Changed reports whether the run added, updated, or removed any note.
func (r *Report) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// Indexer brings the store in line with the vault on disk.
type Indexer struct {
	db     *DB
	store  storage.Provider
	opts   Options
	logger *slog.Logger
}

// NewIndexer validates opts and returns an Indexer.
func NewIndexer(db *DB, store storage.Provider, logger *slog.Logger, opts Options) (*Indexer, error) {
	if err := chunker.Validate(opts.ChunkWindow, opts.ChunkOverlap); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if opts.Workers < 1 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, store: store, opts: opts, logger: logger}, nil
}

// WithRunFlags returns a copy of the indexer with per-run flags replaced.
func (ix *Indexer) WithRunFlags(force, dryRun bool) *Indexer {
	cp := *ix
	cp.opts.Force = force
	cp.opts.DryRun = dryRun
	return &cp
}

// Store returns the vault provider the indexer reads from.
func (ix *Indexer) Store() storage.Provider { return ix.store }

type outcome int

const (
	outcomeSkip outcome = iota // read or parse failed; stored row kept as is
	outcomeTouch
	outcomeAdd
	outcomeUpdate
)

type fileJob struct {
	meta  models.FileMeta
	state FileState
	known bool

	result outcome
	record NoteRecord
	err    *models.FileError
}

// Run performs one full pass: scan, change detection, parallel parse,
// batched commits, deletion detection, and link resolution.
func (ix *Indexer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{DryRun: ix.opts.DryRun}

	metas, walkErrs, err := ix.store.List("")
	if err != nil {
		return nil, fmt.Errorf("index: scan: %w", err)
	}
	rep.Errors = append(rep.Errors, walkErrs...)

	states, err := ix.db.FileStates(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(metas))
	var jobs []*fileJob
	for _, m := range metas {
		seen[m.Path] = struct{}{}
		st, known := states[m.Path]
		if known && !ix.opts.Force && st.Unchanged(m) {
			rep.Unchanged++
			continue
		}
		jobs = append(jobs, &fileJob{meta: m, state: st, known: known})
	}

	for i := 0; i < len(jobs); i += ix.opts.BatchSize {
		batch := jobs[i:min(i+ix.opts.BatchSize, len(jobs))]
		if err := ix.process(ctx, batch); err != nil {
			return nil, err
		}
		if err := ix.commit(ctx, batch, rep); err != nil {
			return nil, err
		}
	}

	if err := ix.prune(ctx, states, seen, walkErrs, rep); err != nil {
		return nil, err
	}

	if ix.opts.DryRun {
		if rep.LinksBroken, err = ix.db.CountUnresolved(ctx); err != nil {
			return nil, err
		}
	} else {
		stats, err := ix.db.ResolveLinks(ctx, ix.opts.CaseSensitive)
		if err != nil {
			return nil, err
		}
		rep.LinksResolved = stats.Resolved
		rep.LinksBroken = stats.Broken
	}

	rep.Duration = time.Since(start)
	ix.log(rep)
	return rep, nil
}

// process reads, hashes, and parses a batch on a bounded worker pool. Each
// job only writes its own fields, so no locking is needed.
func (ix *Indexer) process(ctx context.Context, batch []*fileJob) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for _, job := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ix.processOne(job)
			return nil
		})
	}
	return g.Wait()
}

func (ix *Indexer) processOne(job *fileJob) {
	defer func() {
		if r := recover(); r != nil {
			job.result = outcomeSkip
			job.err = &models.FileError{Path: job.meta.Path, Op: "parse", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	data, err := ix.store.Read(job.meta.Path)
	if err != nil {
		job.result = outcomeSkip
		job.err = &models.FileError{Path: job.meta.Path, Op: "read", Err: err}
		return
	}

	hash := checksum.Sum(data)
	if job.known && !ix.opts.Force && hash == job.state.Hash {
		job.result = outcomeTouch
		return
	}

	res := parser.Parse(job.meta.Path, data)
	if res.FrontmatterErr != nil {
		job.err = &models.FileError{Path: job.meta.Path, Op: "frontmatter", Err: res.FrontmatterErr}
	}
	chunks, err := chunker.Split(res.Body, ix.opts.ChunkWindow, ix.opts.ChunkOverlap)
	if err != nil {
		job.result = outcomeSkip
		job.err = &models.FileError{Path: job.meta.Path, Op: "chunk", Err: err}
		return
	}

	job.record = NoteRecord{
		Path:        job.meta.Path,
		Title:       res.Title,
		Aliases:     res.Aliases,
		ModTime:     job.meta.ModTime,
		Size:        job.meta.Size,
		Hash:        hash,
		Frontmatter: res.Frontmatter,
		Links:       res.Links,
		Tags:        res.Tags,
		Chunks:      chunks,
	}
	job.result = outcomeUpdate
	if !job.known {
		job.result = outcomeAdd
	}
}

// commit writes one batch in path order inside a single transaction.
func (ix *Indexer) commit(ctx context.Context, batch []*fileJob, rep *Report) error {
	for _, job := range batch {
		if job.err != nil {
			rep.Errors = append(rep.Errors, *job.err)
		}
		switch job.result {
		case outcomeAdd:
			rep.Added++
		case outcomeUpdate:
			rep.Updated++
		case outcomeTouch:
			rep.Unchanged++
		}
	}
	if ix.opts.DryRun {
		return nil
	}

	return ix.db.WriteBatch(ctx, func(b *Batch) error {
		for _, job := range batch {
			switch job.result {
			case outcomeAdd, outcomeUpdate:
				if _, err := b.UpsertNote(job.record); err != nil {
					return err
				}
			case outcomeTouch:
				if err := b.TouchNote(job.meta); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// prune removes notes whose files are gone. Paths under a directory that
// could not be walked are kept, since their absence is not known.
func (ix *Indexer) prune(ctx context.Context, states map[string]FileState, seen map[string]struct{}, walkErrs []models.FileError, rep *Report) error {
	if !ix.opts.PruneMissing {
		return nil
	}
	var gone []string
	for p := range states {
		if _, ok := seen[p]; ok || underAny(p, walkErrs) {
			continue
		}
		gone = append(gone, p)
	}
	if len(gone) == 0 {
		return nil
	}
	sort.Strings(gone)

	if ix.opts.DryRun {
		rep.Removed += len(gone)
		return nil
	}
	for i := 0; i < len(gone); i += ix.opts.BatchSize {
		chunk := gone[i:min(i+ix.opts.BatchSize, len(gone))]
		err := ix.db.WriteBatch(ctx, func(b *Batch) error {
			for _, p := range chunk {
				ok, err := b.DeleteNote(p)
				if err != nil {
					return err
				}
				if ok {
					rep.Removed++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func underAny(p string, errs []models.FileError) bool {
	for _, e := range errs {
		if p == e.Path || strings.HasPrefix(p, e.Path+"/") {
			return true
		}
	}
	return false
}

func (ix *Indexer) log(rep *Report) {
	for _, fe := range rep.Errors {
		msg := ""
		if fe.Err != nil {
			msg = fe.Err.Error()
		}
		ix.logger.Warn("index: file error",
			slog.String("path", fe.Path),
			slog.String("op", fe.Op),
			slog.String("error", msg))
	}
	ix.logger.Info("index: run complete",
		slog.Int("added", rep.Added),
		slog.Int("updated", rep.Updated),
		slog.Int("unchanged", rep.Unchanged),
		slog.Int("removed", rep.Removed),
		slog.Int("links_resolved", rep.LinksResolved),
		slog.Int("links_broken", rep.LinksBroken),
		slog.Int("errors", len(rep.Errors)),
		slog.Bool("dry_run", rep.DryRun),
		slog.Duration("duration", rep.Duration))
}
