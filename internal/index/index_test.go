package index

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/vaultlens/internal/exclude"
	"github.com/starford/vaultlens/internal/models"
	"github.com/starford/vaultlens/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeNote(t *testing.T, vault, rel, content string) {
	t.Helper()
	p := filepath.Join(vault, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type testEnv struct {
	vault string
	db    *DB
	ix    *Indexer
}

func newEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	vault := t.TempDir()
	store, err := storage.NewFS(vault, exclude.MustNew(exclude.DefaultPatterns...))
	if err != nil {
		t.Fatal(err)
	}
	db := testDB(t)
	opts := Options{
		Workers:      4,
		BatchSize:    2,
		ChunkWindow:  200,
		ChunkOverlap: 40,
		PruneMissing: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ix, err := NewIndexer(db, store, quietLogger(), opts)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{vault: vault, db: db, ix: ix}
}

func (e *testEnv) run(t *testing.T) *Report {
	t.Helper()
	rep, err := e.ix.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rep
}

// dstOf returns the resolved destination path of the first link from src
// with the given raw text, or "" when unresolved.
func (e *testEnv) dstOf(t *testing.T, src, dstText string) string {
	t.Helper()
	var dst sql.NullString
	err := e.db.conn.QueryRow(`
		SELECT d.path
		FROM links l
		JOIN notes s ON s.id = l.src_note_id
		LEFT JOIN notes d ON d.id = l.dst_note_id
		WHERE s.path = ? AND l.dst_text = ?
		LIMIT 1
	`, src, dstText).Scan(&dst)
	if err != nil {
		t.Fatalf("link %s -> %s: %v", src, dstText, err)
	}
	return dst.String
}

func count(t *testing.T, db *DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"notes", "links", "tags", "chunks", "schema_version"} {
		var name string
		err := db.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
	if v := count(t, db, `SELECT version FROM schema_version`); v != SchemaVersion {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion)
	}
}

func TestSchemaVersionMismatchRebuilds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = db.WriteBatch(context.Background(), func(b *Batch) error {
		_, err := b.UpsertNote(NoteRecord{Path: "a.md", Title: "A", ModTime: time.Now()})
		return err
	})
	_, _ = db.conn.Exec(`UPDATE schema_version SET version = 0`)
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if n := count(t, db, `SELECT count(*) FROM notes`); n != 0 {
		t.Errorf("notes = %d after rebuild, want 0", n)
	}
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	err = db.WriteBatch(context.Background(), func(b *Batch) error {
		_, err := b.UpsertNote(NoteRecord{Path: "m.md", Hash: "h1", ModTime: time.Now()})
		return err
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	h, err := db.GetHash(context.Background(), "m.md")
	if err != nil || h != "h1" {
		t.Errorf("GetHash = %q, %v", h, err)
	}
}

func TestUpsertKeepsIDAndReplacesChildren(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec := NoteRecord{
		Path:   "n.md",
		Title:  "N",
		Hash:   "1",
		Links:  []models.Link{{DstText: "X", Kind: models.KindWikilink}, {DstText: "Y", Kind: models.KindWikilink}},
		Tags:   []string{"a", "b", "a"},
		Chunks: []models.Chunk{{Index: 0, Window: 10, Overlap: 2, Text: "hello"}},
	}
	var firstID, secondID int64
	_ = db.WriteBatch(ctx, func(b *Batch) error {
		var err error
		firstID, err = b.UpsertNote(rec)
		return err
	})

	rec.Hash = "2"
	rec.Links = rec.Links[:1]
	rec.Tags = []string{"c"}
	rec.Chunks = nil
	_ = db.WriteBatch(ctx, func(b *Batch) error {
		var err error
		secondID, err = b.UpsertNote(rec)
		return err
	})

	if firstID != secondID {
		t.Errorf("id changed: %d -> %d", firstID, secondID)
	}
	if n := count(t, db, `SELECT count(*) FROM links`); n != 1 {
		t.Errorf("links = %d, want 1", n)
	}
	if n := count(t, db, `SELECT count(*) FROM tags WHERE tag = 'c'`); n != 1 {
		t.Errorf("tag c missing")
	}
	if n := count(t, db, `SELECT count(*) FROM tags`); n != 1 {
		t.Errorf("tags = %d, want 1", n)
	}
	if n := count(t, db, `SELECT count(*) FROM chunks`); n != 0 {
		t.Errorf("chunks = %d, want 0", n)
	}
}

func TestWriteBatchRollsBackOnError(t *testing.T) {
	db := testDB(t)
	err := db.WriteBatch(context.Background(), func(b *Batch) error {
		if _, err := b.UpsertNote(NoteRecord{Path: "ok.md"}); err != nil {
			return err
		}
		return os.ErrInvalid
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := count(t, db, `SELECT count(*) FROM notes`); n != 0 {
		t.Errorf("notes = %d after rollback, want 0", n)
	}
}

func TestRun_BasicScenario(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "Links to [[B]].")
	writeNote(t, e.vault, "B.md", "No links here.")
	writeNote(t, e.vault, "C.md", "Alone.")
	writeNote(t, e.vault, ".obsidian/config.md", "ignored")

	rep := e.run(t)
	if rep.Added != 3 || rep.Updated != 0 || rep.Removed != 0 {
		t.Errorf("report = %+v", rep)
	}
	if rep.LinksResolved != 1 || rep.LinksBroken != 0 {
		t.Errorf("links resolved=%d broken=%d", rep.LinksResolved, rep.LinksBroken)
	}
	if got := e.dstOf(t, "A.md", "B"); got != "B.md" {
		t.Errorf("A -> B resolved to %q", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "---\ntags: [x]\n---\n[[B]] [[Missing]] #y")
	writeNote(t, e.vault, "B.md", strings.Repeat("word ", 200))
	writeNote(t, e.vault, "sub/C.md", "[[A]]")

	e.run(t)
	snapshot := dump(t, e.db)

	rep := e.run(t)
	if rep.Added != 0 || rep.Updated != 0 || rep.Removed != 0 || rep.LinksResolved != 0 {
		t.Errorf("second run report = %+v", rep)
	}
	if rep.Unchanged != 3 {
		t.Errorf("unchanged = %d, want 3", rep.Unchanged)
	}
	if rep.LinksBroken != 1 {
		t.Errorf("broken = %d, want 1", rep.LinksBroken)
	}
	if after := dump(t, e.db); after != snapshot {
		t.Errorf("store changed on unchanged run:\nbefore:\n%s\nafter:\n%s", snapshot, after)
	}
}

// dump renders the store contents that matter for equality.
func dump(t *testing.T, db *DB) string {
	t.Helper()
	var b strings.Builder
	queries := []string{
		`SELECT id || '|' || path || '|' || title || '|' || hash || '|' || mtime || '|' || indexed_at FROM notes ORDER BY id`,
		`SELECT id || '|' || src_note_id || '|' || ifnull(dst_note_id, '-') || '|' || dst_text FROM links ORDER BY id`,
		`SELECT note_id || '|' || tag FROM tags ORDER BY note_id, tag`,
		`SELECT id || '|' || note_id || '|' || chunk_index || '|' || text FROM chunks ORDER BY id`,
	}
	for _, q := range queries {
		rows, err := db.conn.Query(q)
		if err != nil {
			t.Fatal(err)
		}
		for rows.Next() {
			var s string
			_ = rows.Scan(&s)
			b.WriteString(s)
			b.WriteByte('\n')
		}
		rows.Close()
	}
	return b.String()
}

func TestRun_TouchedButSameContentIsUnchanged(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "same")
	e.run(t)

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(e.vault, "A.md"), later, later); err != nil {
		t.Fatal(err)
	}
	rep := e.run(t)
	if rep.Unchanged != 1 || rep.Updated != 0 {
		t.Errorf("report = %+v", rep)
	}
	info, err := os.Stat(filepath.Join(e.vault, "A.md"))
	if err != nil {
		t.Fatal(err)
	}
	states, _ := e.db.FileStates(context.Background())
	if states["A.md"].ModTime != info.ModTime().UnixNano() {
		t.Errorf("mtime not refreshed")
	}
}

func TestRun_UpdateDetected(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "first")
	e.run(t)
	before, _ := e.db.GetHash(context.Background(), "A.md")

	writeNote(t, e.vault, "A.md", "second, longer content")
	rep := e.run(t)
	if rep.Updated != 1 {
		t.Errorf("report = %+v", rep)
	}
	after, _ := e.db.GetHash(context.Background(), "A.md")
	if before == after {
		t.Error("hash did not change")
	}
}

func TestRun_DeleteFlipsLinkToUnresolved(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "[[B]]")
	writeNote(t, e.vault, "B.md", "target")
	e.run(t)

	if err := os.Remove(filepath.Join(e.vault, "B.md")); err != nil {
		t.Fatal(err)
	}
	rep := e.run(t)
	if rep.Removed != 1 {
		t.Errorf("removed = %d, want 1", rep.Removed)
	}
	if rep.LinksBroken != 1 {
		t.Errorf("broken = %d, want 1", rep.LinksBroken)
	}
	if h, _ := e.db.GetHash(context.Background(), "B.md"); h != "" {
		t.Error("B.md still indexed")
	}
	if got := e.dstOf(t, "A.md", "B"); got != "" {
		t.Errorf("A -> B still resolved to %q", got)
	}
}

func TestRun_PruneDisabledKeepsMissing(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.PruneMissing = false })
	writeNote(t, e.vault, "A.md", "a")
	e.run(t)
	_ = os.Remove(filepath.Join(e.vault, "A.md"))

	rep := e.run(t)
	if rep.Removed != 0 {
		t.Errorf("removed = %d, want 0", rep.Removed)
	}
	if h, _ := e.db.GetHash(context.Background(), "A.md"); h == "" {
		t.Error("A.md pruned despite PruneMissing=false")
	}
}

func TestRun_LateTargetResolves(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "[[Later]]")
	rep := e.run(t)
	if rep.LinksBroken != 1 {
		t.Fatalf("broken = %d, want 1", rep.LinksBroken)
	}

	writeNote(t, e.vault, "Later.md", "now here")
	rep = e.run(t)
	if rep.LinksResolved != 1 || rep.LinksBroken != 0 {
		t.Errorf("report = %+v", rep)
	}
	if got := e.dstOf(t, "A.md", "Later"); got != "Later.md" {
		t.Errorf("resolved to %q", got)
	}
}

func TestRun_ResolutionTiers(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "src.md", "[[folder/Deep]] [[Deep]] [[Titled Note]] [[nick]] [rel](../other/Target%20File.md) [up](sibling.md)")
	writeNote(t, e.vault, "folder/Deep.md", "deep")
	writeNote(t, e.vault, "t.md", "---\ntitle: Titled Note\naliases: [nick]\n---\nx")
	writeNote(t, e.vault, "other/Target File.md", "target")
	writeNote(t, e.vault, "sibling.md", "root sibling")
	e.run(t)

	cases := map[string]string{
		"folder/Deep":               "folder/Deep.md",
		"Deep":                      "folder/Deep.md",
		"Titled Note":               "t.md",
		"nick":                      "t.md",
		"../other/Target%20File.md": "other/Target File.md",
		"sibling.md":                "sibling.md",
	}
	for dst, want := range cases {
		if got := e.dstOf(t, "src.md", dst); got != want {
			t.Errorf("%q resolved to %q, want %q", dst, got, want)
		}
	}
}

func TestRun_MarkdownLinkRelativeToSource(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "a/src.md", "[n](note.md)")
	writeNote(t, e.vault, "a/note.md", "local")
	writeNote(t, e.vault, "note.md", "root")
	e.run(t)
	if got := e.dstOf(t, "a/src.md", "note.md"); got != "a/note.md" {
		t.Errorf("resolved to %q, want a/note.md", got)
	}
}

func TestRun_CasePolicy(t *testing.T) {
	t.Run("insensitive", func(t *testing.T) {
		e := newEnv(t, nil)
		writeNote(t, e.vault, "A.md", "[[my note]] [[ALIAS]]")
		writeNote(t, e.vault, "My Note.md", "---\naliases: [Alias]\n---\n")
		e.run(t)
		if got := e.dstOf(t, "A.md", "my note"); got != "My Note.md" {
			t.Errorf("my note -> %q", got)
		}
		if got := e.dstOf(t, "A.md", "ALIAS"); got != "My Note.md" {
			t.Errorf("ALIAS -> %q", got)
		}
	})
	t.Run("sensitive", func(t *testing.T) {
		e := newEnv(t, func(o *Options) { o.CaseSensitive = true })
		writeNote(t, e.vault, "A.md", "[[my note]] [[My Note]] [[ALIAS]]")
		writeNote(t, e.vault, "My Note.md", "---\naliases: [Alias]\n---\n")
		rep := e.run(t)
		if got := e.dstOf(t, "A.md", "my note"); got != "" {
			t.Errorf("my note -> %q, want unresolved", got)
		}
		if got := e.dstOf(t, "A.md", "My Note"); got != "My Note.md" {
			t.Errorf("My Note -> %q", got)
		}
		if rep.LinksBroken != 2 {
			t.Errorf("broken = %d, want 2", rep.LinksBroken)
		}
	})
}

func TestRun_CollisionIsDeterministic(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "src.md", "[[Shared]] [[dup]]")
	writeNote(t, e.vault, "z.md", "---\ntitle: Shared\naliases: [dup]\n---\n")
	writeNote(t, e.vault, "b.md", "---\ntitle: Shared\naliases: [dup]\n---\n")
	writeNote(t, e.vault, "m/dup.md", "stem beats alias")
	e.run(t)

	if got := e.dstOf(t, "src.md", "Shared"); got != "b.md" {
		t.Errorf("Shared -> %q, want b.md (smallest path)", got)
	}
	if got := e.dstOf(t, "src.md", "dup"); got != "m/dup.md" {
		t.Errorf("dup -> %q, want m/dup.md (file name tier first)", got)
	}
}

func TestRun_TitleChangeReresolvesIncoming(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "[[Old Title]]")
	writeNote(t, e.vault, "t.md", "# Old Title")
	e.run(t)
	if got := e.dstOf(t, "A.md", "Old Title"); got != "t.md" {
		t.Fatalf("precondition: resolved to %q", got)
	}

	writeNote(t, e.vault, "t.md", "# A Different Title")
	rep := e.run(t)
	if got := e.dstOf(t, "A.md", "Old Title"); got != "" {
		t.Errorf("stale title still resolves to %q", got)
	}
	if rep.LinksBroken != 1 {
		t.Errorf("broken = %d, want 1", rep.LinksBroken)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.DryRun = true })
	writeNote(t, e.vault, "A.md", "[[B]]")
	writeNote(t, e.vault, "B.md", "b")

	rep := e.run(t)
	if !rep.DryRun || rep.Added != 2 {
		t.Errorf("report = %+v", rep)
	}
	if n := count(t, e.db, `SELECT count(*) FROM notes`); n != 0 {
		t.Errorf("dry run wrote %d notes", n)
	}
}

func TestRun_ForceReparses(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "A.md", "a")
	e.run(t)

	rep, err := e.ix.WithRunFlags(true, false).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Updated != 1 || rep.Unchanged != 0 {
		t.Errorf("forced report = %+v", rep)
	}
}

func TestRun_MalformedFrontmatterDegrades(t *testing.T) {
	e := newEnv(t, nil)
	writeNote(t, e.vault, "bad.md", "---\n: : {{\n---\n# Heading\n[[Other]] #tag")
	rep := e.run(t)

	if rep.Added != 1 {
		t.Errorf("added = %d, want 1", rep.Added)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Op != "frontmatter" {
		t.Errorf("errors = %v", rep.Errors)
	}
	if n := count(t, e.db, `SELECT count(*) FROM tags WHERE tag = 'tag'`); n != 1 {
		t.Error("inline tag lost")
	}
	var fm string
	_ = e.db.conn.QueryRow(`SELECT frontmatter_json FROM notes WHERE path = 'bad.md'`).Scan(&fm)
	if fm != "{}" {
		t.Errorf("frontmatter_json = %q", fm)
	}
}

func TestRun_UnreadableFileIsRecorded(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores permission bits")
	}
	e := newEnv(t, nil)
	writeNote(t, e.vault, "ok.md", "fine")
	writeNote(t, e.vault, "locked.md", "secret")
	p := filepath.Join(e.vault, "locked.md")
	if err := os.Chmod(p, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(p, 0o644) })

	rep := e.run(t)
	if rep.Added != 1 {
		t.Errorf("added = %d, want 1", rep.Added)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Path != "locked.md" || rep.Errors[0].Op != "read" {
		t.Errorf("errors = %v", rep.Errors)
	}
}

func TestRun_ChunksStored(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.ChunkWindow = 50; o.ChunkOverlap = 10 })
	writeNote(t, e.vault, "long.md", "---\ntitle: x\n---\n"+strings.Repeat("Sentence number one. ", 20))
	e.run(t)

	n := count(t, e.db, `SELECT count(*) FROM chunks c JOIN notes n ON n.id = c.note_id WHERE n.path = 'long.md'`)
	if n < 2 {
		t.Errorf("chunks = %d, want several", n)
	}
	if c := count(t, e.db, `SELECT count(*) FROM chunks WHERE text LIKE '%title:%'`); c != 0 {
		t.Error("frontmatter leaked into chunks")
	}
	if c := count(t, e.db, `SELECT count(*) FROM chunks WHERE window_size != 50 OR overlap_size != 10`); c != 0 {
		t.Error("chunk sizes not recorded")
	}
}

func TestNewIndexer_RejectsBadChunkSizes(t *testing.T) {
	db := testDB(t)
	store, _ := storage.NewFS(t.TempDir(), nil)
	if _, err := NewIndexer(db, store, quietLogger(), Options{ChunkWindow: 10, ChunkOverlap: 10}); err == nil {
		t.Error("expected error for overlap >= window")
	}
}

func TestResolver_Lookup(t *testing.T) {
	r := NewResolver([]NoteKey{
		{ID: 1, Path: "a/Note.md", Title: "Alpha"},
		{ID: 2, Path: "b/Note.md", Title: "Beta", Aliases: []string{"bee"}},
	}, false)

	tests := []struct {
		ref  string
		want int64
	}{
		{"a/Note", 1},
		{"b/Note.md", 2},
		{"Note", 1},
		{"beta", 2},
		{"BEE", 2},
		{"./a/Note.md", 1},
	}
	for _, tt := range tests {
		got, ok := r.Lookup(tt.ref)
		if !ok || got.ID != tt.want {
			t.Errorf("Lookup(%q) = %d, %v; want %d", tt.ref, got.ID, ok, tt.want)
		}
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) succeeded")
	}
	if _, ok := r.Lookup("  "); ok {
		t.Error("Lookup(blank) succeeded")
	}
}
