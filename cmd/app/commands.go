package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/vaultlens/internal"
	"github.com/starford/vaultlens/internal/index"
	"github.com/starford/vaultlens/internal/query"
)

func diagnoseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "ignore-embeds", Usage: "Do not count ![[embeds]] as connections"},
		&cli.BoolFlag{Name: "apply-excludes", Usage: "Drop notes matching diagnose.exclude"},
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "init",
			Usage: "Create the config file and an empty index",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "Drop and recreate the index"},
			},
			Action: withApp(runInit),
		},
		{
			Name:  "index",
			Usage: "Scan the vault and update the index",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "Reparse every note"},
				&cli.BoolFlag{Name: "dry-run", Usage: "Report what would change without writing"},
			},
			Action: withApp(runIndex),
		},
		{
			Name:   "stats",
			Usage:  "Show index counts",
			Action: withApp(runStats),
		},
		{
			Name:      "search",
			Usage:     "Search note text",
			ArgsUsage: "<query>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum hits (default search.default_limit)"},
			},
			Action: withApp(runSearch),
		},
		{
			Name:      "backlinks",
			Usage:     "List links pointing at a note",
			ArgsUsage: "<note>",
			Action:    withApp(runBacklinks),
		},
		{
			Name:      "links",
			Usage:     "List links written in a note",
			ArgsUsage: "<note>",
			Action:    withApp(runLinks),
		},
		{
			Name:    "unresolved",
			Aliases: []string{"broken"},
			Usage:   "List links that match no note",
			Action:  withApp(runUnresolved),
		},
		{
			Name:   "orphans",
			Usage:  "List notes with no incoming and no outgoing links",
			Flags:  diagnoseFlags(),
			Action: withApp(runOrphans),
		},
		{
			Name:   "dead-ends",
			Usage:  "List notes that are linked to but link nowhere",
			Flags:  diagnoseFlags(),
			Action: withApp(runDeadEnds),
		},
		{
			Name:      "tags",
			Usage:     "List tags, or notes by tag",
			ArgsUsage: "[tag]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "all", Usage: "List every tag with its note count"},
				&cli.StringSliceFlag{Name: "and", Usage: "Notes carrying every listed tag"},
				&cli.StringSliceFlag{Name: "or", Usage: "Notes carrying any listed tag"},
			},
			Action: withApp(runTags),
		},
		{
			Name:      "graph",
			Usage:     "Show the notes reachable from a note over forward links",
			ArgsUsage: "<note>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Value: 1, Usage: "Hops to follow (capped by graph.max_depth)"},
			},
			Action: withApp(runGraph),
		},
		{
			Name:      "show",
			Usage:     "Show a note with its metadata and links",
			ArgsUsage: "<note>",
			Action:    withApp(runShow),
		},
		{
			Name:   "watch",
			Usage:  "Index, then reindex on every vault change",
			Action: withApp(runWatch),
		},
		{
			Name:  "mcp",
			Usage: "Serve the query tools over MCP on stdin/stdout",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "watch", Usage: "Keep the index in sync with the vault while serving"},
			},
			Action: withApp(runMCP),
		},
	}
}

func newPrinter(cmd *cli.Command) *printer {
	return &printer{w: os.Stdout, json: cmd.Bool("json")}
}

// noteArg resolves the positional arguments, joined by spaces so titles
// need no quoting, to a note.
func noteArg(ctx context.Context, cmd *cli.Command, app *internal.App) (query.NoteRef, error) {
	ref := strings.Join(cmd.Args().Slice(), " ")
	if ref == "" {
		return query.NoteRef{}, fmt.Errorf("%s: missing <note> argument", cmd.Name)
	}
	return app.Engine.ResolveNote(ctx, ref)
}

func diagnoseOptions(cmd *cli.Command, app *internal.App) query.DiagnoseOptions {
	opts := app.DiagnoseDefaults()
	if cmd.IsSet("ignore-embeds") {
		opts.IgnoreEmbeds = cmd.Bool("ignore-embeds")
	}
	if cmd.IsSet("apply-excludes") {
		opts.ApplyExcludes = cmd.Bool("apply-excludes")
	}
	return opts
}

func runInit(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	if cmd.Bool("force") {
		if err := app.DB.Reset(ctx); err != nil {
			return err
		}
	}
	p := newPrinter(cmd)
	return p.message(map[string]any{
		"config":         cmd.String("config"),
		"vault":          app.Config.Vault.Path,
		"database":       app.Config.SQLite.Path,
		"schema_version": index.SchemaVersion,
		"full_text":      index.FTSEnabled,
	}, fmt.Sprintf("Initialized index at %s (schema v%d) for vault %s",
		app.Config.SQLite.Path, index.SchemaVersion, app.Config.Vault.Path))
}

func runIndex(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	rep, err := app.Index(ctx, cmd.Bool("force"), cmd.Bool("dry-run"))
	if err != nil {
		return err
	}
	return newPrinter(cmd).report(rep)
}

func runStats(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	st, err := app.Engine.Stats(ctx)
	if err != nil {
		return err
	}
	return newPrinter(cmd).stats(st)
}

func runSearch(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	hits, err := app.Engine.Search(ctx, strings.Join(cmd.Args().Slice(), " "), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	return newPrinter(cmd).hits(hits)
}

func runBacklinks(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	n, err := noteArg(ctx, cmd, app)
	if err != nil {
		return err
	}
	links, err := app.Engine.Backlinks(ctx, n.ID)
	if err != nil {
		return err
	}
	return newPrinter(cmd).links(links, true)
}

func runLinks(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	n, err := noteArg(ctx, cmd, app)
	if err != nil {
		return err
	}
	links, err := app.Engine.ForwardLinks(ctx, n.ID)
	if err != nil {
		return err
	}
	return newPrinter(cmd).links(links, false)
}

func runUnresolved(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	broken, err := app.Engine.BrokenLinks(ctx)
	if err != nil {
		return err
	}
	return newPrinter(cmd).broken(broken)
}

func runOrphans(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	notes, err := app.Engine.Orphans(ctx, diagnoseOptions(cmd, app))
	if err != nil {
		return err
	}
	return newPrinter(cmd).notes(notes)
}

func runDeadEnds(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	notes, err := app.Engine.DeadEnds(ctx, diagnoseOptions(cmd, app))
	if err != nil {
		return err
	}
	return newPrinter(cmd).notes(notes)
}

func runTags(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	p := newPrinter(cmd)
	and, or := cmd.StringSlice("and"), cmd.StringSlice("or")
	switch {
	case cmd.Bool("all") || (len(and) == 0 && len(or) == 0 && cmd.Args().Len() == 0):
		counts, err := app.Engine.ListTags(ctx)
		if err != nil {
			return err
		}
		return p.tagCounts(counts)
	case len(and) > 0 && len(or) > 0:
		return fmt.Errorf("tags: use either --and or --or, not both")
	case len(and) > 0:
		notes, err := app.Engine.TagsAnd(ctx, and)
		if err != nil {
			return err
		}
		return p.tagged(notes)
	case len(or) > 0:
		notes, err := app.Engine.TagsOr(ctx, or)
		if err != nil {
			return err
		}
		return p.tagged(notes)
	default:
		notes, err := app.Engine.NotesByTag(ctx, cmd.Args().First())
		if err != nil {
			return err
		}
		return p.tagged(notes)
	}
}

func runGraph(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	n, err := noteArg(ctx, cmd, app)
	if err != nil {
		return err
	}
	g, err := app.Engine.Graph(ctx, n.ID, int(cmd.Int("depth")))
	if err != nil {
		return err
	}
	return newPrinter(cmd).graph(g)
}

func runShow(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	ref := strings.Join(cmd.Args().Slice(), " ")
	if ref == "" {
		return fmt.Errorf("show: missing <note> argument")
	}
	d, err := app.Notes.GetNote(ctx, ref)
	if err != nil {
		return err
	}
	return newPrinter(cmd).note(d)
}

func runWatch(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	p := newPrinter(cmd)
	return app.Watch(ctx, func(rep *index.Report) {
		if err := p.report(rep); err != nil {
			app.Logger.Error("watch: print report", slog.String("error", err.Error()))
		}
	})
}

func runMCP(ctx context.Context, cmd *cli.Command, app *internal.App) error {
	return app.ServeMCP(ctx, os.Stdin, os.Stdout, cmd.Bool("watch"))
}
