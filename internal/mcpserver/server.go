// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes read-only vault queries for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/vaultlens/internal/events"
	"github.com/starford/vaultlens/internal/noteservice"
	"github.com/starford/vaultlens/internal/query"
)

// Server wraps the MCP server with vault query tools.
type Server struct {
	mcp      *server.MCPServer
	engine   *query.Engine
	notes    *noteservice.Service
	diagnose query.DiagnoseOptions
}

// New creates a new MCP server with all tools registered. diagnose holds
// the defaults for the orphan and dead-end toggles.
func New(engine *query.Engine, notes *noteservice.Service, diagnose query.DiagnoseOptions) *Server {
	s := &Server{engine: engine, notes: notes, diagnose: diagnose}

	s.mcp = server.NewMCPServer(
		"vaultlens",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	noteArg := mcp.WithString("note", mcp.Required(),
		mcp.Description("Note reference: id, path (folder/note.md), file name, title, or alias"))
	toggles := []mcp.ToolOption{
		mcp.WithBoolean("ignore_embeds", mcp.Description("Do not count ![[embeds]] as connections")),
		mcp.WithBoolean("apply_excludes", mcp.Description("Drop notes matching the diagnostics exclusion patterns")),
	}

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search over note chunks. Every term must match."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its content, frontmatter, tags, backlinks, and forward links."),
		noteArg,
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List links from other notes that resolve to the specified note."),
		noteArg,
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_forward_links",
		mcp.WithDescription("List every link written in the specified note, resolved or not."),
		noteArg,
	), s.getForwardLinks)

	s.mcp.AddTool(mcp.NewTool("list_orphans",
		append([]mcp.ToolOption{mcp.WithDescription("List notes with no incoming and no outgoing links.")}, toggles...)...,
	), s.listOrphans)

	s.mcp.AddTool(mcp.NewTool("list_dead_ends",
		append([]mcp.ToolOption{mcp.WithDescription("List notes that are linked to but link nowhere.")}, toggles...)...,
	), s.listDeadEnds)

	s.mcp.AddTool(mcp.NewTool("list_broken_links",
		mcp.WithDescription("List links whose target matches no note."),
	), s.listBrokenLinks)

	s.mcp.AddTool(mcp.NewTool("notes_by_tags",
		mcp.WithDescription("Find notes by tags. With no tags, lists every tag with its note count."),
		mcp.WithArray("tags", mcp.Description("Tags to match, with or without a leading #"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("mode", mcp.Description("and (default): notes with every tag; or: notes with any tag"),
			mcp.Enum("and", "or")),
	), s.notesByTags)

	s.mcp.AddTool(mcp.NewTool("local_graph",
		mcp.WithDescription("Notes reachable from a note over forward links, up to a depth, with the links between them."),
		noteArg,
		mcp.WithNumber("depth", mcp.Description("Hops to follow (default 1, capped by configuration)")),
	), s.localGraph)

	s.mcp.AddTool(mcp.NewTool("vault_stats",
		mcp.WithDescription("Counts of notes, links, tags, and chunks in the index."),
	), s.vaultStats)

	s.mcp.AddResource(
		mcp.NewResource(linkSyntaxURI, "Link Syntax",
			mcp.WithResourceDescription("How notes, links, and tags are recognized and resolved."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLinkSyntaxResource,
	)

	return s
}

// Serve runs the stdio protocol over in and out until ctx is cancelled or
// in is closed. Transport errors go to logger.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// Notify pushes an index event to every connected client as a
// notifications/vaultlens/<type> message.
func (s *Server) Notify(ev events.Event) {
	s.mcp.SendNotificationToAllClients("notifications/vaultlens/"+ev.Type, map[string]any{"data": ev.Data})
}

// Forward relays broker events to clients until ctx is done or the
// subscription is closed.
func (s *Server) Forward(ctx context.Context, b *events.Broker) {
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.Notify(ev)
		}
	}
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) resolve(ctx context.Context, req mcp.CallToolRequest) (query.NoteRef, *mcp.CallToolResult) {
	ref, err := req.RequireString("note")
	if err != nil {
		return query.NoteRef{}, mcp.NewToolResultError(err.Error())
	}
	n, err := s.engine.ResolveNote(ctx, ref)
	if err != nil {
		return query.NoteRef{}, mcp.NewToolResultError(err.Error())
	}
	return n, nil
}

func (s *Server) diagnoseOptions(req mcp.CallToolRequest) query.DiagnoseOptions {
	return query.DiagnoseOptions{
		IgnoreEmbeds:  req.GetBool("ignore_embeds", s.diagnose.IgnoreEmbeds),
		ApplyExcludes: req.GetBool("apply_excludes", s.diagnose.ApplyExcludes),
	}
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.engine.Search(ctx, q, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(hits)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.notes.GetNote(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, errRes := s.resolve(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	links, err := s.engine.Backlinks(ctx, n.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(links)
}

func (s *Server) getForwardLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, errRes := s.resolve(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	links, err := s.engine.ForwardLinks(ctx, n.ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(links)
}

func (s *Server) listOrphans(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.engine.Orphans(ctx, s.diagnoseOptions(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(notes)
}

func (s *Server) listDeadEnds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.engine.DeadEnds(ctx, s.diagnoseOptions(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(notes)
}

func (s *Server) listBrokenLinks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links, err := s.engine.BrokenLinks(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(links)
}

func (s *Server) notesByTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags := req.GetStringSlice("tags", nil)
	if len(tags) == 0 {
		counts, err := s.engine.ListTags(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(counts)
	}

	var (
		notes []query.TaggedNote
		err   error
	)
	switch mode := req.GetString("mode", "and"); mode {
	case "and":
		notes, err = s.engine.TagsAnd(ctx, tags)
	case "or":
		notes, err = s.engine.TagsOr(ctx, tags)
	default:
		return mcp.NewToolResultError("mode must be \"and\" or \"or\", got " + mode), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(notes)
}

func (s *Server) localGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, errRes := s.resolve(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	g, err := s.engine.Graph(ctx, n.ID, req.GetInt("depth", 1))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(g)
}

func (s *Server) vaultStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.engine.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) readLinkSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      linkSyntaxURI,
			MIMEType: "text/markdown",
			Text:     LinkSyntax,
		},
	}, nil
}
