package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/starford/vaultlens/internal/apperr"
)

// GraphNode is a note reached by a local graph walk.
type GraphNode struct {
	NoteRef
	Depth int `json:"depth"` // hops from the root
}

// GraphEdge is a resolved link between two visited notes.
type GraphEdge struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Graph is the neighborhood of Root reachable over forward links.
type Graph struct {
	Root  NoteRef     `json:"root"`
	Depth int         `json:"depth"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph walks forward resolved links breadth-first from noteID up to depth
// hops. Each note is visited once at its shortest distance. Depth 0 returns
// the root alone; depths above the configured maximum are capped.
func (e *Engine) Graph(ctx context.Context, noteID int64, depth int) (*Graph, error) {
	if depth < 0 {
		return nil, fmt.Errorf("query: graph: negative depth %d: %w", depth, apperr.ErrInvalidArgument)
	}
	if depth > e.opts.MaxDepth {
		depth = e.opts.MaxDepth
	}
	root, err := e.noteByID(ctx, noteID)
	if err != nil {
		return nil, err
	}

	visited := map[int64]int{noteID: 0}
	order := []int64{noteID}
	frontier := []int64{noteID}
	edgeSeen := make(map[GraphEdge]bool)
	var edges []GraphEdge

	for level := 0; len(frontier) > 0; level++ {
		adj, err := e.adjacency(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []int64
		for _, src := range frontier {
			for _, dst := range adj[src] {
				if _, seen := visited[dst]; !seen {
					if level >= depth {
						continue
					}
					visited[dst] = level + 1
					order = append(order, dst)
					next = append(next, dst)
				}
				edge := GraphEdge{From: src, To: dst}
				if !edgeSeen[edge] {
					edgeSeen[edge] = true
					edges = append(edges, edge)
				}
			}
		}
		frontier = next
	}

	refs, err := e.refsByID(ctx, order)
	if err != nil {
		return nil, err
	}
	g := &Graph{Root: root, Depth: depth, Nodes: make([]GraphNode, 0, len(order)), Edges: edges}
	for _, id := range order {
		if r, ok := refs[id]; ok {
			g.Nodes = append(g.Nodes, GraphNode{NoteRef: r, Depth: visited[id]})
		}
	}
	sort.Slice(g.Nodes, func(i, j int) bool {
		if g.Nodes[i].Depth != g.Nodes[j].Depth {
			return g.Nodes[i].Depth < g.Nodes[j].Depth
		}
		return g.Nodes[i].Path < g.Nodes[j].Path
	})
	if g.Edges == nil {
		g.Edges = []GraphEdge{}
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g, nil
}

// adjacency loads the resolved forward neighbors of ids.
func (e *Engine) adjacency(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := e.conn.QueryContext(ctx, `
		SELECT DISTINCT src_note_id, dst_note_id FROM links
		WHERE dst_note_id IS NOT NULL AND src_note_id IN (`+placeholders(len(ids))+`)
		ORDER BY src_note_id, dst_note_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query: graph: adjacency: %w", err)
	}
	defer rows.Close()

	adj := make(map[int64][]int64, len(ids))
	for rows.Next() {
		var src, dst int64
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, fmt.Errorf("query: graph: adjacency: %w", err)
		}
		adj[src] = append(adj[src], dst)
	}
	return adj, rows.Err()
}

func (e *Engine) refsByID(ctx context.Context, ids []int64) (map[int64]NoteRef, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := e.conn.QueryContext(ctx,
		`SELECT id, path, title FROM notes WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query: graph: load notes: %w", err)
	}
	refs, err := scanRefs(rows)
	if err != nil {
		return nil, fmt.Errorf("query: graph: load notes: %w", err)
	}
	out := make(map[int64]NoteRef, len(refs))
	for _, r := range refs {
		out[r.ID] = r
	}
	return out, nil
}
