package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/starford/vaultlens/internal/index"
	"github.com/starford/vaultlens/internal/noteservice"
	"github.com/starford/vaultlens/internal/query"
)

// printer writes command results as aligned text or, with json set, as
// indented JSON.
type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table(header string, rows func(tw io.Writer)) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	return tw.Flush()
}

func (p *printer) message(v any, text string) error {
	if p.json {
		return p.encode(v)
	}
	_, err := fmt.Fprintln(p.w, text)
	return err
}

func (p *printer) report(rep *index.Report) error {
	if p.json {
		return p.encode(rep)
	}
	prefix := ""
	if rep.DryRun {
		prefix = "[dry run] "
	}
	fmt.Fprintf(p.w, "%sadded %d, updated %d, unchanged %d, removed %d\n",
		prefix, rep.Added, rep.Updated, rep.Unchanged, rep.Removed)
	fmt.Fprintf(p.w, "%slinks resolved %d, broken %d in %s\n",
		prefix, rep.LinksResolved, rep.LinksBroken, rep.Duration.Round(time.Millisecond))
	if len(rep.Errors) == 0 {
		return nil
	}
	fmt.Fprintf(p.w, "%d file error(s):\n", len(rep.Errors))
	for _, fe := range rep.Errors {
		fmt.Fprintf(p.w, "  %s\n", fe.Error())
	}
	return nil
}

func (p *printer) stats(st *query.Stats) error {
	if p.json {
		return p.encode(st)
	}
	return p.table("METRIC\tCOUNT", func(tw io.Writer) {
		fmt.Fprintf(tw, "notes\t%d\n", st.Notes)
		fmt.Fprintf(tw, "links\t%d\n", st.Links)
		fmt.Fprintf(tw, "  resolved\t%d\n", st.ResolvedLinks)
		fmt.Fprintf(tw, "  unresolved\t%d\n", st.UnresolvedLinks)
		fmt.Fprintf(tw, "  embeds\t%d\n", st.Embeds)
		fmt.Fprintf(tw, "tags\t%d\n", st.Tags)
		fmt.Fprintf(tw, "  distinct\t%d\n", st.DistinctTags)
		fmt.Fprintf(tw, "chunks\t%d\n", st.Chunks)
		fmt.Fprintf(tw, "full text\t%t\n", st.FullText)
	})
}

func (p *printer) hits(hits []query.SearchHit) error {
	if p.json {
		return p.encode(hits)
	}
	return p.table("SCORE\tPATH\tCHUNK\tSNIPPET", func(tw io.Writer) {
		for _, h := range hits {
			fmt.Fprintf(tw, "%.3f\t%s\t%d\t%s\n", h.Score, h.Path, h.ChunkIndex, h.Snippet)
		}
	})
}

// linkTarget renders the written target with its fragment and alias.
func linkTarget(dst, heading, block, alias string, embed bool) string {
	var b strings.Builder
	if embed {
		b.WriteString("!")
	}
	b.WriteString(dst)
	if heading != "" {
		b.WriteString("#" + heading)
	}
	if block != "" {
		b.WriteString("#^" + block)
	}
	if alias != "" {
		b.WriteString(" | " + alias)
	}
	return b.String()
}

func (p *printer) links(links []query.LinkRecord, incoming bool) error {
	if p.json {
		return p.encode(links)
	}
	header := "TARGET\tRESOLVED\tKIND"
	if incoming {
		header = "SOURCE\tWRITTEN AS\tKIND"
	}
	return p.table(header, func(tw io.Writer) {
		for _, l := range links {
			written := linkTarget(l.DstText, l.HeadingRef, l.BlockRef, l.Alias, l.Embed)
			if incoming {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Source.Path, written, l.Kind)
				continue
			}
			resolved := "-"
			if l.Target != nil {
				resolved = l.Target.Path
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", written, resolved, l.Kind)
		}
	})
}

func (p *printer) broken(links []query.BrokenLink) error {
	if p.json {
		return p.encode(links)
	}
	return p.table("SOURCE\tTARGET\tKIND", func(tw io.Writer) {
		for _, l := range links {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Source.Path,
				linkTarget(l.DstText, l.HeadingRef, l.BlockRef, l.Alias, l.Embed), l.Kind)
		}
	})
}

func (p *printer) notes(notes []query.NoteRef) error {
	if p.json {
		return p.encode(notes)
	}
	return p.table("PATH\tTITLE", func(tw io.Writer) {
		for _, n := range notes {
			fmt.Fprintf(tw, "%s\t%s\n", n.Path, n.Title)
		}
	})
}

func (p *printer) tagCounts(counts []query.TagCount) error {
	if p.json {
		return p.encode(counts)
	}
	return p.table("TAG\tNOTES", func(tw io.Writer) {
		for _, c := range counts {
			fmt.Fprintf(tw, "#%s\t%d\n", c.Tag, c.Count)
		}
	})
}

func (p *printer) tagged(notes []query.TaggedNote) error {
	if p.json {
		return p.encode(notes)
	}
	return p.table("PATH\tTAGS", func(tw io.Writer) {
		for _, n := range notes {
			fmt.Fprintf(tw, "%s\t%s\n", n.Path, strings.Join(n.Tags, ", "))
		}
	})
}

func (p *printer) graph(g *query.Graph) error {
	if p.json {
		return p.encode(g)
	}
	paths := make(map[int64]string, len(g.Nodes))
	for _, n := range g.Nodes {
		paths[n.ID] = n.Path
	}
	out := make(map[int64][]string)
	for _, e := range g.Edges {
		out[e.From] = append(out[e.From], paths[e.To])
	}
	return p.table("DEPTH\tNOTE\tLINKS TO", func(tw io.Writer) {
		for _, n := range g.Nodes {
			targets := out[n.ID]
			sort.Strings(targets)
			fmt.Fprintf(tw, "%d\t%s%s\t%s\n", n.Depth, strings.Repeat("  ", n.Depth), n.Path, strings.Join(targets, ", "))
		}
	})
}

func (p *printer) note(d *noteservice.NoteDetail) error {
	if p.json {
		return p.encode(d)
	}
	fmt.Fprintf(p.w, "%s\n%s\n\n", d.Title, strings.Repeat("=", len([]rune(d.Title))))
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "path\t%s\n", d.Path)
	fmt.Fprintf(tw, "id\t%d\n", d.ID)
	if len(d.Aliases) > 0 {
		fmt.Fprintf(tw, "aliases\t%s\n", strings.Join(d.Aliases, ", "))
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(tw, "tags\t#%s\n", strings.Join(d.Tags, ", #"))
	}
	fmt.Fprintf(tw, "modified\t%s\n", d.ModTime.Format(time.RFC3339))
	fmt.Fprintf(tw, "size\t%d\n", d.Size)
	fmt.Fprintf(tw, "links out\t%d\n", len(d.ForwardLinks))
	fmt.Fprintf(tw, "links in\t%d\n", len(d.Backlinks))
	if d.Stale {
		fmt.Fprintf(tw, "stale\tfile changed since last index run\n")
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.w, "\n%s", d.Content)
	return err
}
