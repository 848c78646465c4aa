// Package parser extracts frontmatter, title, aliases, tags, and links from
// one Markdown note.
//
// Parsing never fails: malformed frontmatter degrades to an empty map and
// unrecognised link fragments are skipped.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/starford/vaultlens/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`(!?)\[\[([^\[\]\n]+)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_/-]+)`)
	schemeRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)

	md = goldmark.New()
)

// attachmentExts are link targets that name vault attachments, not notes.
var attachmentExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".svg": {}, ".webp": {},
	".pdf": {}, ".mp3": {}, ".wav": {}, ".ogg": {}, ".m4a": {}, ".flac": {},
	".mp4": {}, ".webm": {}, ".mov": {}, ".mkv": {}, ".canvas": {},
}

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	// FrontmatterErr is set when a frontmatter block was present but could
	// not be decoded; Frontmatter is then empty.
	FrontmatterErr error
	Body           string
	Title          string
	Aliases        []string
	Tags           []string
	Links          []models.Link
}

// Parse extracts everything the index needs from a note's raw bytes.
// notePath is vault-relative and only used for the filename title fallback.
func Parse(notePath string, data []byte) *Result {
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	fm, body, fmErr := splitFrontmatter(data)

	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))
	scan := scanDocument(doc, src)

	return &Result{
		Frontmatter:    fm,
		FrontmatterErr: fmErr,
		Body:           body,
		Title:          deriveTitle(fm, scan.heading, notePath),
		Aliases:        extractAliases(fm),
		Tags:           extractTags(scan.masked, fm),
		Links:          orderLinks(extractWikilinks(scan.masked), scan.links),
	}
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	const delim = "---"
	trimmed := bytes.TrimPrefix(data, []byte("\ufeff"))

	if !bytes.HasPrefix(trimmed, []byte(delim+"\n")) && !bytes.HasPrefix(trimmed, []byte(delim+"\r\n")) {
		return map[string]any{}, string(trimmed), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	for idx >= 0 {
		after := rest[idx+1+len(delim):]
		if len(after) == 0 || after[0] == '\n' || after[0] == '\r' {
			break
		}
		next := bytes.Index(rest[idx+1:], []byte("\n"+delim))
		if next < 0 {
			idx = -1
			break
		}
		idx += 1 + next
	}
	if idx < 0 {
		// No closing delimiter: treat everything as body.
		return map[string]any{}, string(trimmed), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\r\n")

	fm := map[string]any{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return map[string]any{}, body, fmt.Errorf("parser: frontmatter: %w", err)
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return fm, body, nil
}

type docScan struct {
	masked  string
	heading string
	links   []offsetLink
}

// offsetLink is a link with the body offset where it was written.
type offsetLink struct {
	off  int
	link models.Link
}

// scanDocument walks the goldmark AST once. It blanks out code so wikilinks
// and tags inside code are ignored, records the first heading, and collects
// markdown links and images.
func scanDocument(doc ast.Node, src []byte) docScan {
	masked := bytes.Clone(src)
	blank := func(start, stop int) {
		for i := start; i < stop && i < len(masked); i++ {
			if masked[i] != '\n' {
				masked[i] = ' '
			}
		}
	}
	var out docScan
	// cursor trails the walk through the body so links without label text
	// still get an offset.
	cursor := 0

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
			cursor = n.Lines().At(0).Start
		}
		switch node := n.(type) {
		case *ast.Text:
			cursor = node.Segment.Stop
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				blank(seg.Start, seg.Stop)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeSpan:
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					blank(t.Segment.Start, t.Segment.Stop)
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			if out.heading == "" {
				out.heading = strings.TrimSpace(nodeText(node, src))
			}
		case *ast.Link:
			if l, ok := markdownLink(string(node.Destination), nodeText(node, src), false); ok {
				out.links = append(out.links, offsetLink{off: inlineStart(node, cursor) - 1, link: l})
			}
		case *ast.Image:
			if l, ok := markdownLink(string(node.Destination), nodeText(node, src), true); ok {
				out.links = append(out.links, offsetLink{off: inlineStart(node, cursor) - 2, link: l})
			}
		}
		return ast.WalkContinue, nil
	})

	out.masked = string(masked)
	return out
}

// inlineStart returns the body offset of the first text inside n, or
// fallback when n has none.
func inlineStart(n ast.Node, fallback int) int {
	pos := fallback
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			pos = t.Segment.Start
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return pos
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(nodeText(c, src))
		}
	}
	return b.String()
}

// extractWikilinks finds [[...]] and ![[...]] references in masked text.
func extractWikilinks(masked string) []offsetLink {
	var out []offsetLink
	for _, m := range wikilinkRe.FindAllStringSubmatchIndex(masked, -1) {
		embed := m[3] > m[2]
		if l, ok := wikilink(masked[m[4]:m[5]], embed); ok {
			out = append(out, offsetLink{off: m[0], link: l})
		}
	}
	return out
}

// orderLinks merges wikilinks and markdown links into document order and
// drops exact duplicates.
func orderLinks(wiki, markdown []offsetLink) []models.Link {
	all := append(wiki, markdown...)
	if len(all) == 0 {
		return nil
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].off < all[j].off })
	links := make([]models.Link, len(all))
	for i, ol := range all {
		links[i] = ol.link
	}
	return dedupLinks(links)
}

func wikilink(inner string, embed bool) (models.Link, bool) {
	target, alias, _ := strings.Cut(inner, "|")
	// Inside tables the pipe is escaped as \|.
	target = strings.TrimSuffix(target, `\`)
	target, heading, block := splitFragment(target)
	target = strings.TrimSpace(target)
	if target == "" || isAttachment(target) {
		return models.Link{}, false
	}
	return models.Link{
		DstText:    target,
		Kind:       models.KindWikilink,
		Embed:      embed,
		Alias:      strings.TrimSpace(alias),
		HeadingRef: heading,
		BlockRef:   block,
	}, true
}

func markdownLink(dest, label string, embed bool) (models.Link, bool) {
	dest = strings.TrimSpace(dest)
	if dest == "" || strings.HasPrefix(dest, "#") || schemeRe.MatchString(dest) {
		return models.Link{}, false
	}
	target, heading, block := splitFragment(dest)
	if target == "" || isAttachment(target) {
		return models.Link{}, false
	}
	if h, err := url.PathUnescape(heading); err == nil {
		heading = h
	}
	return models.Link{
		DstText:    target,
		Kind:       models.KindMarkdown,
		Embed:      embed,
		Alias:      strings.TrimSpace(label),
		HeadingRef: heading,
		BlockRef:   block,
	}, true
}

// splitFragment splits "note#heading", "note#^block" and "note#heading#^block".
func splitFragment(s string) (target, heading, block string) {
	target, frag, found := strings.Cut(s, "#")
	if !found {
		return s, "", ""
	}
	if strings.HasPrefix(frag, "^") {
		return target, "", strings.TrimSpace(frag[1:])
	}
	if h, b, ok := strings.Cut(frag, "#^"); ok {
		return target, strings.TrimSpace(h), strings.TrimSpace(b)
	}
	return target, strings.TrimSpace(frag), ""
}

func isAttachment(target string) bool {
	_, ok := attachmentExts[strings.ToLower(path.Ext(target))]
	return ok
}

func dedupLinks(links []models.Link) []models.Link {
	seen := make(map[models.Link]struct{}, len(links))
	out := links[:0]
	for _, l := range links {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// extractTags collects tags from frontmatter "tags"/"tag" and inline #tags.
func extractTags(masked string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		t = strings.Trim(strings.TrimPrefix(strings.TrimSpace(t), "#"), "/")
		if t == "" || isNumeric(t) {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	for _, key := range []string{"tags", "tag"} {
		for _, t := range stringList(fm[key], func(r rune) bool { return r == ',' || r == ' ' }) {
			add(t)
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(masked, -1) {
		add(m[1])
	}
	return out
}

func extractAliases(fm map[string]any) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, key := range []string{"aliases", "alias"} {
		for _, a := range stringList(fm[key], func(r rune) bool { return r == ',' }) {
			if _, dup := seen[a]; dup {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// stringList normalises a frontmatter value that may be a list or a
// separator-delimited string.
func stringList(v any, sep func(rune) bool) []string {
	var raw []string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		raw = strings.FieldsFunc(val, sep)
	case []any:
		for _, item := range val {
			if item == nil {
				continue
			}
			raw = append(raw, fmt.Sprint(item))
		}
	case []string:
		raw = val
	default:
		raw = []string{fmt.Sprint(val)}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// heading, otherwise the filename without extension.
func deriveTitle(fm map[string]any, heading, notePath string) string {
	if t, ok := fm["title"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if heading != "" {
		return heading
	}
	return Stem(notePath)
}

// Stem returns the file name of p without its extension.
func Stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
