// Package models defines the domain types for vaultlens.
package models

import (
	"encoding/json"
	"time"
)

// LinkKind distinguishes the two link syntaxes.
type LinkKind string

const (
	KindWikilink LinkKind = "wikilink"
	KindMarkdown LinkKind = "markdown"
)

// Note is one indexed markdown file.
type Note struct {
	ID          int64          `json:"id"`
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Aliases     []string       `json:"aliases,omitempty"`
	ModTime     time.Time      `json:"mtime"`
	Size        int64          `json:"size"`
	Hash        string         `json:"hash"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
}

// FileMeta is the lightweight view of a vault file returned by a scan.
type FileMeta struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mtime"`
	Size    int64     `json:"size"`
}

// Link is a directed edge extracted from a note. DstText is the target as
// written; resolution to a note id happens after parsing.
type Link struct {
	DstText    string   `json:"dst_text"`
	Kind       LinkKind `json:"kind"`
	Embed      bool     `json:"embed"`
	Alias      string   `json:"alias,omitempty"`
	HeadingRef string   `json:"heading_ref,omitempty"`
	BlockRef   string   `json:"block_ref,omitempty"`
}

// Chunk is a bounded text window of a note used for search.
type Chunk struct {
	Index   int    `json:"index"`
	Window  int    `json:"window"`
	Overlap int    `json:"overlap"`
	Text    string `json:"text"`
}

// FileError records a per-file failure that did not stop an index run.
type FileError struct {
	Path string `json:"path"`
	Op   string `json:"op"`
	Err  error  `json:"-"`
}

func (e FileError) Error() string {
	if e.Err == nil {
		return e.Op + " " + e.Path
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e FileError) Unwrap() error { return e.Err }

// MarshalJSON renders the wrapped error as a string.
func (e FileError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Path  string `json:"path"`
		Op    string `json:"op"`
		Error string `json:"error"`
	}{e.Path, e.Op, msg})
}
