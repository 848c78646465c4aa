// Package noteservice assembles the full, read-only view of one note from
// the vault file and the index.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/starford/vaultlens/internal/apperr"
	"github.com/starford/vaultlens/internal/checksum"
	"github.com/starford/vaultlens/internal/query"
	"github.com/starford/vaultlens/internal/storage"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	query.NoteDetail
	Content      string             `json:"content"`
	Stale        bool               `json:"stale"` // file changed since the last index run
	Backlinks    []query.LinkRecord `json:"backlinks"`
	ForwardLinks []query.LinkRecord `json:"forward_links"`
}

// Service coordinates storage and query operations.
type Service struct {
	store  storage.Provider
	engine *query.Engine
}

// NewService creates a new note service.
func NewService(store storage.Provider, engine *query.Engine) *Service {
	return &Service{store: store, engine: engine}
}

// GetNote resolves ref to an indexed note and returns its stored metadata,
// current file content, and links in both directions.
func (s *Service) GetNote(ctx context.Context, ref string) (*NoteDetail, error) {
	n, err := s.engine.ResolveNote(ctx, ref)
	if err != nil {
		return nil, err
	}
	stored, err := s.engine.Note(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	data, err := s.store.Read(stored.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("noteservice: %s is indexed but missing on disk: %w", stored.Path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("noteservice: read %s: %w", stored.Path, err)
	}

	back, err := s.engine.Backlinks(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	fwd, err := s.engine.ForwardLinks(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		NoteDetail:   *stored,
		Content:      string(data),
		Stale:        !checksum.Equal(data, stored.Hash),
		Backlinks:    back,
		ForwardLinks: fwd,
	}, nil
}
