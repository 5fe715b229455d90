// Package memstore keeps chapters and reading progress in memory.
package memstore

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/simp-lee/bookstream"
)

// Store is a bookstream.Storage backed by maps. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	chapters map[string][]bookstream.Chapter
	progress map[string]bookstream.ReadingProgress
}

var _ bookstream.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		chapters: make(map[string][]bookstream.Chapter),
		progress: make(map[string]bookstream.ReadingProgress),
	}
}

// StoreChapters replaces the chapters of documentID.
func (s *Store) StoreChapters(ctx context.Context, documentID string, chapters []bookstream.Chapter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := cloneChapters(chapters)
	slices.SortStableFunc(cp, func(a, b bookstream.Chapter) int { return a.Order - b.Order })

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(cp) == 0 {
		delete(s.chapters, documentID)
		return nil
	}
	s.chapters[documentID] = cp
	return nil
}

func (s *Store) LoadChapters(ctx context.Context, documentID string) ([]bookstream.Chapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneChapters(s.chapters[documentID]), nil
}

func (s *Store) SaveProgress(ctx context.Context, documentID string, chapterIndex int, position string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[documentID] = bookstream.ReadingProgress{
		DocumentID:   documentID,
		ChapterIndex: chapterIndex,
		Position:     position,
	}
	return nil
}

func (s *Store) LoadProgress(ctx context.Context, documentID string) (bookstream.ReadingProgress, bool, error) {
	if err := ctx.Err(); err != nil {
		return bookstream.ReadingProgress{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[documentID]
	return p, ok, nil
}

// Documents returns the IDs of the stored documents in sorted order.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chapters))
	for id := range s.chapters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func cloneChapters(in []bookstream.Chapter) []bookstream.Chapter {
	if in == nil {
		return nil
	}
	out := make([]bookstream.Chapter, len(in))
	for i, ch := range in {
		ch.RawMarkup = bytes.Clone(ch.RawMarkup)
		out[i] = ch
	}
	return out
}
