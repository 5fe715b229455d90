package bookstream

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Storage is the persistence contract the engine consumes.
type Storage interface {
	// StoreChapters replaces every chapter of documentID.
	StoreChapters(ctx context.Context, documentID string, chapters []Chapter) error
	// LoadChapters returns the chapters of documentID ordered by Order.
	LoadChapters(ctx context.Context, documentID string) ([]Chapter, error)
	SaveProgress(ctx context.Context, documentID string, chapterIndex int, position string) error
	// LoadProgress reports false when nothing was saved for documentID.
	LoadProgress(ctx context.Context, documentID string) (ReadingProgress, bool, error)
}

// Position is the in-chapter reading state behind the opaque position blob.
type Position struct {
	// Offset is the raw scroll offset reported by the reader surface.
	Offset int `json:"offset"`
	// Progress is the scrolled fraction of the chapter, in [0, 1].
	Progress float64 `json:"progress"`
	// Word is the global index of the first visible token, or -1 if unknown.
	Word int `json:"word"`
}

const positionVersion = "v1"

var versionTagPattern = regexp.MustCompile(`^v[0-9]+:`)

// EncodePosition serializes p as a versioned blob.
func EncodePosition(p Position) string {
	p.Progress = clampProgress(p.Progress)
	data, _ := json.Marshal(p)
	return positionVersion + ":" + string(data)
}

// DecodePosition parses a blob written by EncodePosition. Unversioned blobs
// from earlier releases ("<offset>:<progress>" or a bare progress fraction)
// are migrated. An empty blob is the chapter start.
func DecodePosition(blob string) (Position, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return Position{Word: -1}, nil
	}
	if body, ok := strings.CutPrefix(blob, positionVersion+":"); ok {
		p := Position{Word: -1}
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return Position{}, fmt.Errorf("%w: %v", ErrUnknownPosition, err)
		}
		p.Progress = clampProgress(p.Progress)
		return p, nil
	}
	if versionTagPattern.MatchString(blob) {
		return Position{}, fmt.Errorf("%w: %.8q", ErrUnknownPosition, blob)
	}

	if offset, progress, ok := strings.Cut(blob, ":"); ok {
		o, err1 := strconv.Atoi(strings.TrimSpace(offset))
		f, err2 := strconv.ParseFloat(strings.TrimSpace(progress), 64)
		if err1 != nil || err2 != nil {
			return Position{}, fmt.Errorf("%w: %q", ErrUnknownPosition, blob)
		}
		return Position{Offset: o, Progress: clampProgress(f), Word: -1}, nil
	}
	f, err := strconv.ParseFloat(blob, 64)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q", ErrUnknownPosition, blob)
	}
	return Position{Progress: clampProgress(f), Word: -1}, nil
}

func clampProgress(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// DefaultCoalesceWindow spaces consecutive progress writes.
const DefaultCoalesceWindow = time.Second

// DefaultStoreTimeout bounds a single progress write.
const DefaultStoreTimeout = 5 * time.Second

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the tracker logger.
func WithTrackerLogger(log *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithCoalesceWindow sets the minimum interval between two store writes.
// Saves arriving inside the window replace each other.
func WithCoalesceWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithStoreTimeout bounds each store write.
func WithStoreTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// Tracker is the only reader and writer of position blobs. Saves are queued
// in memory and written by a single goroutine at most once per coalescing
// window, so callers never wait on storage. A failed write is kept in memory
// and retried with the next write.
type Tracker struct {
	store   Storage
	log     *zap.Logger
	window  time.Duration
	timeout time.Duration
	limiter *rate.Limiter

	mu       sync.Mutex
	pending  map[string]ReadingProgress
	inflight map[string]ReadingProgress // taken by flush, not yet written
	closed   bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker starts the writer goroutine. Call Close to flush and stop it.
func NewTracker(store Storage, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:    store,
		log:      zap.NewNop(),
		window:   DefaultCoalesceWindow,
		timeout:  DefaultStoreTimeout,
		pending:  make(map[string]ReadingProgress),
		inflight: make(map[string]ReadingProgress),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.limiter = rate.NewLimiter(rate.Every(t.window), 1)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	go t.run()
	return t
}

// Save queues the position of documentID. It never blocks on storage; a
// newer save for the same document supersedes one not yet written.
func (t *Tracker) Save(documentID string, chapterIndex int, pos Position) error {
	return t.SaveBlob(documentID, chapterIndex, EncodePosition(pos))
}

// SaveBlob queues an already encoded position.
func (t *Tracker) SaveBlob(documentID string, chapterIndex int, blob string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	t.pending[documentID] = ReadingProgress{
		DocumentID:   documentID,
		ChapterIndex: max(chapterIndex, 0),
		Position:     blob,
	}
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

// Load returns the latest progress of documentID with its chapter index
// clamped to [0, chapterCount-1]. A save not yet written wins over storage.
func (t *Tracker) Load(ctx context.Context, documentID string, chapterCount int) (ReadingProgress, bool, error) {
	t.mu.Lock()
	p, ok := t.pending[documentID]
	if !ok {
		p, ok = t.inflight[documentID]
	}
	t.mu.Unlock()

	if !ok {
		var err error
		p, ok, err = t.store.LoadProgress(ctx, documentID)
		if err != nil {
			return ReadingProgress{}, false, fmt.Errorf("load progress: %w", err)
		}
		if !ok {
			return ReadingProgress{}, false, nil
		}
	}

	if idx := clampChapter(p.ChapterIndex, chapterCount); idx != p.ChapterIndex {
		t.log.Debug("Clamped stored chapter index",
			zap.String("document", documentID),
			zap.Int("stored", p.ChapterIndex),
			zap.Int("chapters", chapterCount))
		p.ChapterIndex = idx
		p.Position = ""
	}
	return p, true, nil
}

func clampChapter(idx, count int) int {
	if idx >= count {
		idx = count - 1
	}
	return max(idx, 0)
}

// ResumePoint is where a reader should reopen a document.
type ResumePoint struct {
	Chapter  int
	Page     int
	Word     int
	Position Position
}

// LayoutFunc builds the layout of one chapter.
type LayoutFunc func(ctx context.Context, chapter int) (*Layout, error)

// Resume decides the chapter and page to present for documentID. Without
// saved progress, or with a blob that cannot be decoded, it returns the start
// of the chosen chapter.
func (t *Tracker) Resume(ctx context.Context, documentID string, chapterCount int, layout LayoutFunc) (ResumePoint, error) {
	p, ok, err := t.Load(ctx, documentID, chapterCount)
	if err != nil {
		return ResumePoint{}, err
	}
	if !ok {
		return ResumePoint{}, nil
	}

	rp := ResumePoint{Chapter: p.ChapterIndex}
	pos, err := DecodePosition(p.Position)
	if err != nil {
		t.log.Warn("Ignoring reading position", zap.String("document", documentID), zap.Error(err))
		return rp, nil
	}
	rp.Position = pos

	l, err := layout(ctx, rp.Chapter)
	if err != nil {
		return ResumePoint{}, fmt.Errorf("layout chapter %d: %w", rp.Chapter, err)
	}
	total := l.Total()
	switch {
	case total == 0:
		rp.Word = 0
	case pos.Word >= 0 && pos.Word < total:
		rp.Word = pos.Word
	default:
		rp.Word = min(int(pos.Progress*float64(total)), total-1)
	}
	rp.Page = l.PageOf(rp.Word)
	return rp, nil
}

// Close writes pending saves and stops the writer. It returns ctx.Err() if
// ctx ends first; the writer still finishes in the background.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		select {
		case <-t.wake:
		case <-t.ctx.Done():
			t.flush()
			return
		}
		if err := t.limiter.Wait(t.ctx); err != nil {
			t.flush()
			return
		}
		t.flush()
	}
}

// flush writes every pending save. A save stays visible to Load until its
// write returns. Failed writes go back to pending unless a newer save arrived
// meanwhile.
func (t *Tracker) flush() {
	t.mu.Lock()
	batch := t.pending
	t.pending = make(map[string]ReadingProgress, len(batch))
	maps.Copy(t.inflight, batch)
	t.mu.Unlock()

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		p := batch[id]
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		err := t.store.SaveProgress(ctx, p.DocumentID, p.ChapterIndex, p.Position)
		cancel()

		t.mu.Lock()
		delete(t.inflight, id)
		if err != nil {
			if _, newer := t.pending[id]; !newer {
				t.pending[id] = p
			}
		}
		t.mu.Unlock()

		if err != nil {
			t.log.Warn("Unable to save reading progress", zap.String("document", id), zap.Error(err))
			continue
		}
		t.log.Debug("Saved reading progress", zap.String("document", id), zap.Int("chapter", p.ChapterIndex))
	}
}
