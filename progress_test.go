package bookstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// fakeStore records every progress write. The first failN writes fail.
// When gate is set, every write waits on it before taking effect.
type fakeStore struct {
	mu       sync.Mutex
	progress map[string]ReadingProgress
	writes   []ReadingProgress
	attempts int
	failN    int
	gate     chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{progress: make(map[string]ReadingProgress)}
}

func (s *fakeStore) StoreChapters(context.Context, string, []Chapter) error { return nil }

func (s *fakeStore) LoadChapters(context.Context, string) ([]Chapter, error) { return nil, nil }

func (s *fakeStore) SaveProgress(_ context.Context, documentID string, chapterIndex int, position string) error {
	s.mu.Lock()
	s.attempts++
	n, gate := s.attempts, s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= s.failN {
		return errors.New("disk full")
	}
	p := ReadingProgress{DocumentID: documentID, ChapterIndex: chapterIndex, Position: position}
	s.progress[documentID] = p
	s.writes = append(s.writes, p)
	return nil
}

func (s *fakeStore) LoadProgress(_ context.Context, documentID string) (ReadingProgress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[documentID]
	return p, ok, nil
}

func (s *fakeStore) snapshot() (writes []ReadingProgress, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReadingProgress(nil), s.writes...), s.attempts
}

// waitAttempts polls until the store has seen n write attempts.
func waitAttempts(t *testing.T, s *fakeStore, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, a := s.snapshot(); a >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("store saw fewer than %d write attempts", n)
}

func closeTracker(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPosition_EncodeDecode(t *testing.T) {
	blob := EncodePosition(Position{Offset: 120, Progress: 1.7, Word: 42})
	if blob != `v1:{"offset":120,"progress":1,"word":42}` {
		t.Errorf("EncodePosition() = %s", blob)
	}
	p, err := DecodePosition(blob)
	if err != nil || p != (Position{Offset: 120, Progress: 1, Word: 42}) {
		t.Errorf("DecodePosition() = %+v, %v", p, err)
	}
}

func TestDecodePosition(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		want    Position
		wantErr bool
	}{
		{"empty", "", Position{Word: -1}, false},
		{"v1 without word", `v1:{"offset":3,"progress":0.25}`, Position{Offset: 3, Progress: 0.25, Word: -1}, false},
		{"legacy offset and progress", "350:0.42", Position{Offset: 350, Progress: 0.42, Word: -1}, false},
		{"legacy fraction", "0.5", Position{Progress: 0.5, Word: -1}, false},
		{"legacy clamped", "-2", Position{Word: -1}, false},
		{"unknown version", `v9:{"x":1}`, Position{}, true},
		{"broken v1", `v1:{`, Position{}, true},
		{"garbage", "middle", Position{}, true},
		{"garbage pair", "a:b", Position{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePosition(tt.blob)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownPosition) {
					t.Errorf("DecodePosition(%q) err = %v; want ErrUnknownPosition", tt.blob, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("DecodePosition(%q) = %+v, %v; want %+v", tt.blob, got, err, tt.want)
			}
		})
	}
}

func TestTracker_LoadClampsChapter(t *testing.T) {
	store := newFakeStore()
	store.progress["doc"] = ReadingProgress{DocumentID: "doc", ChapterIndex: 9, Position: "v1:{}"}
	tr := NewTracker(store, WithTrackerLogger(zaptest.NewLogger(t)))
	defer closeTracker(t, tr)

	tests := []struct {
		count     int
		want      int
		keepsBlob bool
	}{
		{4, 3, false},
		{10, 9, true},
		{0, 0, false},
	}
	for _, tt := range tests {
		p, ok, err := tr.Load(context.Background(), "doc", tt.count)
		if err != nil || !ok {
			t.Fatalf("Load(count=%d) = %v, %v", tt.count, ok, err)
		}
		if p.ChapterIndex != tt.want || (p.Position != "") != tt.keepsBlob {
			t.Errorf("Load(count=%d) = %+v; want chapter %d", tt.count, p, tt.want)
		}
	}

	if _, ok, err := tr.Load(context.Background(), "other", 4); ok || err != nil {
		t.Errorf("Load(other) = %v, %v; want nothing", ok, err)
	}
}

func TestTracker_CoalescesSaves(t *testing.T) {
	store := newFakeStore()
	tr := NewTracker(store, WithCoalesceWindow(time.Hour), WithTrackerLogger(zaptest.NewLogger(t)))

	if err := tr.Save("doc", 0, Position{Progress: 0.1, Word: -1}); err != nil {
		t.Fatal(err)
	}
	waitAttempts(t, store, 1)

	for i := 1; i <= 3; i++ {
		if err := tr.Save("doc", i, Position{Word: i}); err != nil {
			t.Fatal(err)
		}
	}
	// The newest save is visible before it reaches storage.
	if p, _, _ := tr.Load(context.Background(), "doc", 10); p.ChapterIndex != 3 {
		t.Errorf("Load() chapter = %d; want pending 3", p.ChapterIndex)
	}
	closeTracker(t, tr)

	writes, _ := store.snapshot()
	if len(writes) != 2 {
		t.Fatalf("writes = %+v; want 2", writes)
	}
	if writes[1].ChapterIndex != 3 || writes[1].Position != EncodePosition(Position{Word: 3}) {
		t.Errorf("last write = %+v; want chapter 3", writes[1])
	}
}

func TestTracker_LoadSeesWriteInFlight(t *testing.T) {
	store := newFakeStore()
	store.progress["doc"] = ReadingProgress{DocumentID: "doc", ChapterIndex: 1, Position: "old"}
	store.gate = make(chan struct{})
	tr := NewTracker(store, WithTrackerLogger(zaptest.NewLogger(t)))

	if err := tr.SaveBlob("doc", 3, "new"); err != nil {
		t.Fatal(err)
	}
	// The write has started and is held by the store.
	waitAttempts(t, store, 1)

	p, ok, err := tr.Load(context.Background(), "doc", 10)
	if err != nil || !ok || p.ChapterIndex != 3 || p.Position != "new" {
		t.Errorf("Load() during write = %+v, %v, %v; want chapter 3 \"new\"", p, ok, err)
	}

	close(store.gate)
	closeTracker(t, tr)
	if p, _, _ := tr.Load(context.Background(), "doc", 10); p.ChapterIndex != 3 || p.Position != "new" {
		t.Errorf("Load() after write = %+v; want chapter 3 \"new\"", p)
	}
}

func TestTracker_RetriesFailedWrite(t *testing.T) {
	store := newFakeStore()
	store.failN = 1
	tr := NewTracker(store, WithCoalesceWindow(time.Hour), WithTrackerLogger(zaptest.NewLogger(t)))

	if err := tr.Save("doc", 2, Position{Word: 7}); err != nil {
		t.Fatal(err)
	}
	waitAttempts(t, store, 1)
	if writes, _ := store.snapshot(); len(writes) != 0 {
		t.Fatalf("writes = %+v; want none yet", writes)
	}
	if p, ok, _ := tr.Load(context.Background(), "doc", 5); !ok || p.ChapterIndex != 2 {
		t.Errorf("Load() after failed write = %+v, %v; want the kept save", p, ok)
	}

	closeTracker(t, tr)
	if p, ok := store.progress["doc"]; !ok || p.ChapterIndex != 2 {
		t.Errorf("stored = %+v, %v; want the retried save", p, ok)
	}
}

func TestTracker_Closed(t *testing.T) {
	tr := NewTracker(newFakeStore())
	closeTracker(t, tr)
	if err := tr.Save("doc", 0, Position{}); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("Save after Close = %v; want ErrTrackerClosed", err)
	}
	if err := tr.SaveBlob("doc", 0, ""); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("SaveBlob after Close = %v; want ErrTrackerClosed", err)
	}
}

func TestTracker_Resume(t *testing.T) {
	layout := func(_ context.Context, chapter int) (*Layout, error) {
		if chapter == 2 {
			return Paginate(nil, 1000), nil
		}
		return Paginate([]Paragraph{wordParagraph(0, 2500)}, 1000), nil
	}

	tests := []struct {
		name     string
		stored   *ReadingProgress
		count    int
		wantCh   int
		wantPage int
		wantWord int
	}{
		{"nothing saved", nil, 3, 0, 0, 0},
		{"word index", &ReadingProgress{ChapterIndex: 1, Position: EncodePosition(Position{Word: 1500})}, 3, 1, 1, 1500},
		{"progress fraction", &ReadingProgress{ChapterIndex: 1, Position: EncodePosition(Position{Progress: 0.5, Word: -1})}, 3, 1, 1, 1250},
		{"end of chapter", &ReadingProgress{ChapterIndex: 0, Position: "1.0"}, 3, 0, 2, 2499},
		{"word past end uses progress", &ReadingProgress{ChapterIndex: 0, Position: EncodePosition(Position{Progress: 0.1, Word: 9000})}, 3, 0, 0, 250},
		{"empty chapter", &ReadingProgress{ChapterIndex: 2, Position: "0.9"}, 3, 2, 0, 0},
		{"clamped chapter starts over", &ReadingProgress{ChapterIndex: 7, Position: EncodePosition(Position{Word: 2000})}, 2, 1, 0, 0},
		{"undecodable blob", &ReadingProgress{ChapterIndex: 1, Position: "v7:??"}, 3, 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			if tt.stored != nil {
				p := *tt.stored
				p.DocumentID = "doc"
				store.progress["doc"] = p
			}
			tr := NewTracker(store, WithTrackerLogger(zaptest.NewLogger(t)))
			defer closeTracker(t, tr)

			rp, err := tr.Resume(context.Background(), "doc", tt.count, layout)
			if err != nil {
				t.Fatalf("Resume: %v", err)
			}
			if rp.Chapter != tt.wantCh || rp.Page != tt.wantPage || rp.Word != tt.wantWord {
				t.Errorf("Resume() = %+v; want chapter %d page %d word %d", rp, tt.wantCh, tt.wantPage, tt.wantWord)
			}
		})
	}
}

func TestTracker_ResumeLayoutError(t *testing.T) {
	store := newFakeStore()
	store.progress["doc"] = ReadingProgress{DocumentID: "doc", ChapterIndex: 0, Position: "0.5"}
	tr := NewTracker(store)
	defer closeTracker(t, tr)

	boom := errors.New("boom")
	_, err := tr.Resume(context.Background(), "doc", 1, func(context.Context, int) (*Layout, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("Resume err = %v; want boom", err)
	}
}
