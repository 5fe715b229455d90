package bookstream

import (
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ChapterOrder selects how chapters are ordered when the archive has no
// package document with a spine.
type ChapterOrder int

const (
	// ArchiveOrder keeps central directory order.
	ArchiveOrder ChapterOrder = iota
	// NaturalOrder sorts entry names so that "ch2" precedes "ch10".
	NaturalOrder
)

func (o ChapterOrder) String() string {
	if o == NaturalOrder {
		return "natural"
	}
	return "archive"
}

// ParseChapterOrder parses "archive" or "natural".
func ParseChapterOrder(s string) (ChapterOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "archive":
		return ArchiveOrder, nil
	case "natural":
		return NaturalOrder, nil
	default:
		return ArchiveOrder, fmt.Errorf("unknown chapter order %q", s)
	}
}

type options struct {
	log          *zap.Logger
	workers      int
	maxEntrySize int64
	order        ChapterOrder
}

// Option configures ingestion.
type Option func(*options)

func defaultOptions() options {
	return options{
		log:          zap.NewNop(),
		workers:      runtime.GOMAXPROCS(0),
		maxEntrySize: DefaultMaxEntrySize,
	}
}

// WithLogger sets the logger receiving per-entry diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithWorkers bounds the number of entries decompressed concurrently.
// Values below 1 mean one worker.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = max(n, 1)
	}
}

// WithMaxEntrySize sets the largest accepted decompressed entry size.
func WithMaxEntrySize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntrySize = n
		}
	}
}

// WithChapterOrder sets the fallback chapter order.
func WithChapterOrder(order ChapterOrder) Option {
	return func(o *options) {
		o.order = order
	}
}
