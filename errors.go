package bookstream

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the bookstream package.
var (
	// ErrNotAnArchive indicates no end-of-central-directory record was found.
	ErrNotAnArchive = errors.New("bookstream: not a ZIP archive")

	// ErrTruncated indicates declared archive sizes exceed the buffer.
	ErrTruncated = errors.New("bookstream: archive is truncated")

	// ErrDRMProtected indicates the ePub is protected by DRM
	// (e.g., Adobe ADEPT, Apple FairPlay, Readium LCP) and cannot be read.
	ErrDRMProtected = errors.New("bookstream: file is DRM protected")

	// ErrFixedLayout indicates a page-description document (PDF) was supplied.
	ErrFixedLayout = errors.New("bookstream: fixed-layout document")

	// ErrNoChapters indicates no chapter survived filtering and extraction.
	ErrNoChapters = errors.New("bookstream: no readable chapters")

	// ErrUnsupportedMethod indicates an entry uses a compression method
	// other than stored or DEFLATE.
	ErrUnsupportedMethod = errors.New("bookstream: unsupported compression method")

	// ErrBadLocalHeader indicates an entry's local file header is missing,
	// has a wrong signature, or disagrees with the central directory.
	ErrBadLocalHeader = errors.New("bookstream: bad local file header")

	// ErrCorruptEntry indicates an entry payload could not be decoded.
	ErrCorruptEntry = errors.New("bookstream: corrupt entry data")

	// ErrEntryTooLarge indicates an entry inflates beyond the configured limit.
	ErrEntryTooLarge = errors.New("bookstream: entry too large")

	// ErrEntryNotFound indicates the requested entry is not in the archive.
	ErrEntryNotFound = errors.New("bookstream: entry not found in archive")

	// ErrUnknownPosition indicates a position blob with an unknown schema.
	ErrUnknownPosition = errors.New("bookstream: unknown position format")

	// ErrTrackerClosed is returned by saves after Tracker.Close.
	ErrTrackerClosed = errors.New("bookstream: tracker closed")
)

// ContainerErrorKind classifies document-level ingestion failures.
type ContainerErrorKind int

const (
	NotAnArchive ContainerErrorKind = iota
	Truncated
	DRMProtected
	FixedLayout
	NoChapters
)

func (k ContainerErrorKind) String() string {
	switch k {
	case NotAnArchive:
		return "not-an-archive"
	case Truncated:
		return "truncated"
	case DRMProtected:
		return "drm-protected"
	case FixedLayout:
		return "fixed-layout"
	case NoChapters:
		return "no-chapters"
	default:
		return "unknown"
	}
}

func (k ContainerErrorKind) sentinel() error {
	switch k {
	case NotAnArchive:
		return ErrNotAnArchive
	case Truncated:
		return ErrTruncated
	case DRMProtected:
		return ErrDRMProtected
	case FixedLayout:
		return ErrFixedLayout
	default:
		return ErrNoChapters
	}
}

// ContainerError is a fatal-to-document failure. It carries a human-readable
// reason so callers can suggest a remedy via Remedy.
type ContainerError struct {
	Kind   ContainerErrorKind
	Reason string
	Err    error
}

func newContainerError(kind ContainerErrorKind, format string, args ...any) *ContainerError {
	return &ContainerError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (e *ContainerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bookstream: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("bookstream: %s: %s", e.Kind, e.Reason)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ContainerError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind.sentinel(), e.Err}
	}
	return []error{e.Kind.sentinel()}
}

// Remedy returns a short suggestion a user interface can show.
func (e *ContainerError) Remedy() string {
	switch e.Kind {
	case NotAnArchive:
		return "The file is not an ePub archive. Convert it to ePub and import it again."
	case Truncated:
		return "The file appears to be incomplete. Download or copy it again."
	case DRMProtected:
		return "The book is DRM protected. Import a DRM-free copy."
	case FixedLayout:
		return "This is a PDF document. Open it with the PDF reader instead."
	default:
		return "No readable text was found in the book."
	}
}

// DecompressError is a per-entry failure. It never aborts ingestion.
type DecompressError struct {
	Entry string
	Err   error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("bookstream: entry %s: %v", e.Entry, e.Err)
}

func (e *DecompressError) Unwrap() error {
	return e.Err
}
