package bookstream

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/h2non/filetype"
	"github.com/zeebo/blake3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// expectedMimetype is the required content of the "mimetype" file in a valid ePub.
const expectedMimetype = "application/epub+zip"

// Document is an ingested book: its metadata and the ordered chapter list.
type Document struct {
	// ID is derived from the archive bytes, so re-ingesting the same file
	// yields the same ID and replaces its chapters.
	ID       string
	Metadata Metadata
	TOC      []TOCItem
	Chapters []Chapter

	warnings  []string
	entryErrs error
}

// Warnings returns the non-fatal problems met during ingestion.
func (d *Document) Warnings() []string {
	return append([]string(nil), d.warnings...)
}

// EntryErrors returns the per-entry failures that removed chapters.
func (d *Document) EntryErrors() []error {
	return multierr.Errors(d.entryErrs)
}

// DocumentID returns the content-addressed ID of an archive.
func DocumentID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// Open reads the file at path and ingests it.
func Open(ctx context.Context, path string, opts ...Option) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bookstream: open %s: %w", path, err)
	}
	return Ingest(ctx, data, opts...)
}

// Ingest parses an ePub (or any ZIP archive of chapter markup) held in memory.
//
// Document-level failures are returned as *ContainerError. Problems with
// single entries never fail ingestion; they are logged, listed in
// Document.Warnings and Document.EntryErrors, and the entry is left out.
func Ingest(ctx context.Context, data []byte, opts ...Option) (*Document, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if filetype.Is(data, "pdf") {
		return nil, newContainerError(FixedLayout, "PDF document")
	}

	ix, err := OpenIndex(data)
	if err != nil {
		var ce *ContainerError
		if errors.As(err, &ce) && ce.Kind == NotAnArchive {
			if kind, _ := filetype.Match(data); kind != filetype.Unknown {
				ce.Reason = fmt.Sprintf("%s (detected %s)", ce.Reason, kind.MIME.Value)
			}
		}
		return nil, err
	}

	doc := &Document{ID: DocumentID(data)}
	log := o.log.With(zap.String("document", doc.ID))
	a := &assembler{documentID: doc.ID, ix: ix, opts: o}
	a.opts.log = log

	for _, w := range ix.Warnings() {
		a.warn(w)
	}
	validateMimetype(ix, a)

	fontObfuscation, err := checkDRM(ix)
	if err != nil {
		return nil, err
	}
	if fontObfuscation {
		a.warn("font obfuscation detected; obfuscated fonts may not render correctly")
	}

	opfPath, err := locatePackage(ix)
	if err != nil {
		a.warn(err.Error())
	}
	if opfPath != "" {
		pd, err := loadPackage(ix, opfPath, func(msg string) { a.warn(msg) })
		if err != nil {
			a.warn(fmt.Sprintf("package document %s unusable, using archive order: %v", opfPath, err))
		} else {
			a.pkg = pd
			doc.Metadata = pd.metadata
			doc.TOC = pd.toc
		}
	}

	chapters, err := a.assemble(ctx)
	if err != nil {
		return nil, err
	}
	doc.warnings = a.warnings
	doc.entryErrs = a.entryErrs
	if len(chapters) == 0 {
		return nil, &ContainerError{
			Kind:   NoChapters,
			Reason: fmt.Sprintf("none of %d entries produced text", ix.Total()),
			Err:    a.entryErrs,
		}
	}
	doc.Chapters = chapters

	log.Debug("Document ingested",
		zap.Int("entries", ix.Total()),
		zap.Int("chapters", len(chapters)),
		zap.Int("skipped", len(multierr.Errors(a.entryErrs))))
	return doc, nil
}

// validateMimetype records a warning when the mimetype entry is missing or
// holds something other than the ePub media type.
func validateMimetype(ix *Index, a *assembler) {
	data, err := ix.ReadFile("mimetype")
	if err != nil {
		a.warn("mimetype entry missing or unreadable")
		return
	}
	if string(data) != expectedMimetype {
		a.warn(fmt.Sprintf("unexpected mimetype: %q", string(data)))
	}
}
