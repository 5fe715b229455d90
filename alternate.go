package bookstream

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/taylorskalyo/goreader/epub"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// IngestAlternate ingests data through the goreader ePub parser instead of the
// built-in container walk. Spine items go through the same ExtractText chain
// and chapter numbering, so for a well-formed book both paths agree on chapter
// IDs, order and text. Titles come from chapter headings only. Use it to
// cross-check a book the built-in path rejects.
func IngestAlternate(ctx context.Context, data []byte, opts ...Option) (*Document, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ContainerError{Kind: NotAnArchive, Reason: "alternate parser rejected the archive", Err: err}
	}
	if len(r.Rootfiles) == 0 {
		return nil, newContainerError(NoChapters, "no rootfiles in container.xml")
	}
	book := r.Rootfiles[0]

	doc := &Document{ID: DocumentID(data)}
	doc.Metadata.Titles = nonEmpty(book.Title)
	log := o.log.With(zap.String("document", doc.ID))

	for _, ref := range book.Spine.Itemrefs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ref.Item == nil {
			continue
		}
		href := resolveRelativePath(book.FullPath, hrefWithoutFragment(ref.Item.HREF))
		markup, err := readItem(ref.Item, href, o.maxEntrySize)
		if err != nil {
			doc.entryErrs = multierr.Append(doc.entryErrs, err)
			doc.warnings = append(doc.warnings, err.Error())
			log.Warn("Skipped spine item", zap.String("entry", href), zap.Error(err))
			continue
		}
		text := ExtractText(markup)
		if text == "" {
			doc.warnings = append(doc.warnings, fmt.Sprintf("skipped %s: no readable text", href))
			continue
		}
		doc.Chapters = append(doc.Chapters, Chapter{
			ID:         chapterID(doc.ID, href),
			DocumentID: doc.ID,
			Order:      len(doc.Chapters),
			Title:      headingTitle(markup),
			Href:       href,
			Linear:     true,
			IsLicense:  isGutenbergLicense(text),
			RawMarkup:  markup,
			PlainText:  text,
		})
	}

	if len(doc.Chapters) == 0 {
		return nil, &ContainerError{Kind: NoChapters, Reason: "no spine item produced text", Err: doc.entryErrs}
	}
	return doc, nil
}

func readItem(item *epub.Item, name string, limit int64) ([]byte, error) {
	rc, err := item.Open()
	if err != nil {
		return nil, &DecompressError{Entry: name, Err: fmt.Errorf("%w: %v", ErrCorruptEntry, err)}
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, &DecompressError{Entry: name, Err: fmt.Errorf("%w: %v", ErrCorruptEntry, err)}
	}
	if int64(len(data)) > limit {
		return nil, &DecompressError{Entry: name, Err: ErrEntryTooLarge}
	}
	return stripBOM(data), nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
