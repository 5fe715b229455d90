// Package bookstream turns packaged ebooks (ePub and other ZIP archives of
// chapter markup) into chapter-indexed, paragraph-structured, word-addressable
// text.
//
// The pipeline runs strictly upward: archive bytes are indexed by walking the
// central directory ([OpenIndex]), entries are decompressed, chapter markup is
// reduced to text by a layered recovery chain ([ExtractText]), and the
// resulting chapters are ordered by the OPF spine or, without one, by archive
// order ([Ingest]).
//
// # Ingesting
//
//	doc, err := bookstream.Open(ctx, "book.epub", bookstream.WithLogger(log))
//	var ce *bookstream.ContainerError
//	if errors.As(err, &ce) {
//	    fmt.Println(ce.Remedy())
//	}
//
// Problems with single entries never fail ingestion; they show up in
// [Document.Warnings] and [Document.EntryErrors].
//
// # Pages and word indices
//
// [Segment] splits a chapter's markup into paragraphs of tokens and
// [Paginate] cuts the flattened token stream into pages:
//
//	layout := bookstream.Paginate(bookstream.Segment(ch.RawMarkup), 1000)
//	for _, ps := range layout.PageView(0) {
//	    fmt.Println(ps.Start, len(ps.Tokens))
//	}
//
// Global indices depend only on the markup, so they can be stored as keys
// for highlights and reading positions.
//
// # Reading progress
//
// A [Tracker] is the single writer of reading progress. It coalesces saves,
// versions the position blob and clamps stale chapter indices on load.
package bookstream
