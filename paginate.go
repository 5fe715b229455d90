package bookstream

import "sort"

// DefaultPageWords is the page budget used when none is configured.
const DefaultPageWords = 1000

// Layout is a chapter's paragraphs flattened into one token stream and cut
// into pages of a fixed token budget. Global indices count every token, word
// or not, in document order, and depend only on the paragraphs; they are the
// stable keys used for highlights and reading positions.
//
// A Layout is immutable and safe for concurrent use.
type Layout struct {
	paragraphs []Paragraph
	starts     []int // starts[i] is the global index of paragraph i; starts[len] is the total
	pages      []Page
	budget     int
}

// ParagraphSlice is the part of one paragraph visible on a page.
type ParagraphSlice struct {
	// Paragraph is the index of the paragraph within the chapter.
	Paragraph int

	// Start is the global index of Tokens[0].
	Start int

	Tokens []Token

	// Continued is set when the paragraph began on an earlier page.
	Continued bool

	// Truncated is set when the paragraph goes on to a later page.
	Truncated bool
}

// Text renders the visible tokens with their original spacing.
func (s ParagraphSlice) Text() string {
	return joinTokens(s.Tokens, nil)
}

// Paginate flattens paras and partitions the stream into consecutive pages of
// budget tokens; the final page may be shorter. A chapter without tokens has
// a single empty page. A budget below 1 selects DefaultPageWords.
func Paginate(paras []Paragraph, budget int) *Layout {
	if budget < 1 {
		budget = DefaultPageWords
	}
	l := &Layout{
		paragraphs: paras,
		starts:     make([]int, len(paras)+1),
		budget:     budget,
	}
	total := 0
	for i, p := range paras {
		l.starts[i] = total
		total += len(p.Tokens)
	}
	l.starts[len(paras)] = total

	if total == 0 {
		l.pages = []Page{{Start: 0, End: 0}}
		return l
	}
	l.pages = make([]Page, 0, (total+budget-1)/budget)
	for start := 0; start < total; start += budget {
		l.pages = append(l.pages, Page{Start: start, End: min(start+budget, total)})
	}
	return l
}

// Total returns the number of tokens in the chapter.
func (l *Layout) Total() int {
	return l.starts[len(l.paragraphs)]
}

// Budget returns the page budget in tokens.
func (l *Layout) Budget() int {
	return l.budget
}

// Paragraphs returns the paragraphs the layout was built from.
func (l *Layout) Paragraphs() []Paragraph {
	return l.paragraphs
}

// Pages returns a copy of the page ranges.
func (l *Layout) Pages() []Page {
	return append([]Page(nil), l.pages...)
}

// PageCount returns the number of pages, at least 1.
func (l *Layout) PageCount() int {
	return len(l.pages)
}

// Page returns page i.
func (l *Layout) Page(i int) (Page, bool) {
	if i < 0 || i >= len(l.pages) {
		return Page{}, false
	}
	return l.pages[i], true
}

// Resolve maps a global index to its paragraph and the offset within it.
func (l *Layout) Resolve(global int) (paragraph, offset int, ok bool) {
	if global < 0 || global >= l.Total() {
		return 0, 0, false
	}
	// First paragraph ending past global; empty paragraphs never qualify.
	i := sort.Search(len(l.paragraphs), func(i int) bool {
		return l.starts[i+1] > global
	})
	return i, global - l.starts[i], true
}

// Token returns the token at a global index.
func (l *Layout) Token(global int) (Token, bool) {
	p, off, ok := l.Resolve(global)
	if !ok {
		return Token{}, false
	}
	return l.paragraphs[p].Tokens[off], true
}

// PageOf returns the page holding a global index. Indices past the end map
// to the last page and negative ones to the first.
func (l *Layout) PageOf(global int) int {
	if global <= 0 {
		return 0
	}
	return min(global/l.budget, len(l.pages)-1)
}

// PageView returns, for every paragraph that intersects page i, the visible
// slice of its tokens. A paragraph crossing a page boundary appears on both
// pages with its global indices unchanged.
func (l *Layout) PageView(i int) []ParagraphSlice {
	pg, ok := l.Page(i)
	if !ok || pg.Len() == 0 {
		return nil
	}
	first, _, _ := l.Resolve(pg.Start)

	var view []ParagraphSlice
	for p := first; p < len(l.paragraphs) && l.starts[p] < pg.End; p++ {
		ps, pe := l.starts[p], l.starts[p+1]
		lo, hi := max(ps, pg.Start), min(pe, pg.End)
		if lo >= hi {
			continue
		}
		view = append(view, ParagraphSlice{
			Paragraph: p,
			Start:     lo,
			Tokens:    l.paragraphs[p].Tokens[lo-ps : hi-ps],
			Continued: lo > ps,
			Truncated: hi < pe,
		})
	}
	return view
}
