package bookstream

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// Segment splits chapter markup into paragraphs in document order. Every
// element from the block set (p, div, br, hr, h1..h6, li, blockquote, pre,
// table, tr) closes the paragraph collected so far; inline elements do not,
// so a word split across inline markup stays one token.
//
// When the markup cannot be parsed or yields no tokens, the paragraphs come
// from the extracted plain text split at blank lines.
//
// Segment is deterministic and safe for concurrent use.
func Segment(markup []byte) []Paragraph {
	markup = stripBOM(markup)
	if paras, ok := segmentMarkup(markup); ok {
		return paras
	}
	return segmentPlainText(ExtractText(markup))
}

func segmentMarkup(markup []byte) ([]Paragraph, bool) {
	var r io.Reader = bytes.NewReader(normalizeSelfClosingSkipTags(markup))
	if cr, err := charset.NewReader(r, ""); err == nil {
		r = cr
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, false
	}
	root := findElement(doc, atom.Body)
	if root == nil {
		root = doc
	}

	s := &segmenter{}
	s.walk(root)
	s.flush()
	return s.paragraphs, len(s.paragraphs) > 0
}

// segmenter collects the text of the current paragraph until a block
// boundary flushes it. Its state lives for a single Segment call.
type segmenter struct {
	text       strings.Builder
	paragraphs []Paragraph
}

func (s *segmenter) flush() {
	if s.text.Len() == 0 {
		return
	}
	tokens := Tokenize(s.text.String())
	s.text.Reset()
	if len(tokens) > 0 {
		s.paragraphs = append(s.paragraphs, Paragraph{Tokens: tokens})
	}
}

func (s *segmenter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		s.text.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipTags[n.DataAtom] {
			return
		}
		if blockTags[n.DataAtom] {
			s.flush()
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c)
	}
	if n.Type == html.ElementNode && blockTags[n.DataAtom] {
		s.flush()
	}
}

var (
	blankLinePattern = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
	lineBreakPattern = regexp.MustCompile(`\r?\n`)
)

// segmentPlainText splits text at blank lines, or at single line breaks when
// the text has no blank line.
func segmentPlainText(text string) []Paragraph {
	pattern := lineBreakPattern
	if blankLinePattern.MatchString(text) {
		pattern = blankLinePattern
	}
	var paras []Paragraph
	for _, block := range pattern.Split(text, -1) {
		if tokens := Tokenize(block); len(tokens) > 0 {
			paras = append(paras, Paragraph{Tokens: tokens})
		}
	}
	return paras
}
