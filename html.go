package bookstream

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// entityNameToNumeric maps lowercase HTML entity names to their XML numeric
// character references. encoding/xml does not recognise HTML named entities,
// so we convert them before parsing OPF/NCX files.
var entityNameToNumeric = map[string][]byte{
	"nbsp": []byte("&#160;"), "mdash": []byte("&#8212;"), "ndash": []byte("&#8211;"),
	"hellip": []byte("&#8230;"),
	"lsquo": []byte("&#8216;"), "rsquo": []byte("&#8217;"),
	"ldquo": []byte("&#8220;"), "rdquo": []byte("&#8221;"),
	"copy": []byte("&#169;"), "reg": []byte("&#174;"), "trade": []byte("&#8482;"),
	"eacute": []byte("&#233;"), "egrave": []byte("&#232;"),
	"auml": []byte("&#228;"), "ouml": []byte("&#246;"), "uuml": []byte("&#252;"),
	"laquo": []byte("&#171;"), "raquo": []byte("&#187;"),
}

var htmlEntityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|` +
		`eacute|egrave|auml|ouml|uuml|laquo|raquo);`)

// preprocessHTMLEntities replaces common HTML named entities with their
// numeric character references so that encoding/xml can parse the data.
func preprocessHTMLEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if replacement, ok := entityNameToNumeric[name]; ok {
			return replacement
		}
		return match
	})
}

// blockTags start a new line in extracted text and a new paragraph in
// segmented chapters.
var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Br:         true,
	atom.Hr:         true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.Table:      true,
	atom.Tr:         true,
}

// skipTags hold no readable content.
var skipTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Meta:   true,
	atom.Link:   true,
	atom.Svg:    true,
	atom.Math:   true,
}

var selfClosingSkipTagPattern = regexp.MustCompile(`(?is)<(script|style)\b([^>]*)/>`)

// normalizeSelfClosingSkipTags expands <script/> and <style/>. The HTML
// tokenizer treats them as raw-text start tags that never end.
func normalizeSelfClosingSkipTags(data []byte) []byte {
	if !selfClosingSkipTagPattern.Match(data) {
		return data
	}
	return selfClosingSkipTagPattern.ReplaceAll(data, []byte(`<$1$2></$1>`))
}

// findElement performs a depth-first search for a node with the given atom tag.
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result := findElement(c, a); result != nil {
			return result
		}
	}
	return nil
}

// textBuilder accumulates text runs separated by block boundaries. Runs of
// whitespace collapse to one space; block boundaries become a single newline.
type textBuilder struct {
	b       strings.Builder
	space   bool
	newline bool
}

// block ends the current line, if any.
func (t *textBuilder) block() {
	if t.b.Len() > 0 && !t.newline {
		t.b.WriteByte('\n')
		t.newline = true
	}
	t.space = false
}

// text appends raw, collapsing its whitespace. Whitespace at either end of
// raw is kept as a single separating space so inline elements stay apart.
func (t *textBuilder) text(raw string) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		if raw != "" {
			t.space = true
		}
		return
	}
	first, _ := utf8.DecodeRuneInString(raw)
	if (t.space || unicode.IsSpace(first)) && t.b.Len() > 0 && !t.newline {
		t.b.WriteByte(' ')
	}
	t.b.WriteString(strings.Join(fields, " "))
	last, _ := utf8.DecodeLastRuneInString(raw)
	t.space = unicode.IsSpace(last)
	t.newline = false
}

func (t *textBuilder) String() string {
	return strings.TrimSpace(t.b.String())
}
