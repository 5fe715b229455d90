package bookstream

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// extractLayer names the strategy that produced a chapter's text.
type extractLayer int

const (
	layerNone extractLayer = iota
	layerStrict
	layerLenient
	layerLenientOriginal
	layerStrip
	layerStripRepaired
)

func (l extractLayer) String() string {
	switch l {
	case layerStrict:
		return "strict"
	case layerLenient:
		return "lenient"
	case layerLenientOriginal:
		return "lenient-original"
	case layerStrip:
		return "strip"
	case layerStripRepaired:
		return "strip-repaired"
	default:
		return "none"
	}
}

// degraded reports whether the layer lost structure compared to a clean parse.
func (l extractLayer) degraded() bool {
	return l != layerStrict && l != layerNone
}

// extractStrategy turns markup into text. An empty result hands over to the
// next strategy of the chain.
type extractStrategy struct {
	layer    extractLayer
	repaired bool
	run      func([]byte) string
}

var extractionChain = []extractStrategy{
	{layer: layerStrict, repaired: true, run: strictText},
	{layer: layerLenient, repaired: true, run: lenientText},
	{layer: layerLenientOriginal, repaired: false, run: lenientText},
	{layer: layerStrip, repaired: false, run: stripText},
	{layer: layerStripRepaired, repaired: true, run: stripText},
}

// ExtractText returns the readable text of chapter markup. Block elements
// produce line breaks; script, style, meta, link, svg and math content is
// skipped. It never fails: malformed or binary input degrades to tag
// stripping and, at worst, an empty string.
func ExtractText(markup []byte) string {
	text, _ := extractText(markup)
	return text
}

func extractText(markup []byte) (string, extractLayer) {
	markup = stripBOM(markup)
	if len(bytes.TrimSpace(markup)) == 0 {
		return "", layerNone
	}
	repaired := repairMarkup(markup)
	for _, s := range extractionChain {
		input := markup
		if s.repaired {
			input = repaired
		}
		if text := runStrategy(s, input); text != "" {
			return text, s.layer
		}
	}
	return "", layerNone
}

func runStrategy(s extractStrategy, input []byte) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	text = strings.TrimSpace(strings.ToValidUTF8(s.run(input), ""))
	return text
}

// strictText parses data as well-formed XML and returns "" on any error.
func strictText(data []byte) string {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Entity:        xml.HTMLEntity,
		Permissive:    false,
	}
	if err := doc.ReadFromBytes(data); err != nil {
		return ""
	}
	root := doc.Root()
	if root == nil {
		return ""
	}
	var tb textBuilder
	collectElementText(&tb, root)
	return tb.String()
}

func collectElementText(tb *textBuilder, e *etree.Element) {
	a := atom.Lookup([]byte(strings.ToLower(e.Tag)))
	if skipTags[a] {
		return
	}
	if blockTags[a] {
		tb.block()
	}
	for _, tok := range e.Child {
		switch v := tok.(type) {
		case *etree.Element:
			collectElementText(tb, v)
		case *etree.CharData:
			tb.text(v.Data)
		}
	}
	if blockTags[a] {
		tb.block()
	}
}

// lenientText runs the HTML tokenizer over data, which accepts any input.
// Bytes in a legacy encoding declared by BOM or meta tag are transcoded first.
func lenientText(data []byte) string {
	data = normalizeSelfClosingSkipTags(data)
	var r io.Reader = bytes.NewReader(data)
	if cr, err := charset.NewReader(r, ""); err == nil {
		r = cr
	}
	tokenizer := html.NewTokenizer(r)

	var tb textBuilder
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a read error; keep whatever was collected.
			return tb.String()

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			a := atom.Lookup(tn)
			if skipTags[a] {
				if tt == html.StartTagToken && a != atom.Meta && a != atom.Link {
					skipDepth++
				}
				continue
			}
			if skipDepth == 0 && blockTags[a] {
				tb.block()
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			a := atom.Lookup(tn)
			if skipTags[a] && skipDepth > 0 {
				skipDepth--
				continue
			}
			if skipDepth == 0 && blockTags[a] {
				tb.block()
			}

		case html.TextToken:
			if skipDepth == 0 {
				tb.text(string(tokenizer.Text()))
			}
		}
	}
}

var (
	tagPattern       = regexp.MustCompile(`<[^<>]*>`)
	cdataPattern     = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	skipBlockPattern = regexp.MustCompile(`(?is)<script\b.*?</script\s*>|<style\b.*?</style\s*>`)
)

// stripText removes every tag and collapses whitespace. It is the last resort
// and recovers text even from markup no parser accepts.
func stripText(data []byte) string {
	s := strings.ToValidUTF8(string(data), " ")
	s = skipBlockPattern.ReplaceAllString(s, " ")
	s = cdataPattern.ReplaceAllString(s, " $1 ")
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
