package bookstream

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// chapterNamespace seeds the name-based chapter IDs.
var chapterNamespace = uuid.MustParse("6f0b8c5e-5c1e-4d0a-9a43-9e3b1f7e2a10")

// chapterID derives a stable identifier from the document and entry path.
func chapterID(documentID, href string) string {
	return uuid.NewSHA1(chapterNamespace, []byte(documentID+"\x00"+href)).String()
}

// gutenbergPatterns indicate a Project Gutenberg license page.
var gutenbergPatterns = []string{
	"project gutenberg license",
	"gutenberg.org/license",
	"start of the project gutenberg license",
	"end of the project gutenberg license",
	"start of this project gutenberg ebook",
	"end of this project gutenberg ebook",
}

// gutenbergComboPatterns must both appear.
var gutenbergComboPatterns = [][2]string{
	{"project gutenberg", "terms of use"},
	{"full license", "gutenberg"},
}

// isGutenbergLicense checks extracted chapter text for license boilerplate.
func isGutenbergLicense(text string) bool {
	text = strings.ToLower(text)
	for _, pat := range gutenbergPatterns {
		if strings.Contains(text, pat) {
			return true
		}
	}
	for _, combo := range gutenbergComboPatterns {
		if strings.Contains(text, combo[0]) && strings.Contains(text, combo[1]) {
			return true
		}
	}
	return false
}

// candidate is an entry selected for chapter assembly.
type candidate struct {
	entry  ContainerEntry
	linear bool
}

// assembler turns container entries into the ordered chapter list.
type assembler struct {
	documentID string
	ix         *Index
	pkg        *packageDoc
	opts       options

	warnings  []string
	entryErrs error
}

func (a *assembler) warn(msg string, fields ...zap.Field) {
	a.opts.log.Warn(msg, fields...)
	a.warnings = append(a.warnings, msg)
}

// candidates lists the entries to process in reading order: spine order when
// the package document has a spine, archive or natural order otherwise.
func (a *assembler) candidates() []candidate {
	if a.pkg != nil && len(a.pkg.spine) > 0 {
		seen := make(map[string]bool, len(a.pkg.spine))
		out := make([]candidate, 0, len(a.pkg.spine))
		for _, si := range a.pkg.spine {
			if si.Href == "" || seen[si.Href] {
				continue
			}
			seen[si.Href] = true
			e, ok := a.ix.Lookup(si.Href)
			if !ok || !chapterNamePattern.MatchString(e.Name) {
				a.warn(fmt.Sprintf("spine item %s is not a chapter entry in the archive", si.Href),
					zap.String("entry", si.Href))
				continue
			}
			out = append(out, candidate{entry: e, linear: si.Linear})
		}
		if len(out) > 0 {
			return out
		}
		a.warn("no spine item resolved to a chapter entry, using archive order")
	}

	entries := a.ix.Entries()
	if a.opts.order == NaturalOrder {
		sort.SliceStable(entries, func(i, j int) bool {
			return natural.Less(entries[i].Name, entries[j].Name)
		})
	}
	out := make([]candidate, 0, len(entries))
	for _, e := range entries {
		out = append(out, candidate{entry: e, linear: true})
	}
	return out
}

// assemble decompresses and extracts every candidate. A failing entry is
// skipped and recorded; order values come from the successful set only, so
// they stay dense.
func (a *assembler) assemble(ctx context.Context) ([]Chapter, error) {
	cands := a.candidates()
	entries := make([]ContainerEntry, len(cands))
	for i, c := range cands {
		entries[i] = c.entry
	}
	results, err := decompressAll(ctx, a.ix, entries, a.opts.workers, a.opts.maxEntrySize)
	if err != nil {
		return nil, err
	}

	var titles map[string]string
	if a.pkg != nil {
		titles = titleMap(a.pkg.toc)
	}

	chapters := make([]Chapter, 0, len(results))
	for i, r := range results {
		name := r.Entry.Name
		if r.Err != nil {
			a.entryErrs = multierr.Append(a.entryErrs, r.Err)
			a.warn(fmt.Sprintf("skipped %s: %v", name, r.Err),
				zap.String("entry", name), zap.Stringer("method", r.Entry.Method), zap.Error(r.Err))
			continue
		}

		text, layer := extractText(r.Data)
		if text == "" {
			a.entryErrs = multierr.Append(a.entryErrs, fmt.Errorf("entry %s: no text", name))
			a.warn(fmt.Sprintf("skipped %s: no readable text", name), zap.String("entry", name))
			continue
		}
		if layer.degraded() {
			a.opts.log.Debug("Recovered chapter text", zap.String("entry", name), zap.Stringer("layer", layer))
		}

		title := titles[name]
		if title == "" {
			title = headingTitle(r.Data)
		}
		chapters = append(chapters, Chapter{
			ID:         chapterID(a.documentID, name),
			DocumentID: a.documentID,
			Order:      len(chapters),
			Title:      title,
			Href:       name,
			Linear:     cands[i].linear,
			IsLicense:  isGutenbergLicense(text),
			RawMarkup:  bytes.Clone(r.Data),
			PlainText:  text,
		})
	}
	return chapters, nil
}

// headingTitle returns the text of the first h1..h3 of the body, or of the
// <title> element, or "".
func headingTitle(markup []byte) string {
	doc, err := html.Parse(bytes.NewReader(normalizeSelfClosingSkipTags(markup)))
	if err != nil {
		return ""
	}
	var found string
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.H1, atom.H2, atom.H3:
				if t := nodeText(n); t != "" {
					found = t
					return true
				}
			case atom.Script, atom.Style, atom.Head:
				return false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				return true
			}
		}
		return false
	}
	if visit(doc) {
		return found
	}
	if t := findElement(doc, atom.Title); t != nil {
		return nodeText(t)
	}
	return ""
}
