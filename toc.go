package bookstream

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const ncxMediaType = "application/x-dtbncx+xml"

// parseTOC reads the ePub 3 nav document when the package declares one and
// falls back to the NCX. Failures are reported through warn; a book without a
// usable TOC gets an empty one.
func (pd *packageDoc) parseTOC(ix *Index, warn func(string)) []TOCItem {
	if strings.HasPrefix(pd.pkg.Version, "3") {
		if navPath := pd.manifestPath(func(mi opfManifestItem) bool {
			return strings.Contains(" "+mi.Properties+" ", " nav ")
		}); navPath != "" {
			if toc, err := readNavTOC(ix, navPath); err != nil {
				warn(err.Error())
			} else if len(toc) > 0 {
				return toc
			}
		}
	}

	ncxPath := ""
	if mi, ok := pd.manifestByID[pd.pkg.Spine.Toc]; ok {
		ncxPath = pd.resolve(mi.Href)
	}
	if ncxPath == "" {
		ncxPath = pd.manifestPath(func(mi opfManifestItem) bool {
			return mi.MediaType == ncxMediaType
		})
	}
	if ncxPath == "" {
		return nil
	}
	data, err := ix.ReadFile(ncxPath)
	if err != nil {
		warn(fmt.Sprintf("failed to read NCX file: %v", err))
		return nil
	}
	toc, err := parseNCX(data, ncxPath)
	if err != nil {
		warn(err.Error())
		return nil
	}
	return toc
}

// manifestPath returns the resolved path of the first manifest item, in
// document order, accepted by match.
func (pd *packageDoc) manifestPath(match func(opfManifestItem) bool) string {
	for _, mi := range pd.pkg.Manifest.Items {
		if match(mi) {
			return pd.resolve(mi.Href)
		}
	}
	return ""
}

func readNavTOC(ix *Index, navPath string) ([]TOCItem, error) {
	data, err := ix.ReadFile(navPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read nav document: %w", err)
	}
	return parseNavDocument(data, navPath)
}

// titleMap flattens the TOC into file path → title. The first entry for a
// file wins, so a chapter takes the title of its first heading.
func titleMap(items []TOCItem) map[string]string {
	m := make(map[string]string)
	var walk func([]TOCItem)
	walk = func(items []TOCItem) {
		for _, item := range items {
			if item.Href != "" && item.Title != "" {
				filePath := hrefWithoutFragment(item.Href)
				if _, exists := m[filePath]; !exists {
					m[filePath] = item.Title
				}
			}
			walk(item.Children)
		}
	}
	walk(items)
	return m
}

// hrefWithoutFragment returns the href with the fragment (#...) removed.
func hrefWithoutFragment(href string) string {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		return href[:idx]
	}
	return href
}

// NCX (ePub 2) decoding structs.

type ncxDocument struct {
	XMLName xml.Name      `xml:"ncx"`
	Points  []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	Label    string        `xml:"navLabel>text"`
	Content  ncxContent    `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

// parseNCX parses NCX data. Hrefs are resolved relative to ncxPath.
func parseNCX(data []byte, ncxPath string) ([]TOCItem, error) {
	data = preprocessHTMLEntities(stripBOM(data))

	var doc ncxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse NCX: %w", err)
	}
	return convertNavPoints(doc.Points, ncxPath), nil
}

func convertNavPoints(points []ncxNavPoint, ncxPath string) []TOCItem {
	if len(points) == 0 {
		return nil
	}
	items := make([]TOCItem, 0, len(points))
	for _, np := range points {
		item := TOCItem{Title: strings.Join(strings.Fields(np.Label), " ")}
		if src := strings.TrimSpace(np.Content.Src); src != "" {
			item.Href = resolveRelativePath(ncxPath, src)
		}
		item.Children = convertNavPoints(np.Children, ncxPath)
		items = append(items, item)
	}
	return items
}

// parseNavDocument returns the entries of the <nav epub:type="toc"> element
// of an ePub 3 navigation document.
func parseNavDocument(data []byte, basePath string) ([]TOCItem, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse nav document: %w", err)
	}

	var toc []TOCItem
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav && hasEpubType(n, "toc") {
			if ol := findElement(n, atom.Ol); ol != nil {
				toc = parseNavOL(ol, basePath)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				return true
			}
		}
		return false
	}
	visit(doc)
	return toc, nil
}

func parseNavOL(ol *html.Node, basePath string) []TOCItem {
	var items []TOCItem
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Li {
			items = append(items, parseNavLI(c, basePath))
		}
	}
	return items
}

// parseNavLI reads one <li>: the first <a> (or a <span> heading) and a
// nested <ol> of children.
func parseNavLI(li *html.Node, basePath string) TOCItem {
	var item TOCItem
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.A:
			if item.Href == "" {
				if href := nodeAttr(c, "href"); href != "" {
					item.Href = resolveRelativePath(basePath, href)
				}
				item.Title = nodeText(c)
			}
		case atom.Span:
			if item.Title == "" {
				item.Title = nodeText(c)
			}
		case atom.Ol:
			item.Children = parseNavOL(c, basePath)
		}
	}
	return item
}

func hasEpubType(n *html.Node, typeName string) bool {
	for _, t := range strings.Fields(nodeAttr(n, "epub:type")) {
		if t == typeName {
			return true
		}
	}
	return false
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nodeText returns the whitespace-collapsed text content of n.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
