package bookstream

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// opfPackage represents the root <package> element of an OPF file.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Titles       []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators     []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages    []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers  []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publishers   []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Dates        []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ date"`
	Descriptions []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ description"`
	Subjects     []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ subject"`
	Metas        []opfMeta      `xml:"meta"`
}

// opfDCElement holds a Dublin Core element. ePub 2 puts file-as, role and
// scheme on the element itself.
type opfDCElement struct {
	Value  string `xml:",chardata"`
	ID     string `xml:"id,attr"`
	FileAs string `xml:"file-as,attr"`
	Role   string `xml:"role,attr"`
	Scheme string `xml:"scheme,attr"`
}

// opfMeta is <meta property="..." refines="...">value</meta> (ePub 3).
type opfMeta struct {
	Property string `xml:"property,attr"`
	Refines  string `xml:"refines,attr"`
	Value    string `xml:",chardata"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc      string            `xml:"toc,attr"`
	ItemRefs []opfSpineItemRef `xml:"itemref"`
}

type opfSpineItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// parseOPF parses the OPF file content.
func parseOPF(data []byte) (*opfPackage, error) {
	data = preprocessHTMLEntities(stripBOM(data))

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w", err)
	}
	if pkg.Version == "" {
		pkg.Version = "2.0"
	}
	return &pkg, nil
}

// packageDoc is what the package document contributes to ingestion: the
// reading order, the metadata and the table of contents.
type packageDoc struct {
	path         string
	pkg          *opfPackage
	manifestByID map[string]*manifestItem
	spine        []spineItem
	metadata     Metadata
	toc          []TOCItem
}

// loadPackage reads and parses the package document at opfPath. Spine hrefs
// are resolved to ZIP-internal paths. TOC problems are reported through warn
// and leave the TOC empty.
func loadPackage(ix *Index, opfPath string, warn func(string)) (*packageDoc, error) {
	data, err := ix.ReadFile(opfPath)
	if err != nil {
		return nil, fmt.Errorf("read OPF: %w", err)
	}
	pkg, err := parseOPF(data)
	if err != nil {
		return nil, err
	}

	pd := &packageDoc{
		path:         opfPath,
		pkg:          pkg,
		manifestByID: buildManifestMap(pkg.Manifest),
		metadata:     extractMetadata(pkg),
	}
	pd.spine = pd.buildSpine()
	pd.toc = pd.parseTOC(ix, warn)
	return pd, nil
}

// buildManifestMap indexes manifest items by ID.
func buildManifestMap(manifest opfManifest) map[string]*manifestItem {
	byID := make(map[string]*manifestItem, len(manifest.Items))
	for _, item := range manifest.Items {
		byID[item.ID] = &manifestItem{
			ID:         item.ID,
			Href:       item.Href,
			MediaType:  item.MediaType,
			Properties: item.Properties,
		}
	}
	return byID
}

// buildSpine resolves spine itemrefs through the manifest. Itemrefs that name
// no manifest item are dropped.
func (pd *packageDoc) buildSpine() []spineItem {
	items := make([]spineItem, 0, len(pd.pkg.Spine.ItemRefs))
	for _, ref := range pd.pkg.Spine.ItemRefs {
		mi, ok := pd.manifestByID[ref.IDRef]
		if !ok || mi.Href == "" {
			continue
		}
		items = append(items, spineItem{
			ID:        mi.ID,
			Href:      pd.resolve(mi.Href),
			MediaType: mi.MediaType,
			Linear:    ref.Linear != "no",
		})
	}
	return items
}

// resolve resolves href relative to the OPF directory.
func (pd *packageDoc) resolve(href string) string {
	href = hrefWithoutFragment(strings.TrimSpace(href))
	if href == "" {
		return ""
	}
	return resolveRelativePath(pd.path, href)
}
