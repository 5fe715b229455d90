package bookstream

import (
	"slices"
	"strconv"
	"strings"
)

// extractMetadata converts the Dublin Core block of the package document.
func extractMetadata(pkg *opfPackage) Metadata {
	om := &pkg.Metadata
	refines := buildRefinesMap(om.Metas)

	md := Metadata{
		Version:     pkg.Version,
		Titles:      extractTitles(om.Titles, refines),
		Authors:     extractAuthors(om.Creators, refines),
		Language:    nonEmptyValues(om.Languages),
		Subjects:    nonEmptyValues(om.Subjects),
		Publisher:   firstNonEmpty(om.Publishers),
		Date:        firstNonEmpty(om.Dates),
		Description: firstNonEmpty(om.Descriptions),
	}

	for _, id := range om.Identifiers {
		v := strings.TrimSpace(id.Value)
		if v == "" {
			continue
		}
		ident := Identifier{Value: v, Scheme: id.Scheme, ID: id.ID}
		if ident.Scheme == "" && id.ID != "" {
			ident.Scheme, _ = findRefine(refines, id.ID, "identifier-type")
		}
		md.Identifiers = append(md.Identifiers, ident)
	}
	return md
}

// Title returns the primary title, or "" when the package has none.
func (m Metadata) Title() string {
	if len(m.Titles) == 0 {
		return ""
	}
	return m.Titles[0]
}

func nonEmptyValues(elems []opfDCElement) []string {
	var out []string
	for _, e := range elems {
		if v := strings.TrimSpace(e.Value); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(elems []opfDCElement) string {
	for _, e := range elems {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

// buildRefinesMap maps an element ID (without "#") to the ePub 3
// <meta refines="#id"> elements that refine it.
func buildRefinesMap(metas []opfMeta) map[string][]opfMeta {
	m := make(map[string][]opfMeta)
	for _, meta := range metas {
		if id, ok := strings.CutPrefix(meta.Refines, "#"); ok && id != "" {
			m[id] = append(m[id], meta)
		}
	}
	return m
}

func findRefine(refines map[string][]opfMeta, id, property string) (string, bool) {
	for _, m := range refines[id] {
		if m.Property != property {
			continue
		}
		if v := strings.TrimSpace(m.Value); v != "" {
			return v, true
		}
	}
	return "", false
}

// extractTitles orders titles by ePub 3 display-seq when present. Titles
// without a sequence number follow the numbered ones in document order.
func extractTitles(titles []opfDCElement, refines map[string][]opfMeta) []string {
	type seqTitle struct {
		value string
		seq   int
	}
	var entries []seqTitle
	for _, t := range titles {
		v := strings.TrimSpace(t.Value)
		if v == "" {
			continue
		}
		e := seqTitle{value: v}
		if s, ok := findRefine(refines, t.ID, "display-seq"); ok && t.ID != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				e.seq = n
			}
		}
		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, func(a, b seqTitle) int {
		switch {
		case a.seq == b.seq:
			return 0
		case a.seq == 0:
			return 1
		case b.seq == 0:
			return -1
		default:
			return a.seq - b.seq
		}
	})

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.value)
	}
	return out
}

// extractAuthors reads dc:creator. ePub 2 carries file-as and role as
// attributes, ePub 3 as refining meta elements.
func extractAuthors(creators []opfDCElement, refines map[string][]opfMeta) []Author {
	var authors []Author
	for _, c := range creators {
		name := strings.TrimSpace(c.Value)
		if name == "" {
			continue
		}
		a := Author{Name: name, FileAs: c.FileAs, Role: c.Role}
		if c.ID != "" {
			if a.FileAs == "" {
				a.FileAs, _ = findRefine(refines, c.ID, "file-as")
			}
			if a.Role == "" {
				a.Role, _ = findRefine(refines, c.ID, "role")
			}
		}
		authors = append(authors, a)
	}
	return authors
}
