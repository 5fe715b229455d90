package bookstream

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// containerPath is the well-known location of container.xml in an ePub archive.
const containerPath = "META-INF/container.xml"

const opfMediaType = "application/oebps-package+xml"

// rootfileQuery selects rootfile elements regardless of the namespace prefix
// the packager used.
const rootfileQuery = "//*[local-name()='rootfile']"

// locatePackage returns the path of the package document.
//
// It first tries META-INF/container.xml (case-insensitive lookup). If that is
// missing or unusable, it falls back to the first retained ".opf" entry. An
// empty path means the archive has no package document and chapters follow
// archive order.
func locatePackage(ix *Index) (string, error) {
	if _, ok := ix.Lookup(containerPath); ok {
		p, err := parseContainerXML(ix)
		if err == nil {
			return p, nil
		}
		if e, ok := ix.firstWithSuffix(".opf"); ok {
			return e.Name, fmt.Errorf("%w; using %s", err, e.Name)
		}
		return "", err
	}
	if e, ok := ix.firstWithSuffix(".opf"); ok {
		return e.Name, nil
	}
	return "", nil
}

// parseContainerXML reads container.xml and returns the full-path of the first
// rootfile with the OPF media type, or of the first rootfile at all.
func parseContainerXML(ix *Index) (string, error) {
	data, err := ix.ReadFile(containerPath)
	if err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}

	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, rootfileQuery)
	if err != nil {
		return "", fmt.Errorf("query container.xml: %w", err)
	}

	var fallbackPath string
	for _, n := range nodes {
		fullPath := strings.TrimSpace(n.SelectAttr("full-path"))
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(n.SelectAttr("media-type")), opfMediaType) {
			return fullPath, nil
		}
		if fallbackPath == "" {
			fallbackPath = fullPath
		}
	}
	if fallbackPath == "" {
		return "", fmt.Errorf("container.xml has no usable rootfile entries")
	}
	return fallbackPath, nil
}
