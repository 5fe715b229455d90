package bookstream

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// zipFile is one entry written by buildTestZip.
type zipFile struct {
	name   string
	body   string
	method uint16
}

// buildTestZip creates an in-memory ZIP archive with the entries in the
// given order and returns its bytes. It calls t.Fatal on any error.
func buildTestZip(t testing.TB, files []zipFile) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, f := range files {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: f.method})
		if err != nil {
			t.Fatalf("buildTestZip: create %s: %v", f.name, err)
		}
		if _, err := io.WriteString(fw, f.body); err != nil {
			t.Fatalf("buildTestZip: write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestZip: close writer: %v", err)
	}
	return buf.Bytes()
}

// buildTestEPub creates an in-memory ePub. The mimetype entry, if present, is
// written first and stored; the other entries are deflated in name order.
func buildTestEPub(t testing.TB, files map[string]string) []byte {
	t.Helper()
	var entries []zipFile
	if mt, ok := files["mimetype"]; ok {
		entries = append(entries, zipFile{name: "mimetype", body: mt, method: zip.Store})
	}
	names := make([]string, 0, len(files))
	for name := range files {
		if name != "mimetype" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		entries = append(entries, zipFile{name: name, body: files[name], method: zip.Deflate})
	}
	return buildTestZip(t, entries)
}

// buildTestEPubFile writes an ePub to a temporary file and returns its path.
// This variant is useful for testing Open, which requires a file path.
func buildTestEPubFile(t *testing.T, files map[string]string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "test.epub")
	if err := os.WriteFile(fp, buildTestEPub(t, files), 0644); err != nil {
		t.Fatalf("buildTestEPubFile: write file: %v", err)
	}
	return fp
}

const testContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// chapterXHTML returns a well-formed chapter with a heading and paragraphs.
func chapterXHTML(heading string, paras ...string) string {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>` + heading + `</title></head>
<body>
<h1>` + heading + `</h1>
`)
	for _, p := range paras {
		b.WriteString("<p>" + p + "</p>\n")
	}
	b.WriteString("</body>\n</html>")
	return b.String()
}
