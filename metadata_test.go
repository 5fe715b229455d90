package bookstream

import (
	"reflect"
	"testing"
)

const testMetadataOPFv2 = `<?xml version="1.0" encoding="UTF-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>Main Title</dc:title>
    <dc:creator opf:file-as="Doe, John" opf:role="aut">John Doe</dc:creator>
    <dc:creator opf:file-as="Smith, Jane" opf:role="edt">Jane Smith</dc:creator>
    <dc:language>en</dc:language>
    <dc:language>fr</dc:language>
    <dc:identifier id="bookid" opf:scheme="ISBN">978-3-16-148410-0</dc:identifier>
    <dc:identifier opf:scheme="UUID">urn:uuid:12345</dc:identifier>
    <dc:publisher>Test Publisher</dc:publisher>
    <dc:date>2024-01-15</dc:date>
    <dc:description>A test book description.</dc:description>
    <dc:subject>Fiction</dc:subject>
    <dc:subject>Science</dc:subject>
  </metadata>
  <manifest/>
  <spine/>
</package>`

const testMetadataOPFv3 = `<?xml version="1.0" encoding="UTF-8"?>
<package version="3.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title id="title1">Subtitle</dc:title>
    <dc:title id="title2">Main Title</dc:title>
    <dc:title>Unnumbered</dc:title>
    <dc:creator id="creator1">John Doe</dc:creator>
    <dc:creator id="creator2">Jane Smith</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="uid">urn:uuid:12345-67890</dc:identifier>
    <dc:publisher>EPUB 3 Publisher</dc:publisher>
    <meta property="dcterms:modified">2024-06-15T00:00:00Z</meta>
    <meta refines="#title1" property="display-seq">2</meta>
    <meta refines="#title2" property="display-seq">1</meta>
    <meta refines="#creator1" property="file-as">Doe, John</meta>
    <meta refines="#creator1" property="role" scheme="marc:relators">aut</meta>
    <meta refines="#creator2" property="role" scheme="marc:relators">edt</meta>
    <meta refines="#uid" property="identifier-type">UUID</meta>
  </metadata>
  <manifest/>
  <spine/>
</package>`

func mustParseOPF(t *testing.T, data string) *opfPackage {
	t.Helper()
	pkg, err := parseOPF([]byte(data))
	if err != nil {
		t.Fatalf("parseOPF: %v", err)
	}
	return pkg
}

func TestExtractMetadata_V2(t *testing.T) {
	md := extractMetadata(mustParseOPF(t, testMetadataOPFv2))

	want := Metadata{
		Version: "2.0",
		Titles:  []string{"Main Title"},
		Authors: []Author{
			{Name: "John Doe", FileAs: "Doe, John", Role: "aut"},
			{Name: "Jane Smith", FileAs: "Smith, Jane", Role: "edt"},
		},
		Language: []string{"en", "fr"},
		Identifiers: []Identifier{
			{Value: "978-3-16-148410-0", Scheme: "ISBN", ID: "bookid"},
			{Value: "urn:uuid:12345", Scheme: "UUID"},
		},
		Publisher:   "Test Publisher",
		Date:        "2024-01-15",
		Description: "A test book description.",
		Subjects:    []string{"Fiction", "Science"},
	}
	if !reflect.DeepEqual(md, want) {
		t.Errorf("extractMetadata() =\n%+v\nwant\n%+v", md, want)
	}
	if md.Title() != "Main Title" {
		t.Errorf("Title() = %q; want %q", md.Title(), "Main Title")
	}
}

func TestExtractMetadata_V3(t *testing.T) {
	md := extractMetadata(mustParseOPF(t, testMetadataOPFv3))

	if want := []string{"Main Title", "Subtitle", "Unnumbered"}; !reflect.DeepEqual(md.Titles, want) {
		t.Errorf("Titles = %v; want %v", md.Titles, want)
	}
	wantAuthors := []Author{
		{Name: "John Doe", FileAs: "Doe, John", Role: "aut"},
		{Name: "Jane Smith", Role: "edt"},
	}
	if !reflect.DeepEqual(md.Authors, wantAuthors) {
		t.Errorf("Authors = %+v; want %+v", md.Authors, wantAuthors)
	}
	if len(md.Identifiers) != 1 || md.Identifiers[0].Scheme != "UUID" {
		t.Errorf("Identifiers = %+v; want one UUID identifier", md.Identifiers)
	}
	if md.Version != "3.0" || md.Publisher != "EPUB 3 Publisher" {
		t.Errorf("Version, Publisher = %q, %q", md.Version, md.Publisher)
	}
}

func TestExtractMetadata_Empty(t *testing.T) {
	md := extractMetadata(mustParseOPF(t, `<package xmlns="http://www.idpf.org/2007/opf"><metadata/></package>`))
	if md.Title() != "" || md.Authors != nil || md.Identifiers != nil {
		t.Errorf("extractMetadata(empty) = %+v; want zero values", md)
	}
	if md.Version != "2.0" {
		t.Errorf("Version = %q; want default 2.0", md.Version)
	}
}

func TestExtractMetadata_SkipsBlankValues(t *testing.T) {
	md := extractMetadata(mustParseOPF(t, `<package xmlns="http://www.idpf.org/2007/opf">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>   </dc:title>
    <dc:title> Real </dc:title>
    <dc:creator></dc:creator>
    <dc:publisher> </dc:publisher>
    <dc:publisher>Second</dc:publisher>
  </metadata>
</package>`))
	if !reflect.DeepEqual(md.Titles, []string{"Real"}) {
		t.Errorf("Titles = %q; want [Real]", md.Titles)
	}
	if md.Authors != nil {
		t.Errorf("Authors = %+v; want none", md.Authors)
	}
	if md.Publisher != "Second" {
		t.Errorf("Publisher = %q; want Second", md.Publisher)
	}
}
