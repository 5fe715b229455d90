package bookstream

// CompressionMethod identifies how a container entry's payload is stored.
type CompressionMethod int

const (
	// Stored entries hold their payload verbatim (ZIP method 0).
	Stored CompressionMethod = iota
	// Deflate entries hold a raw DEFLATE stream (ZIP method 8).
	Deflate
	// Unsupported covers every other ZIP method; such entries are skipped.
	Unsupported
)

func (m CompressionMethod) String() string {
	switch m {
	case Stored:
		return "stored"
	case Deflate:
		return "deflate"
	default:
		return "unsupported"
	}
}

// methodFromZip maps the numeric ZIP compression method to a CompressionMethod.
func methodFromZip(v uint16) CompressionMethod {
	switch v {
	case 0:
		return Stored
	case 8:
		return Deflate
	default:
		return Unsupported
	}
}

// ContainerEntry is one central directory record of an archive.
// Entries are immutable once the central directory has been walked.
type ContainerEntry struct {
	// Name is the ZIP-internal path of the entry.
	Name string

	// LocalHeaderOffset is the offset of the entry's local file header.
	LocalHeaderOffset uint32

	// CompressedSize is the size of the stored payload in bytes.
	CompressedSize uint32

	// UncompressedSize is the declared size of the payload after inflation.
	UncompressedSize uint32

	// Method is the compression method declared by the central directory.
	Method CompressionMethod

	// RawMethod is the numeric ZIP method, kept for diagnostics.
	RawMethod uint16

	// Encrypted reports whether general purpose flag bit 0 is set.
	Encrypted bool
}

// Metadata holds the Dublin Core metadata of the package document.
type Metadata struct {
	// Version is the ePub specification version (e.g., "2.0", "3.0").
	// Empty when the archive has no package document.
	Version string

	// Titles contains all dc:title values. The first entry is the primary title.
	Titles []string

	// Authors contains all dc:creator entries with their roles and file-as values.
	Authors []Author

	// Language contains all dc:language values.
	Language []string

	// Identifiers contains all dc:identifier entries.
	Identifiers []Identifier

	Publisher   string
	Date        string
	Description string
	Subjects    []string
}

// Author represents a dc:creator entry.
type Author struct {
	Name   string
	FileAs string
	Role   string
}

// Identifier represents a dc:identifier entry.
type Identifier struct {
	Value  string
	Scheme string
	ID     string
}

// Chapter is one ordered, text-bearing unit of a document. Chapters are
// created once at ingestion time and never mutated; re-ingestion replaces them.
type Chapter struct {
	// ID is a stable identifier derived from the document ID and Href.
	ID string

	// DocumentID is the ID of the owning document.
	DocumentID string

	// Order is the 0-based navigation position. Orders within one document
	// are dense and unique.
	Order int

	// Title is the chapter title, empty when none could be determined.
	Title string

	// Href is the ZIP-internal path of the entry the chapter came from.
	Href string

	// Linear is false for spine items marked linear="no".
	Linear bool

	// IsLicense reports whether the chapter is a Project Gutenberg license page.
	IsLicense bool

	// RawMarkup holds the decompressed chapter markup, BOM stripped.
	RawMarkup []byte

	// PlainText is the readable text recovered from RawMarkup.
	PlainText string
}

// HasTitle reports whether a title was determined for the chapter.
func (c Chapter) HasTitle() bool {
	return c.Title != ""
}

// Token is one display unit of a paragraph. Only tokens with Word set are
// clickable for term lookup; separators and punctuation are rendered only.
type Token struct {
	Text string

	// Word reports whether Text starts with a letter.
	Word bool

	// Glued is set when no whitespace separated the token from its predecessor.
	Glued bool
}

// Paragraph is a block-level run of tokens in document order.
type Paragraph struct {
	Tokens []Token
}

// Len returns the number of tokens in the paragraph.
func (p Paragraph) Len() int {
	return len(p.Tokens)
}

// Page is a half-open range [Start, End) over a chapter's flattened token stream.
type Page struct {
	Start int
	End   int
}

// Len returns the number of tokens on the page.
func (p Page) Len() int {
	return p.End - p.Start
}

// ReadingProgress is the persisted reading position of a document. Position
// is opaque to everything except the Tracker.
type ReadingProgress struct {
	DocumentID   string
	ChapterIndex int
	Position     string
}

// TOCItem represents a single entry in the table of contents.
type TOCItem struct {
	Title    string
	Href     string
	Children []TOCItem
}

// spineItem represents an entry in the OPF <spine> element.
type spineItem struct {
	ID        string
	Href      string
	MediaType string
	Linear    bool
}

// manifestItem represents an entry in the OPF <manifest> element.
type manifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}
