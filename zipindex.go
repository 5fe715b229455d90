package bookstream

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// ZIP record signatures and fixed header sizes.
const (
	eocdSignature    = 0x06054b50
	eocdLen          = 22
	maxCommentLen    = 0xFFFF
	centralSignature = 0x02014b50
	centralHeaderLen = 46
	localSignature   = 0x04034b50
	localHeaderLen   = 30
	flagEncrypted    = 0x1
)

// chapterNamePattern matches entries that carry chapter markup: the markup
// extensions plus the server-page extensions some converters leave behind.
var chapterNamePattern = regexp.MustCompile(`(?i)\.(x?html?|xht|shtml|php|aspx?|jsp)$`)

// isPackageEntry reports whether name is a control file needed to order and
// title chapters even though it is not chapter markup itself.
func isPackageEntry(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "mimetype", "meta-inf/container.xml", "meta-inf/encryption.xml", "meta-inf/sinf.xml":
		return true
	}
	return strings.HasSuffix(lower, ".opf") || strings.HasSuffix(lower, ".ncx")
}

// Index is a walked central directory over an in-memory archive. It retains
// chapter markup entries and the handful of package control files; all other
// entries are dropped while walking.
//
// An Index is safe for concurrent reads once OpenIndex returns.
type Index struct {
	buf      []byte
	chapters []ContainerEntry
	all      []ContainerEntry
	exact    map[string]int
	lower    map[string]int
	total    int
	warnings []string
}

// OpenIndex locates the end-of-central-directory record in buf and walks the
// central directory. A malformed record stops the walk; the entries read so far
// are kept and a warning is recorded.
func OpenIndex(buf []byte) (*Index, error) {
	eocd := findEOCD(buf)
	if eocd < 0 {
		return nil, newContainerError(NotAnArchive, "no end of central directory record in %d bytes", len(buf))
	}

	count := int(binary.LittleEndian.Uint16(buf[eocd+10:]))
	cdSize := binary.LittleEndian.Uint32(buf[eocd+12:])
	cdOffset := binary.LittleEndian.Uint32(buf[eocd+16:])
	if uint64(cdOffset)+uint64(cdSize) > uint64(len(buf)) {
		return nil, newContainerError(Truncated,
			"central directory [%d, +%d) exceeds archive size %d", cdOffset, cdSize, len(buf))
	}

	ix := &Index{
		buf:   buf,
		exact: make(map[string]int),
		lower: make(map[string]int),
	}
	ix.walk(int(cdOffset), count)
	return ix, nil
}

// findEOCD scans backward for the end-of-central-directory signature. The scan
// covers at most the maximum trailing comment length.
func findEOCD(buf []byte) int {
	if len(buf) < eocdLen {
		return -1
	}
	stop := max(len(buf)-eocdLen-maxCommentLen, 0)
	for i := len(buf) - eocdLen; i >= stop; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) == eocdSignature {
			return i
		}
	}
	return -1
}

func (ix *Index) walk(p, count int) {
	buf := ix.buf
	for i := 0; i < count; i++ {
		if p+centralHeaderLen > len(buf) {
			ix.warnf("central directory ends after %d of %d records", i, count)
			return
		}
		if binary.LittleEndian.Uint32(buf[p:]) != centralSignature {
			ix.warnf("bad central directory signature at offset %d, kept %d of %d records", p, i, count)
			return
		}

		rec := buf[p : p+centralHeaderLen]
		nameLen := int(binary.LittleEndian.Uint16(rec[28:]))
		extraLen := int(binary.LittleEndian.Uint16(rec[30:]))
		commentLen := int(binary.LittleEndian.Uint16(rec[32:]))
		nameEnd := p + centralHeaderLen + nameLen
		if nameEnd > len(buf) {
			ix.warnf("central directory record %d name exceeds archive", i)
			return
		}

		raw := binary.LittleEndian.Uint16(rec[10:])
		e := ContainerEntry{
			Name:              string(buf[p+centralHeaderLen : nameEnd]),
			LocalHeaderOffset: binary.LittleEndian.Uint32(rec[42:]),
			CompressedSize:    binary.LittleEndian.Uint32(rec[20:]),
			UncompressedSize:  binary.LittleEndian.Uint32(rec[24:]),
			Method:            methodFromZip(raw),
			RawMethod:         raw,
			Encrypted:         binary.LittleEndian.Uint16(rec[8:])&flagEncrypted != 0,
		}
		p = nameEnd + extraLen + commentLen
		ix.total++
		ix.add(e)
	}
}

func (ix *Index) add(e ContainerEntry) {
	if strings.HasSuffix(e.Name, "/") {
		return
	}
	chapter := chapterNamePattern.MatchString(e.Name)
	if !chapter && !isPackageEntry(e.Name) {
		return
	}
	if !isSafePath(e.Name) {
		ix.warnf("unsafe entry path %q skipped", e.Name)
		return
	}

	pos := len(ix.all)
	ix.all = append(ix.all, e)
	if _, exists := ix.exact[e.Name]; !exists {
		ix.exact[e.Name] = pos // first match wins for exact
	}
	lower := strings.ToLower(e.Name)
	if _, exists := ix.lower[lower]; !exists {
		ix.lower[lower] = pos // first match wins for case-insensitive
	}
	if chapter {
		ix.chapters = append(ix.chapters, e)
	}
}

func (ix *Index) warnf(format string, args ...any) {
	ix.warnings = append(ix.warnings, fmt.Sprintf(format, args...))
}

// Entries returns the retained chapter markup entries in directory order.
func (ix *Index) Entries() []ContainerEntry {
	return append([]ContainerEntry(nil), ix.chapters...)
}

// Total returns the number of central directory records walked, including
// the ones that were not retained.
func (ix *Index) Total() int {
	return ix.total
}

// Warnings returns the problems met while walking the central directory.
func (ix *Index) Warnings() []string {
	return append([]string(nil), ix.warnings...)
}

// Lookup finds a retained entry by path. It tries an exact match first, then
// falls back to a case-insensitive match.
func (ix *Index) Lookup(name string) (ContainerEntry, bool) {
	if i, ok := ix.exact[name]; ok {
		return ix.all[i], true
	}
	if i, ok := ix.lower[strings.ToLower(name)]; ok {
		return ix.all[i], true
	}
	return ContainerEntry{}, false
}

// ReadFile looks up name and decompresses it with the default size limit.
// Leading UTF-8 BOM is stripped.
func (ix *Index) ReadFile(name string) ([]byte, error) {
	e, ok := ix.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	data, err := ix.Decompress(e)
	if err != nil {
		return nil, err
	}
	return stripBOM(data), nil
}

// firstWithSuffix returns the first retained entry whose lowercased name ends
// in suffix.
func (ix *Index) firstWithSuffix(suffix string) (ContainerEntry, bool) {
	for _, e := range ix.all {
		if strings.HasSuffix(strings.ToLower(e.Name), suffix) {
			return e, true
		}
	}
	return ContainerEntry{}, false
}

// resolveRelativePath resolves href relative to the directory of basePath.
// Both basePath and href are ZIP-internal paths (forward-slash separated).
// If the resolved path escapes root or is absolute, an empty string is returned.
func resolveRelativePath(basePath, href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(basePath), href))
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

// isSafePath checks whether p is a ZIP-internal path that does not escape the
// archive root via path traversal (e.g., "../../../etc/passwd").
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

// stripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) from data, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
