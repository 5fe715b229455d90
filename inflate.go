package bookstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxEntrySize is the maximum allowed decompressed size for a single
// entry. It guards against zip bombs.
const DefaultMaxEntrySize int64 = 256 * 1024 * 1024

// Decompress returns the payload of e using DefaultMaxEntrySize.
func (ix *Index) Decompress(e ContainerEntry) ([]byte, error) {
	return ix.decompress(e, DefaultMaxEntrySize)
}

// decompress reads the local file header of e independently of the central
// directory, then returns the stored slice or the inflated DEFLATE stream.
// Stored payloads alias the archive buffer and must not be modified.
func (ix *Index) decompress(e ContainerEntry, limit int64) ([]byte, error) {
	fail := func(err error) ([]byte, error) {
		return nil, &DecompressError{Entry: e.Name, Err: err}
	}

	if e.Encrypted {
		return fail(fmt.Errorf("%w: entry is encrypted", ErrUnsupportedMethod))
	}
	if e.Method == Unsupported {
		return fail(fmt.Errorf("%w: method %d", ErrUnsupportedMethod, e.RawMethod))
	}

	buf := ix.buf
	off := uint64(e.LocalHeaderOffset)
	if off+localHeaderLen > uint64(len(buf)) {
		return fail(fmt.Errorf("%w: header at %d exceeds archive", ErrBadLocalHeader, off))
	}
	hdr := buf[off : off+localHeaderLen]
	if binary.LittleEndian.Uint32(hdr) != localSignature {
		return fail(fmt.Errorf("%w: bad signature at offset %d", ErrBadLocalHeader, off))
	}
	if m := binary.LittleEndian.Uint16(hdr[8:]); m != e.RawMethod {
		return fail(fmt.Errorf("%w: local method %d, central directory says %d", ErrBadLocalHeader, m, e.RawMethod))
	}

	start := off + localHeaderLen +
		uint64(binary.LittleEndian.Uint16(hdr[26:])) +
		uint64(binary.LittleEndian.Uint16(hdr[28:]))
	end := start + uint64(e.CompressedSize)
	if end > uint64(len(buf)) {
		return fail(fmt.Errorf("%w: payload [%d, %d) exceeds archive", ErrBadLocalHeader, start, end))
	}
	payload := buf[start:end:end]

	switch e.Method {
	case Stored:
		if int64(len(payload)) > limit {
			return fail(fmt.Errorf("%w: %d bytes (max %d)", ErrEntryTooLarge, len(payload), limit))
		}
		return payload, nil
	default:
		return inflate(e, payload, limit)
	}
}

func inflate(e ContainerEntry, payload []byte, limit int64) ([]byte, error) {
	if int64(e.UncompressedSize) > limit {
		return nil, &DecompressError{Entry: e.Name,
			Err: fmt.Errorf("%w: declared %d bytes (max %d)", ErrEntryTooLarge, e.UncompressedSize, limit)}
	}

	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()

	// The declared size is archive-controlled; pre-size by the payload instead.
	var out bytes.Buffer
	out.Grow(int(min(int64(e.UncompressedSize), int64(len(payload))*8, limit)))
	// Read up to limit+1 to detect forged declared sizes.
	if _, err := out.ReadFrom(io.LimitReader(fr, limit+1)); err != nil {
		return nil, &DecompressError{Entry: e.Name, Err: fmt.Errorf("%w: %v", ErrCorruptEntry, err)}
	}
	if int64(out.Len()) > limit {
		return nil, &DecompressError{Entry: e.Name,
			Err: fmt.Errorf("%w: inflated size exceeds %d bytes", ErrEntryTooLarge, limit)}
	}
	return out.Bytes(), nil
}

// entryResult is the outcome of decompressing one entry.
type entryResult struct {
	Entry ContainerEntry
	Data  []byte
	Err   error
}

// decompressAll decompresses entries on a bounded pool of workers. Results
// keep the order of entries; a failed entry carries its error and does not
// stop its siblings. Only context cancellation aborts the batch.
func decompressAll(ctx context.Context, ix *Index, entries []ContainerEntry, workers int, limit int64) ([]entryResult, error) {
	results := make([]entryResult, len(entries))
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := ix.decompress(e, limit)
			if err == nil {
				data = stripBOM(data)
			}
			results[i] = entryResult{Entry: e, Data: data, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
