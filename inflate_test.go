package bookstream

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
)

// buildRawZip writes entries whose payloads are taken verbatim, so tests can
// produce methods and streams the zip writer would refuse to compress.
func buildRawZip(t *testing.T, name string, fh zip.FileHeader, payload []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	fh.Name = name
	fh.CompressedSize64 = uint64(len(payload))
	if fh.UncompressedSize64 == 0 {
		fh.UncompressedSize64 = uint64(len(payload))
	}
	w, err := zw.CreateRaw(&fh)
	if err != nil {
		t.Fatalf("CreateRaw: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func openSingle(t *testing.T, data []byte) (*Index, ContainerEntry) {
	t.Helper()
	ix, err := OpenIndex(data)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	entries := ix.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(Entries()) = %d; want 1", len(entries))
	}
	return ix, entries[0]
}

func TestDecompress_RoundTrip(t *testing.T) {
	body := strings.Repeat("<p>The quick brown fox.</p>\n", 200)
	for _, method := range []uint16{zip.Store, zip.Deflate} {
		t.Run(fmt.Sprintf("method %d", method), func(t *testing.T) {
			data := buildTestZip(t, []zipFile{{name: "ch.xhtml", body: body, method: method}})
			ix, e := openSingle(t, data)
			got, err := ix.Decompress(e)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if string(got) != body {
				t.Errorf("Decompress returned %d bytes; want %d identical bytes", len(got), len(body))
			}
		})
	}
}

func TestDecompress_EmptyEntry(t *testing.T) {
	data := buildTestZip(t, []zipFile{{name: "empty.xhtml", method: zip.Deflate}})
	ix, e := openSingle(t, data)
	got, err := ix.Decompress(e)
	if err != nil || len(got) != 0 {
		t.Errorf("Decompress(empty) = %q, %v; want empty, nil", got, err)
	}
}

func TestDecompress_UnsupportedMethod(t *testing.T) {
	data := buildRawZip(t, "ch.xhtml", zip.FileHeader{Method: 12}, []byte("BZh91AY&SY"))
	ix, e := openSingle(t, data)
	if e.Method != Unsupported || e.RawMethod != 12 {
		t.Fatalf("entry method = %v (%d); want unsupported (12)", e.Method, e.RawMethod)
	}
	_, err := ix.Decompress(e)
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("Decompress err = %v; want ErrUnsupportedMethod", err)
	}
	var de *DecompressError
	if !errors.As(err, &de) || de.Entry != "ch.xhtml" {
		t.Errorf("err = %v; want *DecompressError for ch.xhtml", err)
	}
}

func TestDecompress_Encrypted(t *testing.T) {
	data := buildRawZip(t, "ch.xhtml", zip.FileHeader{Method: zip.Store, Flags: 0x1}, []byte("ciphertext"))
	ix, e := openSingle(t, data)
	if !e.Encrypted {
		t.Fatal("entry not marked encrypted")
	}
	if _, err := ix.Decompress(e); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("Decompress err = %v; want ErrUnsupportedMethod", err)
	}
}

func TestDecompress_CorruptDeflate(t *testing.T) {
	// BFINAL=1 with the reserved block type 11.
	data := buildRawZip(t, "ch.xhtml", zip.FileHeader{Method: zip.Deflate, UncompressedSize64: 100},
		bytes.Repeat([]byte{0xff}, 16))
	ix, e := openSingle(t, data)
	if _, err := ix.Decompress(e); !errors.Is(err, ErrCorruptEntry) {
		t.Errorf("Decompress err = %v; want ErrCorruptEntry", err)
	}
}

func TestDecompress_BadLocalHeader(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(data []byte, e ContainerEntry)
	}{
		{"bad signature", func(data []byte, e ContainerEntry) {
			data[e.LocalHeaderOffset] = 'X'
		}},
		{"method mismatch", func(data []byte, e ContainerEntry) {
			binary.LittleEndian.PutUint16(data[e.LocalHeaderOffset+8:], 12)
		}},
		{"name length past end", func(data []byte, e ContainerEntry) {
			binary.LittleEndian.PutUint16(data[e.LocalHeaderOffset+26:], 0xFFFF)
			binary.LittleEndian.PutUint16(data[e.LocalHeaderOffset+28:], 0xFFFF)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildTestZip(t, []zipFile{{name: "ch.xhtml", body: "<p>hello</p>", method: zip.Deflate}})
			ix, e := openSingle(t, data)
			tt.mutate(data, e)
			if _, err := ix.Decompress(e); !errors.Is(err, ErrBadLocalHeader) {
				t.Errorf("Decompress err = %v; want ErrBadLocalHeader", err)
			}
		})
	}
}

func TestDecompress_HeaderOffsetOutOfRange(t *testing.T) {
	data := buildTestZip(t, []zipFile{{name: "ch.xhtml", body: "<p>hello</p>", method: zip.Store}})
	ix, e := openSingle(t, data)
	e.LocalHeaderOffset = uint32(len(data) - 10)
	if _, err := ix.Decompress(e); !errors.Is(err, ErrBadLocalHeader) {
		t.Errorf("Decompress err = %v; want ErrBadLocalHeader", err)
	}
}

func TestDecompress_TooLarge(t *testing.T) {
	body := strings.Repeat("A", 200)
	for _, method := range []uint16{zip.Store, zip.Deflate} {
		t.Run(fmt.Sprintf("method %d", method), func(t *testing.T) {
			data := buildTestZip(t, []zipFile{{name: "big.xhtml", body: body, method: method}})
			ix, e := openSingle(t, data)
			if _, err := ix.decompress(e, 100); !errors.Is(err, ErrEntryTooLarge) {
				t.Errorf("decompress err = %v; want ErrEntryTooLarge", err)
			}
		})
	}
}

func TestDecompress_ForgedDeclaredSize(t *testing.T) {
	data := buildTestZip(t, []zipFile{{name: "bomb.xhtml", body: strings.Repeat("A", 5000), method: zip.Deflate}})
	ix, e := openSingle(t, data)
	e.UncompressedSize = 10
	if _, err := ix.decompress(e, 1000); !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("decompress err = %v; want ErrEntryTooLarge", err)
	}
}

func TestDecompress_DeclaredSizeDoesNotDriveAllocation(t *testing.T) {
	data := buildTestZip(t, []zipFile{{name: "tiny.xhtml", body: "<p>x</p>", method: zip.Deflate}})
	ix, e := openSingle(t, data)
	e.UncompressedSize = 200 << 20

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	got, err := ix.decompress(e, DefaultMaxEntrySize)
	runtime.ReadMemStats(&after)

	if err != nil || string(got) != "<p>x</p>" {
		t.Fatalf("decompress = %q, %v", got, err)
	}
	if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 8<<20 {
		t.Errorf("decompress allocated %d bytes for a %d byte payload", alloc, e.CompressedSize)
	}
}

func TestDecompressAll_KeepsOrderAndIsolatesFailures(t *testing.T) {
	var files []zipFile
	for i := range 20 {
		files = append(files, zipFile{
			name:   fmt.Sprintf("ch%02d.xhtml", i),
			body:   fmt.Sprintf("\xEF\xBB\xBF<p>chapter %d</p>", i),
			method: zip.Deflate,
		})
	}
	data := buildTestZip(t, files)
	ix, err := OpenIndex(data)
	if err != nil {
		t.Fatal(err)
	}
	entries := ix.Entries()
	// Corrupt entry 7's local header.
	data[entries[7].LocalHeaderOffset] = 'X'

	results, err := decompressAll(context.Background(), ix, entries, 4, DefaultMaxEntrySize)
	if err != nil {
		t.Fatalf("decompressAll: %v", err)
	}
	if len(results) != len(entries) {
		t.Fatalf("len(results) = %d; want %d", len(results), len(entries))
	}
	for i, r := range results {
		if r.Entry.Name != entries[i].Name {
			t.Errorf("results[%d].Entry = %s; want %s", i, r.Entry.Name, entries[i].Name)
		}
		if i == 7 {
			if !errors.Is(r.Err, ErrBadLocalHeader) {
				t.Errorf("results[7].Err = %v; want ErrBadLocalHeader", r.Err)
			}
			continue
		}
		if r.Err != nil {
			t.Errorf("results[%d].Err = %v", i, r.Err)
		}
		if want := fmt.Sprintf("<p>chapter %d</p>", i); string(r.Data) != want {
			t.Errorf("results[%d].Data = %q; want %q (BOM stripped)", i, r.Data, want)
		}
	}
}

func TestDecompressAll_Cancelled(t *testing.T) {
	data := buildTestZip(t, []zipFile{{name: "a.xhtml", body: "<p>a</p>", method: zip.Deflate}})
	ix, err := OpenIndex(data)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := decompressAll(ctx, ix, ix.Entries(), 2, DefaultMaxEntrySize); !errors.Is(err, context.Canceled) {
		t.Errorf("decompressAll err = %v; want context.Canceled", err)
	}
}
