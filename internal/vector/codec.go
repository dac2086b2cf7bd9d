package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Blob header: 8-byte magic, version byte, flags byte, then the payload.
const (
	blobVersion  = 1
	flagZstd     = 1 << 0
	headerLength = 10
)

var (
	magicHNSW = []byte("MEMOHNSW")
	magicFlat = []byte("MEMOFLAT")

	errBadBlob = errors.New("unrecognized index blob")
)

type blobKind int

const (
	blobUnknown blobKind = iota
	blobHNSW
	blobFlat
	blobFAISS
	blobLegacy
)

func (k blobKind) String() string {
	switch k {
	case blobHNSW:
		return "hnsw"
	case blobFlat:
		return "flat"
	case blobFAISS:
		return "faiss"
	case blobLegacy:
		return "legacy"
	}
	return "unknown"
}

// writeBlob writes a framed payload to path, creating parent directories.
func writeBlob(path string, magic []byte, compress bool, payload func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	var flags byte
	if compress {
		flags |= flagZstd
	}
	header := append(append([]byte{}, magic...), blobVersion, flags)
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}

	if compress {
		zw, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if err := payload(zw); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("flush zstd stream: %w", err)
		}
	} else if err := payload(bw); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush index file: %w", err)
	}
	return f.Close()
}

// readBlob opens path, checks the header against magic and hands the
// (decompressed) payload to fn.
func readBlob(path string, magic []byte, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	header := make([]byte, headerLength)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("%w: read header: %v", errBadBlob, err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return fmt.Errorf("%w: magic %q", errBadBlob, header[:len(magic)])
	}
	if header[8] != blobVersion {
		return fmt.Errorf("%w: version %d", errBadBlob, header[8])
	}
	if header[9]&flagZstd == 0 {
		return fn(br)
	}
	zr, err := zstd.NewReader(br)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	return fn(zr)
}

// sniffBlob identifies the format of the blob at path.
func sniffBlob(path string) (blobKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return blobUnknown, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return blobUnknown, err
	}

	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return blobUnknown, nil
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicHNSW):
		return blobHNSW, nil
	case bytes.HasPrefix(head, magicFlat):
		return blobFlat, nil
	case n == 12 && legacySizeMatches(head, info.Size()):
		return blobLegacy, nil
	case n >= 4 && head[0] == 'I':
		// FAISS index files open with a fourcc such as IxM2 or IHNf.
		return blobFAISS, nil
	}
	return blobUnknown, nil
}

func legacySizeMatches(head []byte, size int64) bool {
	dim := int64(int32(binary.LittleEndian.Uint32(head[0:4])))
	count := int64(int32(binary.LittleEndian.Uint32(head[4:8])))
	if dim <= 0 || count < 0 {
		return false
	}
	return size == 12+count*8+count*dim*4
}
