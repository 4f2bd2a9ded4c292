package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/qri-io/dataset/compression"
)

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// codec ids as numcodecs writes them, mapped to qri compression formats
var compressionFormats = map[string]string{
	"gzip": "gzip",
	"zstd": "zst",
}

// NewCompressionMeta returns settings for a supported codec id ("gzip" or "zstd")
func NewCompressionMeta(id string) (*CompressionMeta, error) {
	if _, ok := compressionFormats[id]; !ok {
		return nil, fmt.Errorf("unsupported compressor %q", id)
	}
	return &CompressionMeta{ID: id}, nil
}

func (m *CompressionMeta) format() (string, error) {
	f, ok := compressionFormats[m.ID]
	if !ok {
		return "", fmt.Errorf("unsupported compressor %q", m.ID)
	}
	return f, nil
}

func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Decompressor(f, r)
}

func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Compressor(f, w)
}

// encodeChunk compresses a raw chunk. A nil meta stores chunks uncompressed.
func encodeChunk(m *CompressionMeta, raw []byte) ([]byte, error) {
	if m == nil {
		return raw, nil
	}
	buf := &bytes.Buffer{}
	w, err := m.Compressor(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeChunk reads a stored chunk back into size raw bytes
func decodeChunk(m *CompressionMeta, rc io.ReadCloser, size int) ([]byte, error) {
	defer rc.Close()

	var r io.Reader = rc
	if m != nil {
		d, err := m.Decompressor(rc)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		r = d
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading chunk: %w", err)
	}
	return raw, nil
}
