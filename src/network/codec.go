package network

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses/decompresses a DataFrame's payload in flight. The
// wire header layout is unchanged; PayloadSize always reflects the
// on-wire (possibly compressed) size.
type Codec interface {
	Encode(p []byte) ([]byte, error)
	Decode(p []byte) ([]byte, error)
}

// NoneCodec passes payloads through unmodified.
type NoneCodec struct{}

func (NoneCodec) Encode(p []byte) ([]byte, error) { return p, nil }
func (NoneCodec) Decode(p []byte) ([]byte, error) { return p, nil }

// ZstdCodec compresses payloads with klauspost/compress's zstd
// implementation.
type ZstdCodec struct{}

func (ZstdCodec) Encode(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd encode: %w", err)
	}
	if _, err := w.Write(p); err != nil {
		return nil, fmt.Errorf("zstd encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zstd encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (ZstdCodec) Decode(p []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
