package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"goflare.io/cinder/internal/models"
)

// Zstd persists entries as zstd-compressed JSON.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a Zstd codec. The encoder and decoder are safe for
// concurrent use through EncodeAll and DecodeAll.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return ZstdType }

func (z *Zstd) Marshal(e *models.Entry) ([]byte, error) {
	raw, err := JSON{}.Marshal(e)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (z *Zstd) Unmarshal(data []byte, e *models.Entry) error {
	raw, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress entry: %w", err)
	}
	return JSON{}.Unmarshal(raw, e)
}
