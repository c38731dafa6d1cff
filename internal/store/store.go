// Package store persists cache entries.
//
// A Store is a flat key/value space of entries. FileStore keeps one record
// per key in a directory, RedisStore keeps one per Redis key, and HotStore
// layers an in-process read tier over either.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"goflare.io/cinder/internal/codec"
	"goflare.io/cinder/internal/models"
)

// Store defines the persistence operations the cache manager relies on.
type Store interface {
	// Read returns the entry for key, ErrNotFound when absent or ErrCorrupted
	// when the record cannot be decoded.
	Read(ctx context.Context, key string) (*models.Entry, error)
	// Write replaces the record for e.Key. Readers never observe a partial record.
	Write(ctx context.Context, e *models.Entry) error
	// Remove deletes the record for key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// List returns every stored key.
	List(ctx context.Context) ([]string, error)
	// Size returns the persisted footprint in bytes.
	Size(ctx context.Context) (int64, error)
	Close() error
}

// TempCleaner is implemented by stores that leave temporary files behind
// when a write is interrupted.
type TempCleaner interface {
	CleanupTempFiles(ctx context.Context) (int, error)
}

// MemoryReporter is implemented by stores holding entries in process memory.
type MemoryReporter interface {
	MemoryBytes() int64
}

const recordMagic = "cinder/1"

// encodeRecord frames a payload as "<magic> <codec> <sha256>\n<payload>".
func encodeRecord(c codec.Codec, e *models.Entry) ([]byte, error) {
	payload, err := c.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %q: %w", e.Key, err)
	}

	sum := sha256.Sum256(payload)
	var buf bytes.Buffer
	buf.Grow(len(recordMagic) + len(c.Name()) + hex.EncodedLen(len(sum)) + 3 + len(payload))
	buf.WriteString(recordMagic)
	buf.WriteByte(' ')
	buf.WriteString(c.Name())
	buf.WriteByte(' ')
	buf.WriteString(hex.EncodeToString(sum[:]))
	buf.WriteByte('\n')
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodeRecord verifies the header checksum and decodes the payload with the
// codec the record names.
func decodeRecord(codecs *codec.Registry, data []byte) (*models.Entry, error) {
	header, payload, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupted)
	}

	fields := strings.Fields(string(header))
	if len(fields) != 3 || fields[0] != recordMagic {
		return nil, fmt.Errorf("%w: malformed header %q", ErrCorrupted, header)
	}

	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != fields[2] {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	c, err := codecs.Lookup(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	var e models.Entry
	if err := c.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return &e, nil
}
