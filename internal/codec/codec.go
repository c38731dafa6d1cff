// Package codec serializes cache entries for persistence.
package codec

import (
	"errors"
	"fmt"

	"goflare.io/cinder/internal/models"
)

const (
	// JSONType stores entries as plain JSON.
	JSONType = "json"

	// ZstdType stores entries as zstd-compressed JSON.
	ZstdType = "zstd"
)

// ErrUnknownCodec is returned when a record names a codec that is not registered.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec converts entries to and from their persisted payload.
type Codec interface {
	Name() string
	Marshal(e *models.Entry) ([]byte, error)
	Unmarshal(data []byte, e *models.Entry) error
}

// Registry resolves codecs by name so a store can read records written with
// any known codec, whichever one it writes with.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a registry holding the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.Name()] = c
	}
	return r
}

// Default returns a registry with the JSON and zstd codecs.
func Default() (*Registry, error) {
	z, err := NewZstd()
	if err != nil {
		return nil, err
	}
	return NewRegistry(JSON{}, z), nil
}

// Lookup returns the codec registered under name.
func (r *Registry) Lookup(name string) (Codec, error) {
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}
