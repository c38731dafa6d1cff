// Package merge combines a stored value with a newly fetched one.
package merge

import (
	"errors"
	"fmt"

	"goflare.io/cinder/pkg/value"
)

// Type selects between field-wise merging and wholesale replacement.
type Type string

// Resolution decides which side wins a scalar conflict.
type Resolution string

const (
	TypeMerge   Type = "merge"
	TypeReplace Type = "replace"

	Latest Resolution = "latest"
	Oldest Resolution = "oldest"
)

// DefaultIdentityFields are tried, in order, to recognise the same array
// element across fetches.
var DefaultIdentityFields = []string{"id", "_id", "uuid", "slug"}

// ErrInvalidConfig is returned for an unknown merge type or resolution.
var ErrInvalidConfig = errors.New("invalid merge config")

// Config controls how Merge combines values.
type Config struct {
	Type               Type       `json:"type" yaml:"type"`
	ConflictResolution Resolution `json:"conflictResolution" yaml:"conflictResolution"`
	IdentityFields     []string   `json:"identityFields,omitempty" yaml:"identityFields,omitempty"`
}

// DefaultConfig merges with the latest value winning conflicts.
func DefaultConfig() Config {
	return Config{Type: TypeMerge, ConflictResolution: Latest, IdentityFields: DefaultIdentityFields}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	if c.Type == "" {
		c.Type = TypeMerge
	}
	if c.ConflictResolution == "" {
		c.ConflictResolution = Latest
	}
	if c.IdentityFields == nil {
		c.IdentityFields = DefaultIdentityFields
	}
	return c
}

// Validate reports whether c names a known type and resolution.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMerge, TypeReplace:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, c.Type)
	}
	switch c.ConflictResolution {
	case Latest, Oldest:
	default:
		return fmt.Errorf("%w: unknown conflict resolution %q", ErrInvalidConfig, c.ConflictResolution)
	}
	return nil
}

// Merge combines stored and candidate according to cfg. Neither input is modified.
//
// Objects merge field by field. Scalar conflicts go to the candidate under
// Latest and to the stored value under Oldest. Arrays keep every stored
// element in order and append candidate elements not already present, where
// presence is decided by the first identity field an element carries, or by
// equality when it carries none. When one side is a container and the other
// is a different kind, the candidate replaces the stored value.
func Merge(stored, candidate value.Value, cfg Config) value.Value {
	cfg = cfg.WithDefaults()
	if cfg.Type == TypeReplace {
		return candidate
	}
	return merge(stored, candidate, cfg)
}

func merge(stored, candidate value.Value, cfg Config) value.Value {
	switch {
	case candidate.IsNull():
		return stored
	case stored.IsNull():
		return candidate
	case stored.Kind() == value.KindObject && candidate.Kind() == value.KindObject:
		return mergeObjects(stored.Object(), candidate.Object(), cfg)
	case stored.Kind() == value.KindArray && candidate.Kind() == value.KindArray:
		return mergeArrays(stored.Items(), candidate.Items(), cfg)
	case stored.IsContainer() || candidate.IsContainer():
		return candidate
	case cfg.ConflictResolution == Oldest:
		return stored
	default:
		return candidate
	}
}

func mergeObjects(stored, candidate *value.Object, cfg Config) value.Value {
	out := value.NewObject()
	for _, key := range stored.Keys() {
		sv, _ := stored.Get(key)
		cv, _ := candidate.Get(key)
		out.Set(key, merge(sv, cv, cfg))
	}
	for _, key := range candidate.Keys() {
		if stored.Has(key) {
			continue
		}
		if cv, _ := candidate.Get(key); !cv.IsNull() {
			out.Set(key, cv)
		}
	}
	return value.FromObject(out)
}

func mergeArrays(stored, candidate []value.Value, cfg Config) value.Value {
	out := make([]value.Value, 0, len(stored)+len(candidate))
	ids := make(map[string]struct{}, len(stored))

	seen := func(v value.Value) bool {
		if id, ok := identity(v, cfg.IdentityFields); ok {
			_, found := ids[id]
			return found
		}
		for _, existing := range out {
			if value.Equal(existing, v) {
				return true
			}
		}
		return false
	}
	add := func(v value.Value) {
		if id, ok := identity(v, cfg.IdentityFields); ok {
			ids[id] = struct{}{}
		}
		out = append(out, v)
	}

	for _, v := range stored {
		add(v)
	}
	for _, v := range candidate {
		if !seen(v) {
			add(v)
		}
	}
	return value.Array(out...)
}

// identity returns "field=value" for the first identity field holding a
// non-null scalar.
func identity(v value.Value, fields []string) (string, bool) {
	if v.Kind() != value.KindObject {
		return "", false
	}
	for _, f := range fields {
		id, ok := v.Field(f)
		if !ok || id.IsNull() || id.IsContainer() {
			continue
		}
		return f + "=" + id.String(), true
	}
	return "", false
}
