// Package diff computes structural differences between two values.
//
// Null and absent are the same thing here: a field set to null in one value
// and missing from the other is not a change. Objects are compared field by
// field, arrays element by element, and a change of kind is a change.
package diff

import (
	"strconv"

	"goflare.io/cinder/pkg/value"
)

// RootPath names the value itself when the difference is at the top level.
const RootPath = "$"

// Result describes how a candidate value differs from a stored one.
//
// ChangedFields lists every differing path in discovery order: fields of the
// stored value in their stored order, then fields only the candidate has.
// AddedFields and RemovedFields are the subsets of ChangedFields that appear
// or disappear; they name the field itself rather than the leaves under it.
type Result struct {
	HasChanges    bool     `json:"hasChanges" yaml:"hasChanges"`
	ChangedFields []string `json:"changedFields" yaml:"changedFields"`
	AddedFields   []string `json:"addedFields" yaml:"addedFields"`
	RemovedFields []string `json:"removedFields" yaml:"removedFields"`
}

// Detect diffs candidate against stored. A null stored or candidate value at
// the top level is treated as an empty object.
func Detect(stored, candidate value.Value) Result {
	if stored.IsNull() {
		stored = value.EmptyObject()
	}
	if candidate.IsNull() {
		candidate = value.EmptyObject()
	}

	r := Result{
		ChangedFields: []string{},
		AddedFields:   []string{},
		RemovedFields: []string{},
	}
	r.walk("", stored, candidate)
	r.HasChanges = len(r.ChangedFields) > 0 || len(r.AddedFields) > 0 || len(r.RemovedFields) > 0
	return r
}

func (r *Result) walk(path string, old, cur value.Value) {
	switch {
	case old.IsNull() && cur.IsNull():
		return
	case old.IsNull():
		r.AddedFields = append(r.AddedFields, path)
		r.ChangedFields = append(r.ChangedFields, path)
		return
	case cur.IsNull():
		r.RemovedFields = append(r.RemovedFields, path)
		r.ChangedFields = append(r.ChangedFields, path)
		return
	}

	switch {
	case old.Kind() == value.KindObject && cur.Kind() == value.KindObject:
		r.walkObject(path, old.Object(), cur.Object())
	case old.Kind() == value.KindArray && cur.Kind() == value.KindArray:
		r.walkArray(path, old.Items(), cur.Items())
	case !value.Equal(old, cur):
		r.ChangedFields = append(r.ChangedFields, orRoot(path))
	}
}

func (r *Result) walkObject(path string, old, cur *value.Object) {
	for _, key := range old.Keys() {
		ov, _ := old.Get(key)
		cv, _ := cur.Get(key)
		r.walk(join(path, key), ov, cv)
	}
	for _, key := range cur.Keys() {
		if old.Has(key) {
			continue
		}
		cv, _ := cur.Get(key)
		r.walk(join(path, key), value.Null(), cv)
	}
}

func (r *Result) walkArray(path string, old, cur []value.Value) {
	n := max(len(old), len(cur))
	for i := 0; i < n; i++ {
		ov, cv := value.Null(), value.Null()
		if i < len(old) {
			ov = old[i]
		}
		if i < len(cur) {
			cv = cur[i]
		}
		r.walk(join(path, strconv.Itoa(i)), ov, cv)
	}
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func orRoot(path string) string {
	if path == "" {
		return RootPath
	}
	return path
}
