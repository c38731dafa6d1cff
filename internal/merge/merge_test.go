package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/cinder/pkg/value"
)

func TestMerge_DemoData(t *testing.T) {
	out := Merge(value.MustParse(`{"a":1}`), value.MustParse(`{"a":2,"b":3}`), Config{Type: TypeMerge, ConflictResolution: Latest})
	assert.Equal(t, `{"a":2,"b":3}`, out.String())
}

func TestMerge_LatestTakesCandidateScalars(t *testing.T) {
	stored := value.MustParse(`{"title":"old","meta":{"views":10,"tags":["a"]},"keep":"me"}`)
	candidate := value.MustParse(`{"title":"new","meta":{"views":11}}`)

	out := Merge(stored, candidate, DefaultConfig())
	assert.Equal(t, `{"title":"new","meta":{"views":11,"tags":["a"]},"keep":"me"}`, out.String())
}

func TestMerge_OldestKeepsStoredScalars(t *testing.T) {
	out := Merge(value.MustParse(`{"a":1,"b":{"c":"x"}}`), value.MustParse(`{"a":2,"b":{"c":"y","d":true}}`),
		Config{Type: TypeMerge, ConflictResolution: Oldest})
	assert.Equal(t, `{"a":1,"b":{"c":"x","d":true}}`, out.String())
}

func TestMerge_Replace(t *testing.T) {
	out := Merge(value.MustParse(`{"a":1,"b":2}`), value.MustParse(`{"c":3}`), Config{Type: TypeReplace, ConflictResolution: Latest})
	assert.Equal(t, `{"c":3}`, out.String())
}

func TestMerge_ArraysByIdentity(t *testing.T) {
	stored := value.MustParse(`[{"id":1,"name":"one"},{"id":2,"name":"two"}]`)
	candidate := value.MustParse(`[{"id":2,"name":"TWO"},{"id":3,"name":"three"}]`)

	out := Merge(stored, candidate, DefaultConfig())
	assert.Equal(t, `[{"id":1,"name":"one"},{"id":2,"name":"two"},{"id":3,"name":"three"}]`, out.String())
}

func TestMerge_ArraysByEquality(t *testing.T) {
	out := Merge(value.MustParse(`{"tags":["go","cache"]}`), value.MustParse(`{"tags":["cache","ttl"]}`), DefaultConfig())
	assert.Equal(t, `{"tags":["go","cache","ttl"]}`, out.String())
}

func TestMerge_IncompatibleContainersReplace(t *testing.T) {
	for _, res := range []Resolution{Latest, Oldest} {
		out := Merge(value.MustParse(`{"a":[1,2]}`), value.MustParse(`{"a":{"x":1}}`), Config{Type: TypeMerge, ConflictResolution: res})
		assert.Equal(t, `{"a":{"x":1}}`, out.String())
	}

	out := Merge(value.MustParse(`[1]`), value.MustParse(`{"x":1}`), DefaultConfig())
	assert.Equal(t, `{"x":1}`, out.String())
}

func TestMerge_NullCandidateKeepsStored(t *testing.T) {
	out := Merge(value.MustParse(`{"a":1,"b":2}`), value.MustParse(`{"a":null,"c":null}`), DefaultConfig())
	assert.Equal(t, `{"a":1,"b":2}`, out.String())

	assert.Equal(t, `{"a":1}`, Merge(value.Null(), value.MustParse(`{"a":1}`), DefaultConfig()).String())
}

func TestMerge_IdempotentUnderLatest(t *testing.T) {
	stored := value.MustParse(`{"posts":[{"id":1}],"count":1,"site":{"name":"x"}}`)
	candidate := value.MustParse(`{"posts":[{"id":2}],"count":2,"site":{"url":"y"},"extra":[1,1]}`)

	once := Merge(stored, candidate, DefaultConfig())
	twice := Merge(once, candidate, DefaultConfig())
	assert.True(t, value.Equal(once, twice), "%s != %s", once, twice)
}

func TestMerge_DoesNotModifyInputs(t *testing.T) {
	stored := value.MustParse(`{"a":{"b":1}}`)
	candidate := value.MustParse(`{"a":{"c":2}}`)
	_ = Merge(stored, candidate, DefaultConfig())

	assert.Equal(t, `{"a":{"b":1}}`, stored.String())
	assert.Equal(t, `{"a":{"c":2}}`, candidate.String())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{Type: "upsert", ConflictResolution: Latest}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Type: TypeMerge, ConflictResolution: "random"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Config{}.WithDefaults().Validate())
}
