package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"goflare.io/cinder"
	"goflare.io/cinder/pkg/value"
)

func seedCache(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	c, err := cinder.New(ctx, cinder.WithLogger(zap.NewNop()), cinder.WithCacheDir(dir), cinder.WithCleanupInterval(0))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "github-repos", value.MustParse(`[{"id":1}]`), cinder.DomainConfig{MaxAge: time.Hour, Source: "github", Version: "1.0"}))
	require.NoError(t, c.Set(ctx, "status-data", value.MustParse(`{"overall":"up"}`), cinder.DomainConfig{MaxAge: time.Hour, Source: "status", Version: "1.0"}))
	require.NoError(t, c.Close(ctx))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStats(t *testing.T) {
	dir := seedCache(t)

	out, err := run(t, "stats", "--dir", dir)
	require.NoError(t, err)

	var stats cinder.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalEntries)
}

func TestGet_YAML(t *testing.T) {
	dir := seedCache(t)

	out, err := run(t, "get", "status-data", "--dir", dir, "-o", "yaml")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "status", got["source"])
	assert.Equal(t, map[string]any{"overall": "up"}, got["value"])

	_, err = run(t, "get", "missing", "--dir", dir)
	assert.ErrorIs(t, err, cinder.ErrNotFound)
}

func TestGet_TypedView(t *testing.T) {
	dir := seedCache(t)

	out, err := run(t, "get", "github-repos", "--as", "auto", "--dir", dir)
	require.NoError(t, err)
	var repos struct {
		Value []struct {
			ID int64 `json:"id"`
		} `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &repos))
	require.Len(t, repos.Value, 1)
	assert.Equal(t, int64(1), repos.Value[0].ID)

	out, err = run(t, "get", "status-data", "--as", "status", "--dir", dir)
	require.NoError(t, err)
	var status struct {
		Value cinder.SiteStatus `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "up", status.Value.Overall)

	_, err = run(t, "get", "status-data", "--as", "summaries", "--dir", dir)
	assert.ErrorIs(t, err, cinder.ErrNoView)
}

func TestInvalidate(t *testing.T) {
	dir := seedCache(t)

	out, err := run(t, "invalidate", "github-*", "--dir", dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":1}`, out)

	out, err = run(t, "invalidate", "--source", "status", "--dir", dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":1}`, out)

	_, err = run(t, "invalidate", "a*b", "--dir", dir)
	assert.ErrorIs(t, err, cinder.ErrInvalidPattern)
}

func TestMaintain(t *testing.T) {
	dir := seedCache(t)

	out, err := run(t, "maintain", "--dir", dir)
	require.NoError(t, err)

	var report cinder.MaintenanceReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.After.TotalEntries)
}

func TestDomains(t *testing.T) {
	out, err := run(t, "domains", "--dir", t.TempDir(), "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "key: github-repos")
	assert.Contains(t, out, "maxAge: 1h0m0s")
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, "stats", "--dir", t.TempDir(), "-o", "xml")
	assert.Error(t, err)
}
