package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"goflare.io/cinder/internal/codec"
	"goflare.io/cinder/internal/models"
)

const (
	recordExt = ".entry"
	tempDir   = ".tmp"
	tempAge   = time.Minute
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Codec is used for new records. Records written with any codec in
	// Codecs remain readable.
	Codec  codec.Codec
	Codecs *codec.Registry

	// BloomExpectedItems and BloomFalsePositiveRate size the negative-lookup filter.
	BloomExpectedItems     uint
	BloomFalsePositiveRate float64

	Logger *zap.Logger
}

// FileStore keeps one record per key in a billy filesystem.
type FileStore struct {
	fs     billy.Filesystem
	codec  codec.Codec
	codecs *codec.Registry
	logger *zap.Logger

	filterMu sync.RWMutex
	filter   *bloom.BloomFilter
	expected uint
	fpRate   float64

	tempGrace time.Duration
}

// NewFileStore opens a store rooted at fs and loads the key filter from the
// records already present.
func NewFileStore(ctx context.Context, fs billy.Filesystem, cfg FileStoreConfig) (*FileStore, error) {
	if fs == nil {
		return nil, errors.New("filesystem cannot be nil")
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewRegistry(cfg.Codec)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BloomExpectedItems == 0 {
		cfg.BloomExpectedItems = 10000
	}
	if cfg.BloomFalsePositiveRate <= 0 || cfg.BloomFalsePositiveRate >= 1 {
		cfg.BloomFalsePositiveRate = 0.01
	}

	if err := fs.MkdirAll(tempDir, 0o755); err != nil {
		return nil, ioError("create temp directory", err)
	}

	s := &FileStore{
		fs:       fs,
		codec:    cfg.Codec,
		codecs:   cfg.Codecs,
		logger:   cfg.Logger,
		expected: cfg.BloomExpectedItems,
		fpRate:   cfg.BloomFalsePositiveRate,

		tempGrace: tempAge,
	}
	if err := s.RebuildFilter(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Read returns the entry stored for key.
func (s *FileStore) Read(ctx context.Context, key string) (*models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.mayContain(key) {
		return nil, ErrNotFound
	}

	data, err := s.readFile(fileName(key) + recordExt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioError("read entry", err)
	}

	e, err := decodeRecord(s.codecs, data)
	if err != nil {
		return nil, err
	}
	if e.Key != key {
		return nil, fmt.Errorf("%w: record holds key %q", ErrCorrupted, e.Key)
	}
	return e, nil
}

// Write stores e through a temp file renamed over the record.
func (s *FileStore) Write(ctx context.Context, e *models.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(s.codec, e)
	if err != nil {
		return err
	}

	tmp, err := s.fs.TempFile(tempDir, "entry-")
	if err != nil {
		return ioError("create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return ioError("write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return ioError("close temp file", err)
	}
	if err := s.fs.Rename(tmpName, fileName(e.Key)+recordExt); err != nil {
		_ = s.fs.Remove(tmpName)
		return ioError("rename temp file", err)
	}

	s.filterMu.Lock()
	s.filter.Add([]byte(e.Key))
	s.filterMu.Unlock()
	return nil
}

// Remove deletes the record for key.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(fileName(key) + recordExt); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioError("remove entry", err)
	}
	return nil
}

// List returns the keys of all records.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := s.fs.ReadDir(".")
	if err != nil {
		return nil, ioError("list entries", err)
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		name = strings.TrimSuffix(name, recordExt)

		if key, ok := keyFromName(name); ok {
			keys = append(keys, key)
			continue
		}

		// hashed names only carry the key inside the record
		data, err := s.readFile(info.Name())
		if err != nil {
			s.logger.Warn("Failed to read hashed record", zap.String("file", info.Name()), zap.Error(err))
			continue
		}
		e, err := decodeRecord(s.codecs, data)
		if err != nil {
			s.logger.Warn("Skipping corrupted record", zap.String("file", info.Name()), zap.Error(err))
			continue
		}
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Size returns the total size of all records.
func (s *FileStore) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	infos, err := s.fs.ReadDir(".")
	if err != nil {
		return 0, ioError("list entries", err)
	}

	var total int64
	for _, info := range infos {
		if !info.IsDir() && strings.HasSuffix(info.Name(), recordExt) {
			total += info.Size()
		}
	}
	return total, nil
}

// CleanupTempFiles removes temp files left by interrupted writes. Files
// younger than a minute may belong to an in-flight write and are kept.
func (s *FileStore) CleanupTempFiles(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	infos, err := s.fs.ReadDir(tempDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, ioError("list temp files", err)
	}

	cutoff := time.Now().Add(-s.tempGrace)
	removed := 0
	for _, info := range infos {
		if info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := s.fs.Remove(s.fs.Join(tempDir, info.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, ioError("remove temp file", err)
		}
		removed++
	}
	return removed, nil
}

// RebuildFilter resets the key filter to the records currently on disk.
// Removed keys linger in the filter until the next rebuild.
func (s *FileStore) RebuildFilter(ctx context.Context) error {
	// writes finishing during the scan add their key once the new filter is in place
	s.filterMu.Lock()
	defer s.filterMu.Unlock()

	keys, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild key filter: %w", err)
	}

	filter := bloom.NewWithEstimates(s.expected, s.fpRate)
	for _, key := range keys {
		filter.Add([]byte(key))
	}
	s.filter = filter
	return nil
}

// Close implements Store. Records stay on disk.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) mayContain(key string) bool {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	return s.filter.Test([]byte(key))
}

func (s *FileStore) readFile(name string) ([]byte, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}
