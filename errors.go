package cinder

import (
	"goflare.io/cinder/internal/codec"
	"goflare.io/cinder/internal/config"
	"goflare.io/cinder/internal/manager"
	"goflare.io/cinder/internal/merge"
	"goflare.io/cinder/internal/registry"
	"goflare.io/cinder/internal/store"
	"goflare.io/cinder/internal/views"
)

var (
	ErrNotFound        = store.ErrNotFound
	ErrCorrupted       = store.ErrCorrupted
	ErrIO              = store.ErrIO
	ErrClosed          = manager.ErrClosed
	ErrEmptyKey        = manager.ErrEmptyKey
	ErrInvalidPattern  = manager.ErrInvalidPattern
	ErrInvalidMerge    = merge.ErrInvalidConfig
	ErrUnknownDomain   = registry.ErrUnknownDomain
	ErrOrdering        = registry.ErrOrdering
	ErrInvalidDomain   = registry.ErrInvalidDomain
	ErrUnknownCodec    = codec.ErrUnknownCodec
	ErrMissingRedis    = config.ErrMissingRedisClient
	ErrShardCountZero  = config.ErrShardCountZero
	ErrInvalidMaxAge   = config.ErrInvalidMaxAge
	ErrInvalidInterval = config.ErrInvalidInterval
	ErrNoView          = views.ErrNoView
)
