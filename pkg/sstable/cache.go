package sstable

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/KevoDB/prevterm/pkg/sstable/block"
)

// DefaultCacheBytes is the default capacity of a BlockCache
const DefaultCacheBytes = 64 << 20

// BlockCache holds decoded data blocks shared by every reader that uses it.
// It is safe for concurrent use.
type BlockCache struct {
	cache *ristretto.Cache[uint64, *block.Reader]
}

// NewBlockCache creates a cache holding roughly maxBytes of block data
func NewBlockCache(maxBytes int64) (*BlockCache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}
	// ~4KB average block: ten counters per expected entry
	counters := maxBytes / 4096 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[uint64, *block.Reader]{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}
	return &BlockCache{cache: c}, nil
}

func (c *BlockCache) get(key uint64) (*block.Reader, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *BlockCache) set(key uint64, r *block.Reader) {
	if c == nil {
		return
	}
	c.cache.Set(key, r, int64(r.Size()))
}

// Wait blocks until pending insertions are visible to Get
func (c *BlockCache) Wait() {
	if c != nil {
		c.cache.Wait()
	}
}

// HitRatio returns the fraction of lookups served from the cache
func (c *BlockCache) HitRatio() float64 {
	if c == nil || c.cache.Metrics == nil {
		return 0
	}
	return c.cache.Metrics.Ratio()
}

// Close releases the cache
func (c *BlockCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}

// blockCacheKey identifies a block by file identity and offset.
func blockCacheKey(fileID uint64, offset uint64) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], fileID)
	binary.LittleEndian.PutUint64(b[8:], offset)
	return xxhash.Sum64(b[:])
}
