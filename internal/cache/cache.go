// Package cache stores provider embeddings so repeated index builds and
// queries do not pay for the same vector twice.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Cache defines the interface for byte caches
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// VectorKey generates a cache key for the embedding of text under model
func VectorKey(model, text string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + text))
	return "modref-v1-" + hex.EncodeToString(hash[:])
}

// EncodeVector serializes a vector as little-endian float32 values
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// VectorCache stores embeddings keyed by model and text
type VectorCache struct {
	store Cache
	model string
	dims  int
	ttl   time.Duration
}

// NewVectorCache wraps store for vectors of the given model and dimension
func NewVectorCache(store Cache, model string, dims int, ttl time.Duration) *VectorCache {
	return &VectorCache{store: store, model: model, dims: dims, ttl: ttl}
}

// Get returns the cached vector for text; entries of the wrong dimension are discarded
func (c *VectorCache) Get(text string) ([]float32, bool) {
	key := VectorKey(c.model, text)
	raw, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	v, err := DecodeVector(raw)
	if err != nil || (c.dims > 0 && len(v) != c.dims) {
		_ = c.store.Delete(key)
		return nil, false
	}
	return v, true
}

// Put stores the vector for text
func (c *VectorCache) Put(text string, v []float32) error {
	return c.store.Set(VectorKey(c.model, text), EncodeVector(v), c.ttl)
}
