// Copyright 2024 The emerald Authors

package host

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/emerald-chain/emerald/internal/chaintypes"
)

const (
	validatedCacheBytes    = 4 * 1024 * 1024
	decidedValueCacheBytes = 32 * 1024 * 1024
)

// validatedCache tracks which (height, round) pairs have already had
// new_payload called on them (invariant I6: at most one new_payload call
// per (H,R) for a non-proposer). It is bounded and process-local; losing
// an entry on eviction or restart only costs a redundant new_payload
// call, never a correctness violation, since the execution client is
// idempotent on the same payload.
type validatedCache struct {
	c *fastcache.Cache
}

func newValidatedCache() *validatedCache {
	return &validatedCache{c: fastcache.New(validatedCacheBytes)}
}

func (v *validatedCache) has(key roundKey) bool {
	return v.c.Has(encodeRoundKey(key))
}

func (v *validatedCache) mark(key roundKey) {
	v.c.Set(encodeRoundKey(key), []byte{1})
}

func (v *validatedCache) delete(key roundKey) {
	v.c.Del(encodeRoundKey(key))
}

func encodeRoundKey(key roundKey) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(key.Height))
	binary.BigEndian.PutUint64(buf[8:16], uint64(key.Round))
	return buf
}

// decidedValueCache memoizes RLP-encoded DecidedValue bytes reconstructed
// by handleGetDecidedValue's header+body path, so repeated sync requests
// at the same frontier height skip the header and certificate reads and
// the execution client's get_payload_bodies_by_range on every peer
// request (the full-value lookup in the store still runs first).
type decidedValueCache struct {
	c *fastcache.Cache
}

func newDecidedValueCache() *decidedValueCache {
	return &decidedValueCache{c: fastcache.New(decidedValueCacheBytes)}
}

func (d *decidedValueCache) get(height chaintypes.Height) ([]byte, bool) {
	buf := d.c.Get(nil, encodeHeight(height))
	if buf == nil {
		return nil, false
	}
	return buf, true
}

func (d *decidedValueCache) put(height chaintypes.Height, raw []byte) {
	d.c.Set(encodeHeight(height), raw)
}

func encodeHeight(height chaintypes.Height) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(height))
	return buf
}
