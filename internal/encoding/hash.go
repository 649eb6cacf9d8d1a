// Package encoding layers Redis-style structured types (hashes, lists) onto
// the flat ordered key-value store, the way hash.rs/list.rs do in the
// reference implementation this project was grounded on.
package encoding

import (
	"strconv"
	"sync"
	"time"

	"github.com/lukluk/feoxd/internal/ferr"
	"github.com/lukluk/feoxd/internal/store"
)

const (
	metadataMaxBatch    = 1000
	metadataFlushPeriod = 100 * time.Millisecond
)

// metadataTracker batches H:K:meta deltas so a hot hash isn't serialized on
// a single counter increment for every HSET/HDEL. One instance is owned by
// the HashOps it batches for, not a process-wide singleton.
type metadataTracker struct {
	mu      sync.Mutex
	pending map[string]int64
	lastFlush time.Time
}

func newMetadataTracker() *metadataTracker {
	return &metadataTracker{pending: make(map[string]int64), lastFlush: time.Now()}
}

func (t *metadataTracker) add(metaKey string, delta int64) {
	t.mu.Lock()
	t.pending[metaKey] += delta
	t.mu.Unlock()
}

func (t *metadataTracker) shouldFlush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) >= metadataMaxBatch || time.Since(t.lastFlush) >= metadataFlushPeriod
}

func (t *metadataTracker) take() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	updates := t.pending
	t.pending = make(map[string]int64)
	t.lastFlush = time.Now()
	return updates
}

// HashOps implements HSET/HGET/HMGET/HDEL/HEXISTS/HGETALL/HLEN/HKEYS/HVALS/
// HINCRBY over store.Store.
type HashOps struct {
	store   store.Store
	tracker *metadataTracker
}

// NewHashOps returns hash operations bound to a store. Each HashOps carries
// its own metadata tracker, instead of the reference implementation's
// process-wide singleton, so tests and multiple stores never share state.
func NewHashOps(s store.Store) *HashOps {
	return &HashOps{store: s, tracker: newMetadataTracker()}
}

func hashFieldKey(key, field []byte) []byte {
	out := make([]byte, 0, len(key)+len(field)+5)
	out = append(out, 'H', ':')
	out = append(out, key...)
	out = append(out, ':', 'f', ':')
	out = append(out, field...)
	return out
}

func hashMetaKey(key []byte) []byte {
	out := make([]byte, 0, len(key)+7)
	out = append(out, 'H', ':')
	out = append(out, key...)
	out = append(out, ':', 'm', 'e', 't', 'a')
	return out
}

// parseMetaCount decodes an H:K:meta value. The store's AtomicIncrement
// (shared with INCR/INCRBY on plain string keys) always encodes its
// counter as ASCII decimal rather than raw little-endian bytes, so the
// meta value is read back the same way; only the field count invariant is
// externally observable, not the byte layout.
func parseMetaCount(data []byte) int64 {
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (h *HashOps) flushMetadata() {
	for metaKey, delta := range h.tracker.take() {
		if delta == 0 {
			continue
		}
		h.store.AtomicIncrement([]byte(metaKey), delta)
	}
}

func (h *HashOps) maybeFlushMetadata() {
	if h.tracker.shouldFlush() {
		h.flushMetadata()
	}
}

// FieldValue is one (field, value) pair passed to HSet.
type FieldValue struct {
	Field []byte
	Value []byte
}

// HSet inserts each field and returns the number of fields that were newly
// created (not merely overwritten).
func (h *HashOps) HSet(key []byte, fields []FieldValue) (int64, error) {
	var newCount int64
	for _, fv := range fields {
		existed, err := h.store.Insert(hashFieldKey(key, fv.Field), fv.Value)
		if err != nil {
			return 0, err
		}
		if !existed {
			newCount++
		}
	}
	if newCount > 0 {
		h.tracker.add(string(hashMetaKey(key)), newCount)
		h.maybeFlushMetadata()
	}
	return newCount, nil
}

func (h *HashOps) HGet(key, field []byte) ([]byte, bool, error) {
	v, err := h.store.Get(hashFieldKey(key, field))
	if err == ferr.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (h *HashOps) HMGet(key []byte, fields [][]byte) ([][]byte, []bool, error) {
	values := make([][]byte, len(fields))
	found := make([]bool, len(fields))
	for i, f := range fields {
		v, ok, err := h.HGet(key, f)
		if err != nil {
			return nil, nil, err
		}
		values[i], found[i] = v, ok
	}
	return values, found, nil
}

func (h *HashOps) HDel(key []byte, fields [][]byte) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	var deleted int64
	for _, f := range fields {
		if err := h.store.Delete(hashFieldKey(key, f)); err == nil {
			deleted++
		}
	}
	if deleted > 0 {
		h.tracker.add(string(hashMetaKey(key)), -deleted)
		h.maybeFlushMetadata()
	}
	return deleted, nil
}

func (h *HashOps) HExists(key, field []byte) bool {
	return h.store.Contains(hashFieldKey(key, field))
}

func hashPrefixRange(key []byte) (start, end []byte) {
	prefix := hashFieldKey(key, nil)
	end = append(append([]byte(nil), prefix...), 0xFF)
	return prefix, end
}

// HGetAll returns (field, value) pairs in range-scan order (unspecified
// relative to insertion order, as Redis itself documents for HGETALL).
func (h *HashOps) HGetAll(key []byte) ([][2][]byte, error) {
	prefix, end := hashPrefixRange(key)
	kvs, err := h.store.RangeQuery(prefix, end, 10000)
	if err != nil {
		return nil, err
	}
	out := make([][2][]byte, 0, len(kvs))
	for _, kv := range kvs {
		field := kv.Key[len(prefix):]
		out = append(out, [2][]byte{field, kv.Value})
	}
	return out, nil
}

func (h *HashOps) HKeys(key []byte) ([][]byte, error) {
	pairs, err := h.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(pairs))
	for i, p := range pairs {
		out[i] = p[0]
	}
	return out, nil
}

func (h *HashOps) HVals(key []byte) ([][]byte, error) {
	pairs, err := h.HGetAll(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(pairs))
	for i, p := range pairs {
		out[i] = p[1]
	}
	return out, nil
}

// HLen forces a metadata flush before reading, per the forced-flush
// invariant on HLEN.
func (h *HashOps) HLen(key []byte) (int64, error) {
	h.flushMetadata()
	v, err := h.store.Get(hashMetaKey(key))
	if err == ferr.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseMetaCount(v), nil
}

// HIncrBy reads the field as ASCII-decimal (falling back to 8-byte
// little-endian), writes back the new value as ASCII-decimal, and tracks a
// +1 metadata delta if the field did not previously exist.
func (h *HashOps) HIncrBy(key, field []byte, delta int64) (int64, error) {
	fieldKey := hashFieldKey(key, field)
	existing, err := h.store.Get(fieldKey)

	var next int64
	if err == ferr.ErrKeyNotFound {
		h.tracker.add(string(hashMetaKey(key)), 1)
		h.maybeFlushMetadata()
		next = delta
	} else if err != nil {
		return 0, err
	} else {
		current, perr := strconv.ParseInt(string(existing), 10, 64)
		if perr != nil {
			if len(existing) == 8 {
				var n int64
				for i := 7; i >= 0; i-- {
					n = n<<8 | int64(existing[i])
				}
				current = n
			} else {
				return 0, ferr.ErrHashFieldNotInteger
			}
		}
		next = current + delta
	}

	if _, err := h.store.Insert(fieldKey, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}
