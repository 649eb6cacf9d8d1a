package encoding

import (
	"runtime"
	"strconv"

	"github.com/lukluk/feoxd/internal/ferr"
	"github.com/lukluk/feoxd/internal/store"
)

const (
	listInitialPosition int64 = 1_000_000_000
	listMaxRetries             = 10
)

// ListOps implements LPUSH/RPUSH/LPOP/RPOP/LLEN/LRANGE/LINDEX as a
// CAS-retry loop over a three-field metadata record, mirroring list.rs:
// element insertion always happens after the metadata CAS succeeds, so a
// failed push leaves no footprint and any gap left by a crash between CAS
// and insert is healed lazily by the next pop that walks over it.
type ListOps struct {
	store store.Store
}

func NewListOps(s store.Store) *ListOps {
	return &ListOps{store: s}
}

func listMetaKey(key []byte) []byte {
	out := make([]byte, 0, len(key)+7)
	out = append(out, 'L', ':')
	out = append(out, key...)
	out = append(out, ':', 'm', 'e', 't', 'a')
	return out
}

func listElemKey(key []byte, pos int64) []byte {
	out := make([]byte, 0, len(key)+24)
	out = append(out, 'L', ':')
	out = append(out, key...)
	out = append(out, ':')
	out = strconv.AppendInt(out, pos, 10)
	return out
}

func buildListMeta(head, tail, count int64) []byte {
	out := make([]byte, 24)
	putLE64(out[0:8], head)
	putLE64(out[8:16], tail)
	putLE64(out[16:24], count)
	return out
}

func parseListMeta(data []byte) (head, tail, count int64) {
	if len(data) < 24 {
		return listInitialPosition, listInitialPosition, 0
	}
	return getLE64(data[0:8]), getLE64(data[8:16]), getLE64(data[16:24])
}

func putLE64(dst []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		dst[i] = byte(u >> (8 * i))
	}
}

func getLE64(src []byte) int64 {
	var u uint64
	for i := 7; i >= 0; i-- {
		u = u<<8 | uint64(src[i])
	}
	return int64(u)
}

// loadOrCreateMeta returns the current metadata bytes for key, creating it
// with (INITIAL, INITIAL, 0) if absent. isNew tells the caller whether it
// can skip the CAS and insert the new metadata directly.
func (l *ListOps) loadOrCreateMeta(metaKey []byte) (meta []byte, isNew bool, err error) {
	for {
		bytes, err := l.store.Get(metaKey)
		if err == nil {
			return bytes, false, nil
		}
		if err != ferr.ErrKeyNotFound {
			return nil, false, err
		}
		initial := buildListMeta(listInitialPosition, listInitialPosition, 0)
		existed, insErr := l.store.Insert(metaKey, initial)
		if insErr != nil {
			return nil, false, insErr
		}
		if !existed {
			return initial, true, nil
		}
		// someone else created it between our Get and Insert; retry
	}
}

func (l *ListOps) pushOne(key, value []byte, left bool) error {
	metaKey := listMetaKey(key)

	for attempt := 0; attempt < listMaxRetries; attempt++ {
		meta, isNew, err := l.loadOrCreateMeta(metaKey)
		if err != nil {
			return err
		}
		head, tail, count := parseListMeta(meta)

		var newHead, newTail, insertPos int64
		if left {
			newHead = head - 1
			newTail = tail
			if count == 0 {
				newTail = head
			}
			insertPos = newHead
		} else {
			newTail = tail + 1
			newHead = head
			if count == 0 {
				newHead = tail
			}
			insertPos = tail
		}
		newMeta := buildListMeta(newHead, newTail, count+1)

		var ok bool
		if isNew {
			_, insErr := l.store.Insert(metaKey, newMeta)
			ok = insErr == nil
		} else {
			ok, err = l.store.CompareAndSwap(metaKey, meta, newMeta)
			if err != nil {
				return err
			}
		}

		if ok {
			_, err := l.store.Insert(listElemKey(key, insertPos), value)
			return err
		}

		runtime.Gosched()
	}

	return ferr.ErrContention
}

func (l *ListOps) LPush(key []byte, values [][]byte) (int64, error) {
	for _, v := range values {
		if err := l.pushOne(key, v, true); err != nil {
			return 0, err
		}
	}
	return l.LLen(key)
}

func (l *ListOps) RPush(key []byte, values [][]byte) (int64, error) {
	for _, v := range values {
		if err := l.pushOne(key, v, false); err != nil {
			return 0, err
		}
	}
	return l.LLen(key)
}

func (l *ListOps) popOne(key []byte, left bool) ([]byte, bool, error) {
	metaKey := listMetaKey(key)

	for attempt := 0; attempt < listMaxRetries; attempt++ {
		meta, err := l.store.Get(metaKey)
		if err == ferr.ErrKeyNotFound {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		head, tail, count := parseListMeta(meta)
		if count == 0 || head >= tail {
			return nil, false, nil
		}

		var newMeta []byte
		var pos int64
		if left {
			pos = head
			newMeta = buildListMeta(head+1, tail, count-1)
		} else {
			pos = tail - 1
			newMeta = buildListMeta(head, tail-1, count-1)
		}

		ok, err := l.store.CompareAndSwap(metaKey, meta, newMeta)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			runtime.Gosched()
			continue
		}

		elemKey := listElemKey(key, pos)
		value, err := l.store.Get(elemKey)
		if err == ferr.ErrKeyNotFound {
			// gap left by an interrupted push; the CAS already advanced
			// past it, so move on to the next position.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		l.store.Delete(elemKey)
		return value, true, nil
	}

	return nil, false, nil
}

func (l *ListOps) LPop(key []byte, count int) ([][]byte, error) {
	var popped [][]byte
	for i := 0; i < count; i++ {
		v, ok, err := l.popOne(key, true)
		if err != nil {
			return popped, err
		}
		if !ok {
			break
		}
		popped = append(popped, v)
	}
	return popped, nil
}

func (l *ListOps) RPop(key []byte, count int) ([][]byte, error) {
	var popped [][]byte
	for i := 0; i < count; i++ {
		v, ok, err := l.popOne(key, false)
		if err != nil {
			return popped, err
		}
		if !ok {
			break
		}
		popped = append(popped, v)
	}
	return popped, nil
}

func (l *ListOps) LLen(key []byte) (int64, error) {
	meta, err := l.store.Get(listMetaKey(key))
	if err == ferr.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	_, _, count := parseListMeta(meta)
	return count, nil
}

// LRange converts negative indices relative to count and silently skips
// gaps in the underlying element keys.
func (l *ListOps) LRange(key []byte, start, stop int64) ([][]byte, error) {
	meta, err := l.store.Get(listMetaKey(key))
	if err == ferr.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	head, _, count := parseListMeta(meta)
	if count == 0 {
		return nil, nil
	}

	length := count
	if start < 0 {
		start = max64(length+start, 0)
	}
	if stop < 0 {
		stop = length + stop
	}
	if start >= length || stop < 0 {
		return nil, nil
	}
	start = clamp64(start, 0, length-1)
	stop = clamp64(stop, 0, length-1)
	if start > stop {
		return nil, nil
	}

	var out [][]byte
	for i := start; i <= stop; i++ {
		v, err := l.store.Get(listElemKey(key, head+i))
		if err == nil {
			out = append(out, v)
		}
		// gaps are skipped silently
	}
	return out, nil
}

func (l *ListOps) LIndex(key []byte, index int64) ([]byte, bool, error) {
	meta, err := l.store.Get(listMetaKey(key))
	if err == ferr.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	head, _, count := parseListMeta(meta)
	if count == 0 {
		return nil, false, nil
	}

	length := count
	actual := index
	if index < 0 {
		actual = length + index
		if actual < 0 {
			return nil, false, nil
		}
	} else if index >= length {
		return nil, false, nil
	}

	v, err := l.store.Get(listElemKey(key, head+actual))
	if err == ferr.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
