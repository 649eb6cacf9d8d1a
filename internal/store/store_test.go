package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetDelete(t *testing.T) {
	s := New()
	existed, err := s.Insert([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = s.Insert([]byte("k"), []byte("v2"))
	require.NoError(t, err)
	assert.True(t, existed)

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v))

	require.NoError(t, s.Delete([]byte("k")))
	_, err = s.Get([]byte("k"))
	assert.Error(t, err)
}

func TestAtomicIncrement(t *testing.T) {
	s := New()
	n, err := s.AtomicIncrement([]byte("c"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.AtomicIncrement([]byte("c"), -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCompareAndSwap(t *testing.T) {
	s := New()
	_, _ = s.Insert([]byte("k"), []byte("old"))

	ok, err := s.CompareAndSwap([]byte("k"), []byte("wrong"), []byte("new"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap([]byte("k"), []byte("old"), []byte("new"))
	require.NoError(t, err)
	assert.True(t, ok)

	v, _ := s.Get([]byte("k"))
	assert.Equal(t, "new", string(v))
}

func TestTTLExpiry(t *testing.T) {
	s := New()
	_, err := s.InsertWithTTL([]byte("k"), []byte("v"), 10*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, s.Contains([]byte("k")))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Contains([]byte("k")))
}

func TestRangeQueryOrderedAndBounded(t *testing.T) {
	s := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		_, _ = s.Insert([]byte(k), []byte(k))
	}

	kvs, err := s.RangeQuery([]byte("b"), []byte("c"), 10)
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "b", string(kvs[0].Key))
	assert.Equal(t, "c", string(kvs[1].Key))
}

func TestPersistAndGetTTL(t *testing.T) {
	s := New()
	_, _ = s.InsertWithTTL([]byte("k"), []byte("v"), time.Minute)

	ttl, ok, err := s.GetTTL([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, ttl, time.Duration(0))

	persisted, err := s.Persist([]byte("k"))
	require.NoError(t, err)
	assert.True(t, persisted)

	ttl, ok, err = s.GetTTL([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Duration(-1), ttl)
}

func TestJSONPatch(t *testing.T) {
	s := New()
	_, _ = s.Insert([]byte("doc"), []byte(`{"a":1}`))

	err := s.JSONPatch([]byte("doc"), []byte(`[{"op":"replace","path":"/a","value":2},{"op":"add","path":"/b","value":3}]`))
	require.NoError(t, err)

	v, err := s.Get([]byte("doc"))
	require.NoError(t, err)
	assert.Contains(t, string(v), `"a":2`)
	assert.Contains(t, string(v), `"b":3`)
}
