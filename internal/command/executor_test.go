package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/feoxd/internal/resp"
	"github.com/lukluk/feoxd/internal/store"
)

func newTestExecutor() *Executor {
	return NewExecutor(store.New(), 7878, NewClientRegistry())
}

func TestExecuteGetSetRoundTrip(t *testing.T) {
	e := newTestExecutor()

	cmd, err := Parse(arr("SET", "k", "v"))
	require.NoError(t, err)
	reply := e.Execute(cmd, 1)
	assert.Equal(t, resp.SimpleString, reply.Type)

	cmd, err = Parse(arr("GET", "k"))
	require.NoError(t, err)
	reply = e.Execute(cmd, 1)
	assert.Equal(t, "v", string(reply.Bulk))
}

func TestExecuteGetMissingIsNullBulk(t *testing.T) {
	e := newTestExecutor()
	cmd, err := Parse(arr("GET", "nope"))
	require.NoError(t, err)
	reply := e.Execute(cmd, 1)
	assert.True(t, reply.Null)
}

func TestExecuteIncrDecr(t *testing.T) {
	e := newTestExecutor()
	cmd, _ := Parse(arr("INCRBY", "n", "5"))
	reply := e.Execute(cmd, 1)
	assert.Equal(t, int64(5), reply.Int)

	cmd, _ = Parse(arr("DECRBY", "n", "2"))
	reply = e.Execute(cmd, 1)
	assert.Equal(t, int64(3), reply.Int)
}

func TestExecuteHashLifecycle(t *testing.T) {
	e := newTestExecutor()
	cmd, _ := Parse(arr("HSET", "h", "f1", "a", "f2", "b"))
	reply := e.Execute(cmd, 1)
	assert.Equal(t, int64(2), reply.Int)

	cmd, _ = Parse(arr("HLEN", "h"))
	reply = e.Execute(cmd, 1)
	assert.Equal(t, int64(2), reply.Int)

	cmd, _ = Parse(arr("HGET", "h", "f1"))
	reply = e.Execute(cmd, 1)
	assert.Equal(t, "a", string(reply.Bulk))

	cmd, _ = Parse(arr("HDEL", "h", "f1"))
	reply = e.Execute(cmd, 1)
	assert.Equal(t, int64(1), reply.Int)

	cmd, _ = Parse(arr("HLEN", "h"))
	reply = e.Execute(cmd, 1)
	assert.Equal(t, int64(1), reply.Int)
}

func TestExecuteListPushPop(t *testing.T) {
	e := newTestExecutor()
	cmd, _ := Parse(arr("RPUSH", "l", "a", "b", "c"))
	reply := e.Execute(cmd, 1)
	assert.Equal(t, int64(3), reply.Int)

	cmd, _ = Parse(arr("LRANGE", "l", "0", "-1"))
	reply = e.Execute(cmd, 1)
	require.Len(t, reply.Array, 3)
	assert.Equal(t, "a", string(reply.Array[0].Bulk))
	assert.Equal(t, "c", string(reply.Array[2].Bulk))

	cmd, _ = Parse(arr("LPOP", "l"))
	reply = e.Execute(cmd, 1)
	assert.Equal(t, "a", string(reply.Bulk))
}

func TestExecuteKeysGlob(t *testing.T) {
	e := newTestExecutor()
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		cmd, _ := Parse(arr("SET", k, "x"))
		e.Execute(cmd, 1)
	}

	cmd, _ := Parse(arr("KEYS", "user:*"))
	reply := e.Execute(cmd, 1)
	assert.Len(t, reply.Array, 2)
}

func TestExecuteFlushDBReturnsError(t *testing.T) {
	e := newTestExecutor()
	cmd, _ := Parse(arr("FLUSHDB"))
	reply := e.Execute(cmd, 1)
	assert.Equal(t, resp.Error, reply.Type)
}

func TestExecuteInfoReportsConfiguredPort(t *testing.T) {
	e := newTestExecutor()
	cmd, _ := Parse(arr("INFO", "server"))
	reply := e.Execute(cmd, 1)
	assert.Contains(t, string(reply.Bulk), "tcp_port:7878")
}

func TestExecuteClientSetNameGetName(t *testing.T) {
	e := newTestExecutor()
	e.clients.Register(1, "127.0.0.1:1234", 5)

	cmd, _ := Parse(arr("CLIENT", "SETNAME", "myconn"))
	reply := e.Execute(cmd, 1)
	assert.Equal(t, resp.SimpleString, reply.Type)

	cmd, _ = Parse(arr("CLIENT", "GETNAME"))
	reply = e.Execute(cmd, 1)
	assert.Equal(t, "myconn", string(reply.Bulk))
}

func TestExecuteScanCursorIsAKeyNotAnIndex(t *testing.T) {
	e := newTestExecutor()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		cmd, _ := Parse(arr("SET", k, "x"))
		e.Execute(cmd, 1)
	}

	cmd, _ := Parse(arr("SCAN", "0", "COUNT", "2"))
	reply := e.Execute(cmd, 1)
	require.Len(t, reply.Array, 2)
	page1 := reply.Array[1].Array
	require.Len(t, page1, 2)
	assert.Equal(t, "a", string(page1[0].Bulk))
	assert.Equal(t, "b", string(page1[1].Bulk))
	cursor1 := string(reply.Array[0].Bulk)
	assert.Equal(t, "c", cursor1, "cursor must be the next key to resume from, not an index")

	cmd, _ = Parse(arr("SCAN", cursor1, "COUNT", "2"))
	reply = e.Execute(cmd, 1)
	page2 := reply.Array[1].Array
	require.Len(t, page2, 2)
	assert.Equal(t, "c", string(page2[0].Bulk))
	assert.Equal(t, "d", string(page2[1].Bulk))
	cursor2 := string(reply.Array[0].Bulk)
	assert.Equal(t, "e", cursor2)

	cmd, _ = Parse(arr("SCAN", cursor2, "COUNT", "2"))
	reply = e.Execute(cmd, 1)
	page3 := reply.Array[1].Array
	require.Len(t, page3, 1)
	assert.Equal(t, "e", string(page3[0].Bulk))
	assert.Equal(t, "0", string(reply.Array[0].Bulk), "cursor terminates at 0 once exhausted")
}

func TestGlobMatchBasics(t *testing.T) {
	assert.True(t, GlobMatch("user:*", "user:1"))
	assert.True(t, GlobMatch("h?llo", "hello"))
	assert.True(t, GlobMatch("h[ae]llo", "hallo"))
	assert.False(t, GlobMatch("h[^ae]llo", "hallo"))
	assert.False(t, GlobMatch("user:*", "order:1"))
}
