package command

import (
	"testing"

	"github.com/lukluk/feoxd/internal/ferr"
	"github.com/lukluk/feoxd/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arr(parts ...string) resp.Value {
	vs := make([]resp.Value, len(parts))
	for i, p := range parts {
		vs[i] = resp.NewBulkString([]byte(p))
	}
	return resp.NewArray(vs)
}

func TestParseGet(t *testing.T) {
	cmd, err := Parse(arr("GET", "foo"))
	require.NoError(t, err)
	assert.Equal(t, Get, cmd.Kind)
	assert.Equal(t, "foo", string(cmd.Key))
}

func TestParseCaseInsensitive(t *testing.T) {
	cmd, err := Parse(arr("get", "foo"))
	require.NoError(t, err)
	assert.Equal(t, Get, cmd.Kind)
}

func TestParseSetWithExPx(t *testing.T) {
	cmd, err := Parse(arr("SET", "k", "v", "EX", "30"))
	require.NoError(t, err)
	assert.Equal(t, Set, cmd.Kind)
	assert.Equal(t, int64(30), cmd.EX)

	cmd, err = Parse(arr("SET", "k", "v", "PX", "5000"))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), cmd.PX)
}

func TestParseArityErrors(t *testing.T) {
	_, err := Parse(arr("GET"))
	require.Error(t, err)
	var arityErr *ferr.ArityError
	assert.ErrorAs(t, err, &arityErr)

	_, err = Parse(arr("MSET", "a"))
	require.Error(t, err)
}

func TestParseUnknownCommand(t *testing.T) {
	_, err := Parse(arr("BOGUS"))
	require.Error(t, err)
	var unk *ferr.UnknownCommandError
	assert.ErrorAs(t, err, &unk)
}

func TestParseScanWithMatchAndCount(t *testing.T) {
	cmd, err := Parse(arr("SCAN", "0", "MATCH", "a*", "COUNT", "50"))
	require.NoError(t, err)
	assert.Equal(t, Scan, cmd.Kind)
	assert.Equal(t, "a*", cmd.Pattern)
	assert.Equal(t, 50, cmd.Count)
}

func TestParseHSetMultiField(t *testing.T) {
	cmd, err := Parse(arr("HSET", "h", "f1", "x", "f2", "y"))
	require.NoError(t, err)
	require.Len(t, cmd.FieldValues, 2)
	assert.Equal(t, "f1", string(cmd.FieldValues[0].Field))
	assert.Equal(t, "y", string(cmd.FieldValues[1].Value))
}

func TestParseLPushMultiValue(t *testing.T) {
	cmd, err := Parse(arr("LPUSH", "l", "a", "b", "c"))
	require.NoError(t, err)
	require.Len(t, cmd.Pairs, 3)
	assert.Equal(t, "a", string(cmd.Pairs[0].Value))
}

func TestParseIntegerFromRespInteger(t *testing.T) {
	v := resp.NewArray([]resp.Value{
		resp.NewBulkString([]byte("INCRBY")),
		resp.NewBulkString([]byte("k")),
		resp.NewInteger(5),
	})
	cmd, err := Parse(v)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cmd.Delta)
}

func TestParseSubscribeMultiChannel(t *testing.T) {
	cmd, err := Parse(arr("SUBSCRIBE", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cmd.Channels)
}
