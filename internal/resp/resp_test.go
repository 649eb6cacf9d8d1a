package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Value) {
	t.Helper()
	buf := Write(nil, v)
	p := NewParser()
	p.Feed(buf)
	got, err := p.ParseNext()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v.Type, got.Type)
	assert.Equal(t, v.Null, got.Null)
	assert.Equal(t, v.Int, got.Int)
	assert.Equal(t, string(v.Str), string(got.Str))
	assert.Equal(t, string(v.Bulk), string(got.Bulk))
}

func TestRoundTripScalars(t *testing.T) {
	roundTrip(t, NewSimpleString("OK"))
	roundTrip(t, NewError("ERR boom"))
	roundTrip(t, NewInteger(42))
	roundTrip(t, NewInteger(-7))
	roundTrip(t, NewBulkString([]byte("hello world")))
	roundTrip(t, NewBulkString([]byte{}))
}

func TestRoundTripNulls(t *testing.T) {
	roundTrip(t, NewNullBulkString())
	roundTrip(t, NewNullArray())
}

func TestRoundTripArray(t *testing.T) {
	v := NewArray([]Value{
		NewBulkString([]byte("SET")),
		NewBulkString([]byte("k")),
		NewBulkString([]byte("v")),
	})
	buf := Write(nil, v)
	p := NewParser()
	p.Feed(buf)
	got, err := p.ParseNext()
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, Array, got.Type)
	require.Len(t, got.Array, 3)
	assert.Equal(t, "SET", string(got.Array[0].Bulk))
	assert.Equal(t, "k", string(got.Array[1].Bulk))
	assert.Equal(t, "v", string(got.Array[2].Bulk))
}

func TestPartialPipelineWaits(t *testing.T) {
	p := NewParser()
	full := Write(nil, NewArray([]Value{NewBulkString([]byte("PING"))}))
	p.Feed(full[:len(full)-3])

	v, err := p.ParseNext()
	require.NoError(t, err)
	assert.Nil(t, v, "parser must not yield a value until the tail bytes arrive")

	p.Feed(full[len(full)-3:])
	v, err = p.ParseNext()
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestPipelinedCommands(t *testing.T) {
	p := NewParser()
	cmd1 := Write(nil, NewArray([]Value{NewBulkString([]byte("SET")), NewBulkString([]byte("k")), NewBulkString([]byte("v"))}))
	cmd2 := Write(nil, NewArray([]Value{NewBulkString([]byte("GET")), NewBulkString([]byte("k"))}))
	p.Feed(append(append([]byte{}, cmd1...), cmd2...))

	v1, err := p.ParseNext()
	require.NoError(t, err)
	require.NotNil(t, v1)
	assert.Equal(t, "SET", string(v1.Array[0].Bulk))

	v2, err := p.ParseNext()
	require.NoError(t, err)
	require.NotNil(t, v2)
	assert.Equal(t, "GET", string(v2.Array[0].Bulk))

	v3, err := p.ParseNext()
	require.NoError(t, err)
	assert.Nil(t, v3)
}

func TestInvalidTypeByteIsFatal(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("@oops\r\n"))
	_, err := p.ParseNext()
	require.Error(t, err)
	var protoErr *ErrProtocol
	assert.ErrorAs(t, err, &protoErr)
}

func TestMissingCRLFAfterBulkBody(t *testing.T) {
	p := NewParser()
	p.Feed([]byte("$3\r\nabcXY"))
	_, err := p.ParseNext()
	require.Error(t, err)
}
