package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/feoxd/internal/command"
	"github.com/lukluk/feoxd/internal/metrics"
	"github.com/lukluk/feoxd/internal/store"
)

func newTestConnection(t *testing.T, authPassword string) *Connection {
	t.Helper()
	st := store.New()
	executor := command.NewExecutor(st, 7878, command.NewClientRegistry())
	clients := command.NewClientRegistry()
	clients.Register(1, "127.0.0.1:1234", 0)
	return NewConnection(1, "127.0.0.1:1234", executor, clients, metrics.New(), authPassword)
}

func respArray(parts ...string) []byte {
	out := []byte("*" + itoa(len(parts)) + "\r\n")
	for _, p := range parts {
		out = append(out, []byte("$"+itoa(len(p))+"\r\n"+p+"\r\n")...)
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestConnectionFastPathGetSet(t *testing.T) {
	c := newTestConnection(t, "")

	_, err := c.Process(respArray("SET", "foo", "bar"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "+OK")

	_, err = c.Process(respArray("GET", "foo"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "bar")
}

func TestConnectionTransactionQueuesAndExecutes(t *testing.T) {
	c := newTestConnection(t, "")

	_, err := c.Process(respArray("MULTI"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "+OK")

	_, err = c.Process(respArray("SET", "k", "v"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "QUEUED")

	_, err = c.Process(respArray("EXEC"))
	require.NoError(t, err)
	out := string(c.TakeWrites())
	assert.Contains(t, out, "*1")
	assert.Contains(t, out, "+OK")
}

func TestConnectionDiscardClearsQueue(t *testing.T) {
	c := newTestConnection(t, "")

	c.Process(respArray("MULTI"))
	c.TakeWrites()
	c.Process(respArray("SET", "k", "v"))
	c.TakeWrites()

	_, err := c.Process(respArray("DISCARD"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "+OK")
	assert.Equal(t, TxNone, c.txState)
	assert.Empty(t, c.txQueue)
}

func TestConnectionWatchUnwatch(t *testing.T) {
	c := newTestConnection(t, "")

	_, err := c.Process(respArray("WATCH", "a", "b"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "+OK")
	assert.Len(t, c.watched, 2)

	_, err = c.Process(respArray("UNWATCH"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "+OK")
	assert.Empty(t, c.watched)
}

func TestConnectionAuthGating(t *testing.T) {
	c := newTestConnection(t, "secret")

	_, err := c.Process(respArray("GET", "k"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "NOAUTH")

	_, err = c.Process(respArray("AUTH", "wrong"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "-ERR invalid password")

	_, err = c.Process(respArray("AUTH", "secret"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "+OK")

	_, err = c.Process(respArray("GET", "k"))
	require.NoError(t, err)
	assert.NotContains(t, string(c.TakeWrites()), "NOAUTH")
}

func TestConnectionClientSetName(t *testing.T) {
	c := newTestConnection(t, "")

	_, err := c.Process(respArray("CLIENT", "SETNAME", "worker-1"))
	require.NoError(t, err)
	assert.Equal(t, "worker-1", c.clients.GetName(1))
}

func TestConnectionSubscribeEmitsOpAndEntersPubSubMode(t *testing.T) {
	c := newTestConnection(t, "")

	ops, err := c.Process(respArray("SUBSCRIBE", "chat"))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpSubscribe, ops[0].Kind)
	assert.Equal(t, []byte("chat"), ops[0].Channels[0])

	c.SetPubSubMode(1)
	_, err = c.Process(respArray("GET", "k"))
	require.NoError(t, err)
	assert.Contains(t, string(c.TakeWrites()), "only (P)SUBSCRIBE")
}

func TestConnectionQuitClosesAndStopsProcessing(t *testing.T) {
	c := newTestConnection(t, "")

	_, err := c.Process(respArray("QUIT"))
	require.NoError(t, err)
	assert.True(t, c.Closed)
	assert.Contains(t, string(c.TakeWrites()), "+OK")
}

func TestConnectionPipelinedCommandsAcrossChunks(t *testing.T) {
	c := newTestConnection(t, "")

	full := append(respArray("SET", "a", "1"), respArray("GET", "a")...)
	split := len(full) / 2

	ops, err := c.Process(full[:split])
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Empty(t, c.TakeWrites())

	_, err = c.Process(full[split:])
	require.NoError(t, err)
	out := string(c.TakeWrites())
	assert.Contains(t, out, "+OK")
	assert.Contains(t, out, "1")
}
