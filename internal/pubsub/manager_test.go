package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukluk/feoxd/internal/metrics"
)

func TestManagerSubscribePublishLocal(t *testing.T) {
	registry, recv := NewGlobalRegistry(1, metrics.New())
	mgr := NewThreadLocalPubSub(0, recv[0], registry)

	acks := mgr.Subscribe(ConnectionId(1), [][]byte{[]byte("chat")})
	require.Len(t, acks, 1)
	assert.Equal(t, MsgSubscribe, acks[0].Kind)
	assert.Equal(t, 1, acks[0].Count)

	deliveries := mgr.PublishLocal([]byte("chat"), []byte("hi"))
	require.Len(t, deliveries, 1)
	assert.Equal(t, ConnectionId(1), deliveries[0].Conn)
	assert.Equal(t, "hi", string(deliveries[0].Msg.Payload))
}

func TestManagerPSubscribePublishLocal(t *testing.T) {
	registry, recv := NewGlobalRegistry(1, metrics.New())
	mgr := NewThreadLocalPubSub(0, recv[0], registry)

	mgr.PSubscribe(ConnectionId(7), [][]byte{[]byte("news.*")})
	deliveries := mgr.PublishLocal([]byte("news.tech"), []byte("payload"))
	require.Len(t, deliveries, 1)
	assert.Equal(t, MsgPatternMessage, deliveries[0].Msg.Kind)
}

func TestManagerUnsubscribeAllOnDrop(t *testing.T) {
	registry, recv := NewGlobalRegistry(1, metrics.New())
	mgr := NewThreadLocalPubSub(0, recv[0], registry)

	mgr.Subscribe(ConnectionId(1), [][]byte{[]byte("a"), []byte("b")})
	mgr.PSubscribe(ConnectionId(1), [][]byte{[]byte("c.*")})
	assert.True(t, mgr.IsConnectionSubscribed(ConnectionId(1)))

	mgr.ConnectionDropped(ConnectionId(1))
	assert.False(t, mgr.IsConnectionSubscribed(ConnectionId(1)))
	assert.Equal(t, 0, registry.GetChannelSubscriberCount([]byte("a")))
}

func TestManagerProcessInboxRespectsExcludeThread(t *testing.T) {
	registry, recv := NewGlobalRegistry(2, metrics.New())
	mgrA := NewThreadLocalPubSub(0, recv[0], registry)
	mgrB := NewThreadLocalPubSub(1, recv[1], registry)

	mgrB.Subscribe(ConnectionId(9), [][]byte{[]byte("chat")})
	registry.BroadcastToAllThreads(BroadcastMsg{
		Kind: BroadcastPublish, Channel: []byte("chat"), Message: []byte("hi"),
		ExcludeThread: 0, HasExclude: true,
	}, 0, true)

	assert.Len(t, mgrA.ProcessInbox(), 0)
	assert.Len(t, mgrB.ProcessInbox(), 1)
}
