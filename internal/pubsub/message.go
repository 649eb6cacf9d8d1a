package pubsub

import "github.com/lukluk/feoxd/internal/resp"

// MessageKind discriminates the PubSubMessage variants delivered to a
// connection: data frames (Message/PatternMessage) and acknowledgement
// frames for the four subscription verbs.
type MessageKind int

const (
	MsgMessage MessageKind = iota
	MsgPatternMessage
	MsgSubscribe
	MsgUnsubscribe
	MsgPSubscribe
	MsgPUnsubscribe
)

// PubSubMessage is one frame destined for a specific connection: either a
// delivered payload or a subscribe/unsubscribe acknowledgement. ToResp
// renders it exactly as message.rs's to_resp does, frame name included.
type PubSubMessage struct {
	Kind MessageKind

	Channel []byte
	Pattern []byte
	Payload []byte

	// HasChannelOrPattern distinguishes UNSUBSCRIBE/PUNSUBSCRIBE's "no
	// subscriptions left" case (nil channel/pattern) from a named one.
	HasChannelOrPattern bool

	Count int
}

func (m PubSubMessage) ToResp() resp.Value {
	switch m.Kind {
	case MsgMessage:
		return resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte("message")),
			resp.NewBulkString(m.Channel),
			resp.NewBulkString(m.Payload),
		})
	case MsgPatternMessage:
		return resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte("pmessage")),
			resp.NewBulkString(m.Pattern),
			resp.NewBulkString(m.Channel),
			resp.NewBulkString(m.Payload),
		})
	case MsgSubscribe:
		return resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte("subscribe")),
			resp.NewBulkString(m.Channel),
			resp.NewInteger(int64(m.Count)),
		})
	case MsgUnsubscribe:
		return resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte("unsubscribe")),
			channelOrNull(m.Channel, m.HasChannelOrPattern),
			resp.NewInteger(int64(m.Count)),
		})
	case MsgPSubscribe:
		return resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte("psubscribe")),
			resp.NewBulkString(m.Pattern),
			resp.NewInteger(int64(m.Count)),
		})
	case MsgPUnsubscribe:
		return resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte("punsubscribe")),
			channelOrNull(m.Pattern, m.HasChannelOrPattern),
			resp.NewInteger(int64(m.Count)),
		})
	default:
		return resp.NewNullArray()
	}
}

func channelOrNull(b []byte, has bool) resp.Value {
	if !has {
		return resp.NewNullBulkString()
	}
	return resp.NewBulkString(b)
}

// Delivery pairs a rendered message with the connection it is destined for.
type Delivery struct {
	Conn ConnectionId
	Msg  PubSubMessage
}
