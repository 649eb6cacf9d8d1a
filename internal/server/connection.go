// Package server implements the connection state machine and the
// thread-per-core worker reactor that multiplexes many connections onto a
// small number of goroutines, grounded on network/connection.rs and
// server.rs's event-loop description (see DESIGN.md).
package server

import (
	"crypto/subtle"
	"strings"

	"github.com/lukluk/feoxd/internal/command"
	"github.com/lukluk/feoxd/internal/metrics"
	"github.com/lukluk/feoxd/internal/pubsub"
	"github.com/lukluk/feoxd/internal/resp"
)

// TxState is a connection's transaction state: either idle or queuing
// commands for the next EXEC.
type TxState int

const (
	TxNone TxState = iota
	TxQueuing
)

// OpKind discriminates the pub/sub intents a connection can hand back to
// its worker; the connection layer itself holds no pub/sub tables, since
// those are the worker's ThreadLocalPubSub.
type OpKind int

const (
	OpSubscribe OpKind = iota
	OpUnsubscribe
	OpPSubscribe
	OpPUnsubscribe
	OpPublish
	OpPubSubQuery
)

// PubSubOp is an intent emitted by Connection.Process for its owning
// worker to execute against the worker's ThreadLocalPubSub.
type PubSubOp struct {
	Kind           OpKind
	Channels       [][]byte
	Patterns       [][]byte
	Message        []byte
	UnsubscribeAll bool

	// PubSubSub/PubSubArgs carry PUBSUB CHANNELS|NUMSUB|NUMPAT's
	// sub-command and arguments; answering it needs the worker's
	// GlobalRegistry, which the connection layer doesn't hold.
	PubSubSub  string
	PubSubArgs []string
}

// Connection is one client's protocol state: RESP parser, pending write
// bytes, and the auth/pub-sub-mode/transaction gating. It holds no
// socket; the worker owns I/O and calls Process with
// newly read bytes.
type Connection struct {
	ID   pubsub.ConnectionId
	Addr string

	parser   *resp.Parser
	writeBuf []byte

	executor *command.Executor
	clients  *command.ClientRegistry
	metrics  *metrics.Metrics

	authRequired  bool
	authPassword  string
	authenticated bool

	inPubSubMode bool
	subCount     int

	txState TxState
	txQueue []*command.Command
	watched map[string]bool

	Closed bool
}

func NewConnection(id pubsub.ConnectionId, addr string, executor *command.Executor, clients *command.ClientRegistry, m *metrics.Metrics, authPassword string) *Connection {
	return &Connection{
		ID:           id,
		Addr:         addr,
		parser:       resp.NewParser(),
		executor:     executor,
		clients:      clients,
		metrics:      m,
		authRequired: authPassword != "",
		authPassword: authPassword,
		watched:      make(map[string]bool),
	}
}

// Process feeds newly read bytes through the RESP parser and runs every
// complete command it yields, appending replies to the write buffer and
// collecting pub/sub intents for the worker to execute. The caller must
// have already drained any previous write buffer contents (or be prepared
// to append past them) before calling Process again.
func (c *Connection) Process(data []byte) ([]PubSubOp, error) {
	c.parser.Feed(data)

	var ops []PubSubOp

	for {
		v, err := c.parser.ParseNext()
		if err != nil {
			return ops, err
		}
		if v == nil {
			break
		}

		c.clients.IncrCommandsProcessed(int64(c.ID))
		c.metrics.CommandsProcessed.Inc()

		if c.txState == TxNone && !c.inPubSubMode && (!c.authRequired || c.authenticated) {
			if reply, handled := tryFastPath(*v, c.executor); handled {
				c.writeBuf = resp.Write(c.writeBuf, reply)
				continue
			}
		}

		cmd, perr := command.Parse(*v)
		if perr != nil {
			c.writeBuf = resp.Write(c.writeBuf, resp.NewError("ERR "+perr.Error()))
			continue
		}

		if cmd.Kind == command.Quit {
			c.writeBuf = resp.Write(c.writeBuf, resp.NewSimpleString("OK"))
			c.Closed = true
			return ops, nil
		}

		if c.inPubSubMode && !isPubSubAllowedDuringSubscribe(cmd.Kind) {
			c.writeBuf = resp.Write(c.writeBuf, resp.NewError(
				"ERR only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"))
			continue
		}

		if cmd.Kind == command.Client && strings.EqualFold(cmd.ClientSub, "SETNAME") && len(cmd.ClientArgs) == 1 {
			c.clients.SetName(int64(c.ID), string(cmd.ClientArgs[0]))
		}

		if handled, reply := c.handleTransaction(cmd); handled {
			if reply != nil {
				c.writeBuf = resp.Write(c.writeBuf, *reply)
			}
			continue
		}

		if c.txState == TxQueuing {
			c.txQueue = append(c.txQueue, cmd)
			c.writeBuf = resp.Write(c.writeBuf, resp.NewSimpleString("QUEUED"))
			continue
		}

		if c.authRequired && !c.authenticated && cmd.Kind != command.Auth && cmd.Kind != command.Ping {
			c.writeBuf = resp.Write(c.writeBuf, resp.NewError("NOAUTH Authentication required."))
			continue
		}

		if cmd.Kind == command.Auth {
			c.writeBuf = resp.Write(c.writeBuf, c.handleAuth(cmd))
			continue
		}

		if op, isPubSub := c.toPubSubOp(cmd); isPubSub {
			ops = append(ops, op)
			continue
		}

		c.writeBuf = resp.Write(c.writeBuf, c.executor.Execute(cmd, int64(c.ID)))
	}

	return ops, nil
}

// TakeWrites returns the buffered reply bytes and clears the buffer. The
// worker calls this once per tick after Process and after any pub/sub
// deliveries have been appended.
func (c *Connection) TakeWrites() []byte {
	out := c.writeBuf
	c.writeBuf = nil
	return out
}

// AppendReply is used by the worker to queue a pub/sub delivery frame (or
// any other out-of-band reply) onto this connection's next write.
func (c *Connection) AppendReply(v resp.Value) {
	c.writeBuf = resp.Write(c.writeBuf, v)
}

func (c *Connection) SetPubSubMode(subCount int) {
	c.subCount = subCount
	c.inPubSubMode = subCount > 0
}

func isPubSubAllowedDuringSubscribe(kind command.Kind) bool {
	switch kind {
	case command.Subscribe, command.Unsubscribe, command.PSubscribe, command.PUnsubscribe,
		command.Ping, command.Quit:
		return true
	default:
		return false
	}
}

func (c *Connection) handleAuth(cmd *command.Command) resp.Value {
	if c.authPassword == "" {
		return resp.NewError("ERR Client sent AUTH, but no password is set")
	}
	if len(cmd.Password) == len(c.authPassword) &&
		subtle.ConstantTimeCompare(cmd.Password, []byte(c.authPassword)) == 1 {
		c.authenticated = true
		return resp.NewSimpleString("OK")
	}
	return resp.NewError("ERR invalid password")
}

// handleTransaction implements MULTI/EXEC/DISCARD/WATCH/UNWATCH. It
// returns handled=true when it fully answered the command (whether or not
// a reply accompanies it, as with EXEC handing its results back via a
// constructed array reply).
func (c *Connection) handleTransaction(cmd *command.Command) (handled bool, reply *resp.Value) {
	switch cmd.Kind {
	case command.Multi:
		if c.txState == TxQueuing {
			return true, errPtr("ERR MULTI calls can not be nested")
		}
		c.txState = TxQueuing
		c.txQueue = nil
		return true, okPtr()

	case command.Discard:
		if c.txState != TxQueuing {
			return true, errPtr("ERR DISCARD without MULTI")
		}
		c.txState = TxNone
		c.txQueue = nil
		c.watched = make(map[string]bool)
		return true, okPtr()

	case command.Exec:
		if c.txState != TxQueuing {
			return true, errPtr("ERR EXEC without MULTI")
		}
		queued := c.txQueue
		c.txState = TxNone
		c.txQueue = nil
		c.watched = make(map[string]bool)

		results := make([]resp.Value, len(queued))
		for i, qc := range queued {
			results[i] = c.executor.Execute(qc, int64(c.ID))
		}
		v := resp.NewArray(results)
		return true, &v

	case command.Watch:
		if c.txState == TxQueuing {
			return true, errPtr("ERR WATCH inside MULTI is not allowed")
		}
		for _, k := range cmd.Keys {
			c.watched[string(k)] = true
		}
		return true, okPtr()

	case command.Unwatch:
		c.watched = make(map[string]bool)
		return true, okPtr()
	}

	return false, nil
}

func okPtr() *resp.Value {
	v := resp.NewSimpleString("OK")
	return &v
}

func errPtr(msg string) *resp.Value {
	v := resp.NewError(msg)
	return &v
}

// toPubSubOp converts a pub/sub command into a worker-level intent. The
// caller (worker) is responsible for invoking the ThreadLocalPubSub and
// writing the resulting acknowledgement/delivery frames back.
func (c *Connection) toPubSubOp(cmd *command.Command) (PubSubOp, bool) {
	switch cmd.Kind {
	case command.Subscribe:
		return PubSubOp{Kind: OpSubscribe, Channels: stringsToBytes(cmd.Channels)}, true
	case command.Unsubscribe:
		return PubSubOp{Kind: OpUnsubscribe, Channels: stringsToBytes(cmd.Channels), UnsubscribeAll: len(cmd.Channels) == 0}, true
	case command.PSubscribe:
		return PubSubOp{Kind: OpPSubscribe, Patterns: stringsToBytes(cmd.Patterns)}, true
	case command.PUnsubscribe:
		return PubSubOp{Kind: OpPUnsubscribe, Patterns: stringsToBytes(cmd.Patterns), UnsubscribeAll: len(cmd.Patterns) == 0}, true
	case command.Publish:
		var channel []byte
		if len(cmd.Channels) == 1 {
			channel = []byte(cmd.Channels[0])
		}
		return PubSubOp{Kind: OpPublish, Channels: [][]byte{channel}, Message: cmd.Message}, true
	case command.PubSub:
		return PubSubOp{Kind: OpPubSubQuery, PubSubSub: cmd.PubSubSub, PubSubArgs: cmd.PubSubArgs}, true
	}
	return PubSubOp{}, false
}

func stringsToBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

// tryFastPath short-circuits GET/SET with only bulk-string arguments and
// no options, bypassing Command construction entirely. Any other shape
// (EX/PX, wrong arity, non-bulk arguments) falls through to full parsing.
func tryFastPath(v resp.Value, executor *command.Executor) (resp.Value, bool) {
	if v.Type != resp.Array || v.Null || len(v.Array) < 2 {
		return resp.Value{}, false
	}
	if v.Array[0].Type != resp.BulkString || v.Array[0].Null {
		return resp.Value{}, false
	}

	switch strings.ToUpper(string(v.Array[0].Bulk)) {
	case "GET":
		if len(v.Array) != 2 || !isPlainBulk(v.Array[1]) {
			return resp.Value{}, false
		}
		cmd := &command.Command{Kind: command.Get, Key: v.Array[1].Bulk}
		return executor.Execute(cmd, 0), true

	case "SET":
		if len(v.Array) != 3 || !isPlainBulk(v.Array[1]) || !isPlainBulk(v.Array[2]) {
			return resp.Value{}, false
		}
		cmd := &command.Command{Kind: command.Set, Key: v.Array[1].Bulk, Value: v.Array[2].Bulk}
		return executor.Execute(cmd, 0), true
	}

	return resp.Value{}, false
}

func isPlainBulk(v resp.Value) bool {
	return v.Type == resp.BulkString && !v.Null
}
