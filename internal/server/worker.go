package server

import (
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lukluk/feoxd/internal/command"
	"github.com/lukluk/feoxd/internal/config"
	"github.com/lukluk/feoxd/internal/ioutil"
	"github.com/lukluk/feoxd/internal/metrics"
	"github.com/lukluk/feoxd/internal/pubsub"
	"github.com/lukluk/feoxd/internal/resp"
)

// tickInterval is how often a worker drains its pub/sub inbox, the same
// 100ms cadence server.rs's reactor polls at.
const tickInterval = 100 * time.Millisecond

const readBufSize = 8 * 1024

// connIDCounter hands out process-wide unique connection IDs across every
// worker's acceptLoop.
var connIDCounter uint64

func nextConnectionID() uint64 {
	return atomic.AddUint64(&connIDCounter, 1)
}

func intReply(n int64) resp.Value {
	return resp.NewInteger(n)
}

type connEntry struct {
	conn  net.Conn
	state *Connection
}

// readEvent is one chunk of bytes read off a connection's dedicated reader
// goroutine, destined for the worker's single event-loop goroutine. buf
// comes from the worker's pooled read buffers (handle non-zero) or, once
// the pool is exhausted, a heap allocation of readBufSize bytes.
type readEvent struct {
	entry  *connEntry
	handle ioutil.Handle
	pooled bool
	buf    []byte
	n      int
	eof    bool
	err    error
}

// Worker is a single-goroutine reactor owning one ThreadLocalPubSub and a
// disjoint set of connections. It emulates server.rs's per-worker event
// loop tick (drain inbox, then process I/O) without raw epoll bindings:
// each connection gets its own blocking-read goroutine that forwards bytes
// to this worker's event channel, and this goroutine is the only one that
// ever touches the pub/sub tables or writes responses, preserving the
// single-threaded-per-worker semantics the reference implementation relies
// on.
type Worker struct {
	id       pubsub.ThreadId
	listener net.Listener
	cfg      config.Config

	executor *command.Executor
	clients  *command.ClientRegistry
	pubsubMgr *pubsub.ThreadLocalPubSub
	registry *pubsub.GlobalRegistry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// bufPool backs each readLoop's read buffer with pooled, reusable
	// storage instead of a fresh heap allocation per read; readLoop falls
	// back to a heap buffer once the pool is exhausted.
	bufPool *ioutil.BufferPool

	events   chan readEvent
	newConns chan *connEntry
	closeNow chan *connEntry

	conns map[pubsub.ConnectionId]*connEntry
}

func NewWorker(
	id pubsub.ThreadId,
	listener net.Listener,
	cfg config.Config,
	executor *command.Executor,
	clients *command.ClientRegistry,
	inbox <-chan pubsub.BroadcastMsg,
	registry *pubsub.GlobalRegistry,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		id:        id,
		listener:  listener,
		cfg:       cfg,
		executor:  executor,
		clients:   clients,
		pubsubMgr: pubsub.NewThreadLocalPubSub(id, inbox, registry),
		registry:  registry,
		metrics:   m,
		logger:    logger.Named("worker").With(zap.Int("worker_id", int(id))),
		bufPool:   ioutil.NewBufferPool(256, readBufSize),
		events:    make(chan readEvent, 256),
		newConns:  make(chan *connEntry, 64),
		closeNow:  make(chan *connEntry, 64),
		conns:     make(map[pubsub.ConnectionId]*connEntry),
	}
}

// Run is the worker's event loop; it blocks until ctx-equivalent shutdown
// (the listener being closed causes acceptLoop to exit, and Run exits once
// told to stop by the caller closing stop).
func (w *Worker) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	go w.acceptLoop()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			w.drainInbox()

		case entry := <-w.newConns:
			w.conns[entry.state.ID] = entry
			w.metrics.ActiveConnections.Inc()
			go w.readLoop(entry)

		case ev := <-w.events:
			w.handleRead(ev)

		case entry := <-w.closeNow:
			w.dropConnection(entry)
		}
	}
}

// acceptLoop calls Accept on the shared listener from this worker's own
// goroutine. Go allows multiple goroutines to call Accept concurrently on
// one listener; the runtime hands each completed connection to exactly one
// blocked caller, which is the Go-idiomatic substitute for registering a
// single listening fd with N workers' pollers.
func (w *Worker) acceptLoop() {
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(w.cfg.TCPNoDelay)
		}

		id := pubsub.ConnectionId(nextConnectionID())
		state := NewConnection(id, conn.RemoteAddr().String(), w.executor, w.clients, w.metrics, w.cfg.AuthPassword)
		entry := &connEntry{conn: conn, state: state}

		w.clients.Register(int64(id), state.Addr, 0)
		w.newConns <- entry
	}
}

// readLoop blocks on entry.conn.Read in its own goroutine and forwards each
// chunk to the worker's single event-loop goroutine. Each read acquires a
// buffer from the worker's pool (falling back to a heap allocation if the
// pool is momentarily exhausted) so a busy connection doesn't allocate a
// fresh 8KiB slice on every readable event.
func (w *Worker) readLoop(entry *connEntry) {
	for {
		h, buf, pooled := w.bufPool.Acquire()
		if !pooled {
			buf = make([]byte, readBufSize)
		}

		n, err := entry.conn.Read(buf)
		if n > 0 {
			w.events <- readEvent{entry: entry, handle: h, pooled: pooled, buf: buf, n: n}
		} else if pooled {
			w.bufPool.Release(h)
		}
		if err != nil {
			w.events <- readEvent{entry: entry, eof: true, err: err}
			return
		}
	}
}

func (w *Worker) handleRead(ev readEvent) {
	entry := ev.entry
	if ev.pooled {
		defer w.bufPool.Release(ev.handle)
	}

	if _, live := w.conns[entry.state.ID]; !live {
		return
	}

	if ev.eof {
		w.closeNow <- entry
		return
	}

	ops, err := entry.state.Process(ev.buf[:ev.n])
	if err != nil {
		if out := entry.state.TakeWrites(); len(out) > 0 {
			entry.conn.Write(out)
		}
		w.closeNow <- entry
		return
	}

	for _, op := range ops {
		w.executeOp(entry, op)
	}

	if out := entry.state.TakeWrites(); len(out) > 0 {
		if _, werr := entry.conn.Write(out); werr != nil {
			w.closeNow <- entry
			return
		}
	}

	if entry.state.Closed {
		w.closeNow <- entry
	}
}

func (w *Worker) executeOp(entry *connEntry, op PubSubOp) {
	conn := entry.state.ID
	switch op.Kind {
	case OpSubscribe:
		for _, ack := range w.pubsubMgr.Subscribe(conn, op.Channels) {
			entry.state.AppendReply(ack.ToResp())
		}
		entry.state.SetPubSubMode(w.pubsubMgr.GetSubscriptionCount(conn))
		sub, psub := w.pubsubMgr.GetSubCounts(conn)
		w.clients.SetPubSubMode(int64(conn), sub, psub)

	case OpUnsubscribe:
		for _, ack := range w.pubsubMgr.Unsubscribe(conn, op.Channels, op.UnsubscribeAll) {
			entry.state.AppendReply(ack.ToResp())
		}
		entry.state.SetPubSubMode(w.pubsubMgr.GetSubscriptionCount(conn))
		sub, psub := w.pubsubMgr.GetSubCounts(conn)
		w.clients.SetPubSubMode(int64(conn), sub, psub)

	case OpPSubscribe:
		for _, ack := range w.pubsubMgr.PSubscribe(conn, op.Patterns) {
			entry.state.AppendReply(ack.ToResp())
		}
		entry.state.SetPubSubMode(w.pubsubMgr.GetSubscriptionCount(conn))
		sub, psub := w.pubsubMgr.GetSubCounts(conn)
		w.clients.SetPubSubMode(int64(conn), sub, psub)

	case OpPUnsubscribe:
		for _, ack := range w.pubsubMgr.PUnsubscribe(conn, op.Patterns, op.UnsubscribeAll) {
			entry.state.AppendReply(ack.ToResp())
		}
		entry.state.SetPubSubMode(w.pubsubMgr.GetSubscriptionCount(conn))
		sub, psub := w.pubsubMgr.GetSubCounts(conn)
		w.clients.SetPubSubMode(int64(conn), sub, psub)

	case OpPublish:
		channel := op.Channels[0]
		w.publish(channel, op.Message)
		count := w.registry.GetChannelSubscriberCount(channel) + w.registry.GetTotalPatternMatches(channel)
		entry.state.AppendReply(intReply(int64(count)))

	case OpPubSubQuery:
		entry.state.AppendReply(w.execPubSubQuery(op))
	}
}

// execPubSubQuery answers PUBSUB CHANNELS [pattern] | NUMSUB [channel ...] |
// NUMPAT against the process-wide GlobalRegistry, which is the only place
// that knows about subscribers living on other workers.
func (w *Worker) execPubSubQuery(op PubSubOp) resp.Value {
	switch op.PubSubSub {
	case "CHANNELS":
		var pattern string
		if len(op.PubSubArgs) > 0 {
			pattern = op.PubSubArgs[0]
		}
		var out []resp.Value
		for _, ch := range w.registry.GetAllChannels() {
			if pattern == "" || pubsub.GlobMatch([]byte(pattern), ch) {
				out = append(out, resp.NewBulkString(ch))
			}
		}
		return resp.NewArray(out)

	case "NUMSUB":
		out := make([]resp.Value, 0, len(op.PubSubArgs)*2)
		for _, ch := range op.PubSubArgs {
			out = append(out,
				resp.NewBulkString([]byte(ch)),
				resp.NewInteger(int64(w.registry.GetChannelSubscriberCount([]byte(ch)))),
			)
		}
		return resp.NewArray(out)

	case "NUMPAT":
		return resp.NewInteger(int64(w.registry.GetPatternCount()))

	default:
		return resp.NewError("ERR unknown PUBSUB subcommand '" + op.PubSubSub + "'")
	}
}

// publish delivers to this worker's own local subscribers and fans the
// message out to every other worker whose global interest registration
// says it might have a local subscriber.
func (w *Worker) publish(channel, message []byte) {
	for _, d := range w.pubsubMgr.PublishLocal(channel, message) {
		w.deliverTo(d)
	}

	channelThreads := w.registry.GetChannelThreads(channel)
	patternThreads := w.registry.GetAllPatternThreads()

	w.registry.BroadcastToThreads(pubsub.BroadcastMsg{
		Kind: pubsub.BroadcastPublish, Channel: channel, Message: message,
		ExcludeThread: w.id, HasExclude: true,
	}, channelThreads)
	w.registry.BroadcastToThreads(pubsub.BroadcastMsg{
		Kind: pubsub.BroadcastPatternPublish, Channel: channel, Message: message,
		ExcludeThread: w.id, HasExclude: true,
	}, patternThreads)
}

func (w *Worker) drainInbox() {
	for _, d := range w.pubsubMgr.ProcessInbox() {
		w.deliverTo(d)
	}
	for _, entry := range w.conns {
		if out := entry.state.TakeWrites(); len(out) > 0 {
			entry.conn.Write(out)
		}
	}
}

func (w *Worker) deliverTo(d pubsub.Delivery) {
	entry, ok := w.conns[d.Conn]
	if !ok {
		return
	}
	entry.state.AppendReply(d.Msg.ToResp())
}

func (w *Worker) dropConnection(entry *connEntry) {
	if _, ok := w.conns[entry.state.ID]; !ok {
		return
	}
	delete(w.conns, entry.state.ID)
	w.pubsubMgr.ConnectionDropped(entry.state.ID)
	w.clients.Unregister(int64(entry.state.ID))
	w.metrics.ActiveConnections.Dec()
	entry.conn.Close()
}
