package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukluk/feoxd/internal/encoding"
	"github.com/lukluk/feoxd/internal/ferr"
	"github.com/lukluk/feoxd/internal/resp"
	"github.com/lukluk/feoxd/internal/store"
)

// staticCommandTable backs the COMMAND reply: [name, arity, flags,
// first_key, last_key, step] tuples, extended from the reference
// implementation's subset to the full command set this server answers to.
var staticCommandTable = []struct {
	name             string
	arity            int
	flags            []string
	firstKey, lastKey, step int
}{
	{"get", 2, []string{"readonly", "fast"}, 1, 1, 1},
	{"set", -3, []string{"write", "denyoom"}, 1, 1, 1},
	{"del", -2, []string{"write"}, 1, -1, 1},
	{"exists", -2, []string{"readonly", "fast"}, 1, -1, 1},
	{"incr", 2, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"incrby", 3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"decr", 2, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"decrby", 3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"expire", 3, []string{"write", "fast"}, 1, 1, 1},
	{"pexpire", 3, []string{"write", "fast"}, 1, 1, 1},
	{"ttl", 2, []string{"readonly", "fast"}, 1, 1, 1},
	{"pttl", 2, []string{"readonly", "fast"}, 1, 1, 1},
	{"persist", 2, []string{"write", "fast"}, 1, 1, 1},
	{"mget", -2, []string{"readonly", "fast"}, 1, -1, 1},
	{"mset", -3, []string{"write", "denyoom"}, 1, -1, 2},
	{"ping", -1, []string{"fast"}, 0, 0, 0},
	{"echo", 2, []string{"fast"}, 0, 0, 0},
	{"info", -1, []string{"loading", "stale"}, 0, 0, 0},
	{"config", -2, []string{"admin", "noscript"}, 0, 0, 0},
	{"command", -1, []string{"loading", "stale"}, 0, 0, 0},
	{"quit", 1, []string{"fast"}, 0, 0, 0},
	{"flushdb", 1, []string{"write"}, 0, 0, 0},
	{"keys", 2, []string{"readonly"}, 0, 0, 0},
	{"scan", -2, []string{"readonly"}, 0, 0, 0},
	{"jsonpatch", 3, []string{"write", "denyoom"}, 1, 1, 1},
	{"cas", 4, []string{"write", "denyoom"}, 1, 1, 1},
	{"auth", 2, []string{"noscript", "loading", "stale", "fast"}, 0, 0, 0},
	{"lpush", -3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"rpush", -3, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"lpop", -2, []string{"write", "fast"}, 1, 1, 1},
	{"rpop", -2, []string{"write", "fast"}, 1, 1, 1},
	{"llen", 2, []string{"readonly", "fast"}, 1, 1, 1},
	{"lrange", 4, []string{"readonly"}, 1, 1, 1},
	{"lindex", 3, []string{"readonly"}, 1, 1, 1},
	{"hset", -4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"hget", 3, []string{"readonly", "fast"}, 1, 1, 1},
	{"hmget", -3, []string{"readonly", "fast"}, 1, 1, 1},
	{"hdel", -3, []string{"write", "fast"}, 1, 1, 1},
	{"hexists", 3, []string{"readonly", "fast"}, 1, 1, 1},
	{"hgetall", 2, []string{"readonly"}, 1, 1, 1},
	{"hlen", 2, []string{"readonly", "fast"}, 1, 1, 1},
	{"hkeys", 2, []string{"readonly"}, 1, 1, 1},
	{"hvals", 2, []string{"readonly"}, 1, 1, 1},
	{"hincrby", 4, []string{"write", "denyoom", "fast"}, 1, 1, 1},
	{"subscribe", -2, []string{"pubsub", "loading", "stale", "fast"}, 0, 0, 0},
	{"unsubscribe", -1, []string{"pubsub", "loading", "stale", "fast"}, 0, 0, 0},
	{"psubscribe", -2, []string{"pubsub", "loading", "stale", "fast"}, 0, 0, 0},
	{"punsubscribe", -1, []string{"pubsub", "loading", "stale", "fast"}, 0, 0, 0},
	{"publish", 3, []string{"pubsub", "loading", "stale", "fast"}, 0, 0, 0},
	{"pubsub", -2, []string{"pubsub", "loading", "stale"}, 0, 0, 0},
	{"client", -2, []string{"admin", "noscript"}, 0, 0, 0},
	{"multi", 1, []string{"noscript", "loading", "stale", "fast"}, 0, 0, 0},
	{"exec", 1, []string{"noscript", "loading", "stale"}, 0, 0, 0},
	{"discard", 1, []string{"noscript", "loading", "stale", "fast"}, 0, 0, 0},
	{"watch", -2, []string{"noscript", "loading", "stale", "fast"}, 1, -1, 1},
	{"unwatch", 1, []string{"noscript", "loading", "stale", "fast"}, 0, 0, 0},
}

// Executor dispatches parsed commands against the store and structured-type
// encoders, matching executor.rs's match-arm semantics. Commands whose
// meaning depends on per-connection state the connection layer alone
// holds (AUTH, (P)(UN)SUBSCRIBE, PUBLISH, PUBSUB, MULTI/EXEC/DISCARD/
// WATCH/UNWATCH) are intercepted upstream of Execute; reaching Execute
// with one of those kinds is a routing bug, not a client error. QUIT is
// also intercepted upstream, but Execute answers it with +OK.
type Executor struct {
	store   store.Store
	hash    *encoding.HashOps
	list    *encoding.ListOps
	clients *ClientRegistry

	startedAt time.Time
	runID     string
	port      int

	config map[string]string
}

// NewExecutor wires an executor to a store, its structured-type encoders,
// and the shared client registry. port is the actually configured listen
// port; unlike the reference implementation's INFO output, this server
// reports it instead of a hardcoded 6379.
func NewExecutor(s store.Store, port int, clients *ClientRegistry) *Executor {
	return &Executor{
		store:     s,
		hash:      encoding.NewHashOps(s),
		list:      encoding.NewListOps(s),
		clients:   clients,
		startedAt: time.Now(),
		runID:     uuid.NewString(),
		port:      port,
		config: map[string]string{
			"maxmemory":        "0",
			"maxmemory-policy": "noeviction",
			"appendonly":       "no",
			"timeout":          "0",
		},
	}
}

// Execute runs cmd and returns the RESP reply to write back. clientID
// identifies the calling connection, needed by CLIENT SETNAME/GETNAME/INFO.
func (e *Executor) Execute(cmd *Command, clientID int64) resp.Value {
	switch cmd.Kind {
	case Get:
		v, err := e.store.Get(cmd.Key)
		if err == ferr.ErrKeyNotFound {
			return resp.NewNullBulkString()
		}
		if err != nil {
			return errReply(err)
		}
		return resp.NewBulkString(v)

	case Set:
		ttl := ttlFromCmd(cmd)
		if ttl > 0 {
			if _, err := e.store.InsertWithTTL(cmd.Key, cmd.Value, ttl); err != nil {
				return errReply(err)
			}
		} else {
			if _, err := e.store.Insert(cmd.Key, cmd.Value); err != nil {
				return errReply(err)
			}
		}
		return resp.NewSimpleString("OK")

	case Del:
		var n int64
		for _, k := range cmd.Keys {
			if err := e.store.Delete(k); err == nil {
				n++
			}
		}
		return resp.NewInteger(n)

	case Exists:
		var n int64
		for _, k := range cmd.Keys {
			if e.store.Contains(k) {
				n++
			}
		}
		return resp.NewInteger(n)

	case Incr:
		return e.incrBy(cmd.Key, 1)
	case IncrBy:
		return e.incrBy(cmd.Key, cmd.Delta)
	case Decr:
		return e.incrBy(cmd.Key, -1)
	case DecrBy:
		return e.incrBy(cmd.Key, -cmd.Delta)

	case Expire:
		ok, err := e.store.UpdateTTL(cmd.Key, time.Duration(cmd.Delta)*time.Second)
		if err != nil {
			return errReply(err)
		}
		return boolReply(ok)

	case PExpire:
		ok, err := e.store.UpdateTTL(cmd.Key, time.Duration(cmd.Delta)*time.Millisecond)
		if err != nil {
			return errReply(err)
		}
		return boolReply(ok)

	case Ttl:
		d, ok, err := e.store.GetTTL(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return resp.NewInteger(-2)
		}
		if d < 0 {
			return resp.NewInteger(-1)
		}
		return resp.NewInteger(int64(d / time.Second))

	case PTtl:
		d, ok, err := e.store.GetTTL(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return resp.NewInteger(-2)
		}
		if d < 0 {
			return resp.NewInteger(-1)
		}
		return resp.NewInteger(int64(d / time.Millisecond))

	case Persist:
		ok, err := e.store.Persist(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		return boolReply(ok)

	case MGet:
		vals := make([]resp.Value, len(cmd.Keys))
		for i, k := range cmd.Keys {
			v, err := e.store.Get(k)
			if err != nil {
				vals[i] = resp.NewNullBulkString()
				continue
			}
			vals[i] = resp.NewBulkString(v)
		}
		return resp.NewArray(vals)

	case MSet:
		for _, p := range cmd.Pairs {
			if _, err := e.store.Insert(p.Key, p.Value); err != nil {
				return errReply(err)
			}
		}
		return resp.NewSimpleString("OK")

	case Ping:
		if cmd.HasMessage {
			return resp.NewBulkString(cmd.Message)
		}
		return resp.NewSimpleString("PONG")

	case Echo:
		return resp.NewBulkString(cmd.Message)

	case Info:
		return resp.NewBulkString([]byte(e.renderInfo(cmd.InfoSection)))

	case Config:
		return e.execConfig(cmd)

	case CommandList:
		return e.renderCommandTable()

	case Quit:
		return resp.NewSimpleString("OK")

	case FlushDB:
		return resp.NewError("ERR FLUSHDB requires a server restart")

	case Keys:
		return e.execKeys(cmd.Pattern)

	case Scan:
		return e.execScan(cmd)

	case JSONPatch:
		if err := e.store.JSONPatch(cmd.Key, cmd.Patch); err != nil {
			return errReply(err)
		}
		return resp.NewSimpleString("OK")

	case Cas:
		ok, err := e.store.CompareAndSwap(cmd.Key, cmd.Expected, cmd.NewValue)
		if err != nil {
			return errReply(err)
		}
		return boolReply(ok)

	case LPush:
		n, err := e.list.LPush(cmd.Key, pairValues(cmd.Pairs))
		if err != nil {
			return errReply(err)
		}
		return resp.NewInteger(n)

	case RPush:
		n, err := e.list.RPush(cmd.Key, pairValues(cmd.Pairs))
		if err != nil {
			return errReply(err)
		}
		return resp.NewInteger(n)

	case LPop:
		return e.execPop(cmd, true)
	case RPop:
		return e.execPop(cmd, false)

	case LLen:
		n, err := e.list.LLen(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		return resp.NewInteger(n)

	case LRange:
		vals, err := e.list.LRange(cmd.Key, cmd.Start, cmd.Stop)
		if err != nil {
			return errReply(err)
		}
		return bulkArray(vals)

	case LIndex:
		v, ok, err := e.list.LIndex(cmd.Key, cmd.Index)
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return resp.NewNullBulkString()
		}
		return resp.NewBulkString(v)

	case HSet:
		n, err := e.hash.HSet(cmd.Key, toEncodingFieldValues(cmd.FieldValues))
		if err != nil {
			return errReply(err)
		}
		return resp.NewInteger(n)

	case HGet:
		v, ok, err := e.hash.HGet(cmd.Key, cmd.Fields[0])
		if err != nil {
			return errReply(err)
		}
		if !ok {
			return resp.NewNullBulkString()
		}
		return resp.NewBulkString(v)

	case HMGet:
		vals, found, err := e.hash.HMGet(cmd.Key, cmd.Fields)
		if err != nil {
			return errReply(err)
		}
		out := make([]resp.Value, len(vals))
		for i := range vals {
			if !found[i] {
				out[i] = resp.NewNullBulkString()
			} else {
				out[i] = resp.NewBulkString(vals[i])
			}
		}
		return resp.NewArray(out)

	case HDel:
		n, err := e.hash.HDel(cmd.Key, cmd.Fields)
		if err != nil {
			return errReply(err)
		}
		return resp.NewInteger(n)

	case HExists:
		return boolReply(e.hash.HExists(cmd.Key, cmd.Fields[0]))

	case HGetAll:
		pairs, err := e.hash.HGetAll(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		out := make([]resp.Value, 0, len(pairs)*2)
		for _, p := range pairs {
			out = append(out, resp.NewBulkString(p[0]), resp.NewBulkString(p[1]))
		}
		return resp.NewArray(out)

	case HLen:
		n, err := e.hash.HLen(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		return resp.NewInteger(n)

	case HKeys:
		vals, err := e.hash.HKeys(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		return bulkArray(vals)

	case HVals:
		vals, err := e.hash.HVals(cmd.Key)
		if err != nil {
			return errReply(err)
		}
		return bulkArray(vals)

	case HIncrBy:
		n, err := e.hash.HIncrBy(cmd.Key, cmd.Fields[0], cmd.Delta)
		if err != nil {
			return errReply(err)
		}
		return resp.NewInteger(n)

	case Client:
		return e.execClient(cmd, clientID)

	default:
		return resp.NewError("ERR internal: command routed to executor that should have been handled by the connection layer")
	}
}

func ttlFromCmd(cmd *Command) time.Duration {
	if cmd.EX > 0 {
		return time.Duration(cmd.EX) * time.Second
	}
	if cmd.PX > 0 {
		return time.Duration(cmd.PX) * time.Millisecond
	}
	return 0
}

func (e *Executor) incrBy(key []byte, delta int64) resp.Value {
	n, err := e.store.AtomicIncrement(key, delta)
	if err != nil {
		return errReply(err)
	}
	return resp.NewInteger(n)
}

func (e *Executor) execPop(cmd *Command, left bool) resp.Value {
	count := 1
	if cmd.HasCount {
		count = cmd.Count
	}
	var vals [][]byte
	var err error
	if left {
		vals, err = e.list.LPop(cmd.Key, count)
	} else {
		vals, err = e.list.RPop(cmd.Key, count)
	}
	if err != nil {
		return errReply(err)
	}
	if !cmd.HasCount {
		if len(vals) == 0 {
			return resp.NewNullBulkString()
		}
		return resp.NewBulkString(vals[0])
	}
	return bulkArray(vals)
}

func (e *Executor) execKeys(pattern string) resp.Value {
	var start []byte
	end := []byte{0xFF}
	prefix := pattern
	if i := strings.IndexAny(pattern, "*?[\\"); i >= 0 {
		prefix = pattern[:i]
	}
	if prefix != "" {
		start = []byte(prefix)
		end = append([]byte(prefix), 0xFF)
	}
	kvs, err := e.store.RangeQuery(start, end, 0)
	if err != nil {
		return errReply(err)
	}
	var out []resp.Value
	for _, kv := range kvs {
		if GlobMatch(pattern, string(kv.Key)) {
			out = append(out, resp.NewBulkString(kv.Key))
		}
	}
	return resp.NewArray(out)
}

// execScan mirrors original_source/src/protocol/command/executor.rs's Scan
// arm: the cursor is the key to resume scanning from (inclusive), not an
// index. A fetch window of count (or 2*count under MATCH) plus one extra
// key is pulled from the store; the first key not examined (once count
// matches are collected, or the extra key once the window is used up)
// becomes the next cursor, and the cursor is "0" only when the store
// returned no key beyond those examined.
func (e *Executor) execScan(cmd *Command) resp.Value {
	count := cmd.Count
	if count <= 0 {
		count = 10
	}

	var start []byte
	if len(cmd.Cursor) > 0 && string(cmd.Cursor) != "0" {
		start = cmd.Cursor
	}

	fetchCount := count
	if cmd.HasMatch {
		fetchCount = count * 2
	}

	kvs, err := e.store.RangeQuery(start, []byte{0xFF}, fetchCount+1)
	if err != nil {
		return errReply(err)
	}

	var page [][]byte
	nextCursor := []byte("0")
	for i, kv := range kvs {
		if len(page) >= count || i == fetchCount {
			nextCursor = kv.Key
			break
		}
		if !cmd.HasMatch || GlobMatch(cmd.Pattern, string(kv.Key)) {
			page = append(page, kv.Key)
		}
	}

	return resp.NewArray([]resp.Value{
		resp.NewBulkString(nextCursor),
		bulkArray(page),
	})
}

func (e *Executor) renderInfo(section string) string {
	section = strings.ToLower(section)
	var b strings.Builder

	writeServer := func() {
		b.WriteString("# Server\r\n")
		fmt.Fprintf(&b, "redis_version:7.0.0-feoxd\r\n")
		fmt.Fprintf(&b, "run_id:%s\r\n", e.runID)
		fmt.Fprintf(&b, "tcp_port:%d\r\n", e.port)
		fmt.Fprintf(&b, "uptime_in_seconds:%d\r\n", int64(time.Since(e.startedAt).Seconds()))
		b.WriteString("\r\n")
	}
	writeClients := func() {
		b.WriteString("# Clients\r\n")
		fmt.Fprintf(&b, "connected_clients:%d\r\n", e.clients.Count())
		b.WriteString("\r\n")
	}
	writeMemory := func() {
		b.WriteString("# Memory\r\n")
		b.WriteString("used_memory:0\r\n")
		b.WriteString("used_memory_human:0B\r\n")
		b.WriteString("\r\n")
	}
	writeStats := func() {
		b.WriteString("# Stats\r\n")
		fmt.Fprintf(&b, "total_commands_processed:%d\r\n", e.totalCommandsProcessed())
		b.WriteString("\r\n")
	}
	writeKeyspace := func() {
		b.WriteString("# Keyspace\r\n")
		fmt.Fprintf(&b, "db0:keys=%d,expires=0,avg_ttl=0\r\n", e.store.Len())
		b.WriteString("\r\n")
	}

	switch section {
	case "", "default", "all", "everything":
		writeServer()
		writeClients()
		writeMemory()
		writeStats()
		writeKeyspace()
	case "server":
		writeServer()
	case "clients":
		writeClients()
	case "memory":
		writeMemory()
	case "stats":
		writeStats()
	case "keyspace":
		writeKeyspace()
	default:
		writeServer()
	}
	return b.String()
}

func (e *Executor) totalCommandsProcessed() int64 {
	var total int64
	for _, c := range e.clients.All() {
		total += c.CommandsProcessed
	}
	return total
}

func (e *Executor) execConfig(cmd *Command) resp.Value {
	switch strings.ToUpper(cmd.ConfigAction) {
	case "GET":
		if len(cmd.ConfigArgs) != 1 {
			return resp.NewError("ERR wrong number of arguments for 'config|get' command")
		}
		key := strings.ToLower(string(cmd.ConfigArgs[0]))
		val, ok := e.config[key]
		if !ok {
			return resp.NewArray(nil)
		}
		return resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte(key)),
			resp.NewBulkString([]byte(val)),
		})

	case "SET":
		if len(cmd.ConfigArgs) != 2 {
			return resp.NewError("ERR wrong number of arguments for 'config|set' command")
		}
		key := strings.ToLower(string(cmd.ConfigArgs[0]))
		e.config[key] = string(cmd.ConfigArgs[1])
		return resp.NewSimpleString("OK")

	default:
		return resp.NewError("ERR unknown CONFIG subcommand")
	}
}

func (e *Executor) renderCommandTable() resp.Value {
	out := make([]resp.Value, 0, len(staticCommandTable))
	for _, c := range staticCommandTable {
		flags := make([]resp.Value, len(c.flags))
		for i, f := range c.flags {
			flags[i] = resp.NewSimpleString(f)
		}
		out = append(out, resp.NewArray([]resp.Value{
			resp.NewBulkString([]byte(c.name)),
			resp.NewInteger(int64(c.arity)),
			resp.NewArray(flags),
			resp.NewInteger(int64(c.firstKey)),
			resp.NewInteger(int64(c.lastKey)),
			resp.NewInteger(int64(c.step)),
		}))
	}
	return resp.NewArray(out)
}

func (e *Executor) execClient(cmd *Command, clientID int64) resp.Value {
	switch cmd.ClientSub {
	case "ID":
		return resp.NewInteger(clientID)

	case "GETNAME":
		return resp.NewBulkString([]byte(e.clients.GetName(clientID)))

	case "SETNAME":
		if len(cmd.ClientArgs) != 1 {
			return resp.NewError("ERR wrong number of arguments for 'client|setname' command")
		}
		name := string(cmd.ClientArgs[0])
		if strings.ContainsAny(name, " \n") {
			return resp.NewError("ERR Client names cannot contain spaces, newlines or special characters")
		}
		e.clients.SetName(clientID, name)
		return resp.NewSimpleString("OK")

	case "LIST":
		now := time.Now()
		var b strings.Builder
		for _, c := range e.clients.All() {
			b.WriteString(c.FormatLine(now))
			b.WriteString("\n")
		}
		return resp.NewBulkString([]byte(b.String()))

	case "INFO":
		c, ok := e.clients.Get(clientID)
		if !ok {
			return resp.NewError("ERR unknown client id")
		}
		return resp.NewBulkString([]byte(c.FormatLine(time.Now())))

	case "KILL":
		f, err := parseKillArgs(cmd.ClientArgs)
		if err != nil {
			return resp.NewError("ERR " + err.Error())
		}
		killed := e.clients.Kill(f)
		return resp.NewInteger(int64(len(killed)))

	case "PAUSE", "UNPAUSE":
		return resp.NewSimpleString("OK")

	default:
		return resp.NewError("ERR unknown CLIENT subcommand '" + cmd.ClientSub + "'")
	}
}

func errReply(err error) resp.Value {
	return resp.NewError("ERR " + err.Error())
}

func boolReply(ok bool) resp.Value {
	if ok {
		return resp.NewInteger(1)
	}
	return resp.NewInteger(0)
}

func bulkArray(vals [][]byte) resp.Value {
	out := make([]resp.Value, len(vals))
	for i, v := range vals {
		out[i] = resp.NewBulkString(v)
	}
	return resp.NewArray(out)
}

func pairValues(pairs []KVPair) [][]byte {
	out := make([][]byte, len(pairs))
	for i, p := range pairs {
		out[i] = p.Value
	}
	return out
}

func toEncodingFieldValues(fvs []FieldValue) []encoding.FieldValue {
	out := make([]encoding.FieldValue, len(fvs))
	for i, fv := range fvs {
		out[i] = encoding.FieldValue{Field: fv.Field, Value: fv.Value}
	}
	return out
}
