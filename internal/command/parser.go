package command

import (
	"strconv"
	"strings"

	"github.com/lukluk/feoxd/internal/ferr"
	"github.com/lukluk/feoxd/internal/resp"
)

// Parse turns a RESP array (as produced by resp.Parser) into a Command.
// v must be a non-null Array whose first element is a bulk string; that is
// guaranteed by the connection layer, which only calls Parse on values it
// has already confirmed are arrays.
func Parse(v resp.Value) (*Command, error) {
	if v.Type != resp.Array || v.Null || len(v.Array) == 0 {
		return nil, &ferr.ArityError{Cmd: "(unknown)"}
	}

	args := v.Array
	name, err := extractBytes(args[0])
	if err != nil {
		return nil, err
	}
	args = args[1:]
	upper := strings.ToUpper(string(name))

	switch upper {
	case "GET":
		if len(args) != 1 {
			return nil, ferr.WrongNumArgs("GET")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Get, Name: upper, Key: key}, nil

	case "SET":
		if len(args) < 2 {
			return nil, ferr.WrongNumArgs("SET")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		val, err := extractBytes(args[1])
		if err != nil {
			return nil, err
		}
		cmd := &Command{Kind: Set, Name: upper, Key: key, Value: val}
		i := 2
		for i < len(args) {
			opt, err := extractBytes(args[i])
			if err != nil {
				return nil, err
			}
			switch strings.ToUpper(string(opt)) {
			case "EX":
				if i+1 >= len(args) {
					return nil, ferr.ErrSyntax
				}
				n, err := extractInteger(args[i+1])
				if err != nil {
					return nil, err
				}
				cmd.EX = n
				i += 2
			case "PX":
				if i+1 >= len(args) {
					return nil, ferr.ErrSyntax
				}
				n, err := extractInteger(args[i+1])
				if err != nil {
					return nil, err
				}
				cmd.PX = n
				i += 2
			default:
				i++
			}
		}
		return cmd, nil

	case "DEL":
		keys, err := extractKeys(args, "DEL")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Del, Name: upper, Keys: keys}, nil

	case "EXISTS":
		keys, err := extractKeys(args, "EXISTS")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Exists, Name: upper, Keys: keys}, nil

	case "INCR":
		key, err := singleKey(args, "INCR")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Incr, Name: upper, Key: key}, nil

	case "INCRBY":
		key, delta, err := keyAndInt(args, "INCRBY")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: IncrBy, Name: upper, Key: key, Delta: delta}, nil

	case "DECR":
		key, err := singleKey(args, "DECR")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Decr, Name: upper, Key: key}, nil

	case "DECRBY":
		key, delta, err := keyAndInt(args, "DECRBY")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: DecrBy, Name: upper, Key: key, Delta: delta}, nil

	case "EXPIRE":
		key, sec, err := keyAndInt(args, "EXPIRE")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Expire, Name: upper, Key: key, Delta: sec}, nil

	case "PEXPIRE":
		key, ms, err := keyAndInt(args, "PEXPIRE")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: PExpire, Name: upper, Key: key, Delta: ms}, nil

	case "TTL":
		key, err := singleKey(args, "TTL")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Ttl, Name: upper, Key: key}, nil

	case "PTTL":
		key, err := singleKey(args, "PTTL")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: PTtl, Name: upper, Key: key}, nil

	case "PERSIST":
		key, err := singleKey(args, "PERSIST")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Persist, Name: upper, Key: key}, nil

	case "MGET":
		keys, err := extractKeys(args, "MGET")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: MGet, Name: upper, Keys: keys}, nil

	case "MSET":
		if len(args) == 0 || len(args)%2 != 0 {
			return nil, ferr.WrongNumArgs("MSET")
		}
		pairs := make([]KVPair, 0, len(args)/2)
		for i := 0; i < len(args); i += 2 {
			k, err := extractBytes(args[i])
			if err != nil {
				return nil, err
			}
			v, err := extractBytes(args[i+1])
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, KVPair{Key: k, Value: v})
		}
		return &Command{Kind: MSet, Name: upper, Pairs: pairs}, nil

	case "PING":
		cmd := &Command{Kind: Ping, Name: upper}
		if len(args) > 0 {
			msg, err := extractBytes(args[0])
			if err != nil {
				return nil, err
			}
			cmd.HasMessage = true
			cmd.Message = msg
		}
		return cmd, nil

	case "ECHO":
		if len(args) != 1 {
			return nil, ferr.WrongNumArgs("ECHO")
		}
		msg, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Echo, Name: upper, Message: msg}, nil

	case "INFO":
		cmd := &Command{Kind: Info, Name: upper}
		if len(args) > 0 {
			section, err := extractBytes(args[0])
			if err != nil {
				return nil, err
			}
			cmd.InfoSection = string(section)
		}
		return cmd, nil

	case "CONFIG":
		if len(args) == 0 {
			return nil, ferr.WrongNumArgs("CONFIG")
		}
		action, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		rest := make([][]byte, 0, len(args)-1)
		for _, a := range args[1:] {
			b, err := extractBytes(a)
			if err != nil {
				return nil, err
			}
			rest = append(rest, b)
		}
		return &Command{Kind: Config, Name: upper, ConfigAction: string(action), ConfigArgs: rest}, nil

	case "COMMAND":
		return &Command{Kind: CommandList, Name: upper}, nil

	case "QUIT":
		return &Command{Kind: Quit, Name: upper}, nil

	case "FLUSHDB":
		return &Command{Kind: FlushDB, Name: upper}, nil

	case "KEYS":
		if len(args) != 1 {
			return nil, ferr.WrongNumArgs("KEYS")
		}
		pattern, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Keys, Name: upper, Pattern: string(pattern)}, nil

	case "SCAN":
		if len(args) == 0 {
			return nil, ferr.WrongNumArgs("SCAN")
		}
		cursor, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		cmd := &Command{Kind: Scan, Name: upper, Cursor: cursor, Count: 10}
		i := 1
		for i < len(args) {
			opt, err := extractBytes(args[i])
			if err != nil {
				return nil, err
			}
			switch strings.ToUpper(string(opt)) {
			case "MATCH":
				if i+1 >= len(args) {
					return nil, ferr.ErrSyntax
				}
				p, err := extractBytes(args[i+1])
				if err != nil {
					return nil, err
				}
				cmd.Pattern = string(p)
				cmd.HasMatch = true
				i += 2
			case "COUNT":
				if i+1 >= len(args) {
					return nil, ferr.ErrSyntax
				}
				n, err := extractInteger(args[i+1])
				if err != nil {
					return nil, err
				}
				cmd.Count = int(n)
				i += 2
			default:
				return nil, ferr.ErrSyntax
			}
		}
		return cmd, nil

	case "JSONPATCH":
		if len(args) != 2 {
			return nil, ferr.WrongNumArgs("JSONPATCH")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		patch, err := extractBytes(args[1])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: JSONPatch, Name: upper, Key: key, Patch: patch}, nil

	case "CAS":
		if len(args) != 3 {
			return nil, ferr.WrongNumArgs("CAS")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		expected, err := extractBytes(args[1])
		if err != nil {
			return nil, err
		}
		newVal, err := extractBytes(args[2])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Cas, Name: upper, Key: key, Expected: expected, NewValue: newVal}, nil

	case "AUTH":
		if len(args) != 1 {
			return nil, ferr.WrongNumArgs("AUTH")
		}
		pw, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Auth, Name: upper, Password: pw}, nil

	case "LPUSH":
		key, vals, err := keyAndValues(args, "LPUSH")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: LPush, Name: upper, Key: key, Pairs: valuesAsPairs(vals)}, nil

	case "RPUSH":
		key, vals, err := keyAndValues(args, "RPUSH")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: RPush, Name: upper, Key: key, Pairs: valuesAsPairs(vals)}, nil

	case "LPOP":
		key, count, hasCount, err := keyAndOptionalCount(args, "LPOP")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: LPop, Name: upper, Key: key, Count: count, HasCount: hasCount}, nil

	case "RPOP":
		key, count, hasCount, err := keyAndOptionalCount(args, "RPOP")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: RPop, Name: upper, Key: key, Count: count, HasCount: hasCount}, nil

	case "LLEN":
		key, err := singleKey(args, "LLEN")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: LLen, Name: upper, Key: key}, nil

	case "LRANGE":
		if len(args) != 3 {
			return nil, ferr.WrongNumArgs("LRANGE")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		start, err := extractInteger(args[1])
		if err != nil {
			return nil, err
		}
		stop, err := extractInteger(args[2])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: LRange, Name: upper, Key: key, Start: start, Stop: stop}, nil

	case "LINDEX":
		key, idx, err := keyAndInt(args, "LINDEX")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: LIndex, Name: upper, Key: key, Index: idx}, nil

	case "HSET":
		if len(args) < 3 || len(args)%2 != 1 {
			return nil, ferr.WrongNumArgs("HSET")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		fvs := make([]FieldValue, 0, (len(args)-1)/2)
		for i := 1; i < len(args); i += 2 {
			f, err := extractBytes(args[i])
			if err != nil {
				return nil, err
			}
			v, err := extractBytes(args[i+1])
			if err != nil {
				return nil, err
			}
			fvs = append(fvs, FieldValue{Field: f, Value: v})
		}
		return &Command{Kind: HSet, Name: upper, Key: key, FieldValues: fvs}, nil

	case "HGET":
		if len(args) != 2 {
			return nil, ferr.WrongNumArgs("HGET")
		}
		key, field, err := keyAndField(args)
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HGet, Name: upper, Key: key, Fields: [][]byte{field}}, nil

	case "HMGET":
		if len(args) < 2 {
			return nil, ferr.WrongNumArgs("HMGET")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		fields, err := extractByteSlices(args[1:])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HMGet, Name: upper, Key: key, Fields: fields}, nil

	case "HDEL":
		if len(args) < 2 {
			return nil, ferr.WrongNumArgs("HDEL")
		}
		key, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		fields, err := extractByteSlices(args[1:])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HDel, Name: upper, Key: key, Fields: fields}, nil

	case "HEXISTS":
		if len(args) != 2 {
			return nil, ferr.WrongNumArgs("HEXISTS")
		}
		key, field, err := keyAndField(args)
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HExists, Name: upper, Key: key, Fields: [][]byte{field}}, nil

	case "HGETALL":
		key, err := singleKey(args, "HGETALL")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HGetAll, Name: upper, Key: key}, nil

	case "HLEN":
		key, err := singleKey(args, "HLEN")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HLen, Name: upper, Key: key}, nil

	case "HKEYS":
		key, err := singleKey(args, "HKEYS")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HKeys, Name: upper, Key: key}, nil

	case "HVALS":
		key, err := singleKey(args, "HVALS")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HVals, Name: upper, Key: key}, nil

	case "HINCRBY":
		if len(args) != 3 {
			return nil, ferr.WrongNumArgs("HINCRBY")
		}
		key, field, err := keyAndField(args)
		if err != nil {
			return nil, err
		}
		delta, err := extractInteger(args[2])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: HIncrBy, Name: upper, Key: key, Fields: [][]byte{field}, Delta: delta}, nil

	case "SUBSCRIBE":
		channels, err := extractStrings(args, "SUBSCRIBE")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Subscribe, Name: upper, Channels: channels}, nil

	case "UNSUBSCRIBE":
		channels, _ := extractStrings(args, "UNSUBSCRIBE")
		return &Command{Kind: Unsubscribe, Name: upper, Channels: channels}, nil

	case "PSUBSCRIBE":
		patterns, err := extractStrings(args, "PSUBSCRIBE")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: PSubscribe, Name: upper, Patterns: patterns}, nil

	case "PUNSUBSCRIBE":
		patterns, _ := extractStrings(args, "PUNSUBSCRIBE")
		return &Command{Kind: PUnsubscribe, Name: upper, Patterns: patterns}, nil

	case "PUBLISH":
		if len(args) != 2 {
			return nil, ferr.WrongNumArgs("PUBLISH")
		}
		channelB, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		msg, err := extractBytes(args[1])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Publish, Name: upper, Channels: []string{string(channelB)}, Message: msg}, nil

	case "PUBSUB":
		if len(args) == 0 {
			return nil, ferr.WrongNumArgs("PUBSUB")
		}
		sub, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		rest, err := extractStrings(args[1:], "PUBSUB")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: PubSub, Name: upper, PubSubSub: strings.ToUpper(string(sub)), PubSubArgs: rest}, nil

	case "CLIENT":
		if len(args) == 0 {
			return nil, ferr.WrongNumArgs("CLIENT")
		}
		sub, err := extractBytes(args[0])
		if err != nil {
			return nil, err
		}
		rest, err := extractByteSlices(args[1:])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Client, Name: upper, ClientSub: strings.ToUpper(string(sub)), ClientArgs: rest}, nil

	case "MULTI":
		return &Command{Kind: Multi, Name: upper}, nil
	case "EXEC":
		return &Command{Kind: Exec, Name: upper}, nil
	case "DISCARD":
		return &Command{Kind: Discard, Name: upper}, nil
	case "WATCH":
		keys, err := extractKeys(args, "WATCH")
		if err != nil {
			return nil, err
		}
		return &Command{Kind: Watch, Name: upper, Keys: keys}, nil
	case "UNWATCH":
		return &Command{Kind: Unwatch, Name: upper}, nil

	default:
		return nil, &ferr.UnknownCommandError{Cmd: string(name)}
	}
}

func extractBytes(v resp.Value) ([]byte, error) {
	switch v.Type {
	case resp.BulkString:
		if v.Null {
			return nil, ferr.ErrSyntax
		}
		return v.Bulk, nil
	case resp.SimpleString:
		return v.Str, nil
	default:
		return nil, ferr.ErrSyntax
	}
}

func extractInteger(v resp.Value) (int64, error) {
	switch v.Type {
	case resp.Integer:
		return v.Int, nil
	case resp.BulkString:
		if v.Null {
			return 0, ferr.ErrNotInteger
		}
		n, err := strconv.ParseInt(string(v.Bulk), 10, 64)
		if err != nil {
			return 0, ferr.ErrNotInteger
		}
		return n, nil
	default:
		return 0, ferr.ErrNotInteger
	}
}

func extractKeys(args []resp.Value, name string) ([][]byte, error) {
	if len(args) == 0 {
		return nil, ferr.WrongNumArgs(name)
	}
	return extractByteSlices(args)
}

func extractByteSlices(args []resp.Value) ([][]byte, error) {
	out := make([][]byte, 0, len(args))
	for _, a := range args {
		b, err := extractBytes(a)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func extractStrings(args []resp.Value, name string) ([]string, error) {
	bs, err := extractByteSlices(args)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out, nil
}

func singleKey(args []resp.Value, name string) ([]byte, error) {
	if len(args) != 1 {
		return nil, ferr.WrongNumArgs(name)
	}
	return extractBytes(args[0])
}

func keyAndInt(args []resp.Value, name string) ([]byte, int64, error) {
	if len(args) != 2 {
		return nil, 0, ferr.WrongNumArgs(name)
	}
	key, err := extractBytes(args[0])
	if err != nil {
		return nil, 0, err
	}
	n, err := extractInteger(args[1])
	if err != nil {
		return nil, 0, err
	}
	return key, n, nil
}

func keyAndField(args []resp.Value) ([]byte, []byte, error) {
	key, err := extractBytes(args[0])
	if err != nil {
		return nil, nil, err
	}
	field, err := extractBytes(args[1])
	if err != nil {
		return nil, nil, err
	}
	return key, field, nil
}

func keyAndValues(args []resp.Value, name string) ([]byte, [][]byte, error) {
	if len(args) < 2 {
		return nil, nil, ferr.WrongNumArgs(name)
	}
	key, err := extractBytes(args[0])
	if err != nil {
		return nil, nil, err
	}
	vals, err := extractByteSlices(args[1:])
	if err != nil {
		return nil, nil, err
	}
	return key, vals, nil
}

func valuesAsPairs(vals [][]byte) []KVPair {
	pairs := make([]KVPair, len(vals))
	for i, v := range vals {
		pairs[i] = KVPair{Value: v}
	}
	return pairs
}

func keyAndOptionalCount(args []resp.Value, name string) ([]byte, int, bool, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, 0, false, ferr.WrongNumArgs(name)
	}
	key, err := extractBytes(args[0])
	if err != nil {
		return nil, 0, false, err
	}
	if len(args) == 2 {
		n, err := extractInteger(args[1])
		if err != nil {
			return nil, 0, false, err
		}
		return key, int(n), true, nil
	}
	return key, 0, false, nil
}
