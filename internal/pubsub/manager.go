package pubsub

// ThreadLocalPubSub is the per-worker pub/sub table: exact-channel and
// pattern subscriptions local to this worker's connections, plus the
// reverse indexes needed to answer "how many things is this connection
// subscribed to" and to tear everything down when a connection drops.
// Grounded on manager.rs's ThreadLocalPubSub; not safe for concurrent use
// since each worker owns exactly one and runs it on its own goroutine.
type ThreadLocalPubSub struct {
	threadID ThreadId

	exactSubs   map[string][]ConnectionId
	patternTrie *PatternTrie
	patternSubs map[string][]ConnectionId

	inbox <-chan BroadcastMsg

	registry *GlobalRegistry

	connectionChannels map[ConnectionId][][]byte
	connectionPatterns map[ConnectionId][][]byte
}

func NewThreadLocalPubSub(threadID ThreadId, inbox <-chan BroadcastMsg, registry *GlobalRegistry) *ThreadLocalPubSub {
	return &ThreadLocalPubSub{
		threadID:           threadID,
		exactSubs:          make(map[string][]ConnectionId),
		patternTrie:        NewPatternTrie(),
		patternSubs:        make(map[string][]ConnectionId),
		inbox:              inbox,
		registry:           registry,
		connectionChannels: make(map[ConnectionId][][]byte),
		connectionPatterns: make(map[ConnectionId][][]byte),
	}
}

func containsConn(ids []ConnectionId, id ConnectionId) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func removeConn(ids []ConnectionId, id ConnectionId) []ConnectionId {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func removeBytes(list [][]byte, target []byte) [][]byte {
	out := list[:0]
	for _, b := range list {
		if string(b) != string(target) {
			out = append(out, b)
		}
	}
	return out
}

func (m *ThreadLocalPubSub) Subscribe(conn ConnectionId, channels [][]byte) []PubSubMessage {
	var messages []PubSubMessage

	for _, channel := range channels {
		key := string(channel)
		_, hadChannel := m.exactSubs[key]
		isNewChannel := !hadChannel
		alreadySubscribed := containsConn(m.exactSubs[key], conn)

		if !alreadySubscribed {
			m.exactSubs[key] = append(m.exactSubs[key], conn)
			m.connectionChannels[conn] = append(m.connectionChannels[conn], channel)
			m.registry.IncrementChannelSubscribers(channel)
		}

		if isNewChannel {
			m.registry.AddChannelInterest(channel, m.threadID)
		}

		total := len(m.connectionChannels[conn]) + len(m.connectionPatterns[conn])
		messages = append(messages, PubSubMessage{
			Kind: MsgSubscribe, Channel: channel, Count: total,
		})
	}

	return messages
}

func (m *ThreadLocalPubSub) subscriptionCount(conn ConnectionId) int {
	return len(m.connectionChannels[conn]) + len(m.connectionPatterns[conn])
}

// GetSubscriptionCount reports how many channels and patterns conn is
// currently subscribed to on this worker, for driving a connection's
// pub-sub-mode gate after a Subscribe/Unsubscribe/PSubscribe/PUnsubscribe.
func (m *ThreadLocalPubSub) GetSubscriptionCount(conn ConnectionId) int {
	return m.subscriptionCount(conn)
}

// GetSubCounts reports the channel and pattern subscription counts
// separately, for CLIENT LIST/INFO's sub=/psub= fields.
func (m *ThreadLocalPubSub) GetSubCounts(conn ConnectionId) (sub, psub int) {
	return len(m.connectionChannels[conn]), len(m.connectionPatterns[conn])
}

// Unsubscribe removes the given channels, or (if all is true) every
// channel the connection is subscribed to.
func (m *ThreadLocalPubSub) Unsubscribe(conn ConnectionId, channels [][]byte, all bool) []PubSubMessage {
	var messages []PubSubMessage

	if !all {
		for _, channel := range channels {
			key := string(channel)
			shouldRemoveInterest := false

			if subs, ok := m.exactSubs[key]; ok {
				wasSubscribed := containsConn(subs, conn)
				subs = removeConn(subs, conn)
				if wasSubscribed {
					m.registry.DecrementChannelSubscribers(channel)
				}
				if len(subs) == 0 {
					delete(m.exactSubs, key)
					shouldRemoveInterest = true
				} else {
					m.exactSubs[key] = subs
				}
			}

			m.connectionChannels[conn] = removeBytes(m.connectionChannels[conn], channel)

			if shouldRemoveInterest {
				m.registry.RemoveChannelInterest(channel, m.threadID)
			}

			messages = append(messages, PubSubMessage{
				Kind: MsgUnsubscribe, Channel: channel, HasChannelOrPattern: true,
				Count: m.subscriptionCount(conn),
			})
		}
		return messages
	}

	connChannels := m.connectionChannels[conn]
	delete(m.connectionChannels, conn)
	for _, channel := range connChannels {
		key := string(channel)
		if subs, ok := m.exactSubs[key]; ok {
			wasSubscribed := containsConn(subs, conn)
			subs = removeConn(subs, conn)
			if wasSubscribed {
				m.registry.DecrementChannelSubscribers(channel)
			}
			if len(subs) == 0 {
				delete(m.exactSubs, key)
				m.registry.RemoveChannelInterest(channel, m.threadID)
			} else {
				m.exactSubs[key] = subs
			}
		}
		messages = append(messages, PubSubMessage{
			Kind: MsgUnsubscribe, Channel: channel, HasChannelOrPattern: true,
			Count: m.subscriptionCount(conn),
		})
	}
	return messages
}

func (m *ThreadLocalPubSub) PSubscribe(conn ConnectionId, patterns [][]byte) []PubSubMessage {
	var messages []PubSubMessage

	for _, pattern := range patterns {
		key := string(pattern)
		_, exists := m.patternSubs[key]
		isNewPattern := !exists
		alreadySubscribed := containsConn(m.patternSubs[key], conn)

		if !alreadySubscribed {
			m.patternTrie.Insert(pattern, conn)
			m.patternSubs[key] = append(m.patternSubs[key], conn)
			m.connectionPatterns[conn] = append(m.connectionPatterns[conn], pattern)
			m.registry.IncrementPatternSubscribers(pattern)
		}

		if isNewPattern {
			m.registry.AddPatternInterest(pattern, m.threadID)
		}

		total := len(m.connectionChannels[conn]) + len(m.connectionPatterns[conn])
		messages = append(messages, PubSubMessage{
			Kind: MsgPSubscribe, Pattern: pattern, Count: total,
		})
	}

	return messages
}

func (m *ThreadLocalPubSub) PUnsubscribe(conn ConnectionId, patterns [][]byte, all bool) []PubSubMessage {
	var messages []PubSubMessage

	if !all {
		for _, pattern := range patterns {
			key := string(pattern)
			shouldRemoveInterest := false

			m.patternTrie.Remove(pattern, conn)

			if subs, ok := m.patternSubs[key]; ok {
				wasSubscribed := containsConn(subs, conn)
				subs = removeConn(subs, conn)
				if wasSubscribed {
					m.registry.DecrementPatternSubscribers(pattern)
				}
				if len(subs) == 0 {
					delete(m.patternSubs, key)
					shouldRemoveInterest = true
				} else {
					m.patternSubs[key] = subs
				}
			}

			m.connectionPatterns[conn] = removeBytes(m.connectionPatterns[conn], pattern)

			if shouldRemoveInterest {
				m.registry.RemovePatternInterest(pattern, m.threadID)
			}

			messages = append(messages, PubSubMessage{
				Kind: MsgPUnsubscribe, Pattern: pattern, HasChannelOrPattern: true,
				Count: m.subscriptionCount(conn),
			})
		}
		return messages
	}

	connPatterns := m.connectionPatterns[conn]
	delete(m.connectionPatterns, conn)
	for _, pattern := range connPatterns {
		key := string(pattern)
		m.patternTrie.Remove(pattern, conn)
		if subs, ok := m.patternSubs[key]; ok {
			wasSubscribed := containsConn(subs, conn)
			subs = removeConn(subs, conn)
			if wasSubscribed {
				m.registry.DecrementPatternSubscribers(pattern)
			}
			if len(subs) == 0 {
				delete(m.patternSubs, key)
				m.registry.RemovePatternInterest(pattern, m.threadID)
			} else {
				m.patternSubs[key] = subs
			}
		}
		messages = append(messages, PubSubMessage{
			Kind: MsgPUnsubscribe, Pattern: pattern, HasChannelOrPattern: true,
			Count: m.subscriptionCount(conn),
		})
	}
	return messages
}

// PublishLocal computes the deliveries a PUBLISH on this worker makes to
// this worker's own connections: exact-match subscribers plus every
// pattern-trie match.
func (m *ThreadLocalPubSub) PublishLocal(channel, message []byte) []Delivery {
	var deliveries []Delivery

	if subs, ok := m.exactSubs[string(channel)]; ok {
		for _, conn := range subs {
			deliveries = append(deliveries, Delivery{
				Conn: conn,
				Msg:  PubSubMessage{Kind: MsgMessage, Channel: channel, Payload: message},
			})
		}
	}

	for _, match := range m.patternTrie.FindMatches(channel) {
		deliveries = append(deliveries, Delivery{
			Conn: match.Conn,
			Msg:  PubSubMessage{Kind: MsgPatternMessage, Pattern: match.Pattern, Channel: channel, Payload: message},
		})
	}

	return deliveries
}

// ProcessInbox drains every BroadcastMsg queued by other workers since the
// last call and returns the local deliveries it produces. Call this once
// per reactor tick, before polling for I/O readiness.
func (m *ThreadLocalPubSub) ProcessInbox() []Delivery {
	var deliveries []Delivery

	for {
		var msg BroadcastMsg
		select {
		case v, ok := <-m.inbox:
			if !ok {
				return deliveries
			}
			msg = v
		default:
			return deliveries
		}

		if msg.HasExclude && msg.ExcludeThread == m.threadID {
			continue
		}

		switch msg.Kind {
		case BroadcastPublish:
			deliveries = append(deliveries, m.PublishLocal(msg.Channel, msg.Message)...)
		case BroadcastPatternPublish:
			for _, match := range m.patternTrie.FindMatches(msg.Channel) {
				deliveries = append(deliveries, Delivery{
					Conn: match.Conn,
					Msg:  PubSubMessage{Kind: MsgPatternMessage, Pattern: match.Pattern, Channel: msg.Channel, Payload: msg.Message},
				})
			}
		}
	}
}

// ConnectionDropped unsubscribes conn from everything it was subscribed to
// on this worker.
func (m *ThreadLocalPubSub) ConnectionDropped(conn ConnectionId) {
	m.Unsubscribe(conn, nil, true)
	m.PUnsubscribe(conn, nil, true)
}

func (m *ThreadLocalPubSub) IsConnectionSubscribed(conn ConnectionId) bool {
	return len(m.connectionChannels[conn]) > 0 || len(m.connectionPatterns[conn]) > 0
}

func (m *ThreadLocalPubSub) GetAllChannels() [][]byte {
	out := make([][]byte, 0, len(m.exactSubs))
	for c := range m.exactSubs {
		out = append(out, []byte(c))
	}
	return out
}

func (m *ThreadLocalPubSub) GetAllPatterns() [][]byte {
	out := make([][]byte, 0, len(m.patternSubs))
	for p := range m.patternSubs {
		out = append(out, []byte(p))
	}
	return out
}
