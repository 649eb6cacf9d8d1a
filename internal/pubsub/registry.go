package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/lukluk/feoxd/internal/metrics"
)

// Stats mirrors PubSubStats: process-wide pub/sub counters. INFO does not
// report them.
type Stats struct {
	TotalChannels int64
	TotalPatterns int64
	TotalMessages int64
}

func (s *Stats) addChannels(delta int64) { atomic.AddInt64(&s.TotalChannels, delta) }
func (s *Stats) addPatterns(delta int64) { atomic.AddInt64(&s.TotalPatterns, delta) }
func (s *Stats) addMessages(delta int64) { atomic.AddInt64(&s.TotalMessages, delta) }

// BroadcastMsg is what one worker sends into another worker's bounded inbox
// to fan out a publish across the thread-per-core reactor.
type BroadcastMsg struct {
	Kind          BroadcastKind
	Channel       []byte
	Message       []byte
	ExcludeThread ThreadId
	HasExclude    bool
}

type BroadcastKind int

const (
	BroadcastPublish BroadcastKind = iota
	BroadcastPatternPublish
)

// GlobalRegistry is the process-wide index of which workers have a local
// subscriber interested in a channel or pattern, plus the bounded inboxes
// used to fan a PUBLISH out to them. Grounded on registry.rs's
// DashMap-backed GlobalRegistry; Go substitutes a single RWMutex-guarded
// set of maps, since the corpus doesn't carry a sharded-map dependency.
type GlobalRegistry struct {
	mu sync.RWMutex

	channelToThreads map[string]map[ThreadId]bool
	patternToThreads map[string]map[ThreadId]bool

	channelSubscriberCounts map[string]int
	patternSubscriberCounts map[string]int

	inboxes []chan BroadcastMsg

	Stats   *Stats
	metrics *metrics.Metrics
}

// inboxCapacity bounds each worker's cross-thread publish queue; a full
// inbox drops the message for that worker rather than blocking the
// publisher, matching the at-most-once remote delivery guarantee.
const inboxCapacity = 1024

// NewGlobalRegistry returns a registry wired with one bounded inbox per
// worker, and the receive side of each inbox for that worker to drain. m
// feeds the pub/sub interest gauges and the inbox-drop counter.
func NewGlobalRegistry(numWorkers int, m *metrics.Metrics) (*GlobalRegistry, []<-chan BroadcastMsg) {
	inboxes := make([]chan BroadcastMsg, numWorkers)
	recv := make([]<-chan BroadcastMsg, numWorkers)
	for i := range inboxes {
		inboxes[i] = make(chan BroadcastMsg, inboxCapacity)
		recv[i] = inboxes[i]
	}
	return &GlobalRegistry{
		channelToThreads:        make(map[string]map[ThreadId]bool),
		patternToThreads:        make(map[string]map[ThreadId]bool),
		channelSubscriberCounts: make(map[string]int),
		patternSubscriberCounts: make(map[string]int),
		inboxes:                 inboxes,
		Stats:                   &Stats{},
		metrics:                 m,
	}, recv
}

func (r *GlobalRegistry) AddChannelInterest(channel []byte, thread ThreadId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.channelToThreads[string(channel)]
	if !ok {
		set = make(map[ThreadId]bool)
		r.channelToThreads[string(channel)] = set
	}
	if !set[thread] {
		set[thread] = true
		r.Stats.addChannels(1)
		r.metrics.ChannelInterestGauge.Set(float64(atomic.LoadInt64(&r.Stats.TotalChannels)))
	}
}

func (r *GlobalRegistry) RemoveChannelInterest(channel []byte, thread ThreadId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.channelToThreads[string(channel)]
	if !ok {
		return
	}
	if set[thread] {
		delete(set, thread)
		r.Stats.addChannels(-1)
		r.metrics.ChannelInterestGauge.Set(float64(atomic.LoadInt64(&r.Stats.TotalChannels)))
	}
	if len(set) == 0 {
		delete(r.channelToThreads, string(channel))
	}
}

func (r *GlobalRegistry) AddPatternInterest(pattern []byte, thread ThreadId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.patternToThreads[string(pattern)]
	if !ok {
		set = make(map[ThreadId]bool)
		r.patternToThreads[string(pattern)] = set
	}
	if !set[thread] {
		set[thread] = true
		r.Stats.addPatterns(1)
		r.metrics.PatternInterestGauge.Set(float64(atomic.LoadInt64(&r.Stats.TotalPatterns)))
	}
}

func (r *GlobalRegistry) RemovePatternInterest(pattern []byte, thread ThreadId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.patternToThreads[string(pattern)]
	if !ok {
		return
	}
	if set[thread] {
		delete(set, thread)
		r.Stats.addPatterns(-1)
		r.metrics.PatternInterestGauge.Set(float64(atomic.LoadInt64(&r.Stats.TotalPatterns)))
	}
	if len(set) == 0 {
		delete(r.patternToThreads, string(pattern))
	}
}

func (r *GlobalRegistry) GetChannelThreads(channel []byte) []ThreadId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.channelToThreads[string(channel)]
	if !ok {
		return nil
	}
	out := make([]ThreadId, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

func (r *GlobalRegistry) GetAllPatternThreads() []ThreadId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[ThreadId]bool)
	for _, set := range r.patternToThreads {
		for t := range set {
			seen[t] = true
		}
	}
	out := make([]ThreadId, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// BroadcastToThreads try-sends msg to each of the given workers' inboxes. A
// full inbox silently drops the message for that worker.
func (r *GlobalRegistry) BroadcastToThreads(msg BroadcastMsg, threads []ThreadId) {
	r.Stats.addMessages(1)
	for _, t := range threads {
		if int(t) >= 0 && int(t) < len(r.inboxes) {
			select {
			case r.inboxes[t] <- msg:
			default:
				r.metrics.PubSubInboxDropped.Inc()
			}
		}
	}
}

func (r *GlobalRegistry) BroadcastToAllThreads(msg BroadcastMsg, exclude ThreadId, hasExclude bool) {
	r.Stats.addMessages(1)
	for i, inbox := range r.inboxes {
		if hasExclude && ThreadId(i) == exclude {
			continue
		}
		select {
		case inbox <- msg:
		default:
			r.metrics.PubSubInboxDropped.Inc()
		}
	}
}

func (r *GlobalRegistry) GetAllChannels() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][]byte, 0, len(r.channelToThreads))
	for c := range r.channelToThreads {
		out = append(out, []byte(c))
	}
	return out
}

func (r *GlobalRegistry) GetChannelSubscriberCount(channel []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channelSubscriberCounts[string(channel)]
}

func (r *GlobalRegistry) IncrementChannelSubscribers(channel []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelSubscriberCounts[string(channel)]++
}

func (r *GlobalRegistry) DecrementChannelSubscribers(channel []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := string(channel)
	if r.channelSubscriberCounts[k] > 0 {
		r.channelSubscriberCounts[k]--
	}
	if r.channelSubscriberCounts[k] == 0 {
		delete(r.channelSubscriberCounts, k)
	}
}

func (r *GlobalRegistry) IncrementPatternSubscribers(pattern []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patternSubscriberCounts[string(pattern)]++
}

func (r *GlobalRegistry) DecrementPatternSubscribers(pattern []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := string(pattern)
	if r.patternSubscriberCounts[k] > 0 {
		r.patternSubscriberCounts[k]--
	}
	if r.patternSubscriberCounts[k] == 0 {
		delete(r.patternSubscriberCounts, k)
	}
}

func (r *GlobalRegistry) GetPatternSubscriberCount(pattern []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.patternSubscriberCounts[string(pattern)]
}

// GetTotalPatternMatches sums the subscriber counts of every registered
// pattern that glob-matches channel, for PUBLISH's return value.
func (r *GlobalRegistry) GetTotalPatternMatches(channel []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for pattern, count := range r.patternSubscriberCounts {
		if GlobMatch([]byte(pattern), channel) {
			total += count
		}
	}
	return total
}

func (r *GlobalRegistry) GetPatternCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patternToThreads)
}

// GlobMatch is the same '*'/'?'-only glob used by the registry to total
// pattern-subscriber counts for PUBLISH; the fuller KEYS/SCAN matcher
// additionally understands character classes (see command.GlobMatch).
func GlobMatch(pattern, text []byte) bool {
	var p, t int
	starIdx := -1
	matchIdx := 0

	for t < len(text) {
		if p < len(pattern) && (pattern[p] == text[t] || pattern[p] == '?') {
			p++
			t++
		} else if p < len(pattern) && pattern[p] == '*' {
			starIdx = p
			matchIdx = t
			p++
		} else if starIdx != -1 {
			p = starIdx + 1
			matchIdx++
			t = matchIdx
		} else {
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
