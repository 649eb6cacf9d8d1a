package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternTrieExactWildcard(t *testing.T) {
	trie := NewPatternTrie()
	trie.Insert([]byte("news.*"), ConnectionId(1))

	matches := trie.FindMatches([]byte("news.tech"))
	assert.Len(t, matches, 1)
	assert.Equal(t, ConnectionId(1), matches[0].Conn)

	matches = trie.FindMatches([]byte("sports.ball"))
	assert.Len(t, matches, 0)
}

func TestPatternTrieSingleCharAndClass(t *testing.T) {
	trie := NewPatternTrie()
	trie.Insert([]byte("h?llo"), ConnectionId(1))
	trie.Insert([]byte("h[ae]llo"), ConnectionId(2))

	assert.Len(t, trie.FindMatches([]byte("hello")), 2)
	assert.Len(t, trie.FindMatches([]byte("hallo")), 2)
}

func TestPatternTrieRemove(t *testing.T) {
	trie := NewPatternTrie()
	trie.Insert([]byte("a.*"), ConnectionId(1))
	assert.True(t, trie.Remove([]byte("a.*"), ConnectionId(1)))
	assert.Len(t, trie.FindMatches([]byte("a.b")), 0)
}

func TestPatternTrieTrailingStarMatchesEmptyTail(t *testing.T) {
	trie := NewPatternTrie()
	trie.Insert([]byte("news.*"), ConnectionId(1))
	matches := trie.FindMatches([]byte("news."))
	assert.Len(t, matches, 1)
}

func TestRegistryGlobMatch(t *testing.T) {
	assert.True(t, GlobMatch([]byte("news.*"), []byte("news.tech")))
	assert.False(t, GlobMatch([]byte("news.*"), []byte("sports.ball")))
}
