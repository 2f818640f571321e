// Package history keeps a bounded in-memory window of recent messages
// per conversation on the relay server. It backs the initialState
// snapshot sent to a client on every (re)connection; durable message
// storage is deliberately out of scope.
package history

import (
	"sync"

	"sfera/internal/models"
)

// Ring is a fixed-capacity message buffer; once full, the oldest record
// is overwritten.
type Ring struct {
	records   []models.ChatMessage
	lastIndex int
	max       int

	mu sync.RWMutex
}

func NewRing(max int) *Ring {
	return &Ring{
		lastIndex: -1,
		max:       max,
	}
}

func (r *Ring) Add(msg models.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) < r.max {
		r.records = append(r.records, msg)
		r.lastIndex++
		return
	}
	i := (r.lastIndex + 1) % r.max
	r.records[i] = msg
	r.lastIndex = i
}

// Last returns up to count most recent records, oldest first.
func (r *Ring) Last(count int) []models.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.records)
	if count > n {
		count = n
	}
	if count <= 0 {
		return nil
	}

	out := make([]models.ChatMessage, 0, count)
	head := 0
	if n == r.max {
		head = (r.lastIndex + 1) % r.max
	}
	for i := n - count; i < n; i++ {
		out = append(out, r.records[(head+i)%n])
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

type entry struct {
	a, b string
	ring *Ring
}

// Store holds one ring per conversation pair.
type Store struct {
	entries map[string]*entry
	perConv int

	mu sync.RWMutex
}

func NewStore(perConversation int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		perConv: perConversation,
	}
}

func (s *Store) Add(msg models.ChatMessage) {
	key := models.PairKey(msg.FromUserID, msg.ToUserID)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{a: msg.FromUserID, b: msg.ToUserID, ring: NewRing(s.perConv)}
		s.entries[key] = e
	}
	s.mu.Unlock()

	e.ring.Add(msg)
}

// RecentFor collects the recent window of every conversation the user
// participates in, for snapshot assembly.
func (s *Store) RecentFor(userID string, perConversation int) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ChatMessage
	for _, e := range s.entries {
		if e.a != userID && e.b != userID {
			continue
		}
		out = append(out, e.ring.Last(perConversation)...)
	}
	return out
}
