// Package conversation keeps per-pair ordered message history for the
// current session. Messages are ordered by sent timestamp with local
// arrival order breaking ties, and duplicates are suppressed by id so
// echoes and snapshot replays apply exactly once.
package conversation

import (
	"sort"
	"sync"

	"sfera/internal/content"
	"sfera/internal/models"
)

type Log struct {
	conversations map[string][]models.ChatMessage
	// index holds every message id ever applied this session.
	index   map[string]struct{}
	nextSeq int64

	mu sync.RWMutex
}

func NewLog() *Log {
	return &Log{
		conversations: make(map[string][]models.ChatMessage),
		index:         make(map[string]struct{}),
	}
}

// Append adds a message to its conversation. It returns false without
// touching state when the id was already applied. The message receives
// the next arrival sequence number and its rendered form.
func (l *Log) Append(msg models.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.index[msg.ID]; dup {
		return false
	}
	l.index[msg.ID] = struct{}{}

	l.nextSeq++
	msg.Seq = l.nextSeq
	if msg.RenderedContent == "" {
		msg.RenderedContent = content.Render(msg.Content)
	}

	key := models.PairKey(msg.FromUserID, msg.ToUserID)
	msgs := l.conversations[key]

	// A new arrival lands after every message with an equal or earlier
	// timestamp; only logically newer messages stay behind it.
	idx := len(msgs)
	for idx > 0 && msgs[idx-1].Timestamp > msg.Timestamp {
		idx--
	}
	msgs = append(msgs, models.ChatMessage{})
	copy(msgs[idx+1:], msgs[idx:])
	msgs[idx] = msg
	l.conversations[key] = msgs
	return true
}

// Messages returns a copy of the conversation between the two users,
// oldest first.
func (l *Log) Messages(a, b string) []models.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.conversations[models.PairKey(a, b)]
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Has reports whether a message id was already applied.
func (l *Log) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.index[id]
	return ok
}

// Conversations lists the known conversation keys.
func (l *Log) Conversations() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.conversations))
	for k := range l.conversations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Log) Len(a, b string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.conversations[models.PairKey(a, b)])
}
