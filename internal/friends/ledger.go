// Package friends tracks the friend request lifecycle between identity
// pairs. At most one non-rejected request may exist per unordered pair,
// and terminal statuses never change.
package friends

import (
	"fmt"
	"sort"
	"sync"

	"sfera/internal/models"
)

type Ledger struct {
	requests map[string]models.FriendRequest
	// activePair maps pair key -> id of the pending or accepted request.
	activePair map[string]string

	mu sync.RWMutex
}

func NewLedger() *Ledger {
	return &Ledger{
		requests:   make(map[string]models.FriendRequest),
		activePair: make(map[string]string),
	}
}

// Upsert applies a new or updated request. A request unknown by id is
// created unless the pair already has an active one; a known request may
// only follow the pending -> accepted/rejected transitions. Anything
// else (including status downgrades from the wire) is rejected.
func (l *Ledger) Upsert(req models.FriendRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, known := l.requests[req.ID]
	if !known {
		if activeID, ok := l.activePair[req.Pair()]; ok && activeID != req.ID {
			return fmt.Errorf("pair %s has request %s: %w", req.Pair(), activeID, models.ErrDuplicateRequest)
		}
		l.apply(req)
		return nil
	}

	if !models.ValidTransition(prev.Status, req.Status) {
		return fmt.Errorf("%s -> %s for request %s: %w",
			prev.Status, req.Status, req.ID, models.ErrInvalidTransition)
	}
	// Identity fields are immutable once the request exists.
	req.FromUserID = prev.FromUserID
	req.ToUserID = prev.ToUserID
	l.apply(req)
	return nil
}

func (l *Ledger) apply(req models.FriendRequest) {
	l.requests[req.ID] = req
	if req.Status == models.FriendRequestRejected {
		if l.activePair[req.Pair()] == req.ID {
			delete(l.activePair, req.Pair())
		}
		return
	}
	l.activePair[req.Pair()] = req.ID
}

// Respond resolves a pending request. Only pending requests accept a
// response; the returned copy reflects the new terminal status.
func (l *Ledger) Respond(id string, accept bool) (models.FriendRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[id]
	if !ok {
		return models.FriendRequest{}, fmt.Errorf("request %s: %w", id, models.ErrNotFound)
	}
	if req.Status != models.FriendRequestPending {
		return models.FriendRequest{}, fmt.Errorf("request %s is %s: %w",
			id, req.Status, models.ErrInvalidTransition)
	}

	if accept {
		req.Status = models.FriendRequestAccepted
	} else {
		req.Status = models.FriendRequestRejected
	}
	l.apply(req)
	return req, nil
}

// HasActive reports whether a pending or accepted request exists for the
// unordered pair. Used to reject duplicate outbound requests locally.
func (l *Ledger) HasActive(a, b string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.activePair[models.PairKey(a, b)]
	return ok
}

func (l *Ledger) Get(id string) (models.FriendRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	req, ok := l.requests[id]
	return req, ok
}

// Filter narrows List results; zero value matches everything.
type Filter struct {
	Status models.FriendRequestStatus
	// UserID keeps only requests the given user participates in.
	UserID string
}

func (f Filter) match(req models.FriendRequest) bool {
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if f.UserID != "" && req.FromUserID != f.UserID && req.ToUserID != f.UserID {
		return false
	}
	return true
}

func (l *Ledger) List(f Filter) []models.FriendRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.FriendRequest
	for _, req := range l.requests {
		if f.match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
