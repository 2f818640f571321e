package models

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrEmptyContent      = errors.New("message content is empty")
	ErrDuplicateRequest  = errors.New("friend request already active for pair")
	ErrInvalidTransition = errors.New("invalid friend request status transition")
	ErrNotConnected      = errors.New("not connected")
	ErrConnectionFailed  = errors.New("connection failed: retry attempts exhausted")
)

// Position is a point in the 3D scene, serialized on the wire as [x, y, z].
type Position [3]float64

// User represents a remote user tracked by the presence registry.
// An offline user keeps its last known position and profile until
// the server announces it left for good.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Color          string    `json:"color"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	Online         bool      `json:"online"`
	Position       *Position `json:"position,omitempty"`
}

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

// ValidTransition reports whether a friend request may move from one
// status to another. Terminal states never change.
func ValidTransition(from, to FriendRequestStatus) bool {
	if from == to {
		return true
	}
	return from == FriendRequestPending &&
		(to == FriendRequestAccepted || to == FriendRequestRejected)
}

// FriendRequest tracks the lifecycle of a request between two users.
type FriendRequest struct {
	ID         string              `json:"id"`
	FromUserID string              `json:"fromUserId"`
	ToUserID   string              `json:"toUserId"`
	Status     FriendRequestStatus `json:"status"`
}

// Pair returns the conversation-style key for the request's user pair.
func (r FriendRequest) Pair() string {
	return PairKey(r.FromUserID, r.ToUserID)
}

// ChatMessage is a single direct message. Seq is assigned locally on
// receipt and breaks ordering ties between equal timestamps; it never
// travels on the wire.
type ChatMessage struct {
	ID         string `json:"id"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Content    string `json:"content"`
	// RenderedContent is sanitized HTML derived from Content for display.
	RenderedContent string `json:"renderedContent,omitempty"`
	Timestamp       int64  `json:"timestamp"` // Unix milliseconds
	Seq             int64  `json:"-"`
}

// PairKey builds a deterministic key for an unordered pair of user ids.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// ConnState is the lifecycle state of the single session connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)
