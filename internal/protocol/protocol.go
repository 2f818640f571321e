// Package protocol defines the wire format shared by the session layer
// and the relay server: a named event plus a JSON payload. Every inbound
// envelope is decoded into a closed set of typed events before any state
// logic runs; anything outside that set is a protocol violation.
package protocol

import (
	"encoding/json"
	"fmt"

	"sfera/internal/models"
)

type EventName string

const (
	// client -> server
	EventUserOnline        EventName = "userOnline"
	EventUserOffline       EventName = "userOffline"
	EventSendMessage       EventName = "sendMessage"
	EventSendFriendRequest EventName = "sendFriendRequest"
	EventUpdatePosition    EventName = "updatePosition"

	// server -> client
	EventUserConnected      EventName = "userConnected"
	EventUserDisconnected   EventName = "userDisconnected"
	EventUserLeft           EventName = "userLeft"
	EventUserPositionUpdate EventName = "userPositionUpdate"
	EventInitialState       EventName = "initialState"
	EventChatMessage        EventName = "chatMessage"
	EventError              EventName = "error"

	// both directions: the responder reports accept/reject with the same
	// event the server uses to fan out ledger changes.
	EventFriendRequestUpdate EventName = "friendRequestUpdate"
)

// Envelope is the unit of transfer on the websocket.
type Envelope struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(event EventName, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: data}, nil
}

// ViolationError marks an inbound envelope that cannot be applied:
// unknown event name, malformed payload or missing required fields.
type ViolationError struct {
	Event  EventName
	Reason string
	Err    error
}

func (e *ViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol violation on %q: %s: %v", e.Event, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol violation on %q: %s", e.Event, e.Reason)
}

func (e *ViolationError) Unwrap() error { return e.Err }

func violation(event EventName, reason string, err error) error {
	return &ViolationError{Event: event, Reason: reason, Err: err}
}

// UserData is the profile snapshot carried with presence announcements.
type UserData struct {
	Name           string `json:"name"`
	Color          string `json:"color"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

type UserOnline struct {
	UserID   string   `json:"userId"`
	UserData UserData `json:"userData"`
}

type UserOffline struct {
	UserID string `json:"userId"`
}

// SendMessage carries a client-assigned MessageID so the sender can
// reconcile the server echo with its optimistic local copy.
type SendMessage struct {
	MessageID  string `json:"messageId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

// SendFriendRequest carries a client-assigned RequestID for the same
// reason SendMessage does: the echoed friendRequestUpdate must land on
// the optimistic local entry instead of creating a second one.
type SendFriendRequest struct {
	RequestID  string `json:"requestId"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
}

type UpdatePosition struct {
	UserID   string          `json:"userId"`
	Position models.Position `json:"position"`
}

type UserConnected struct {
	UserID   string           `json:"userId"`
	UserData UserData         `json:"userData"`
	Position *models.Position `json:"position,omitempty"`
}

type UserDisconnected struct {
	UserID string `json:"userId"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type UserPositionUpdate struct {
	UserID   string          `json:"userId"`
	Position models.Position `json:"position"`
}

// SnapshotUser is a presence entry inside an initialState snapshot.
type SnapshotUser struct {
	UserID   string           `json:"userId"`
	UserData UserData         `json:"userData"`
	Online   bool             `json:"online"`
	Position *models.Position `json:"position,omitempty"`
}

// InitialState is the full resync payload sent once per successful
// connection. It is authoritative for everything missed while offline.
type InitialState struct {
	Users    []SnapshotUser `json:"users"`
	Messages []WireMessage  `json:"messages"`
}

type WireMessage struct {
	ID         string `json:"id"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

type FriendRequestUpdate struct {
	ID         string                     `json:"id"`
	FromUserID string                     `json:"fromUserId"`
	ToUserID   string                     `json:"toUserId"`
	Status     models.FriendRequestStatus `json:"status"`
}

func (f FriendRequestUpdate) Request() models.FriendRequest {
	return models.FriendRequest{
		ID:         f.ID,
		FromUserID: f.FromUserID,
		ToUserID:   f.ToUserID,
		Status:     f.Status,
	}
}

type ErrorNotice struct {
	Message string `json:"message"`
}

// Event is the closed set of decoded wire events.
type Event interface{ isEvent() }

func (UserOnline) isEvent()          {}
func (UserOffline) isEvent()         {}
func (SendMessage) isEvent()         {}
func (SendFriendRequest) isEvent()   {}
func (UpdatePosition) isEvent()      {}
func (UserConnected) isEvent()       {}
func (UserDisconnected) isEvent()    {}
func (UserLeft) isEvent()            {}
func (UserPositionUpdate) isEvent()  {}
func (InitialState) isEvent()        {}
func (WireMessage) isEvent()         {}
func (FriendRequestUpdate) isEvent() {}
func (ErrorNotice) isEvent()         {}

func decodePayload(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return violation(env.Event, "malformed payload", err)
	}
	return nil
}

// DecodeServerEvent decodes an envelope received by the client.
func DecodeServerEvent(env Envelope) (Event, error) {
	switch env.Event {
	case EventUserConnected:
		var p UserConnected
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, violation(env.Event, "missing userId", nil)
		}
		return p, nil
	case EventUserDisconnected:
		var p UserDisconnected
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, violation(env.Event, "missing userId", nil)
		}
		return p, nil
	case EventUserLeft:
		var p UserLeft
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, violation(env.Event, "missing userId", nil)
		}
		return p, nil
	case EventUserPositionUpdate:
		var p UserPositionUpdate
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, violation(env.Event, "missing userId", nil)
		}
		return p, nil
	case EventInitialState:
		var p InitialState
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil
	case EventChatMessage:
		var p WireMessage
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.FromUserID == "" || p.ToUserID == "" {
			return nil, violation(env.Event, "missing message identity fields", nil)
		}
		return p, nil
	case EventFriendRequestUpdate:
		var p FriendRequestUpdate
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.FromUserID == "" || p.ToUserID == "" {
			return nil, violation(env.Event, "missing request identity fields", nil)
		}
		return p, nil
	case EventError:
		var p ErrorNotice
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, violation(env.Event, "unknown server event", nil)
}

// DecodeClientEvent decodes an envelope received by the relay server.
func DecodeClientEvent(env Envelope) (Event, error) {
	switch env.Event {
	case EventUserOnline:
		var p UserOnline
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, violation(env.Event, "missing userId", nil)
		}
		return p, nil
	case EventUserOffline:
		var p UserOffline
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, violation(env.Event, "missing userId", nil)
		}
		return p, nil
	case EventSendMessage:
		var p SendMessage
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.FromUserID == "" || p.ToUserID == "" {
			return nil, violation(env.Event, "missing sender or recipient", nil)
		}
		return p, nil
	case EventSendFriendRequest:
		var p SendFriendRequest
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.FromUserID == "" || p.ToUserID == "" {
			return nil, violation(env.Event, "missing sender or recipient", nil)
		}
		return p, nil
	case EventUpdatePosition:
		var p UpdatePosition
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, violation(env.Event, "missing userId", nil)
		}
		return p, nil
	case EventFriendRequestUpdate:
		var p FriendRequestUpdate
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, violation(env.Event, "missing request id", nil)
		}
		return p, nil
	}
	return nil, violation(env.Event, "unknown client event", nil)
}
