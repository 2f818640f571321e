// Package dispatch wires inbound wire events to mutations on the local
// state stores and forwards local intents to the session layer. It is
// the only component that touches the stores on behalf of the wire, and
// the only source of outbound events.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sfera/internal/content"
	"sfera/internal/conversation"
	"sfera/internal/friends"
	"sfera/internal/models"
	"sfera/internal/presence"
	"sfera/internal/protocol"
)

// Sender is the slice of the session manager the coordinator needs.
type Sender interface {
	Connect(ctx context.Context)
	Disconnect()
	Send(event protocol.EventName, payload any) error
	State() models.ConnState
}

type Coordinator struct {
	self models.User
	conn Sender
	log  zerolog.Logger

	users    *presence.Registry
	requests *friends.Ledger
	messages *conversation.Log

	now   func() time.Time
	newID func() string
}

func New(self models.User, conn Sender, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		self:     self,
		conn:     conn,
		log:      logger.With().Str("component", "dispatch").Logger(),
		users:    presence.NewRegistry(),
		requests: friends.NewLedger(),
		messages: conversation.NewLog(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// HandleEnvelope decodes and applies one inbound envelope. Malformed or
// unknown events are dropped and logged; they never crash the loop and
// never touch the stores.
func (c *Coordinator) HandleEnvelope(env protocol.Envelope) {
	ev, err := protocol.DecodeServerEvent(env)
	if err != nil {
		c.log.Warn().Err(err).Str("event", string(env.Event)).Msg("dropping inbound event")
		return
	}

	switch ev := ev.(type) {
	case protocol.UserConnected:
		if ev.UserID == c.self.ID {
			return
		}
		c.users.Upsert(models.User{
			ID:             ev.UserID,
			Name:           ev.UserData.Name,
			Color:          ev.UserData.Color,
			ProfilePicture: ev.UserData.ProfilePicture,
			Online:         true,
			Position:       ev.Position,
		})

	case protocol.UserDisconnected:
		c.users.SetOnline(ev.UserID, false)

	case protocol.UserLeft:
		c.users.Remove(ev.UserID)

	case protocol.UserPositionUpdate:
		if !c.users.UpdatePosition(ev.UserID, ev.Position) {
			c.log.Debug().Str("userId", ev.UserID).Msg("position update for unknown user ignored")
		}

	case protocol.InitialState:
		c.applySnapshot(ev)

	case protocol.WireMessage:
		c.appendMessage(ev)

	case protocol.FriendRequestUpdate:
		if err := c.requests.Upsert(ev.Request()); err != nil {
			c.log.Warn().Err(err).Str("requestId", ev.ID).Msg("inconsistent friend request update rejected")
		}

	case protocol.ErrorNotice:
		c.log.Error().Str("message", ev.Message).Msg("server reported error")
	}
}

// applySnapshot merges a full-state resync: every snapshot user is
// upserted and every snapshot message lands with id de-duplication.
// Local entries absent from the snapshot survive until an explicit
// userLeft; this is the only catch-up mechanism after a gap.
func (c *Coordinator) applySnapshot(snap protocol.InitialState) {
	for _, u := range snap.Users {
		if u.UserID == c.self.ID {
			continue
		}
		c.users.Upsert(models.User{
			ID:             u.UserID,
			Name:           u.UserData.Name,
			Color:          u.UserData.Color,
			ProfilePicture: u.UserData.ProfilePicture,
			Online:         u.Online,
			Position:       u.Position,
		})
	}
	for _, m := range snap.Messages {
		c.appendMessage(m)
	}
	c.log.Info().
		Int("users", len(snap.Users)).
		Int("messages", len(snap.Messages)).
		Msg("applied state snapshot")
}

func (c *Coordinator) appendMessage(m protocol.WireMessage) {
	c.messages.Append(models.ChatMessage{
		ID:         m.ID,
		FromUserID: m.FromUserID,
		ToUserID:   m.ToUserID,
		Content:    content.Sanitize(m.Content),
		Timestamp:  m.Timestamp,
	})
}

// GoOnline opens the session; GoOffline closes it for good.
func (c *Coordinator) GoOnline(ctx context.Context) { c.conn.Connect(ctx) }
func (c *Coordinator) GoOffline()                   { c.conn.Disconnect() }

// SendMessage validates and forwards a direct message. The message is
// applied locally first with a client-assigned id; the server echo is
// absorbed by id de-duplication. Transport unavailability drops the
// event silently per the session contract.
func (c *Coordinator) SendMessage(toUserID, text string) (models.ChatMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.ChatMessage{}, models.ErrEmptyContent
	}

	msg := models.ChatMessage{
		ID:         c.newID(),
		FromUserID: c.self.ID,
		ToUserID:   toUserID,
		Content:    content.Sanitize(trimmed),
		Timestamp:  c.now().UnixMilli(),
	}
	c.messages.Append(msg)

	c.forward(protocol.EventSendMessage, protocol.SendMessage{
		MessageID:  msg.ID,
		FromUserID: msg.FromUserID,
		ToUserID:   msg.ToUserID,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	})
	return msg, nil
}

// SendFriendRequest forwards a new request unless the pair already has
// a pending or accepted one; duplicates are rejected before any network
// call.
func (c *Coordinator) SendFriendRequest(toUserID string) (models.FriendRequest, error) {
	if c.requests.HasActive(c.self.ID, toUserID) {
		return models.FriendRequest{}, models.ErrDuplicateRequest
	}

	req := models.FriendRequest{
		ID:         c.newID(),
		FromUserID: c.self.ID,
		ToUserID:   toUserID,
		Status:     models.FriendRequestPending,
	}
	if err := c.requests.Upsert(req); err != nil {
		return models.FriendRequest{}, err
	}

	c.forward(protocol.EventSendFriendRequest, protocol.SendFriendRequest{
		RequestID:  req.ID,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
	})
	return req, nil
}

// RespondToFriendRequest resolves a pending request and reports the
// outcome to the server.
func (c *Coordinator) RespondToFriendRequest(id string, accept bool) error {
	req, err := c.requests.Respond(id, accept)
	if err != nil {
		return err
	}

	c.forward(protocol.EventFriendRequestUpdate, protocol.FriendRequestUpdate{
		ID:         req.ID,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Status:     req.Status,
	})
	return nil
}

// UpdatePosition forwards the caller's position unconditionally; rate
// limiting is the caller's contract.
func (c *Coordinator) UpdatePosition(pos models.Position) {
	c.forward(protocol.EventUpdatePosition, protocol.UpdatePosition{
		UserID:   c.self.ID,
		Position: pos,
	})
}

// forward sends one event and swallows transport unavailability: events
// sent while disconnected are dropped, not queued.
func (c *Coordinator) forward(event protocol.EventName, payload any) {
	err := c.conn.Send(event, payload)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotConnected):
		c.log.Debug().Str("event", string(event)).Msg("not connected, event dropped")
	default:
		c.log.Warn().Err(err).Str("event", string(event)).Msg("send failed, event dropped")
	}
}

// Read selectors for consuming UI layers.

func (c *Coordinator) ListOnlineUsers() []models.User { return c.users.ListOnline() }
func (c *Coordinator) ListUsers() []models.User       { return c.users.List() }

func (c *Coordinator) GetUser(id string) (models.User, bool) { return c.users.Get(id) }

// ListMessages returns the conversation between the session user and
// the given peer, oldest first.
func (c *Coordinator) ListMessages(withUserID string) []models.ChatMessage {
	return c.messages.Messages(c.self.ID, withUserID)
}

func (c *Coordinator) ListFriendRequests(f friends.Filter) []models.FriendRequest {
	return c.requests.List(f)
}

func (c *Coordinator) ConnectionState() models.ConnState { return c.conn.State() }
