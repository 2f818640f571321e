// Package hub is the authoritative server-side peer of the wire
// protocol: it tracks who is connected, routes messages and friend
// request updates, answers every fresh connection with a full state
// snapshot and broadcasts presence transitions.
package hub

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sfera/internal/content"
	"sfera/internal/friends"
	"sfera/internal/history"
	"sfera/internal/models"
	"sfera/internal/protocol"
)

const clientBuffer = 100

// Store persists what survives a relay restart: profiles and the friend
// request ledger. Messages intentionally do not.
type Store interface {
	UpsertUser(user models.User, lastSeen int64) error
	DeleteUser(id string) error
	ListUsers() ([]models.User, map[string]int64, error)
	UpsertFriendRequest(req models.FriendRequest) error
	ListFriendRequests() ([]models.FriendRequest, error)
}

// Notifier is poked when a message arrives for an offline recipient.
type Notifier interface {
	NotifyMessage(toUserID, fromName, preview string)
}

type Config struct {
	// HistoryPerConversation bounds the in-memory message window.
	HistoryPerConversation int
	// SnapshotMessages caps messages per conversation in initialState.
	SnapshotMessages int
	// OfflineRetention is how long an offline user is remembered before
	// a userLeft is broadcast and the entry is purged.
	OfflineRetention time.Duration
	// PositionRate / PositionBurst bound inbound position updates per user.
	PositionRate  rate.Limit
	PositionBurst int
}

func DefaultConfig() Config {
	return Config{
		HistoryPerConversation: 200,
		SnapshotMessages:       50,
		OfflineRetention:       24 * time.Hour,
		PositionRate:           20,
		PositionBurst:          40,
	}
}

type Hub struct {
	cfg      Config
	store    Store
	notifier Notifier
	log      zerolog.Logger

	clients  map[string]chan protocol.Envelope
	users    map[string]models.User
	lastSeen map[string]int64

	ledger  *friends.Ledger
	history *history.Store

	// seenMessages suppresses duplicate sendMessage deliveries within a
	// short window, e.g. a client re-issuing after a reconnect.
	seenMessages geche.Geche[string, struct{}]

	posLimits map[string]*rate.Limiter

	now func() time.Time

	mu sync.RWMutex
}

func NewHub(ctx context.Context, cfg Config, store Store, notifier Notifier, logger zerolog.Logger) (*Hub, error) {
	h := &Hub{
		cfg:          cfg,
		store:        store,
		notifier:     notifier,
		log:          logger.With().Str("component", "hub").Logger(),
		clients:      make(map[string]chan protocol.Envelope),
		users:        make(map[string]models.User),
		lastSeen:     make(map[string]int64),
		ledger:       friends.NewLedger(),
		history:      history.NewStore(cfg.HistoryPerConversation),
		seenMessages: geche.NewMapTTLCache[string, struct{}](ctx, time.Minute, 10*time.Second),
		posLimits:    make(map[string]*rate.Limiter),
		now:          time.Now,
	}

	if store != nil {
		users, lastSeen, err := store.ListUsers()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			u.Online = false
			h.users[u.ID] = u
			h.lastSeen[u.ID] = lastSeen[u.ID]
		}

		requests, err := store.ListFriendRequests()
		if err != nil {
			return nil, err
		}
		for _, req := range requests {
			if err := h.ledger.Upsert(req); err != nil {
				h.log.Warn().Err(err).Str("requestId", req.ID).Msg("skipping stored friend request")
			}
		}
	}

	return h, nil
}

// Join registers a connected client and returns its outbound channel.
// A second connection for the same user replaces the first.
func (h *Hub) Join(userID string) chan protocol.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[userID]; ok {
		close(old)
	}
	ch := make(chan protocol.Envelope, clientBuffer)
	h.clients[userID] = ch
	return ch
}

// Leave drops a client's channel. The presence entry is kept offline;
// only the retention reaper removes it.
func (h *Hub) Leave(userID string, ch chan protocol.Envelope) {
	h.mu.Lock()
	current, ok := h.clients[userID]
	if !ok || current != ch {
		// A newer connection already took over.
		h.mu.Unlock()
		return
	}
	close(current)
	delete(h.clients, userID)
	h.mu.Unlock()

	h.setOffline(userID)
}

// Dispatch handles one envelope from a connected client.
func (h *Hub) Dispatch(userID string, env protocol.Envelope) {
	ev, err := protocol.DecodeClientEvent(env)
	if err != nil {
		h.log.Warn().Err(err).Str("userId", userID).Msg("rejecting client event")
		h.notice(userID, err.Error())
		return
	}

	switch ev := ev.(type) {
	case protocol.UserOnline:
		h.handleUserOnline(userID, ev)
	case protocol.UserOffline:
		h.setOffline(ev.UserID)
	case protocol.SendMessage:
		h.handleSendMessage(userID, ev)
	case protocol.SendFriendRequest:
		h.handleSendFriendRequest(userID, ev)
	case protocol.FriendRequestUpdate:
		h.handleFriendRequestUpdate(userID, ev)
	case protocol.UpdatePosition:
		h.handleUpdatePosition(ev)
	}
}

func (h *Hub) handleUserOnline(connUserID string, ev protocol.UserOnline) {
	if ev.UserID != connUserID {
		h.notice(connUserID, "presence announce for a different user")
		return
	}

	h.mu.Lock()
	user := h.users[ev.UserID]
	user.ID = ev.UserID
	user.Name = content.Sanitize(ev.UserData.Name)
	user.Color = content.Sanitize(ev.UserData.Color)
	user.ProfilePicture = ev.UserData.ProfilePicture
	user.Online = true
	h.users[ev.UserID] = user
	h.lastSeen[ev.UserID] = h.now().Unix()
	h.mu.Unlock()

	h.persistUser(user)

	// The snapshot is the client's only catch-up mechanism, so it goes
	// out before anything else on a fresh connection.
	h.sendTo(ev.UserID, protocol.EventInitialState, h.snapshotFor(ev.UserID))

	h.broadcast(protocol.EventUserConnected, protocol.UserConnected{
		UserID: user.ID,
		UserData: protocol.UserData{
			Name:           user.Name,
			Color:          user.Color,
			ProfilePicture: user.ProfilePicture,
		},
		Position: user.Position,
	}, ev.UserID)
}

func (h *Hub) setOffline(userID string) {
	h.mu.Lock()
	user, ok := h.users[userID]
	if !ok || !user.Online {
		h.mu.Unlock()
		return
	}
	user.Online = false
	h.users[userID] = user
	h.lastSeen[userID] = h.now().Unix()
	h.mu.Unlock()

	h.persistUser(user)
	h.broadcast(protocol.EventUserDisconnected, protocol.UserDisconnected{UserID: userID}, userID)
}

func (h *Hub) handleSendMessage(userID string, ev protocol.SendMessage) {
	if ev.FromUserID != userID {
		h.notice(userID, "message sender does not match connection")
		return
	}

	text := strings.TrimSpace(content.Sanitize(ev.Content))
	if text == "" {
		h.notice(userID, "empty message rejected")
		return
	}

	id := ev.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := h.seenMessages.Get(id); err == nil {
		h.log.Debug().Str("messageId", id).Msg("duplicate message dropped")
		return
	}
	h.seenMessages.Set(id, struct{}{})

	msg := models.ChatMessage{
		ID:         id,
		FromUserID: ev.FromUserID,
		ToUserID:   ev.ToUserID,
		Content:    text,
		Timestamp:  ev.Timestamp,
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = h.now().UnixMilli()
	}
	h.history.Add(msg)

	wire := protocol.WireMessage{
		ID:         msg.ID,
		FromUserID: msg.FromUserID,
		ToUserID:   msg.ToUserID,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	}
	// Echo to the sender as well; clients reconcile by message id.
	h.sendTo(msg.FromUserID, protocol.EventChatMessage, wire)
	delivered := h.sendTo(msg.ToUserID, protocol.EventChatMessage, wire)

	if !delivered && h.notifier != nil {
		h.mu.RLock()
		fromName := h.users[msg.FromUserID].Name
		h.mu.RUnlock()
		h.notifier.NotifyMessage(msg.ToUserID, fromName, msg.Content)
	}
}

func (h *Hub) handleSendFriendRequest(userID string, ev protocol.SendFriendRequest) {
	if ev.FromUserID != userID {
		h.notice(userID, "friend request sender does not match connection")
		return
	}

	id := ev.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	req := models.FriendRequest{
		ID:         id,
		FromUserID: ev.FromUserID,
		ToUserID:   ev.ToUserID,
		Status:     models.FriendRequestPending,
	}
	if err := h.ledger.Upsert(req); err != nil {
		h.notice(userID, err.Error())
		return
	}
	h.persistRequest(req)
	h.fanOutRequest(req)
}

func (h *Hub) handleFriendRequestUpdate(userID string, ev protocol.FriendRequestUpdate) {
	existing, ok := h.ledger.Get(ev.ID)
	if !ok {
		h.notice(userID, "unknown friend request")
		return
	}
	// Only the addressed side may resolve a request.
	if existing.ToUserID != userID {
		h.notice(userID, "not the recipient of this friend request")
		return
	}

	req := existing
	req.Status = ev.Status
	if err := h.ledger.Upsert(req); err != nil {
		h.notice(userID, err.Error())
		return
	}
	h.persistRequest(req)
	h.fanOutRequest(req)
}

func (h *Hub) handleUpdatePosition(ev protocol.UpdatePosition) {
	if !h.allowPosition(ev.UserID) {
		return
	}

	h.mu.Lock()
	user, ok := h.users[ev.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	pos := ev.Position
	user.Position = &pos
	h.users[ev.UserID] = user
	h.mu.Unlock()

	h.broadcast(protocol.EventUserPositionUpdate, protocol.UserPositionUpdate{
		UserID:   ev.UserID,
		Position: ev.Position,
	}, ev.UserID)
}

// allowPosition applies a per-user token bucket to inbound position
// updates; clients are expected to throttle, this is the backstop.
func (h *Hub) allowPosition(userID string) bool {
	h.mu.RLock()
	limiter, ok := h.posLimits[userID]
	h.mu.RUnlock()

	if !ok {
		h.mu.Lock()
		limiter, ok = h.posLimits[userID]
		if !ok {
			limiter = rate.NewLimiter(h.cfg.PositionRate, h.cfg.PositionBurst)
			h.posLimits[userID] = limiter
		}
		h.mu.Unlock()
	}
	return limiter.Allow()
}

func (h *Hub) snapshotFor(userID string) protocol.InitialState {
	h.mu.RLock()
	users := make([]protocol.SnapshotUser, 0, len(h.users))
	for _, u := range h.users {
		users = append(users, protocol.SnapshotUser{
			UserID: u.ID,
			UserData: protocol.UserData{
				Name:           u.Name,
				Color:          u.Color,
				ProfilePicture: u.ProfilePicture,
			},
			Online:   u.Online,
			Position: u.Position,
		})
	}
	h.mu.RUnlock()

	recent := h.history.RecentFor(userID, h.cfg.SnapshotMessages)
	messages := make([]protocol.WireMessage, 0, len(recent))
	for _, m := range recent {
		messages = append(messages, protocol.WireMessage{
			ID:         m.ID,
			FromUserID: m.FromUserID,
			ToUserID:   m.ToUserID,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
		})
	}

	return protocol.InitialState{Users: users, Messages: messages}
}

// StartReaper purges users that stayed offline past the retention
// window and broadcasts userLeft for them.
func (h *Hub) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.reap()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Hub) reap() {
	cutoff := h.now().Add(-h.cfg.OfflineRetention).Unix()

	h.mu.Lock()
	var gone []string
	for id, user := range h.users {
		if !user.Online && h.lastSeen[id] < cutoff {
			gone = append(gone, id)
			delete(h.users, id)
			delete(h.lastSeen, id)
			delete(h.posLimits, id)
		}
	}
	h.mu.Unlock()

	for _, id := range gone {
		if h.store != nil {
			if err := h.store.DeleteUser(id); err != nil {
				h.log.Error().Err(err).Str("userId", id).Msg("delete stale user")
			}
		}
		h.broadcast(protocol.EventUserLeft, protocol.UserLeft{UserID: id}, "")
		h.log.Info().Str("userId", id).Msg("stale user left")
	}
}

func (h *Hub) fanOutRequest(req models.FriendRequest) {
	payload := protocol.FriendRequestUpdate{
		ID:         req.ID,
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Status:     req.Status,
	}
	h.sendTo(req.FromUserID, protocol.EventFriendRequestUpdate, payload)
	h.sendTo(req.ToUserID, protocol.EventFriendRequestUpdate, payload)
}

func (h *Hub) persistUser(user models.User) {
	if h.store == nil {
		return
	}
	h.mu.RLock()
	lastSeen := h.lastSeen[user.ID]
	h.mu.RUnlock()
	if err := h.store.UpsertUser(user, lastSeen); err != nil {
		h.log.Error().Err(err).Str("userId", user.ID).Msg("persist user")
	}
}

func (h *Hub) persistRequest(req models.FriendRequest) {
	if h.store == nil {
		return
	}
	if err := h.store.UpsertFriendRequest(req); err != nil {
		h.log.Error().Err(err).Str("requestId", req.ID).Msg("persist friend request")
	}
}

func (h *Hub) notice(userID, message string) {
	h.sendTo(userID, protocol.EventError, protocol.ErrorNotice{Message: message})
}

// sendTo queues an event for one connected user. It reports false when
// the user has no connection; a full channel drops the event.
func (h *Hub) sendTo(userID string, event protocol.EventName, payload any) bool {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("encode envelope")
		return false
	}

	// Sends happen under the read lock and closes under the write lock,
	// so a send can never race a close.
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, online := h.clients[userID]
	if !online {
		return false
	}

	select {
	case ch <- env:
		return true
	default:
		h.log.Warn().Str("userId", userID).Str("event", string(event)).Msg("client channel full, event dropped")
		return false
	}
}

func (h *Hub) broadcast(event protocol.EventName, payload any, exceptID string) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(event)).Msg("encode envelope")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		if id == exceptID {
			continue
		}
		select {
		case ch <- env:
		default:
			h.log.Warn().Str("userId", id).Str("event", string(event)).Msg("client channel full, event dropped")
		}
	}
}

// OnlineCount is used by the health endpoint.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
