package ws

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sfera/internal/push"
	"sfera/internal/storage"
)

// Server exposes the websocket endpoint plus the small HTTP surface
// around it. Authentication happens upstream; the session identity
// arrives as a query parameter.
type Server struct {
	hub      messageHub
	push     *push.Service
	upgrader *websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(hub messageHub, pushService *push.Service, logger zerolog.Logger) *Server {
	return &Server{
		hub:  hub,
		push: pushService,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
		log: logger.With().Str("component", "ws").Logger(),
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(s.hub, ws, userID)
	if err := conn.Handle(r.Context()); err != nil {
		s.log.Debug().Err(err).Str("userId", userID).Msg("connection closed")
	}
}

type subscribeRequest struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// HandlePushSubscribe registers a browser push subscription for a user.
func (s *Server) HandlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.push == nil || !s.push.Enabled() {
		http.Error(w, "push notifications disabled", http.StatusServiceUnavailable)
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid subscription", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "userId and endpoint are required", http.StatusBadRequest)
		return
	}

	err := s.push.Subscribe(storage.DBPushSubscription{
		UserID:   req.UserID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("store push subscription")
		http.Error(w, "failed to store subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
