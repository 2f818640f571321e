// Package push delivers web push notifications to users who are offline
// when a direct message for them arrives.
package push

import (
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/c-pro/geche"
	"github.com/rs/zerolog"

	"sfera/internal/storage"
)

type subscriptionStore interface {
	UpsertPushSubscription(sub storage.DBPushSubscription) error
	DeletePushSubscription(userID string) error
	ListPushSubscriptions() ([]storage.DBPushSubscription, error)
}

type Config struct {
	// Subscriber is the contact address required by the push services.
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

type Service struct {
	cfg   Config
	store subscriptionStore
	subs  geche.Geche[string, storage.DBPushSubscription]
	log   zerolog.Logger
}

func NewService(cfg Config, store subscriptionStore, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		cfg:   cfg,
		store: store,
		subs:  geche.NewMapCache[string, storage.DBPushSubscription](),
		log:   logger.With().Str("component", "push").Logger(),
	}

	persisted, err := store.ListPushSubscriptions()
	if err != nil {
		return nil, err
	}
	for _, sub := range persisted {
		s.subs.Set(sub.UserID, sub)
	}
	return s, nil
}

// Enabled reports whether VAPID keys are configured; without them the
// service is a no-op.
func (s *Service) Enabled() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

func (s *Service) Subscribe(sub storage.DBPushSubscription) error {
	if err := s.store.UpsertPushSubscription(sub); err != nil {
		return err
	}
	s.subs.Set(sub.UserID, sub)
	return nil
}

func (s *Service) Unsubscribe(userID string) error {
	if err := s.store.DeletePushSubscription(userID); err != nil {
		return err
	}
	_ = s.subs.Del(userID)
	return nil
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotifyMessage pushes a "new message" notice to the recipient's
// registered endpoint. Gone endpoints are unsubscribed on the spot.
func (s *Service) NotifyMessage(toUserID, fromName, preview string) {
	if !s.Enabled() {
		return
	}
	sub, err := s.subs.Get(toUserID)
	if err != nil {
		return
	}

	payload, err := json.Marshal(notification{
		Title: fromName,
		Body:  preview,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("marshal push payload")
		return
	}

	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("userId", toUserID).Msg("push delivery failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		s.log.Info().Str("userId", toUserID).Msg("push endpoint gone, dropping subscription")
		_ = s.Unsubscribe(toUserID)
	}
}
