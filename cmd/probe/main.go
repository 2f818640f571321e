// Command probe is a headless client: it connects to a relay, announces
// presence, wanders around the scene and optionally messages a peer.
// Useful for smoke-testing a deployment and for populating a scene
// during development.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sfera/internal/config"
	"sfera/internal/dispatch"
	"sfera/internal/models"
	"sfera/internal/protocol"
	"sfera/internal/session"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Env config supplies the defaults; flags override per invocation.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	serverURL := flag.String("server", cfg.ServerURL, "relay websocket URL")
	userID := flag.String("user", "", "user id (random when empty)")
	name := flag.String("name", "probe", "display name")
	color := flag.String("color", "#7f5af0", "avatar color")
	peer := flag.String("peer", "", "user id to message")
	message := flag.String("message", "", "message to send to the peer")
	interval := flag.Duration("position-interval", cfg.PositionInterval, "minimum spacing between position updates")
	duration := flag.Duration("duration", 30*time.Second, "how long to stay online (0 = until interrupted)")
	flag.Parse()

	self := models.User{
		ID:    *userID,
		Name:  *name,
		Color: *color,
	}
	if self.ID == "" {
		self.ID = uuid.NewString()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var coord *dispatch.Coordinator
	mgr := session.NewManager(session.Config{
		URL:      *serverURL,
		Identity: self,
		Backoff: session.Backoff{
			Base:        cfg.BackoffBase,
			Max:         cfg.BackoffMax,
			MaxAttempts: cfg.BackoffAttempts,
		},
		Logger: logger,
		OnStateChange: func(state models.ConnState) {
			logger.Info().Str("state", string(state)).Msg("connection state")
		},
	}, session.HandlerFunc(func(env protocol.Envelope) {
		coord.HandleEnvelope(env)
	}))
	coord = dispatch.New(self, mgr, logger)

	coord.GoOnline(ctx)
	defer coord.GoOffline()

	if *peer != "" && *message != "" {
		// Give the snapshot a moment to land first.
		select {
		case <-time.After(2 * time.Second):
			if _, err := coord.SendMessage(*peer, *message); err != nil {
				logger.Error().Err(err).Msg("send message")
			}
		case <-ctx.Done():
			return
		}
	}

	// Positions are sampled every frame but coalesced to the configured
	// rate before they reach the wire; the session layer does not
	// rate-limit internally.
	limiter := rate.NewLimiter(rate.Every(*interval), 1)
	frame := time.NewTicker(16 * time.Millisecond)
	defer frame.Stop()

	start := time.Now()
	for {
		select {
		case <-frame.C:
			if !limiter.Allow() {
				continue
			}
			t := time.Since(start).Seconds()
			coord.UpdatePosition(models.Position{
				5 * math.Cos(t/3),
				0,
				5 * math.Sin(t/3),
			})
		case <-ctx.Done():
			for _, u := range coord.ListOnlineUsers() {
				logger.Info().Str("id", u.ID).Str("name", u.Name).Msg("online user seen")
			}
			if *peer != "" {
				logger.Info().Int("messages", len(coord.ListMessages(*peer))).Msg("conversation size")
			}
			return
		}
	}
}
