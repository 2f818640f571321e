package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sfera/internal/config"
	"sfera/internal/hub"
	"sfera/internal/push"
	"sfera/internal/storage"
	"sfera/internal/ws"
)

func newLogger(dev bool) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Dev)

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pushService, err := push.NewService(push.Config{
		Subscriber:      cfg.PushSubscriber,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
	}, store, logger)
	if err != nil {
		return err
	}

	hubConfig := hub.DefaultConfig()
	hubConfig.HistoryPerConversation = cfg.HistorySize
	hubConfig.SnapshotMessages = cfg.SnapshotMessages
	hubConfig.OfflineRetention = cfg.OfflineRetention

	h, err := hub.NewHub(ctx, hubConfig, store, pushService, logger)
	if err != nil {
		return err
	}
	h.StartReaper(ctx, time.Hour)

	wsServer := ws.NewServer(h, pushService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleConnections)
	mux.HandleFunc("/push/subscribe", wsServer.HandlePushSubscribe)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok, %d online\n", h.OnlineCount())
	})

	srv := &http.Server{Addr: cfg.APIAddr, Handler: mux}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.APIAddr).Msg("relay listening")
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}
