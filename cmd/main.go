package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ROMARIC12/chat-sync/internal/api"
	"github.com/ROMARIC12/chat-sync/internal/config"
	"github.com/ROMARIC12/chat-sync/internal/engine"
	"github.com/ROMARIC12/chat-sync/internal/events"
	"github.com/ROMARIC12/chat-sync/internal/models"
	"github.com/ROMARIC12/chat-sync/internal/presence"
	"github.com/ROMARIC12/chat-sync/internal/transport"
	"github.com/ROMARIC12/chat-sync/internal/utils"
	"github.com/ROMARIC12/chat-sync/internal/ws"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := utils.NewLogger(cfg.Development())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalw("invalid display timezone", "timezone", cfg.DisplayTimezone, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store presence.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatalw("redis ping failed", "addr", cfg.RedisAddr, "error", err)
		}
		defer rdb.Close()
		store = presence.NewRedisStore(rdb, cfg.RedisPrefix, 0)
	} else {
		store = presence.NewMemoryStore()
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	hub := ws.NewHub(logger)
	tracker := presence.NewTracker(store, logger, func(userID string, online bool) {
		hub.Broadcast(map[string]any{"type": "presence_changed", "userId": userID, "online": online})
	})

	rest := transport.NewHistoryClient(transport.HistoryConfig{
		BaseURL: cfg.UpstreamAPIURL,
		Token:   cfg.UpstreamToken,
		SelfID:  cfg.UserID,
		Logger:  logger,
	})

	var eng *engine.Reconciler
	sock := transport.NewSocket(transport.SocketConfig{
		URL:             cfg.UpstreamSocketURL,
		SelfID:          cfg.UserID,
		MaxEventsPerSec: cfg.SocketEventsRPS,
		Logger:          logger,
	}, transport.Handlers{
		OnMessage: func(m models.Message) { eng.IngestLive(m) },
		OnDeleted: func(key models.ConversationKey, messageID string) { eng.HandleRemoteDelete(key, messageID) },
		OnPresence: func(userID string, online bool) {
			tracker.Apply(ctx, userID, online)
		},
		OnAvatar: func(userID, newAvatar string) {
			hub.Broadcast(map[string]any{"type": "avatar_changed", "userId": userID, "avatar": newAvatar})
		},
		OnBlocked: func(blockerID, blockedID, action string) {
			hub.Broadcast(map[string]any{"type": "block_changed", "blockerId": blockerID, "blockedId": blockedID, "action": action})
		},
		OnStateChanged: func(connected bool) {
			hub.Broadcast(map[string]any{"type": "channel_state", "connected": connected})
		},
	})

	eng = engine.New(transport.NewAdapter(rest, sock), engine.Config{
		SelfID:   cfg.UserID,
		Location: loc,
		Logger:   logger,
		Reporter: publisher,
	})
	eng.Subscribe(func(n engine.Notification) { hub.Broadcast(n) })

	go sock.Run(ctx)
	go pollPresence(ctx, cfg.PresencePollInterval, sock, rest, tracker)

	app := api.NewServer(eng, tracker, sock, hub, cfg.JWTSecret, logger)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.AppPort
		logger.Infow("starting chat-sync", "addr", addr, "user", cfg.UserID)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		logger.Fatalw("server error", "error", e)
	case s := <-sig:
		logger.Infow("signal received", "signal", s.String())
	}

	cancel()
	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		logger.Warnw("shutdown error", "error", err)
	}
	logger.Info("shutting down")
}

// pollPresence refreshes the presence roster over REST while the push
// channel is down. Push events win whenever the socket is connected.
func pollPresence(ctx context.Context, interval time.Duration, sock *transport.Socket, rest *transport.HistoryClient, tracker *presence.Tracker) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sock.Connected() {
				continue
			}
			if ids, err := rest.OnlineUsers(ctx); err == nil {
				tracker.Reconcile(ctx, ids)
			}
		}
	}
}
