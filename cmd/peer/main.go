package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"drawing-board/internal/channel"
	"drawing-board/internal/channel/memory"
	"drawing-board/internal/channel/redischan"
	"drawing-board/internal/channel/wschan"
	"drawing-board/internal/config"
	"drawing-board/internal/discovery"
	"drawing-board/internal/identity"
	"drawing-board/internal/peer"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("cannot join", "status", peer.StatusMissingEnv)
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))

	id := identity.New()
	if cfg.IdentityFile != "" {
		if id, err = identity.LoadOrCreate(cfg.IdentityFile); err != nil {
			return err
		}
	}
	slog.Info("identity", "id", id.ID, "name", id.DisplayName)

	if cfg.Transport == config.TransportWebsocket && cfg.RelayURL == "" && cfg.MDNS {
		slog.Info("browsing for relays", "service", discovery.ServiceType)
		if u, err := discovery.First(3 * time.Second); err != nil {
			slog.Warn("no relay discovered", "err", err)
		} else {
			cfg.SetRelay(u)
		}
	}
	if err := cfg.Validate(config.RolePeer); err != nil {
		slog.Error("cannot join", "status", peer.StatusMissingEnv)
		return err
	}

	sub, closeSub, err := subscriber(cfg)
	if err != nil {
		return err
	}
	defer closeSub()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := peer.New(id, peer.Config{
		HistoryLimit:  cfg.HistoryLimit,
		FlushInterval: cfg.FlushInterval,
		Logger:        slog.Default(),
	})
	joined := make(chan error, 1)
	go func() { joined <- p.Join(ctx, sub, cfg.Room) }()

	go func() {
		err := newScript(p, slog.Default()).run(ctx, os.Stdin)
		if errors.Is(err, errQuit) {
			cancel()
		} else if err != nil && !errors.Is(err, peer.ErrStopped) {
			slog.Warn("reading commands failed", "err", err)
		}
	}()

	if err := <-joined; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("left room", "room", cfg.Room)
	return nil
}

func subscriber(cfg *config.Config) (channel.Subscriber, func(), error) {
	switch cfg.Transport {
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return redischan.New(client, slog.Default()), func() { _ = client.Close() }, nil
	case config.TransportMemory:
		return memory.NewHub(), func() {}, nil
	default:
		return wschan.New(wschan.Config{
			URL:     cfg.RelayURL,
			AuthURL: cfg.AuthURL,
			Logger:  slog.Default(),
		}), func() {}, nil
	}
}
