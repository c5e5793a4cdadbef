package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"drawing-board/internal/auth"
	"drawing-board/internal/config"
	"drawing-board/internal/discovery"
	"drawing-board/internal/relay"
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
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))
	if err := cfg.Validate(config.RoleRelay); err != nil {
		return err
	}

	signer, err := auth.NewSigner(cfg.AuthSecret, 0)
	if err != nil {
		return err
	}
	srv, err := relay.NewServer(relay.Options{
		Signer:          signer,
		Logger:          slog.Default(),
		EventsPerSecond: cfg.ClientEventRate,
		Burst:           cfg.ClientEventBurst,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("handled", "method", c.Request.Method, "url", c.Request.URL.Path,
			"duration", time.Since(start), "status", c.Writer.Status())
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": srv.Hub().Rooms()})
	})
	r.POST("/api/auth", auth.Handler(signer, slog.Default()))
	srv.Register(r)

	httpServer := &http.Server{Addr: cfg.Addr, Handler: r}
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("relay listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	if cfg.MDNS {
		port, err := listenPort(cfg.Addr)
		if err != nil {
			return err
		}
		adv, err := discovery.Advertise(port)
		if err != nil {
			slog.Warn("mdns advertisement disabled", "err", err)
		} else {
			slog.Info("advertising relay", "service", discovery.ServiceType, "port", port)
			defer adv.Shutdown()
		}
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		_ = httpServer.Close()
	}
	wg.Wait()
	return nil
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
