package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peercall/peercall/internal/api"
	"github.com/peercall/peercall/internal/banner"
	"github.com/peercall/peercall/internal/call"
	"github.com/peercall/peercall/internal/config"
	"github.com/peercall/peercall/internal/logger"
	"github.com/peercall/peercall/internal/media"
	"github.com/peercall/peercall/internal/media/bridgeclient"
	"github.com/peercall/peercall/internal/signaling/wsgateway"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	banner.Print("Peercall Client", []banner.ConfigLine{
		{Label: "Identity", Value: cfg.Identity},
		{Label: "UID", Value: fmt.Sprintf("%d", cfg.UID)},
		{Label: "Signaling", Value: cfg.SignalingURL},
		{Label: "Bridges", Value: strings.Join(cfg.BridgeAddrs, ", ")},
		{Label: "API", Value: cfg.APIBind},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	if err := run(cfg); err != nil {
		slog.Error("Peercall exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Signaling gateway
	gateway := wsgateway.New(wsgateway.Config{
		URL:      cfg.SignalingURL,
		Identity: cfg.Identity,
		UID:      uint32(cfg.UID),
	})

	// Call engine, wired to the gateway and the bridge pool. The pool
	// needs the engine as its event handler, so build the engine first
	// with a late-bound media reference.
	engineCfg := call.Config{
		Local:            call.Party{ID: cfg.Identity, UID: uint32(cfg.UID)},
		DialTimeout:      cfg.DialTimeout,
		IncomingTimeout:  cfg.IncomingTimeout,
		MailboxSize:      cfg.MailboxSize,
		AutoPublishAudio: cfg.AutoPublishAudio,
		AutoPublishVideo: cfg.AutoPublishVideo,
	}

	bridge := &lateMedia{}
	engine := call.New(engineCfg, gateway, bridge)

	pool, err := bridgeclient.NewPool(bridgeclient.PoolConfig{
		Addresses:           cfg.BridgeAddrs,
		ConnectTimeout:      cfg.GRPCConnectTimeout,
		KeepaliveInterval:   cfg.GRPCKeepaliveInterval,
		KeepaliveTimeout:    cfg.GRPCKeepaliveTimeout,
		HealthCheckInterval: 15 * time.Second,
		RequestTimeout:      5 * time.Second,
	}, engine)
	if err != nil {
		return fmt.Errorf("media bridge pool: %w", err)
	}
	defer pool.Close()
	bridge.Engine = pool

	engine.Start()
	defer engine.Shutdown()

	gateway.SetHandler(engine)
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = gateway.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("signaling gateway: %w", err)
	}
	defer gateway.Close()

	// Local control API
	var apiServer *api.Server
	if cfg.APIBind != "" {
		apiServer = api.NewServer(cfg.APIBind, engine)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("control api: %w", err)
		}
	}

	slog.Info("Peercall ready", "identity", cfg.Identity, "uid", cfg.UID)

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiServer.Stop(ctx)
		cancel()
	}
	return nil
}

// lateMedia defers the bridge pool reference until the pool exists.
// The pool wants the engine as its event handler and the engine wants
// the pool as its media transport; the engine side binds late, before
// Start.
type lateMedia struct {
	media.Engine
}
