package glimt

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/glimt/internal/broker"
	"pkt.systems/glimt/internal/server"
	"pkt.systems/pslog"
)

// ServeOptions configures the broker server run.
type ServeOptions struct {
	Config Config
	Logger pslog.Logger
}

// Serve runs the Glimt broker server until ctx is canceled.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}

	ttl := time.Duration(0)
	if cfg.Server.RequestTTL != "" {
		parsed, err := time.ParseDuration(cfg.Server.RequestTTL)
		if err != nil {
			return fmt.Errorf("invalid request_ttl: %w", err)
		}
		ttl = parsed
	}

	b := broker.New(broker.Options{
		RequestTTL: ttl,
		MultiGrant: cfg.Server.MultiGrant,
		Logger:     logger.With("component", "broker"),
	})
	go b.Run(ctx)

	handler := server.AccessLog(logger.With("component", "access"),
		broker.NewHTTPServer(b, logger.With("component", "ws")).Handler())

	srv := server.New(server.Config{
		ListenAddr: cfg.Server.Listen,
		CertFile:   cfg.Server.TLS.CertFile,
		KeyFile:    cfg.Server.TLS.KeyFile,
		Logger:     logger.With("component", "http"),
		// No ReadTimeout/WriteTimeout so long-lived WS connections survive.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}, handler)

	logger.Info("starting broker", "listen", cfg.Server.Listen,
		"multi_grant", cfg.Server.MultiGrant, "request_ttl", cfg.Server.RequestTTL)
	return srv.Run(ctx)
}
