package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pkt.systems/pslog"
)

const shutdownDeadline = 10 * time.Second

// Config configures the HTTP server.
type Config struct {
	ListenAddr string
	CertFile   string
	KeyFile    string
	Logger     pslog.Logger

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// Server wraps http.Server with graceful shutdown. Read and write
// timeouts stay unset so long-lived WebSocket connections survive.
type Server struct {
	srv      *http.Server
	certFile string
	keyFile  string
	logger   pslog.Logger
}

// New constructs a Server using the provided handler.
func New(cfg Config, handler http.Handler) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ErrorLog:          pslog.LogLogger(logger),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		logger:   logger,
	}
}

// Run serves until ctx is canceled, then shuts down gracefully. TLS is
// used when a certificate pair is configured.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if s.certFile != "" && s.keyFile != "" {
			errc <- s.srv.ListenAndServeTLS(s.certFile, s.keyFile)
			return
		}
		errc <- s.srv.ListenAndServe()
	}()

	s.logger.Info("server started", "listen", s.srv.Addr, "tls", s.certFile != "")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := s.srv.Shutdown(shCtx); err != nil {
			s.logger.Error("server shutdown failed", "err", err)
			return err
		}
		s.logger.Debug("server stopped")
		return nil
	}
}
