// ABOUTME: Server wires the ledger, conversations, reply source and HTTP/gRPC listeners together
// ABOUTME: Run serves both listeners under an errgroup and shuts everything down gracefully

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/hago/internal/api"
	"github.com/2389/hago/internal/auth"
	"github.com/2389/hago/internal/config"
	"github.com/2389/hago/internal/conversation"
	"github.com/2389/hago/internal/reply"
	"github.com/2389/hago/internal/store"
)

// HealthService is the gRPC health service name reported alongside the
// server-wide "" entry.
const HealthService = "hago.Conversations"

const shutdownTimeout = 5 * time.Second

// Server owns every long-lived component of a running hago instance.
type Server struct {
	config      *config.Config
	ledger      store.Ledger
	controller  *conversation.Controller
	broadcaster *conversation.Broadcaster
	service     *conversation.Service
	api         *api.API
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	logger      *slog.Logger

	// sendCtx governs sends started over HTTP; cancelSends aborts them at shutdown.
	sendCtx     context.Context
	cancelSends context.CancelFunc

	closing      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes New.
type Option func(*options)

type options struct {
	source reply.Source
}

// WithReplySource replaces the configured reply provider.
func WithReplySource(src reply.Source) Option {
	return func(o *options) { o.source = src }
}

// New builds a Server from cfg. Nothing listens until Run or Serve.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ledger, err := openLedger(cfg)
	if err != nil {
		return nil, err
	}

	controller := conversation.NewController(cfg.User.ID, ledger, logger)
	for _, conv := range cfg.Seed() {
		if err := controller.Add(conv); err != nil {
			closeLedger(ledger)
			return nil, fmt.Errorf("seeding conversations: %w", err)
		}
	}

	source := o.source
	if source == nil {
		source, err = reply.New(context.Background(), cfg.Reply, logger)
		if err != nil {
			closeLedger(ledger)
			return nil, fmt.Errorf("creating reply source: %w", err)
		}
	}

	broadcaster := conversation.NewBroadcaster(logger)
	service := conversation.New(conversation.Config{
		Directory:    controller,
		Finalizer:    controller,
		Source:       source,
		LocalUserID:  cfg.User.ID,
		Observer:     broadcaster,
		ReplyTimeout: cfg.Reply.Timeout,
		Logger:       logger,
	})

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("API auth enabled (JWT)")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}

	srv := &Server{
		config:      cfg,
		ledger:      ledger,
		controller:  controller,
		broadcaster: broadcaster,
		service:     service,
		logger:      logger.With("component", "server"),
	}
	srv.sendCtx, srv.cancelSends = context.WithCancel(context.Background())

	srv.api = api.New(api.Config{
		Conversations: controller,
		Sender:        service,
		Updates:       broadcaster,
		Verifier:      verifier,
		Ready:         srv.ready,
		SendContext:   srv.sendCtx,
		Logger:        logger,
	})
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Event streams never go idle on their own; ending the subscriptions lets
	// HTTP shutdown finish.
	srv.httpServer.RegisterOnShutdown(broadcaster.Close)

	srv.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(logUnary(logger.With("component", "grpc"))),
	)
	srv.health = health.NewServer()
	healthpb.RegisterHealthServer(srv.grpcServer, srv.health)
	srv.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	return srv, nil
}

// ready backs /health/ready: the server takes sends until shutdown starts.
func (s *Server) ready() error {
	if s.closing.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// openLedger opens the audit ledger, or returns nil when no path is configured.
func openLedger(cfg *config.Config) (store.Ledger, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	return s, nil
}

func closeLedger(l store.Ledger) {
	if l != nil {
		_ = l.Close()
	}
}

// Controller exposes the conversation directory, mainly for the CLI and tests.
func (s *Server) Controller() *conversation.Controller {
	return s.controller
}

// Service exposes the send pipeline.
func (s *Server) Service() *conversation.Service {
	return s.service
}

// Run listens on the configured addresses and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, err := net.Listen("tcp", s.config.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listening on gRPC address: %w", err)
	}
	httpLn, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, grpcLn, httpLn)
}

// Serve serves on the given listeners until ctx is cancelled or a server
// fails, then shuts down. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := s.grpcServer.Serve(grpcLn); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("context canceled, initiating shutdown")
		// The parent context is already done, so shutdown gets a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting work, aborts in-flight sends so they commit, and
// releases every resource. It is safe to call without Serve and more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	s.closing.Store(true)
	s.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	s.shutdownGRPCServer(ctx)

	s.cancelSends()
	s.service.Close()
	s.broadcaster.Close()
	s.api.Close()

	if s.ledger != nil {
		errs = appendCloseError(errs, "ledger close", s.ledger.Close())
	}
	return errors.Join(errs...)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on ctx expiry.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// logUnary logs each unary gRPC call at debug level.
func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("unary call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return resp, err
	}
}
