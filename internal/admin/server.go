// Package admin provides the operational HTTP surface of the worker process.
// It exposes health checks, queue inspection and purge, and job submission
// behind a chi router. Every route except /health requires the X-Admin-Key
// header, verified against a bcrypt hash.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"jobboard/internal/broker"
	"jobboard/internal/queue"
	"jobboard/internal/types"
)

// QueueAdmin is the queue inspection surface. Satisfied by *queue.Admin.
type QueueAdmin interface {
	GetQueueInfo(ctx context.Context, name string) (broker.QueueInfo, error)
	ListQueues(ctx context.Context) ([]broker.QueueInfo, error)
	PurgeQueue(ctx context.Context, name string) (int, error)
}

// Enqueuer submits jobs from untyped input. Satisfied by *queue.Jobs.
type Enqueuer interface {
	EnqueueRaw(ctx context.Context, kind queue.JobKind, data json.RawMessage) (queue.Envelope, bool, error)
}

// Options configures authentication.
type Options struct {
	// APIKeyHash is the bcrypt hash of the admin key. Empty disables
	// authentication, which is only accepted in the local environment.
	APIKeyHash  types.SecretString
	Environment string
}

// Server holds the dependencies of the admin routes.
type Server struct {
	Queues       QueueAdmin
	Jobs         Enqueuer
	HealthChecks []HealthCheck
	Logger       *slog.Logger

	keyHash []byte
	router  *chi.Mux
}

// NewServer builds a Server with its routes mounted. It fails when no key
// hash is configured outside the local environment.
func NewServer(queues QueueAdmin, jobs Enqueuer, checks []HealthCheck, opts Options, logger *slog.Logger) (*Server, error) {
	if queues == nil || jobs == nil {
		return nil, errors.New("admin: queue admin and enqueuer must not be nil")
	}
	if opts.APIKeyHash.IsEmpty() && opts.Environment != "local" {
		return nil, fmt.Errorf("admin: ADMIN_API_KEY_HASH is required in %s", opts.Environment)
	}

	s := &Server{
		Queues:       queues,
		Jobs:         jobs,
		HealthChecks: checks,
		Logger:       logger,
		keyHash:      []byte(opts.APIKeyHash.Unmask()),
		router:       chi.NewRouter(),
	}
	if len(s.keyHash) == 0 {
		logger.Warn("admin authentication disabled")
	}
	s.MountRoutes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("admin server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.Logger.Info("admin server stopped")
	return nil
}
