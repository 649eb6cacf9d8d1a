package server

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lukluk/feoxd/internal/command"
	"github.com/lukluk/feoxd/internal/config"
	"github.com/lukluk/feoxd/internal/metrics"
	"github.com/lukluk/feoxd/internal/pubsub"
	"github.com/lukluk/feoxd/internal/store"
)

// Server owns the shared listener and the fixed pool of thread-per-core
// workers that multiplex every connection onto it, grounded on server.rs's
// reactor-per-thread bootstrap.
type Server struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	listener net.Listener
	workers  []*Worker
	stop     chan struct{}
}

// New wires the store, command executor, client registry and global pub/sub
// registry together and constructs one Worker per configured thread. The
// listener is opened here so callers can observe a bind failure before Run.
func New(cfg config.Config, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("binding %s:%d: %w", cfg.BindAddr, cfg.Port, err)
	}

	m := metrics.New()
	clients := command.NewClientRegistry()
	st := store.New()
	executor := command.NewExecutor(st, cfg.Port, clients)

	registry, inboxes := pubsub.NewGlobalRegistry(cfg.Threads, m)

	workers := make([]*Worker, cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		workers[i] = NewWorker(pubsub.ThreadId(i), listener, cfg, executor, clients, inboxes[i], registry, m, logger)
	}

	return &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		metrics:  m,
		listener: listener,
		workers:  workers,
		stop:     make(chan struct{}),
	}, nil
}

// Metrics exposes the Prometheus registry for a caller that wants to serve
// it (e.g. from an HTTP handler in cmd/feoxd).
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Addr returns the address the listener is actually bound to, useful when
// Port is 0 in tests.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Run starts every worker under an errgroup and blocks until ctx is
// canceled or a worker returns an error. Canceling ctx closes the listener,
// which unblocks every worker's acceptLoop, and signals every worker's
// event loop to return.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			w.Run(s.stop)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		close(s.stop)
		return s.listener.Close()
	})

	s.logger.Info("listening",
		zap.String("addr", s.listener.Addr().String()),
		zap.Int("threads", s.cfg.Threads),
	)

	return g.Wait()
}
