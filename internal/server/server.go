package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/varbus/internal/logger"
	vbprom "github.com/marmos91/varbus/pkg/metrics/prometheus"
	"github.com/marmos91/varbus/pkg/shm"
)

// Config carries the daemon's static settings.
type Config struct {
	// StreamAddr is the stream-socket listen address: "host:port" for
	// TCP or an absolute path for a unix socket. Empty disables the
	// stream binding.
	StreamAddr string

	// SharedMemoryDir enables the shared-memory doorbell binding rooted
	// at the given runtime directory. Empty disables it.
	SharedMemoryDir string

	// AdminAddr is the HTTP listen address for the read-only admin and
	// metrics surface. Empty disables it.
	AdminAddr string

	// DataDir enables write-through persistence for flagged variables.
	// Empty disables it: persist-flagged variables then behave like
	// ordinary ones and vanish on restart.
	DataDir string

	// MaxWorkBufferSize caps the per-session work buffer a client may
	// announce at open; larger announcements are rejected. Zero means
	// no cap.
	MaxWorkBufferSize int

	// MetricsEnabled turns on Prometheus collection; served on AdminAddr.
	MetricsEnabled bool

	// ShutdownTimeout bounds the graceful drain on Stop.
	ShutdownTimeout time.Duration
}

// Server ties the table, dispatcher, and bindings together.
type Server struct {
	cfg      Config
	store    *Store
	dispatch *Dispatcher
	persist  *persistence
	registry *prometheus.Registry
}

// New builds the server: persistence is opened and replayed here, so a
// returned Server already holds every restored variable.
func New(cfg Config) (*Server, error) {
	if cfg.StreamAddr == "" && cfg.SharedMemoryDir == "" {
		return nil, errors.New("no transport binding configured")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	var registry *prometheus.Registry
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
	}

	var persist *persistence
	if cfg.DataDir != "" {
		var err error
		persist, err = openPersistence(cfg.DataDir)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{cfg: cfg, persist: persist, registry: registry}
	if registry != nil {
		s.store = NewStore(persist, vbprom.NewStoreMetrics(registry))
		s.dispatch = NewDispatcher(s.store, vbprom.NewRequestMetrics(registry))
	} else {
		s.store = NewStore(persist, nil)
		s.dispatch = NewDispatcher(s.store, nil)
	}

	if err := s.store.Restore(); err != nil {
		if persist != nil {
			persist.close()
		}
		return nil, err
	}
	return s, nil
}

// Run serves until ctx is canceled, then drains and returns the first
// binding error, if any.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	var closers []func()

	if s.cfg.StreamAddr != "" {
		ln, err := listenStream(s.cfg.StreamAddr)
		if err != nil {
			return fmt.Errorf("listen stream socket: %w", err)
		}
		closers = append(closers, func() { ln.Close() })
		b := &streamBinding{d: s.dispatch, ln: ln, maxWork: s.cfg.MaxWorkBufferSize}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(b.serve(ctx))
		}()
		logger.Info("stream binding up", logger.KeyAddr, s.cfg.StreamAddr)
	}

	if s.cfg.SharedMemoryDir != "" {
		b, err := listenDoorbell(s.dispatch, s.cfg.SharedMemoryDir, s.cfg.MaxWorkBufferSize)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return err
		}
		closers = append(closers, func() { b.bell.Close() })
		wg.Add(1)
		go func() {
			defer wg.Done()
			fail(b.serve(ctx))
		}()
		logger.Info("doorbell binding up",
			logger.KeyAddr, shm.DoorbellSocket(s.cfg.SharedMemoryDir))
	}

	var admin *http.Server
	if s.cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.AdminAddr)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return fmt.Errorf("listen admin address: %w", err)
		}
		admin = &http.Server{
			Handler:           newAdminRouter(s.store, s.dispatch, s.registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fail(err)
			}
		}()
		logger.Info("admin surface up", logger.KeyAddr, s.cfg.AdminAddr)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	// Unblock the accept and read loops; blocked dispatch calls observe
	// the canceled context on their own.
	for _, c := range closers {
		c()
	}
	if admin != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := admin.Shutdown(drainCtx); err != nil {
			logger.Warn("admin drain incomplete", logger.KeyError, err)
		}
		drainCancel()
	}
	wg.Wait()

	if s.persist != nil {
		if err := s.persist.close(); err != nil {
			logger.Warn("close persistence", logger.KeyError, err)
		}
	}

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}
