// Package server wires the control-plane components together and runs
// the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentgate/agentgate/internal/api"
	"github.com/agentgate/agentgate/internal/audit"
	"github.com/agentgate/agentgate/internal/auth"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/constraint"
	"github.com/agentgate/agentgate/internal/control"
	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/monitor"
	"github.com/agentgate/agentgate/internal/recovery"
	"github.com/agentgate/agentgate/internal/snapshot"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/internal/store/composite"
	"github.com/agentgate/agentgate/internal/store/segment"
	"github.com/agentgate/agentgate/internal/store/sqlite"
	"github.com/agentgate/agentgate/pkg/emergency"
	"github.com/agentgate/agentgate/pkg/observability"
	"github.com/agentgate/agentgate/pkg/ratelimit"
	"github.com/agentgate/agentgate/pkg/types"
)

// Server owns every long-lived component: the event store, the audit
// logger, the monitor, the orchestrator, and the HTTP listener.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	store    store.EventStore
	audit    *audit.Logger
	engine   *constraint.Engine
	limiter  *ratelimit.Limiter
	stop     *emergency.Stop
	monitor  *monitor.Monitor
	snaps    *snapshot.Manager
	recovery *recovery.Manager
	orch     *control.Orchestrator
	metrics  *metrics.Collector

	httpServer *http.Server
	httpLn     net.Listener
}

// New builds a Server from configuration. The caller must Close it,
// even when Run is never called.
func New(cfg *config.Config) (*Server, error) {
	log, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	collector := metrics.New()

	eventStore, err := buildEventStore(cfg, collector)
	if err != nil {
		return nil, err
	}

	var chain *audit.IntegrityChain
	if cfg.Audit.Integrity.Enabled {
		key, err := audit.LoadKey(cfg.Audit.Integrity.KeyFile, cfg.Audit.Integrity.KeyEnv)
		if err != nil {
			_ = eventStore.Close()
			return nil, fmt.Errorf("integrity key: %w", err)
		}
		// Resume from the existing trail so sequences keep linking
		// across restarts instead of starting over at 1.
		prior, err := segment.ReadAll(cfg.Audit.Dir)
		if err != nil {
			_ = eventStore.Close()
			return nil, fmt.Errorf("integrity resume: %w", err)
		}
		chain, err = audit.ResumeChain(key, prior)
		if err != nil {
			_ = eventStore.Close()
			return nil, fmt.Errorf("integrity chain: %w", err)
		}
	}

	auditLog := audit.NewLogger(eventStore, audit.Options{
		QueueSize: cfg.Audit.QueueSize,
		Chain:     chain,
		Logger:    log,
	})

	engine, err := buildEngine(cfg, log)
	if err != nil {
		_ = auditLog.Close()
		_ = eventStore.Close()
		return nil, err
	}

	stop := emergency.New(log)
	limiter := ratelimit.NewLimiter(cfg.RateLimit)

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		sampler, err := monitor.NewSampler()
		if err != nil {
			_ = auditLog.Close()
			_ = eventStore.Close()
			return nil, fmt.Errorf("sampler: %w", err)
		}
		mon, err = monitor.New(monitor.Options{
			Interval:      config.Duration(cfg.Monitor.Interval),
			HistoryWindow: config.Duration(cfg.Monitor.HistoryWindow),
			Limits:        cfg.Monitor.Limits,
			Sample:        sampler.Sample,
			Logger:        log,
		})
		if err != nil {
			_ = auditLog.Close()
			_ = eventStore.Close()
			return nil, fmt.Errorf("monitor: %w", err)
		}
	}

	snaps, err := snapshot.NewManager(snapshot.Options{
		Root:      cfg.Snapshots.Root,
		Dir:       cfg.Snapshots.Dir,
		Retention: cfg.Snapshots.Retention,
		Logger:    log,
	})
	if err != nil {
		_ = auditLog.Close()
		_ = eventStore.Close()
		return nil, fmt.Errorf("snapshots: %w", err)
	}

	recov := recovery.NewManager(recovery.Options{
		MaxAttempts: cfg.Recovery.MaxAttempts,
		BackoffBase: config.Duration(cfg.Recovery.BackoffBase),
		ScratchDir:  cfg.Recovery.ScratchDir,
		Audit:       auditLog,
		Logger:      log,
	})

	orch, err := control.New(control.Options{
		Stop:      stop,
		Limiter:   limiter,
		Engine:    engine,
		Audit:     auditLog,
		Monitor:   mon,
		Snapshots: snaps,
		Metrics:   collector,
		Logger:    log,
	})
	if err != nil {
		_ = auditLog.Close()
		_ = eventStore.Close()
		return nil, err
	}

	var apiKeys *auth.APIKeyAuth
	if !cfg.Development.DisableAuth && cfg.Auth.Type == "api_key" {
		apiKeys, err = auth.LoadAPIKeys(cfg.Auth.APIKey.KeysFile, cfg.Auth.APIKey.HeaderName)
		if err != nil {
			_ = auditLog.Close()
			_ = eventStore.Close()
			return nil, fmt.Errorf("api keys: %w", err)
		}
	}

	app := api.NewApp(api.Options{
		Config:     cfg,
		Orch:       orch,
		Store:      eventStore,
		Stop:       stop,
		Engine:     engine,
		Monitor:    mon,
		Snapshots:  snaps,
		Metrics:    collector,
		Audit:      auditLog,
		APIKeyAuth: apiKeys,
	})

	maxBytes, _ := config.ParseByteSize(cfg.Server.MaxRequestSize)
	httpServer := &http.Server{
		Handler:      http.MaxBytesHandler(app.Router(), maxBytes),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
	}

	return &Server{
		cfg:        cfg,
		log:        log,
		store:      eventStore,
		audit:      auditLog,
		engine:     engine,
		limiter:    limiter,
		stop:       stop,
		monitor:    mon,
		snaps:      snaps,
		recovery:   recov,
		orch:       orch,
		metrics:    collector,
		httpServer: httpServer,
	}, nil
}

func buildEventStore(cfg *config.Config, collector *metrics.Collector) (store.EventStore, error) {
	seg, err := segment.New(cfg.Audit.Dir, cfg.Audit.Rotation.MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	primary := metrics.WrapEventStore(seg, collector)
	if cfg.Audit.SQLitePath == "" {
		return primary, nil
	}
	db, err := sqlite.Open(cfg.Audit.SQLitePath)
	if err != nil {
		_ = seg.Close()
		return nil, fmt.Errorf("audit sqlite: %w", err)
	}
	// Segment files stay the durable source of truth; sqlite serves
	// indexed queries.
	return composite.New(primary, db), nil
}

func buildEngine(cfg *config.Config, log *slog.Logger) (*constraint.Engine, error) {
	engine := constraint.NewEngine(log)

	res, err := constraint.NewResourceConstraint(constraint.ResourceConfig{
		MaxMemoryMB:   cfg.Constraints.Resource.MaxMemoryMB,
		MaxCPUPercent: cfg.Constraints.Resource.MaxCPUPercent,
		MaxDiskMB:     cfg.Constraints.Resource.MaxDiskMB,
		CheckInterval: config.Duration(cfg.Constraints.Resource.CheckInterval),
	})
	if err != nil {
		return nil, fmt.Errorf("resource constraint: %w", err)
	}
	engine.AddConstraint(res)

	op, err := constraint.NewOperationConstraint(cfg.Constraints.Operation)
	if err != nil {
		return nil, fmt.Errorf("operation constraint: %w", err)
	}
	engine.AddConstraint(op)

	acc, err := constraint.NewAccessConstraint(cfg.Constraints.Access)
	if err != nil {
		return nil, fmt.Errorf("access constraint: %w", err)
	}
	engine.AddConstraint(acc)

	return engine, nil
}

// Listen binds the configured address. Split from Run so tests and
// callers can learn the bound address before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	s.httpLn = ln
	return nil
}

// Addr returns the bound listen address, or "" before Listen.
func (s *Server) Addr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Run serves until the context is cancelled or a signal arrives, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.httpLn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	_ = s.audit.Event(types.EventSystemStart, types.SeverityInfo, "", map[string]any{
		"addr": s.Addr(),
	})

	if s.monitor != nil {
		s.monitor.Start()
		go s.orch.Run(ctx)
	}

	s.log.Info("server listening", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", "error", err)
	}

	_ = s.audit.Event(types.EventSystemStop, types.SeverityInfo, "", nil)
	return nil
}

// Recovery exposes the recovery manager for embedding callers.
func (s *Server) Recovery() *recovery.Manager { return s.recovery }

// Close stops background work and releases the store. Safe after a
// failed Run and idempotent for the listener.
func (s *Server) Close() error {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	var firstErr error
	if s.audit != nil {
		if err := s.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
