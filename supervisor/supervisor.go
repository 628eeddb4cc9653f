// Package supervisor wraps one pipeline.Pipeline with the lifecycle
// orchestration and external-status surface a GUI or monitoring layer
// needs, grounded on the teacher's bridge.Service: a config, a
// mutex-protected session/metrics registry, and a Start(ctx) entry
// point, generalized from "count active SIP/TG calls" to "drive one
// acquisition pipeline's Idle/Connected/Started state machine".
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openacq/acqd/acqerr"
	"github.com/openacq/acqd/atime"
	"github.com/openacq/acqd/driver"
	"github.com/openacq/acqd/hooks"
	"github.com/openacq/acqd/pipeline"
	"github.com/openacq/acqd/session"
)

// Status is the GUI-facing snapshot of a Supervisor's state, the
// out-of-scope GUI layer's only window into the running pipeline.
type Status struct {
	State         string
	ClientCount   int
	DriftEstimate float64
	LastError     string
}

// Config is the subset of acqd's configuration the Supervisor needs
// directly; pipeline-specific tokens live on pipeline.Config.
type Config struct {
	ListenAddr      string
	MetricsAddr     string
	SamplesPerBlock uint32
}

// Supervisor owns one Pipeline, the accept loop feeding it, and an
// optional Prometheus metrics server, exposing the Start/Snapshot
// surface a caller or GUI layer needs.
type Supervisor struct {
	cfg  Config
	log  *slog.Logger
	pipe *pipeline.Pipeline

	pending chan session.PendingConnection

	mu         sync.Mutex
	listener   net.Listener
	accept     *session.ListenerTask
	metricsSrv *http.Server
	startWall  time.Time
}

// New builds a Supervisor around drv and hooksReg, constructing the
// Pipeline internally the way NewService(cfg, sip, tg, logger) accepts
// pre-built collaborators and owns their orchestration.
func New(cfg Config, drv driver.Driver, hooksReg *hooks.Registry, pipeCfg pipeline.Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	pipeCfg.Log = logger
	pending := make(chan session.PendingConnection, session.OutQueueCapacity)
	return &Supervisor{
		cfg:     cfg,
		log:     logger,
		pipe:    pipeline.New(drv, hooksReg, pending, pipeCfg),
		pending: pending,
	}
}

// Pipeline exposes the wrapped pipeline for callers (e.g. cmd/acqd)
// that need direct access beyond the Status/Start surface.
func (s *Supervisor) Pipeline() *pipeline.Pipeline { return s.pipe }

// Start binds the TCP listener, transitions the pipeline through
// Connect and StartAcquisition, and begins accepting clients. It
// blocks until ctx is canceled, then performs an orderly shutdown.
func (s *Supervisor) Start(ctx context.Context) error {
	ln, err := pipeline.Listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	if err := s.pipe.Connect(s.cfg.SamplesPerBlock); err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: connect: %s", acqerr.ErrDriverFailed, err)
	}
	s.startWall = time.Now()
	if err := s.pipe.StartAcquisition(); err != nil {
		_ = ln.Close()
		_ = s.pipe.Disconnect()
		return fmt.Errorf("%w: start: %s", acqerr.ErrDriverFailed, err)
	}

	accept := session.NewListenerTask(ln, s.now, s.log)
	s.mu.Lock()
	s.listener = ln
	s.accept = accept
	s.mu.Unlock()
	go accept.Run()

	if err := s.ServeMetrics(s.cfg.MetricsAddr); err != nil {
		s.log.Warn("metrics server failed to start", "err", err)
	}

	go func() {
		for pc := range accept.Pending {
			select {
			case s.pending <- pc:
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	return s.shutdown()
}

// now converts wall-clock elapsed-since-start into the pipeline's
// acquisition-time domain, for ConnectAt timestamps on freshly
// accepted sockets.
func (s *Supervisor) now() atime.T {
	return atime.FromSeconds(time.Since(s.startWall).Seconds())
}

func (s *Supervisor) shutdown() error {
	var firstErr error
	if err := s.pipe.StopAcquisition(); err != nil {
		firstErr = err
	}
	if err := s.pipe.Disconnect(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.pipe.Terminate()

	s.mu.Lock()
	ln, accept, srv := s.listener, s.accept, s.metricsSrv
	s.mu.Unlock()
	if accept != nil {
		_ = accept.Stop()
	}
	if ln != nil {
		_ = ln.Close()
	}
	if srv != nil {
		_ = srv.Close()
	}
	return firstErr
}

// Snapshot returns the current GUI-facing status.
func (s *Supervisor) Snapshot() Status {
	err := s.pipe.LastError()
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return Status{
		State:         s.pipe.State().String(),
		ClientCount:   s.pipe.ClientCount(),
		DriftEstimate: s.pipe.DriftEstimate(),
		LastError:     errStr,
	}
}

// ServeMetrics starts a Prometheus /metrics endpoint on addr, bound to
// its own http.Server and ServeMux rather than the package-level
// DefaultServeMux, so a Supervisor never clobbers other handlers a
// host process may have registered. A blank addr disables it.
func (s *Supervisor) ServeMetrics(addr string) error {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(s))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: metrics listener: %s", acqerr.ErrNetworkBindFailed, err)
	}
	s.mu.Lock()
	s.metricsSrv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server stopped", "err", err)
		}
	}()
	return nil
}
