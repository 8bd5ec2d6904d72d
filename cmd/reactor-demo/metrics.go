package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/tomb.v2"

	"github.com/lixenwraith/reactor/rrt"
)

// metricsService serves supervisor metrics on /metrics
type metricsService struct {
	addr     string
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	tomb     tomb.Tomb
}

func newMetricsService(addr string) *metricsService {
	return &metricsService{addr: addr, registry: prometheus.NewRegistry()}
}

func (s *metricsService) Name() string           { return "metrics" }
func (s *metricsService) Dependencies() []string { return nil }

// Init registers args[0] (*rrt.Metrics) with the service's registry
func (s *metricsService) Init(args ...any) error {
	if len(args) == 0 {
		return errors.NotValidf("metrics service without collector")
	}
	m, ok := args[0].(*rrt.Metrics)
	if !ok || m == nil {
		return errors.NotValidf("metrics collector %T", args[0])
	}
	return errors.Trace(s.registry.Register(m))
}

func (s *metricsService) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Annotatef(err, "metrics listen %s", s.addr)
	}
	s.listener = l

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.tomb.Go(func() error {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Trace(err)
		}
		return nil
	})
	logger.Infof("metrics on http://%s/metrics", l.Addr())
	return nil
}

// Addr returns the bound address, nil before Start
func (s *metricsService) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *metricsService) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.tomb.Kill(s.server.Shutdown(ctx))
	err := s.tomb.Wait()
	s.server = nil
	return err
}
