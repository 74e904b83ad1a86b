// Package web serves the administrative HTTP API of the daemon.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/pkg/healthcheck"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/stats"
	"github.com/atlassian/gobrubeck/pkg/util"
)

const (
	// DefaultStreamInterval is the interval between two documents pushed to a /stream client.
	DefaultStreamInterval = time.Second
	// DefaultMaxStreams is the maximum number of concurrent /stream clients.
	DefaultMaxStreams = 16
)

// MetricStore is the read side of the metric store.
type MetricStore interface {
	Find(key string) *metric.Metric
	Foreach(visit func(*metric.Metric))
	Len() int
	Capacity() int
	AtCapacity() bool
	RejectedEstimate() uint64
}

// Backend is a flush worker as reported by /stats.
type Backend interface {
	Shard() int
	Frequency() time.Duration
	Encoder() gobrubeck.Encoder
}

// Sampler is an ingestion endpoint as reported by /stats.
type Sampler interface {
	Name() string
	Address() string
	Workers() int
	CurrentFlow() uint64
}

// Options are the components the API reports on.
type Options struct {
	Address      string
	Version      string
	Stats        *stats.Stats
	Store        MetricStore
	Backends     []Backend
	Samplers     []Sampler
	HealthChecks []healthcheck.HealthcheckFunc
	DeepChecks   []healthcheck.HealthcheckFunc
	// FlowTracking enables /flow_stats.
	FlowTracking bool
	// EnableExpire enables POST /expire/{key}.
	EnableExpire bool
	// StreamInterval defaults to DefaultStreamInterval.
	StreamInterval time.Duration
	// MaxStreams defaults to DefaultMaxStreams.
	MaxStreams int
}

// Server is the admin HTTP server.
type Server struct {
	logger  logrus.FieldLogger
	address string
	Router  *mux.Router

	opts    Options
	pid     int
	streams *util.Semaphore
}

type route struct {
	path    string
	handler http.HandlerFunc
	method  string
	name    string
}

var done = struct{}{}

// NewServer creates the admin server and its routes.
func NewServer(opts Options, logger logrus.FieldLogger) (*Server, error) {
	if opts.Stats == nil || opts.Store == nil {
		return nil, fmt.Errorf("web server requires stats and a store")
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = DefaultStreamInterval
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = DefaultMaxStreams
	}

	server := &Server{
		logger:  logger,
		address: opts.Address,
		opts:    opts,
		pid:     processID(),
		streams: util.NewSemaphore(opts.MaxStreams),
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(stats.NewCollector(opts.Stats)); err != nil {
		return nil, err
	}

	hc := &healthChecker{
		logger:       logger,
		healthChecks: opts.HealthChecks,
		deepChecks:   opts.DeepChecks,
	}

	routes := []route{
		{path: "/ping", handler: server.ping, method: "GET", name: "ping_get"},
		{path: "/_ping", handler: server.ping, method: "GET", name: "ping_legacy_get"},
		{path: "/stats", handler: server.stats, method: "GET", name: "stats_get"},
		{path: "/metric/{key:.+}", handler: server.metric, method: "GET", name: "metric_get"},
		{path: "/stream", handler: server.stream, method: "GET", name: "stream_get"},
		{path: "/metrics", handler: metricsHandler(registry), method: "GET", name: "metrics_get"},
		{path: "/healthcheck", handler: hc.healthCheck, method: "GET", name: "healthcheck_get"},
		{path: "/deepcheck", handler: hc.deepCheck, method: "GET", name: "deepcheck_get"},
	}
	if opts.FlowTracking {
		routes = append(routes,
			route{path: "/flow_stats", handler: server.flowStats, method: "GET", name: "flow_stats_get"},
		)
	}
	if opts.EnableExpire {
		routes = append(routes,
			route{path: "/expire/{key:.+}", handler: server.expire, method: "POST", name: "expire_post"},
		)
	}

	router, err := createRoutes(routes)
	if err != nil {
		return nil, err
	}
	router.NotFoundHandler = server.logRequest(http.HandlerFunc(server.notFound))
	router.Use(server.logRequest)
	server.Router = router

	logger.WithFields(logrus.Fields{
		"address":       opts.Address,
		"flow-tracking": opts.FlowTracking,
		"enable-expire": opts.EnableExpire,
	}).Info("Created server")

	return server, nil
}

func (hs *Server) notFound(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 not found"))
}

func createRoutes(routes []route) (*mux.Router, error) {
	router := mux.NewRouter()

	for _, route := range routes {
		r := router.HandleFunc(route.path, route.handler).Methods(route.method).Name(route.name)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("error creating route %s: %v", route.name, err)
		}
	}

	return router, nil
}

func (hs *Server) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logFields := logrus.Fields{
			"srcip": strings.Split(req.RemoteAddr, ":")[0],
			"path":  req.URL.Path,
		}
		if route := mux.CurrentRoute(req); route == nil {
			logFields["method"] = req.Method
		} else {
			logFields["route"] = route.GetName()
		}
		if source := req.Header.Get("X-Forwarded-For"); source != "" {
			logFields["forwarded_for"] = source
		}

		start := time.Now()
		handler.ServeHTTP(w, req)
		dur := time.Since(start)

		logFields["duration"] = float64(dur) / float64(time.Millisecond)
		hs.logger.WithFields(logFields).Debug("request")
	})
}

// Run serves the API until ctx is done. Requests, including /stream clients, see a
// context derived from ctx.
func (hs *Server) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    hs.address,
		Handler: hs.Router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	chStopped := make(chan struct{}, 1)
	go hs.waitAndStop(ctx, server, chStopped)

	hs.logger.WithField("address", server.Addr).Info("listening")

	err := server.ListenAndServe()
	if err != http.ErrServerClosed {
		hs.logger.WithError(err).Error("web server failed")
		return
	}

	select {
	case <-chStopped:
	case <-time.After(6 * time.Second):
		hs.logger.Info("timeout waiting for webserver to stop")
	}
}

// waitAndStop gracefully shuts down server once ctx is done, then signals on chStopped.
func (hs *Server) waitAndStop(ctx context.Context, server *http.Server, chStopped chan<- struct{}) {
	<-ctx.Done()

	hs.logger.Info("shutting down web server")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(timeoutCtx); err != nil {
		hs.logger.WithError(err).Warn("failed to stop web server")
	}
	chStopped <- done
}
