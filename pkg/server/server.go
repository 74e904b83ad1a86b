// Package server wires the store, samplers and backend workers of the daemon together
// and runs them.
package server

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/internal/util"
	"github.com/atlassian/gobrubeck/pkg/backend"
	"github.com/atlassian/gobrubeck/pkg/backends"
	"github.com/atlassian/gobrubeck/pkg/backends/carbon"
	"github.com/atlassian/gobrubeck/pkg/healthcheck"
	"github.com/atlassian/gobrubeck/pkg/metric"
	"github.com/atlassian/gobrubeck/pkg/sampler"
	"github.com/atlassian/gobrubeck/pkg/shard"
	"github.com/atlassian/gobrubeck/pkg/stats"
	"github.com/atlassian/gobrubeck/pkg/store"
	"github.com/atlassian/gobrubeck/pkg/web"
)

// Config is the resolved configuration of a Server.
type Config struct {
	Version          string
	ServerName       string
	Capacity         int
	Expire           time.Duration
	StatsInterval    time.Duration
	Dumpfile         string
	HTTPAddr         string
	HTTPEnableExpire bool
	FlowTracking     bool
	Metric           *metric.Config
	BadLineLimiter   *rate.Limiter
	// Backends and Samplers hold one table per configured instance.
	Backends []*viper.Viper
	Samplers []*viper.Viper
	// SocketFactory opens the sampler sockets. Defaults to sampler.DefaultSocketFactory.
	SocketFactory sampler.SocketFactory
}

// ConfigFromViper resolves the server configuration. Missing backend and
// sampler lists are replaced by one carbon backend and one statsd sampler.
func ConfigFromViper(v *viper.Viper, version string) (Config, error) {
	v.SetDefault(gobrubeck.ParamServerName, gobrubeck.DefaultServerName)
	v.SetDefault(gobrubeck.ParamCapacity, gobrubeck.DefaultCapacity)
	v.SetDefault(gobrubeck.ParamExpire, gobrubeck.DefaultExpire)
	v.SetDefault(gobrubeck.ParamDumpfile, gobrubeck.DefaultDumpfile)
	v.SetDefault(gobrubeck.ParamHTTPAddr, gobrubeck.DefaultHTTPAddr)
	v.SetDefault(gobrubeck.ParamStatsInterval, gobrubeck.DefaultStatsInterval)
	v.SetDefault(gobrubeck.ParamHistogramThreshold, gobrubeck.DefaultHistogramThreshold)
	v.SetDefault(gobrubeck.ParamPercentiles, gobrubeck.DefaultPercentiles)
	v.SetDefault(gobrubeck.ParamBadLinesPerMinute, gobrubeck.DefaultBadLinesPerMinute)

	pcts, err := metric.ParsePercentiles(v.GetStringSlice(gobrubeck.ParamPercentiles))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %v", gobrubeck.ParamPercentiles, err)
	}
	mc := &metric.Config{
		Threshold:   v.GetFloat64(gobrubeck.ParamHistogramThreshold),
		Percentiles: pcts,
	}
	if err := mc.Validate(); err != nil {
		return Config{}, err
	}

	bes, err := util.SubVipers(v, gobrubeck.ParamBackends)
	if err != nil {
		return Config{}, err
	}
	if len(bes) == 0 {
		def := viper.New()
		def.Set(backend.ParamType, carbon.EncoderName)
		def.Set(carbon.ParamAddress, carbon.DefaultAddress)
		def.Set(backend.ParamFrequency, backend.DefaultFrequency)
		bes = []*viper.Viper{def}
	}
	sms, err := util.SubVipers(v, gobrubeck.ParamSamplers)
	if err != nil {
		return Config{}, err
	}
	if len(sms) == 0 {
		def := viper.New()
		def.Set(sampler.ParamType, sampler.TypeStatsd)
		def.Set(sampler.ParamAddress, sampler.DefaultAddress)
		sms = []*viper.Viper{def}
	}

	return Config{
		Version:          version,
		ServerName:       v.GetString(gobrubeck.ParamServerName),
		Capacity:         v.GetInt(gobrubeck.ParamCapacity),
		Expire:           v.GetDuration(gobrubeck.ParamExpire),
		StatsInterval:    v.GetDuration(gobrubeck.ParamStatsInterval),
		Dumpfile:         v.GetString(gobrubeck.ParamDumpfile),
		HTTPAddr:         v.GetString(gobrubeck.ParamHTTPAddr),
		HTTPEnableExpire: v.GetBool(gobrubeck.ParamHTTPEnableExpire),
		FlowTracking:     v.GetBool(gobrubeck.ParamFlowTracking),
		Metric:           mc,
		BadLineLimiter:   sampler.NewBadLineLimiter(v.GetFloat64(gobrubeck.ParamBadLinesPerMinute)),
		Backends:         bes,
		Samplers:         sms,
	}, nil
}

// Server is a running daemon: one store, the samplers writing into it and one
// flush worker per backend.
type Server struct {
	listening uint32 // atomic

	config Config
	logger logrus.FieldLogger

	stats    *stats.Stats
	sharder  *shard.Sharder
	store    *store.Store
	internal *metric.Metric
	samplers []sampler.Sampler
	workers  []*backend.Worker
}

// NewServerFromViper resolves the configuration in v and builds a Server from it.
func NewServerFromViper(v *viper.Viper, version string, logger logrus.FieldLogger) (*Server, error) {
	config, err := ConfigFromViper(v, version)
	if err != nil {
		return nil, err
	}
	return New(config, logger)
}

// New builds every component of the server. Nothing is started and no socket is
// opened until Run.
func New(config Config, logger logrus.FieldLogger) (*Server, error) {
	if config.ServerName == "" {
		return nil, fmt.Errorf("%s must not be empty", gobrubeck.ParamServerName)
	}
	if len(config.Backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}
	if len(config.Samplers) == 0 {
		return nil, fmt.Errorf("no samplers configured")
	}
	if config.Metric == nil {
		config.Metric = metric.DefaultConfig()
	}

	s := &Server{
		config: config,
		logger: logger,
		stats:  stats.New(time.Now()),
	}

	var err error
	if s.sharder, err = shard.New(len(config.Backends)); err != nil {
		return nil, err
	}
	s.store, err = store.New(store.Options{
		Capacity:     config.Capacity,
		FlowTracking: config.FlowTracking,
		Metric:       config.Metric,
		Sharder:      s.sharder,
		Stats:        s.stats,
	})
	if err != nil {
		return nil, err
	}
	s.internal = s.store.FindOrCreate([]byte(config.ServerName), gobrubeck.INTERNAL)
	if s.internal == nil {
		return nil, fmt.Errorf("no capacity left for the internal metric %q", config.ServerName)
	}

	for i, bv := range config.Backends {
		name := bv.GetString(backend.ParamType)
		encoder, err := backends.InitEncoder(name, bv, logger)
		if err != nil {
			return nil, fmt.Errorf("backend %d: %v", i, err)
		}
		wc, err := backend.ConfigFromViper(bv)
		if err != nil {
			return nil, fmt.Errorf("backend %d: %v", i, err)
		}
		w, err := backend.NewWorker(i, s.sharder.List(i), encoder, wc, logger)
		if err != nil {
			return nil, fmt.Errorf("backend %d: %v", i, err)
		}
		s.workers = append(s.workers, w)
	}

	deps := sampler.Deps{
		Store:          s.store,
		Stats:          s.stats,
		Logger:         logger,
		BadLineLimiter: config.BadLineLimiter,
		SocketFactory:  config.SocketFactory,
	}
	for i, sv := range config.Samplers {
		sm, err := sampler.NewFromViper(sv, deps)
		if err != nil {
			return nil, fmt.Errorf("sampler %d: %v", i, err)
		}
		s.samplers = append(s.samplers, sm)
	}

	return s, nil
}

// Run opens the sampler sockets and runs every component until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	for _, sm := range s.samplers {
		if err := sm.Listen(); err != nil {
			return fmt.Errorf("sampler %s on %s: %v", sm.Name(), sm.Address(), err)
		}
	}
	atomic.StoreUint32(&s.listening, 1)
	defer atomic.StoreUint32(&s.listening, 0)

	var httpServer *web.Server
	if s.config.HTTPAddr != "" {
		var err error
		httpServer, err = web.NewServer(s.webOptions(), s.logger.WithField("component", "web"))
		if err != nil {
			return err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"server-name": s.config.ServerName,
		"capacity":    s.config.Capacity,
		"backends":    len(s.workers),
		"samplers":    len(s.samplers),
	}).Info("Server started")

	var wg wait.Group
	defer wg.Wait()
	for _, sm := range s.samplers {
		wg.StartWithContext(ctx, sm.Run)
	}
	for _, w := range s.workers {
		wg.StartWithContext(ctx, w.Run)
	}
	wg.StartWithContext(ctx, s.control)
	if httpServer != nil {
		wg.StartWithContext(ctx, httpServer.Run)
	}

	<-ctx.Done()
	s.logger.Info("Server stopping")
	return ctx.Err()
}

func (s *Server) webOptions() web.Options {
	backendList := make([]web.Backend, 0, len(s.workers))
	for _, w := range s.workers {
		backendList = append(backendList, w)
	}
	samplerList := make([]web.Sampler, 0, len(s.samplers))
	for _, sm := range s.samplers {
		samplerList = append(samplerList, sm)
	}
	health, deep := s.checks()
	return web.Options{
		Address:      s.config.HTTPAddr,
		Version:      s.config.Version,
		Stats:        s.stats,
		Store:        s.store,
		Backends:     backendList,
		Samplers:     samplerList,
		HealthChecks: health,
		DeepChecks:   deep,
		FlowTracking: s.config.FlowTracking,
		EnableExpire: s.config.HTTPEnableExpire,
	}
}

// HealthChecks reports whether the samplers are listening.
func (s *Server) HealthChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{s.listeningCheck}
}

func (s *Server) listeningCheck() (string, healthcheck.HealthyStatus) {
	if atomic.LoadUint32(&s.listening) == 0 {
		return "samplers not listening", healthcheck.Unhealthy
	}
	return fmt.Sprintf("%d samplers listening", len(s.samplers)), healthcheck.Healthy
}

// checks gathers the health checks of the server and the deep checks of every backend worker.
func (s *Server) checks() (health, deep []healthcheck.HealthcheckFunc) {
	providers := make([]interface{}, 0, len(s.workers)+1)
	providers = append(providers, s)
	for _, w := range s.workers {
		providers = append(providers, w)
	}
	return healthcheck.Collect(providers...)
}

// Stats returns the counters shared by every component.
func (s *Server) Stats() *stats.Stats {
	return s.stats
}

// Store returns the metric store.
func (s *Server) Store() *store.Store {
	return s.store
}

// Samplers returns the ingestion endpoints.
func (s *Server) Samplers() []sampler.Sampler {
	return s.samplers
}

// Workers returns the backend flush workers, indexed by shard.
func (s *Server) Workers() []*backend.Worker {
	return s.workers
}
