// Package supervisor implements C8, the integration supervisor: it owns
// the initialize/start/stop/destroy lifecycle across C1-C7 and the
// conjunctive health check spec §4.8 describes.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/mdcollector/internal/adapter"
	"github.com/sawpanic/mdcollector/internal/broadcast"
	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/dataflow"
	"github.com/sawpanic/mdcollector/internal/exchange"
	"github.com/sawpanic/mdcollector/internal/model"
	"github.com/sawpanic/mdcollector/internal/observability"
	"github.com/sawpanic/mdcollector/internal/publisher"
	"github.com/sawpanic/mdcollector/internal/subscribercache"
)

// StalenessWindow is the default maximum age of the most recent record for
// the integration to be considered live, per spec §4.8.
const StalenessWindow = 60 * time.Second

// upstream bundles one exchange adapter's C1 connection and C2
// multiplexer.
type upstream struct {
	name       string
	mux        *exchange.Multiplexer
	registry   *adapter.Registry
	dataTypes  []string
}

// Supervisor owns C1-C7's lifecycle and exposes the conjunctive health
// check C8 is responsible for.
type Supervisor struct {
	cfg     *config.Config
	logger  zerolog.Logger
	report  observability.ErrorReporter
	metrics *observability.MetricsRegistry

	upstreams map[string]*upstream
	frames    chan exchange.Frame
	manager   *dataflow.Manager
	router    *dataflow.ChannelRouter
	cache     *subscribercache.Cache
	hub       *broadcast.Hub
	pub       *publisher.Publisher
	bus       publisher.EventBus

	lastRecordNano atomic.Int64
	started        atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Initialize constructs C1-C7 from cfg but performs no I/O, per spec
// §4.8.
func Initialize(cfg *config.Config, logger zerolog.Logger, registry *observability.MetricsRegistry) (*Supervisor, error) {
	report := observability.NewReporter(logger, registry)

	router := dataflow.NewChannelRouter()
	manager := dataflow.NewManager(cfg.Dataflow, router, logger, report, registry)

	cache := subscribercache.NewCache(cfg.Cache)

	topicRouter := publisher.NewRouter(4096)
	bus := publisher.NewNATSBus(publisher.NATSConfigFromPublisherConfig(cfg.Publisher), logger)
	pub, err := publisher.NewPublisher(cfg.Publisher, bus, topicRouter, logger, report, registry)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build publisher: %w", err)
	}

	hub := broadcast.NewHub(cfg.Broadcast, cache, logger, report, registry)

	s := &Supervisor{
		cfg:       cfg,
		logger:    logger.With().Str("component", "supervisor").Logger(),
		report:    report,
		metrics:   registry,
		upstreams: make(map[string]*upstream),
		frames:    make(chan exchange.Frame, cfg.Dataflow.Performance.MaxQueueSize),
		manager:   manager,
		router:    router,
		cache:     cache,
		hub:       hub,
		pub:       pub,
		bus:       bus,
		stopCh:    make(chan struct{}),
	}

	for name, ac := range cfg.Adapters {
		if !ac.Enabled {
			continue
		}
		u, err := s.buildUpstream(name, ac)
		if err != nil {
			return nil, err
		}
		s.upstreams[name] = u
	}

	return s, nil
}

func (s *Supervisor) buildUpstream(name string, ac config.AdapterConfig) (*upstream, error) {
	reg := adapter.NewRegistry()
	switch strings.ToLower(name) {
	case "binance":
		reg.Register(adapter.NewBinanceAdapter())
	case "kraken":
		reg.Register(&adapter.KrakenAdapter{})
	default:
		return nil, fmt.Errorf("supervisor: unknown adapter %q", name)
	}

	connCfg := exchange.ConnectionConfig{
		ConnectTimeout:    ac.Connection.Timeout,
		MaxReconnects:     ac.Connection.MaxRetries,
		BackoffInitial:    ac.Connection.RetryInterval,
		BackoffMax:        30 * time.Second,
		HeartbeatInterval: ac.Connection.HeartbeatInterval,
		AutoReconnect:     true,
	}
	dialer := exchange.NewGorillaDialer()
	factory := func() *exchange.Connection {
		return exchange.NewConnection(name, dialer, connCfg, s.logger, s.report, s.metrics, s.frames)
	}
	scheme := exchange.DefaultBinanceScheme(ac.Endpoints.WS)
	mux := exchange.NewMultiplexer(scheme, factory, true)

	return &upstream{name: name, mux: mux, registry: reg, dataTypes: ac.Subscription.DataTypes}, nil
}

// Start opens upstream connections, issues the initial subscription set,
// registers channels with C4, and starts C4, per spec §4.8.
func (s *Supervisor) Start(ctx context.Context) error {
	broadcastChan := broadcast.AsChannel(s.hub)
	cacheChan := subscribercache.AsChannel(s.cache)
	s.manager.RegisterChannel(s.pub.Describe(), s.pub)
	s.manager.RegisterChannel(broadcastChan.Describe(), broadcastChan)
	s.manager.RegisterChannel(cacheChan.Describe(), cacheChan)

	if err := s.pub.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start publisher: %w", err)
	}
	if err := s.manager.Start(); err != nil {
		return fmt.Errorf("supervisor: start dataflow manager: %w", err)
	}
	go s.hub.Run()

	for name, ac := range s.cfg.Adapters {
		if !ac.Enabled {
			continue
		}
		u, ok := s.upstreams[name]
		if !ok {
			continue
		}
		if err := u.mux.Start(ctx); err != nil {
			return fmt.Errorf("supervisor: start upstream %s: %w", name, err)
		}
		for _, symbol := range ac.Subscription.Symbols {
			for _, dt := range ac.Subscription.DataTypes {
				key := model.StreamKey(strings.ToLower(symbol) + "@" + dt)
				if err := u.mux.AddStream(ctx, key); err != nil {
					return fmt.Errorf("supervisor: subscribe %s %s: %w", name, key, err)
				}
			}
		}
	}

	s.wg.Add(1)
	go s.dispatchLoop()

	s.started.Store(true)
	return nil
}

// dispatchLoop is C3: it normalizes raw frames into canonical records and
// hands them to C4.
func (s *Supervisor) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case frame, ok := <-s.frames:
			if !ok {
				return
			}
			u, ok := s.upstreams[frame.Exchange]
			if !ok {
				continue
			}
			result, err := u.registry.Dispatch(frame.Exchange, frame.Data, frame.ReceivedAt, len(u.mux.Keys()) > 1)
			if err != nil {
				s.report.HandleError(observability.NewError("supervisor", observability.ErrMalformedFrame, err))
				continue
			}
			for _, rec := range result.Records {
				s.lastRecordNano.Store(time.Now().UnixNano())
				if err := s.manager.Process(rec, rec.SourceTag); err != nil {
					s.report.HandleError(observability.NewError("supervisor", observability.ErrBackpressure, err))
				}
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop reverses Start's order: stop C4 (drain), then disconnect C1, per
// spec §4.8.
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) error {
	s.started.Store(false)
	close(s.stopCh)
	s.wg.Wait()

	if err := s.manager.Stop(grace); err != nil {
		s.logger.Warn().Err(err).Msg("dataflow manager stop exceeded grace period")
	}
	for name, u := range s.upstreams {
		if conn := u.mux.Current(); conn != nil {
			if err := conn.Disconnect(); err != nil {
				s.logger.Warn().Err(err).Str("exchange", name).Msg("upstream disconnect error")
			}
		}
	}
	s.hub.Stop()
	if err := s.pub.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("publisher stop error")
	}
	return nil
}

// Destroy releases pools after Stop has completed.
func (s *Supervisor) Destroy() {
	s.cache.Stop()
}

// HealthReport is the conjunctive health snapshot C8 exposes to the admin
// surface.
type HealthReport struct {
	Healthy          bool              `json:"healthy"`
	UpstreamStates   map[string]string `json:"upstreamStates"`
	DataflowRunning  bool              `json:"dataflowRunning"`
	QueueDepth       int64             `json:"queueDepth"`
	QueueSoftLimit   int64             `json:"queueSoftLimit"`
	ChannelsHealthy  bool              `json:"channelsHealthy"`
	LastRecordAgeSec float64           `json:"lastRecordAgeSeconds"`
	Live             bool              `json:"live"`
}

// Health evaluates the conjunction described in spec §4.8: Healthy is
// upstream CONNECTED, C4 running under its soft threshold, and no channel
// at 3 or more consecutive failures. Whether the most recent record is
// within the staleness window is reported separately as Live and does not
// affect Healthy.
func (s *Supervisor) Health() HealthReport {
	states := make(map[string]string, len(s.upstreams))
	upstreamOK := true
	for name, u := range s.upstreams {
		state := exchange.StateDisconnected
		if conn := u.mux.Current(); conn != nil {
			state = conn.State()
		}
		states[name] = state.String()
		if state != exchange.StateConnected {
			upstreamOK = false
		}
	}

	depth := s.manager.QueueDepth()
	soft := int64(float64(s.cfg.Dataflow.Performance.MaxQueueSize) * s.cfg.Dataflow.Performance.BackpressureThreshold)
	dataflowOK := s.started.Load() && depth < soft

	channelsOK := true
	for _, d := range s.manager.Describe() {
		if d.Metrics.ConsecutiveFails.Load() >= 3 {
			channelsOK = false
		}
	}

	var ageSec float64
	last := s.lastRecordNano.Load()
	if last > 0 {
		ageSec = time.Since(time.Unix(0, last)).Seconds()
	} else {
		ageSec = -1
	}
	live := last > 0 && ageSec <= StalenessWindow.Seconds()

	return HealthReport{
		Healthy:          upstreamOK && dataflowOK && channelsOK,
		UpstreamStates:   states,
		DataflowRunning:  s.started.Load(),
		QueueDepth:       depth,
		QueueSoftLimit:   soft,
		ChannelsHealthy:  channelsOK,
		LastRecordAgeSec: ageSec,
		Live:             live,
	}
}

// Manager exposes the dataflow manager for the admin stats surface.
func (s *Supervisor) Manager() *dataflow.Manager { return s.manager }
