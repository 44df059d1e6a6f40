// Package app wires the dispatch service together from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/roadcall/dispatchd/api/admin"
	apidispatch "github.com/roadcall/dispatchd/api/dispatch"
	"github.com/roadcall/dispatchd/config"
	"github.com/roadcall/dispatchd/core/match"
	coremetrics "github.com/roadcall/dispatchd/core/metrics"
	"github.com/roadcall/dispatchd/core/matchcfg"
	"github.com/roadcall/dispatchd/core/offer"
	"github.com/roadcall/dispatchd/core/orchestrator"
	"github.com/roadcall/dispatchd/core/store"
	"github.com/roadcall/dispatchd/core/timeline"
	"github.com/roadcall/dispatchd/infra/logger"
	"github.com/roadcall/dispatchd/infra/metrics"
	"github.com/roadcall/dispatchd/infra/mqtt"
	"github.com/roadcall/dispatchd/infra/roster"
	"github.com/roadcall/dispatchd/internal/eventbus"
)

// matchConfigCacheTTL bounds how stale an administered config read may
// be on the hot matching path.
const matchConfigCacheTTL = 5 * time.Second

// Service holds the wired dispatch components.
type Service struct {
	Orchestrator *orchestrator.Orchestrator
	Offers       *offer.Manager
	Configs      *matchcfg.Store

	cfg      *config.Config
	store    store.Store
	storeCl  func() error
	roster   *roster.RedisRoster
	client   *mqtt.Client
	notifier *mqtt.Notifier
	audit    *timeline.RotatingJSONL
	bus      eventbus.EventBus
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var st store.Store
	var storeClose func() error
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		st = s
		storeClose = s.Close
	default:
		st = store.NewMemoryStore()
	}

	ros, err := roster.NewRedisRoster(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis roster: %w", err)
	}

	client, err := mqtt.NewClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = coremetrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	configs := matchcfg.NewStore(matchConfigCacheTTL)
	if _, err := configs.Update(cfg.Match, "config", "loaded from file"); err != nil {
		return nil, fmt.Errorf("match config: %w", err)
	}

	engine := match.NewEngine(ros, logger.New("match"))
	offers := offer.NewManager(st, mqtt.NewOfferChannel(client), bus, sink, logger.New("offers"))
	orc := orchestrator.New(st, engine, offers, configs, bus, sink, logger.New("orchestrator"))
	orc.SetPollInterval(time.Duration(cfg.Poll.IntervalSeconds) * time.Second)

	audit, err := timeline.NewRotatingJSONL(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	return &Service{
		Orchestrator: orc,
		Offers:       offers,
		Configs:      configs,
		cfg:          cfg,
		store:        st,
		storeCl:      storeClose,
		roster:       ros,
		client:       client,
		notifier:     mqtt.NewNotifier(client, bus),
		audit:        audit,
		bus:          bus,
		log:          logg,
	}, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.Orchestrator.Run(ctx)
	go s.notifier.Run(ctx)
	go timeline.Watch(ctx, s.bus, s.audit, logger.New("audit"))
	if err := mqtt.SubscribePositions(s.client, func(upd orchestrator.PositionUpdate) {
		if err := s.Orchestrator.HandlePositionUpdate(ctx, upd); err != nil {
			s.log.Errorf("position update from %s: %v", upd.VendorID, err)
		}
	}); err != nil {
		return fmt.Errorf("position feed: %w", err)
	}
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	apidispatch.NewHandler(s.Orchestrator, s.Offers, s.Configs).Register(mux)
	admin.NewHandler(s.Configs, s.cfg.API.AdminToken).Register(mux)
	mux.Handle("GET /api/dispatch/audit", apidispatch.NewAuditHandler(s.audit, s.cfg.API.AdminToken))
	srv := &http.Server{Addr: s.cfg.API.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Infof("dispatch API listening on %s", s.cfg.API.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.client.Disconnect()
	s.bus.Close()
	if err := s.audit.Close(); err != nil {
		s.log.Errorf("audit close: %v", err)
	}
	if err := s.roster.Close(); err != nil {
		s.log.Errorf("roster close: %v", err)
	}
	if s.storeCl != nil {
		return s.storeCl()
	}
	return nil
}
