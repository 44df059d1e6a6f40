package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/roadcall/dispatchd/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	offers      *prometheus.CounterVec
	response    *prometheus.HistogramVec
	rounds      *prometheus.CounterVec
	escalations *prometheus.CounterVec
	timeouts    *prometheus.CounterVec
}

// NewPromSink registers dispatch metrics on the default Prometheus
// registerer. The Prometheus server is started separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global one.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	offers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_offers_total",
		Help: "Offers by terminal outcome",
	}, []string{"outcome"})
	response := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_offer_response_seconds",
		Help:    "Time between offer issuance and its resolution",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"outcome"})
	rounds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_matching_rounds_total",
		Help: "Matching rounds by incident type",
	}, []string{"incident_type"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_escalations_total",
		Help: "Incidents escalated to a human dispatcher",
	}, []string{"incident_type"})
	timeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_vendor_timeouts_total",
		Help: "Assigned vendors that missed a deadline",
	}, []string{"type"})

	s := &PromSink{offers: offers, response: response, rounds: rounds, escalations: escalations, timeouts: timeouts}
	for _, c := range []prometheus.Collector{offers, response, rounds, escalations, timeouts} {
		if err := register(reg, c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

func (s *PromSink) RecordOffer(ev coremetrics.OfferEvent) error {
	outcome := string(ev.Outcome)
	s.offers.WithLabelValues(outcome).Inc()
	if ev.Outcome != "pending" {
		s.response.WithLabelValues(outcome).Observe(ev.ResponseTime.Seconds())
	}
	return nil
}

func (s *PromSink) RecordRound(ev coremetrics.RoundEvent) error {
	s.rounds.WithLabelValues(string(ev.IncidentType)).Inc()
	return nil
}

func (s *PromSink) RecordEscalation(ev coremetrics.EscalationEvent) error {
	s.escalations.WithLabelValues(string(ev.IncidentType)).Inc()
	return nil
}

func (s *PromSink) RecordVendorTimeout(ev coremetrics.VendorTimeoutEvent) error {
	s.timeouts.WithLabelValues(ev.Type).Inc()
	return nil
}

// StartPromServer serves /metrics on the given port until the context
// is cancelled.
func StartPromServer(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
