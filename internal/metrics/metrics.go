package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing, so callers never need to guard.
type Metrics struct {
	Quotes         *prometheus.CounterVec
	Steps          *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	HTTPRetries    *prometheus.CounterVec
	StatusPolls    *prometheus.CounterVec
	GasPrice       *prometheus.GaugeVec
	InflightRoutes prometheus.Gauge
	BatchOutcomes  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Quotes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgectl_quotes_total",
			Help: "Quotes requested from providers by outcome",
		}, []string{"provider", "outcome"}),

		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgectl_steps_total",
			Help: "Route steps processed by terminal status",
		}, []string{"provider", "kind", "status"}),

		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridgectl_step_duration_seconds",
			Help:    "Time from step start to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~8.5m
		}, []string{"provider", "kind"}),

		HTTPRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgectl_http_retries_total",
			Help: "Provider HTTP requests retried by host",
		}, []string{"host"}),

		StatusPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgectl_status_polls_total",
			Help: "Cross-chain status poll attempts by observed status",
		}, []string{"provider", "status"}),

		GasPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridgectl_gas_price_gwei",
			Help: "Last gas price used for a submitted transaction",
		}, []string{"chain_id"}),

		InflightRoutes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridgectl_inflight_routes",
			Help: "Routes currently executing",
		}),

		BatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgectl_batch_operations_total",
			Help: "Batch asset operations by job and outcome",
		}, []string{"job", "outcome"}),
	}
}

func (m *Metrics) QuoteObserved(provider string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Quotes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) StepObserved(provider, kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(provider, kind, status).Inc()
	m.StepDuration.WithLabelValues(provider, kind).Observe(elapsed.Seconds())
}

func (m *Metrics) HTTPRetry(host string) {
	if m == nil {
		return
	}
	m.HTTPRetries.WithLabelValues(host).Inc()
}

func (m *Metrics) StatusPolled(provider, status string) {
	if m == nil {
		return
	}
	m.StatusPolls.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) GasPriceUsed(chainID int64, weiPerGas float64) {
	if m == nil {
		return
	}
	m.GasPrice.WithLabelValues(strconv.FormatInt(chainID, 10)).Set(weiPerGas / 1e9)
}

// RouteStarted marks a route in flight and returns the matching done func.
func (m *Metrics) RouteStarted() func() {
	if m == nil {
		return func() {}
	}
	m.InflightRoutes.Inc()
	return m.InflightRoutes.Dec
}

func (m *Metrics) BatchObserved(job string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "fail"
	}
	m.BatchOutcomes.WithLabelValues(job, outcome).Inc()
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
