package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics covers both pipelines.
type GatewayMetrics struct {
	DepositsIngestedTotal   *prometheus.CounterVec
	DepositsDuplicatesTotal *prometheus.CounterVec
	LoaderErrorsTotal       *prometheus.CounterVec

	ConversionsTotal      *prometheus.CounterVec
	ConversionAmountTotal *prometheus.CounterVec
	PipelineRunDuration   *prometheus.HistogramVec
	StaleClaimsReclaimed  prometheus.Counter
}

// NewGatewayMetrics registers against reg so tests can use a throwaway
// registry; production passes prometheus.DefaultRegisterer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(reg)
	return &GatewayMetrics{
		DepositsIngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_deposits_ingested_total",
			Help: "New deposit rows created, by coin",
		}, []string{"coin"}),
		DepositsDuplicatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_deposits_duplicates_total",
			Help: "Raw transactions skipped as already known, by coin",
		}, []string{"coin"}),
		LoaderErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_loader_errors_total",
			Help: "Failed loader calls, by handler",
		}, []string{"handler"}),
		ConversionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_conversions_total",
			Help: "Conversion attempts, by final status",
		}, []string{"status"}),
		ConversionAmountTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_conversion_amount_total",
			Help: "Net amount paid out, by destination coin",
		}, []string{"coin"}),
		PipelineRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokengate_pipeline_run_duration_seconds",
			Help:    "Wall time of one pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"pipeline"}),
		StaleClaimsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tokengate_stale_claims_reclaimed_total",
			Help: "PROCESSING deposits reclaimed after claim expiry",
		}),
	}
}
