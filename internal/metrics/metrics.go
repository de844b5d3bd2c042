package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finsight_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_admissions_total",
			Help: "Admission decisions by outcome reason.",
		},
		[]string{"reason"},
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finsight_refunds_total",
			Help: "Token refunds by outcome.",
		},
		[]string{"outcome"},
	)

	DowngradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finsight_subscription_downgrades_total",
			Help: "Pro subscriptions downgraded by the cleanup sweep.",
		},
	)

	UserBucketsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finsight_user_buckets_active",
			Help: "Per-user token buckets currently held in memory.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdmissionsTotal,
		RefundsTotal,
		DowngradesTotal,
		UserBucketsActive,
	)
}
