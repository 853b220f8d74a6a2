package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(billingChargedCents, retentionSweptTotal) }

var billingChargedCents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "billing_charged_cents",
		Help: "Total minor currency units settled, labeled by operation.",
	},
	[]string{"operation"}, // 'batch', 'single'
)

var retentionSweptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "retention_swept_total",
		Help: "Expired job outputs deleted by the retention sweep.",
	},
)

func AddBillingCharged(operation string, cents int64) {
	if cents > 0 {
		billingChargedCents.WithLabelValues(norm(operation)).Add(float64(cents))
	}
}

func IncRetentionSwept(n int) {
	retentionSweptTotal.Add(float64(n))
}
