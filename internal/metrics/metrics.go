// Package metrics exposes the ledger's Prometheus counters.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rewards"

var (
	// AccrualDays counts posted passive-income days.
	AccrualDays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "accrual",
		Name:      "days_posted_total",
		Help:      "Passive income days posted",
	})

	// AccrualUsers counts per-user tick outcomes: processed, skipped or errored.
	AccrualUsers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "accrual",
		Name:      "users_total",
		Help:      "Per-user accrual tick outcomes",
	}, []string{"outcome"})

	ReferralPayouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "referral",
		Name:      "payouts_total",
		Help:      "Referral commissions posted, by level",
	}, []string{"level"})

	MilestoneAwards = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "referral",
		Name:      "milestone_awards_total",
		Help:      "Milestone windows closed and paid",
	})

	PoolCollections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "global_pool",
		Name:      "collections_total",
		Help:      "Signup collections added to the global pool",
	})

	PoolDistributions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "global_pool",
		Name:      "distributions_total",
		Help:      "Per-user global pool distributions posted",
	})

	// JobRuns counts job invocations by job name and result (ok, busy, done, error).
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job invocations",
	}, []string{"job", "result"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// GinMiddleware records request latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
