package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Instance metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bosun_instances_total",
			Help: "Pod instances by group and state",
		},
		[]string{"group", "state"},
	)

	InstancesDesired = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bosun_instances_desired",
			Help: "Desired instance count per pod group",
		},
		[]string{"group"},
	)

	LaunchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bosun_launches_total",
			Help: "Total launch requests submitted to the resource manager",
		},
	)

	LaunchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bosun_launch_failures_total",
			Help: "Launch requests the resource manager failed to acknowledge",
		},
	)

	InstanceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_instance_failures_total",
			Help: "Instances reported failed, by pod group",
		},
		[]string{"group"},
	)

	// Plan metrics
	PlansTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bosun_plans_total",
			Help: "Plan runs by state",
		},
		[]string{"state"},
	)

	PhaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_phase_transitions_total",
			Help: "Phase state transitions by pod group and new state",
		},
		[]string{"group", "state"},
	)

	PlacementBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_placement_blocked_total",
			Help: "Placement attempts that found no feasible location, by pod group",
		},
		[]string{"group"},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bosun_reconcile_cycles_total",
			Help: "Total reconciliation cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bosun_reconcile_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bosun_replacements_total",
			Help: "Failed or missing instances replaced by the reconciler",
		},
		[]string{"group"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(InstancesDesired)
	prometheus.MustRegister(LaunchesTotal)
	prometheus.MustRegister(LaunchFailuresTotal)
	prometheus.MustRegister(InstanceFailuresTotal)
	prometheus.MustRegister(PlansTotal)
	prometheus.MustRegister(PhaseTransitionsTotal)
	prometheus.MustRegister(PlacementBlockedTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReplacementsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
