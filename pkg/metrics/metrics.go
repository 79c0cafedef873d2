// Package metrics provides Prometheus metrics for the game lifecycle.
package metrics

import (

	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/heartbeat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// GameMetrics collects and exposes game-related Prometheus metrics.
type GameMetrics struct {
	registry *prometheus.Registry

	// Round metrics
	Transitions   *prometheus.CounterVec
	CurrentRound  *prometheus.GaugeVec
	RoundOutcomes *prometheus.GaugeVec

	// Pick metrics
	PicksTotal  *prometheus.CounterVec
	PickCost    *prometheus.HistogramVec
	GoldDebited *prometheus.CounterVec
	LockedPicks *prometheus.CounterVec

	// Settlement metrics
	SettledPicks    *prometheus.CounterVec
	PointsAwarded   *prometheus.CounterVec
	PickPoints      *prometheus.HistogramVec
	BonusesConsumed *prometheus.CounterVec
	DelayedBacklog  *prometheus.GaugeVec

	// Heartbeat metrics
	Beats        *prometheus.CounterVec
	BeatDuration *prometheus.HistogramVec
	BeatErrors   *prometheus.CounterVec
}

// NewGameMetrics creates a new game metrics collector.
func NewGameMetrics() *GameMetrics {
	registry := prometheus.NewRegistry()

	gm := &GameMetrics{
		registry: registry,

		// Round metrics
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_round_transitions_total",
				Help: "Total number of round phase transitions",
			},
			[]string{"phase"},
		),
		CurrentRound: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gameweek_current_round",
				Help: "Number of the current round",
			},
			[]string{},
		),
		RoundOutcomes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gameweek_round_outcomes",
				Help: "Priced outcomes in the open round",
			},
			[]string{},
		),

		// Pick metrics
		PicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_picks_total",
				Help: "Total number of accepted picks",
			},
			[]string{"venue"},
		),
		PickCost: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gameweek_pick_cost_gold",
				Help:    "Cost of accepted picks in gold",
				Buckets: prometheus.LinearBuckets(1, 2, 10), // 1 to 19
			},
			[]string{},
		),
		GoldDebited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_gold_debited_total",
				Help: "Gold debited at lock, including penalties",
			},
			[]string{},
		),
		LockedPicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_locked_picks_total",
				Help: "Picks frozen at lock",
			},
			[]string{"status"},
		),

		// Settlement metrics
		SettledPicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_settled_picks_total",
				Help: "Picks handled by settlement",
			},
			[]string{"outcome"},
		),
		PointsAwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_points_awarded_total",
				Help: "Total points awarded",
			},
			[]string{},
		),
		PickPoints: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gameweek_pick_points",
				Help:    "Points scored per resolved pick",
				Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16, 24},
			},
			[]string{},
		),
		BonusesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_bonuses_consumed_total",
				Help: "Bonus uses consumed at settlement",
			},
			[]string{"kind"},
		),
		DelayedBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gameweek_delayed_backlog",
				Help: "Delayed matches awaiting a result",
			},
			[]string{},
		),

		// Heartbeat metrics
		Beats: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_heartbeats_total",
				Help: "Total heartbeats by action",
			},
			[]string{"action", "status"},
		),
		BeatDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gameweek_heartbeat_duration_seconds",
				Help:    "Heartbeat duration",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"action"},
		),
		BeatErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameweek_heartbeat_errors_total",
				Help: "Total heartbeat errors",
			},
			[]string{"action"},
		),
	}

	// Register all metrics
	gm.registerAll()

	return gm
}

func (gm *GameMetrics) registerAll() {
	gm.registry.MustRegister(
		gm.Transitions,
		gm.CurrentRound,
		gm.RoundOutcomes,
		gm.PicksTotal,
		gm.PickCost,
		gm.GoldDebited,
		gm.LockedPicks,
		gm.SettledPicks,
		gm.PointsAwarded,
		gm.PickPoints,
		gm.BonusesConsumed,
		gm.DelayedBacklog,
		gm.Beats,
		gm.BeatDuration,
		gm.BeatErrors,
	)
}

// Registry returns the prometheus registry.
func (gm *GameMetrics) Registry() *prometheus.Registry {
	return gm.registry
}

// --- Helper methods for recording metrics ---

// RecordTransition records a round entering a phase.
func (gm *GameMetrics) RecordTransition(r *game.Round) {
	gm.Transitions.WithLabelValues(string(r.Phase)).Inc()
	gm.CurrentRound.WithLabelValues().Set(float64(r.Number))
	gm.RoundOutcomes.WithLabelValues().Set(float64(len(r.Costs)))
}

// RecordPick records an accepted pick.
func (gm *GameMetrics) RecordPick(ev *game.PickEvent) {
	gm.PicksTotal.WithLabelValues(ev.Outcome.Venue.String()).Inc()
	gm.PickCost.WithLabelValues().Observe(DecimalToFloat64(ev.Cost))
}

// RecordLock records a lock pass.
func (gm *GameMetrics) RecordLock(report *game.LockReport) {
	gm.GoldDebited.WithLabelValues().Add(DecimalToFloat64(report.GoldDebited))
	gm.LockedPicks.WithLabelValues("locked").Add(float64(report.Locked))
	gm.LockedPicks.WithLabelValues("no_pick").Add(float64(report.NoPick))
	gm.LockedPicks.WithLabelValues("double_up").Add(float64(report.DoubleUps))
	gm.LockedPicks.WithLabelValues("double_up_cancelled").Add(float64(report.DoubleUpsCancelled))
}

// RecordSettlement records a settlement pass.
func (gm *GameMetrics) RecordSettlement(report *game.SettlementReport) {
	for _, d := range report.Players {
		switch {
		case d.Resolved:
			gm.SettledPicks.WithLabelValues(resultLabel(d.PickGoalDifference)).Inc()
			gm.PickPoints.WithLabelValues().Observe(DecimalToFloat64(d.PickPoints))
		case d.Delayed:
			gm.SettledPicks.WithLabelValues("delayed").Inc()
		case d.NoPick:
			gm.SettledPicks.WithLabelValues("no_pick").Inc()
		}
		if d.DelayedResolved > 0 {
			gm.SettledPicks.WithLabelValues("carried").Add(float64(d.DelayedResolved))
		}
	}
	for kind, n := range report.BonusesConsumed {
		gm.BonusesConsumed.WithLabelValues(string(kind)).Add(float64(n))
	}
	gm.PointsAwarded.WithLabelValues().Add(DecimalToFloat64(report.Points))
	gm.DelayedBacklog.WithLabelValues().Set(float64(report.PendingDelayed))
}

// RecordBeat records a heartbeat.
func (gm *GameMetrics) RecordBeat(r *heartbeat.Result) {
	status := "ok"
	switch {
	case r.Error != "":
		status = "error"
		gm.BeatErrors.WithLabelValues(string(r.Action)).Inc()
	case r.Waiting:
		status = "waiting"
	}
	gm.Beats.WithLabelValues(string(r.Action), status).Inc()
	if r.Duration > 0 {
		gm.BeatDuration.WithLabelValues(string(r.Action)).Observe(r.Duration.Seconds())
	}
}

func resultLabel(gd int) string {
	switch {
	case gd > 0:
		return "win"
	case gd < 0:
		return "loss"
	default:
		return "draw"
	}
}

// --- Decimal helpers ---

// DecimalToFloat64 safely converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
