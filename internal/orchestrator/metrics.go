package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: сколько Run создано по типам воркфлоу
	RunsTotal *prometheus.CounterVec

	// Latency: сколько занял один шаг (включая вызов модели)
	StepDuration *prometheus.HistogramVec

	// Решения политик по кодам причин
	PolicyDecisions *prometheus.CounterVec

	// Verification: исходы проверки апрувов
	ApprovalChecks *prometheus.CounterVec

	// Saturation: сколько Run висит в WAITING_APPROVAL прямо сейчас
	WaitingApproval prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "devflow_runs_total",
			Help: "Total number of runs started, by workflow type.",
		}, []string{"workflow"}),

		StepDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devflow_step_duration_seconds",
			Help:    "Histogram of step execution latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"role", "status"}),

		PolicyDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "devflow_policy_decisions_total",
			Help: "Policy decisions by reason code.",
		}, []string{"reason_code"}),

		ApprovalChecks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "devflow_approval_checks_total",
			Help: "Approval verification outcomes.",
		}, []string{"outcome"}), // значения: verified, missing, invalid

		WaitingApproval: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "devflow_runs_waiting_approval",
			Help: "Current number of runs suspended in WAITING_APPROVAL.",
		}),
	}
}
