// Package metrics registra os contadores e gauges Prometheus do sidecar.
//
// Os helpers são seguros antes de InitMetrics: sem registro, viram no-op.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartdrop"

var (
	ingestEvents        *prometheus.CounterVec
	ingestErrors        *prometheus.CounterVec
	workloadDrift       *prometheus.CounterVec
	samplingFailures    *prometheus.CounterVec
	predictionFailures  prometheus.Counter
	whitelistChanges    *prometheus.CounterVec
	publishCycles       prometheus.Counter
	recordSinkFailures  prometheus.Counter
	pendingInstances    prometheus.Gauge
	serverWorkload      *prometheus.GaugeVec
	serverCPU           *prometheus.GaugeVec
	whitelistAdmissible *prometheus.GaugeVec
	publisherState      prometheus.Gauge

	// initOnce garante que InitMetrics só registra uma vez
	initOnce sync.Once
	initErr  error
)

// InitMetrics registra todas as métricas no registry informado.
// Pode ser chamada várias vezes; apenas a primeira chamada tem efeito.
func InitMetrics(registry prometheus.Registerer) error {
	initOnce.Do(func() {
		ingestEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Access log events applied, by status marker",
		}, []string{"status"})
		ingestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Access log lines dropped, by reason",
		}, []string{"reason"})
		workloadDrift = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workload_drift_total",
			Help:      "Workload decrements clamped at zero",
		}, []string{"server"})
		samplingFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampling_failures_total",
			Help:      "CPU sampling failures, by server",
		}, []string{"server"})
		predictionFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_failures_total",
			Help:      "Predictor calls that returned an error",
		})
		whitelistChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whitelist_changes_total",
			Help:      "Whitelist membership changes, by direction (added/removed)",
		}, []string{"direction"})
		publishCycles = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_cycles_total",
			Help:      "Completed handshake cycles",
		})
		recordSinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_sink_failures_total",
			Help:      "Completed-task records that could not be persisted",
		})
		pendingInstances = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_instances",
			Help:      "Dispatched tasks waiting for completion",
		})
		serverWorkload = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_workload_seconds",
			Help:      "Expected remaining execution time of in-flight tasks",
		}, []string{"server"})
		serverCPU = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_cpu_utilization_percent",
			Help:      "Most recent CPU utilization sample",
		}, []string{"server"})
		whitelistAdmissible = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "whitelist_admissible_servers",
			Help:      "Number of admissible servers per task type at the last publish",
		}, []string{"task"})
		publisherState = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publisher_state",
			Help:      "Current publisher protocol state (numeric)",
		})

		collectors := []prometheus.Collector{
			ingestEvents, ingestErrors, workloadDrift, samplingFailures, predictionFailures,
			whitelistChanges, publishCycles, recordSinkFailures, pendingInstances,
			serverWorkload, serverCPU, whitelistAdmissible, publisherState,
		}
		for _, c := range collectors {
			if err := registry.Register(c); err != nil {
				initErr = err
				return
			}
		}
	})
	return initErr
}

func IncIngestEvent(status string) {
	if ingestEvents != nil {
		ingestEvents.WithLabelValues(status).Inc()
	}
}

func IncIngestError(reason string) {
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

func IncWorkloadDrift(server string) {
	if workloadDrift != nil {
		workloadDrift.WithLabelValues(server).Inc()
	}
}

func IncSamplingFailure(server string) {
	if samplingFailures != nil {
		samplingFailures.WithLabelValues(server).Inc()
	}
}

func IncPredictionFailure() {
	if predictionFailures != nil {
		predictionFailures.Inc()
	}
}

func AddWhitelistChanges(direction string, n int) {
	if whitelistChanges != nil && n > 0 {
		whitelistChanges.WithLabelValues(direction).Add(float64(n))
	}
}

func IncPublishCycle() {
	if publishCycles != nil {
		publishCycles.Inc()
	}
}

func IncRecordSinkFailure() {
	if recordSinkFailures != nil {
		recordSinkFailures.Inc()
	}
}

func SetPendingInstances(n int) {
	if pendingInstances != nil {
		pendingInstances.Set(float64(n))
	}
}

func SetServerWorkload(server string, seconds float64) {
	if serverWorkload != nil {
		serverWorkload.WithLabelValues(server).Set(seconds)
	}
}

func SetServerCPU(server string, pct float64) {
	if serverCPU != nil {
		serverCPU.WithLabelValues(server).Set(pct)
	}
}

func SetWhitelistAdmissible(task string, n int) {
	if whitelistAdmissible != nil {
		whitelistAdmissible.WithLabelValues(task).Set(float64(n))
	}
}

func SetPublisherState(state int) {
	if publisherState != nil {
		publisherState.Set(float64(state))
	}
}
