package application

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"admission-sidecar/internal/metrics"
	"admission-sidecar/sidecar/admission/domain"
)

// DefaultSLO é o tempo de resposta máximo aceitável quando nada é configurado.
const DefaultSLO = time.Second

// LiveStore é o recorte do estado compartilhado usado pelo motor de admissão.
type LiveStore interface {
	Servers() domain.ServerSet
	// Snapshot copia carga e CPU com os dois locks tomados juntos.
	Snapshot() map[domain.ServerID]domain.ServerTelemetry
	// UpdateWhitelist aplica fn sob o lock de whitelist e devolve uma cópia.
	UpdateWhitelist(fn func(w *domain.Whitelist)) *domain.Whitelist
}

// Change é uma transição de pertinência aplicada em um ciclo.
type Change struct {
	Key       domain.TaskKey
	Server    domain.ServerID
	Predicted time.Duration
}

// CycleReport resume um recálculo.
type CycleReport struct {
	Predictions []domain.Prediction
	Added       []Change
	Removed     []Change
	// Failures conta pares cuja previsão falhou (mantidos como estavam).
	Failures int
}

// Engine recalcula a whitelist a partir da telemetria e das previsões.
type Engine struct {
	State     LiveStore
	Profiles  domain.ProfileRegistry
	Predictor domain.Predictor
	// SLO <= 0 usa DefaultSLO.
	SLO    time.Duration
	Logger logr.Logger
}

// Recompute executa um ciclo completo e devolve o relatório e a cópia da
// whitelist resultante, tirada no mesmo lock em que as mudanças foram aplicadas.
func (e Engine) Recompute(ctx context.Context) (CycleReport, *domain.Whitelist, error) {
	slo := e.SLO
	if slo <= 0 {
		slo = DefaultSLO
	}

	servers := e.State.Servers()
	snapshot := e.State.Snapshot()

	var report CycleReport
	for _, profile := range e.Profiles.All() {
		for _, id := range servers {
			if err := ctx.Err(); err != nil {
				return report, nil, err
			}
			predicted, err := e.Predictor.Predict(ctx, profile, snapshot[id])
			if err != nil {
				report.Failures++
				metrics.IncPredictionFailure()
				e.Logger.Error(err, "prediction failed", "task", profile.Key, "server", id)
				continue
			}
			report.Predictions = append(report.Predictions, domain.Prediction{
				Key:       profile.Key,
				Server:    id,
				Predicted: predicted,
			})
		}
	}

	wl := e.State.UpdateWhitelist(func(w *domain.Whitelist) {
		for _, p := range report.Predictions {
			present := w.Contains(p.Key, p.Server)
			c := Change{Key: p.Key, Server: p.Server, Predicted: p.Predicted}
			switch {
			case present && p.Predicted >= slo:
				if w.Remove(p.Key, p.Server) {
					report.Removed = append(report.Removed, c)
				}
			case !present && p.Predicted < slo:
				if w.Add(p.Key, p.Server) {
					report.Added = append(report.Added, c)
				}
			}
		}
	})

	metrics.AddWhitelistChanges("added", len(report.Added))
	metrics.AddWhitelistChanges("removed", len(report.Removed))
	for _, k := range wl.Keys() {
		metrics.SetWhitelistAdmissible(string(k), len(wl.Admissible(k)))
	}
	e.Logger.V(1).Info("whitelist recomputed",
		"predictions", len(report.Predictions),
		"added", len(report.Added),
		"removed", len(report.Removed),
		"failures", report.Failures)
	return report, wl, nil
}
