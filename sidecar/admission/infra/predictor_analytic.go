package infra

import (
	"context"
	"time"

	"admission-sidecar/sidecar/admission/domain"
)

// AnalyticPredictor estima o tempo de resposta sem modelo treinado:
//
//	(workload + avgTime) * (1 + CPUWeight*cpu/100)
//
// Com CPUWeight = 0 o resultado é exatamente workload + avgTime.
type AnalyticPredictor struct {
	CPUWeight float64
}

// Predict implementa domain.Predictor.
func (p AnalyticPredictor) Predict(_ context.Context, profile domain.TaskProfile, t domain.ServerTelemetry) (time.Duration, error) {
	base := t.Workload + profile.AvgTime
	if p.CPUWeight == 0 {
		return base, nil
	}
	factor := 1 + p.CPUWeight*t.CPUUtilization/100
	return time.Duration(float64(base) * factor), nil
}
