package domain

import (
	"context"
	"time"
)

// Predictor estima o tempo de resposta de uma tarefa em um servidor.
//
// A forma do modelo fica fora deste pacote: um modelo de regressão remoto
// ou um estimador analítico determinístico (testes) são intercambiáveis.
type Predictor interface {
	Predict(ctx context.Context, profile TaskProfile, telemetry ServerTelemetry) (time.Duration, error)
}

// PredictorFunc adapta uma função a Predictor.
type PredictorFunc func(ctx context.Context, profile TaskProfile, telemetry ServerTelemetry) (time.Duration, error)

func (f PredictorFunc) Predict(ctx context.Context, profile TaskProfile, telemetry ServerTelemetry) (time.Duration, error) {
	return f(ctx, profile, telemetry)
}

// Prediction é o valor previsto para um par (tarefa, servidor) em um ciclo.
type Prediction struct {
	Key       TaskKey
	Server    ServerID
	Predicted time.Duration
}
