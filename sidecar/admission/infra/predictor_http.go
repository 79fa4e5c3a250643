package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"admission-sidecar/sidecar/admission/domain"
)

// PredictionRequest são as features enviadas ao servidor do modelo de regressão.
type PredictionRequest struct {
	AvgTimeSeconds      float64 `json:"avg_time_s"`
	TimeVarianceSeconds float64 `json:"time_variance_s2"`
	AvgSize             float64 `json:"avg_size"`
	WorkloadSeconds     float64 `json:"workload_s"`
	CPUUtilization      float64 `json:"cpu_utilization"`
}

type PredictionResponse struct {
	PredictedSeconds float64 `json:"predicted_response_s"`
}

// HTTPPredictor chama um servidor de modelo (ex.: GBDT treinado offline) via HTTP/JSON.
type HTTPPredictor struct {
	url        string
	httpClient *http.Client
}

func NewHTTPPredictor(baseURL string, timeout time.Duration) *HTTPPredictor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPPredictor{
		url:        strings.TrimRight(baseURL, "/") + "/predict",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Features monta o vetor de entrada a partir do perfil e da telemetria.
func Features(profile domain.TaskProfile, t domain.ServerTelemetry) PredictionRequest {
	stdev := profile.TimeStdev.Seconds()
	return PredictionRequest{
		AvgTimeSeconds:      profile.AvgTime.Seconds(),
		TimeVarianceSeconds: stdev * stdev,
		AvgSize:             profile.AvgSize,
		WorkloadSeconds:     t.Workload.Seconds(),
		CPUUtilization:      t.CPUUtilization,
	}
}

// Predict implementa domain.Predictor.
func (p *HTTPPredictor) Predict(ctx context.Context, profile domain.TaskProfile, t domain.ServerTelemetry) (time.Duration, error) {
	data, err := json.Marshal(Features(profile, t))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call prediction endpoint %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("prediction server returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	var out PredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode prediction response: %w", err)
	}
	if out.PredictedSeconds < 0 {
		return 0, errors.New("prediction server returned a negative response time")
	}
	return time.Duration(out.PredictedSeconds * float64(time.Second)), nil
}
