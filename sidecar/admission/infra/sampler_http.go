package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"admission-sidecar/sidecar/admission/domain"
)

// cpuResponse é o payload do endpoint de monitoramento.
type cpuResponse struct {
	CPUTimeNs  int64 `json:"cpu_time_ns"`
	WallTimeNs int64 `json:"wall_time_ns,omitempty"`
	Cores      int   `json:"cores"`
}

// HTTPSampler consulta um agente de monitoramento via HTTP:
// GET <base>/servers/<id>/cpu -> {"cpu_time_ns":..., "wall_time_ns":..., "cores":...}
type HTTPSampler struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSampler(baseURL string, timeout time.Duration) *HTTPSampler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPSampler{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Sample implementa domain.Sampler.
func (s *HTTPSampler) Sample(ctx context.Context, server domain.ServerID) (domain.CPUSample, error) {
	u := s.baseURL + "/servers/" + url.PathEscape(string(server)) + "/cpu"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.CPUSample{}, fmt.Errorf("failed to create sample request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.CPUSample{}, fmt.Errorf("failed to call monitoring endpoint %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.CPUSample{}, fmt.Errorf("monitoring endpoint returned non-200 status: %d, body: %s", resp.StatusCode, string(body))
	}

	var payload cpuResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.CPUSample{}, fmt.Errorf("failed to decode sample response: %w", err)
	}

	out := domain.CPUSample{
		CPUTime: time.Duration(payload.CPUTimeNs),
		Cores:   payload.Cores,
	}
	if payload.WallTimeNs > 0 {
		out.WallTime = time.Unix(0, payload.WallTimeNs)
	}
	return out, nil
}
