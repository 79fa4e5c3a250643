package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSampler_Sample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/B/cpu", r.URL.Path)
		_, _ = w.Write([]byte(`{"cpu_time_ns": 2500000000, "wall_time_ns": 1700000000000000000, "cores": 4}`))
	}))
	defer srv.Close()

	s := NewHTTPSampler(srv.URL, time.Second)
	got, err := s.Sample(context.Background(), "B")
	require.NoError(t, err)

	assert.Equal(t, 2500*time.Millisecond, got.CPUTime)
	assert.Equal(t, 4, got.Cores)
	assert.Equal(t, time.Unix(0, 1700000000000000000), got.WallTime)
}

func TestHTTPSampler_WithoutWallTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cpu_time_ns": 10, "cores": 1}`))
	}))
	defer srv.Close()

	got, err := NewHTTPSampler(srv.URL, 0).Sample(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, got.WallTime.IsZero())
}

func TestHTTPSampler_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown server", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPSampler(srv.URL, time.Second).Sample(context.Background(), "Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
