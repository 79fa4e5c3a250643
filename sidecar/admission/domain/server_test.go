package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtilization(t *testing.T) {
	first := CPUSample{CPUTime: 10 * time.Second, Cores: 4}
	second := CPUSample{CPUTime: 12 * time.Second, Cores: 4}

	// 2s de CPU em 1s de relógio com 4 núcleos => 50%.
	pct, err := Utilization(first, second, time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, pct, 1e-9)
}

func TestUtilization_Clamps(t *testing.T) {
	pct, err := Utilization(CPUSample{CPUTime: 0, Cores: 1}, CPUSample{CPUTime: 5 * time.Second, Cores: 1}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 100.0, pct)

	pct, err = Utilization(CPUSample{CPUTime: 5 * time.Second, Cores: 1}, CPUSample{CPUTime: 0, Cores: 1}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct, "counter reset must not go negative")
}

func TestUtilization_RejectsInvalidInput(t *testing.T) {
	_, err := Utilization(CPUSample{}, CPUSample{}, time.Second)
	assert.True(t, errors.Is(err, ErrInvalidSample))

	_, err = Utilization(CPUSample{Cores: 2}, CPUSample{Cores: 2}, 0)
	assert.True(t, errors.Is(err, ErrInvalidSample))
}

func TestErrorReason(t *testing.T) {
	assert.Equal(t, "unknown_task", ErrorReason(errors.Join(ErrMalformedLine, ErrUnknownTask)))
	assert.Equal(t, "malformed", ErrorReason(ErrMalformedLine))
	assert.Equal(t, "unmatched_completion", ErrorReason(ErrUnmatchedCompletion))
	assert.Equal(t, "", ErrorReason(nil))
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus('N')
	require.True(t, ok)
	assert.Equal(t, StatusNew, s)

	s, ok = ParseStatus('c')
	require.True(t, ok)
	assert.Equal(t, "complete", s.String())

	_, ok = ParseStatus('x')
	assert.False(t, ok)
}
