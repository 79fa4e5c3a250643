package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskKey(t *testing.T) {
	cases := []struct {
		name                        string
		method, url, query, content string
		want                        TaskKey
	}{
		{"null markers", "GET", "/cart", "NULL", "NULL", "GET/cart"},
		{"empty markers", "GET", "/cart", "", "", "GET/cart"},
		{"with query", "GET", "/cart", "?id=1", "NULL", "GET/cart?id=1"},
		{"with content", "POST", "/cart", "NULL", "json", "POST/cart#json"},
		{"trims spaces", " GET ", " /cart ", " null ", " ", "GET/cart"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NewTaskKey(tc.method, tc.url, tc.query, tc.content))
		})
	}
}

func TestTaskKey_Valid(t *testing.T) {
	assert.True(t, TaskKey("GET/cart").Valid())
	assert.False(t, TaskKey("").Valid())
	assert.False(t, TaskKey("GET/a,b").Valid())
	assert.False(t, TaskKey("GET/a\n").Valid())
}

func TestServerID_Valid(t *testing.T) {
	assert.True(t, ServerID("A").Valid())
	assert.True(t, ServerID("7").Valid())
	assert.False(t, ServerID("0").Valid(), "0 is the empty-set sentinel")
	assert.False(t, ServerID("vm1").Valid())
	assert.False(t, ServerID(",").Valid())
	assert.False(t, ServerID("").Valid())
}

func TestMicroseconds(t *testing.T) {
	d, err := Microseconds(1500.4)
	require.NoError(t, err)
	assert.Equal(t, 1500400*time.Nanosecond, d)

	d, err = Microseconds(0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	// perto do limite de Duration (~285 anos)
	d, err = Microseconds(9e15)
	require.NoError(t, err)
	assert.Positive(t, d)
}

func TestMicroseconds_OutOfRange(t *testing.T) {
	for _, v := range []float64{-1, math.NaN(), math.Inf(1), 1e300, float64(math.MaxInt64) / 1000} {
		_, err := Microseconds(v)
		assert.ErrorIs(t, err, ErrDurationOutOfRange, "value %v", v)
	}
}
