package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelControlsVerbosity(t *testing.T) {
	info, sync, err := New("info", false)
	require.NoError(t, err)
	defer sync()
	assert.True(t, info.Enabled())
	assert.False(t, info.V(1).Enabled())

	debug, sync2, err := New("debug", true)
	require.NoError(t, err)
	defer sync2()
	assert.True(t, debug.V(1).Enabled())
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New("loud", false)
	assert.Error(t, err)
}
