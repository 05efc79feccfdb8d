package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	require.Equal(t, 500, c.BacktrackDepthLimit)
	require.True(t, c.BMI2)
	require.Equal(t, 8, c.CHDMaxRetries)
	require.Equal(t, IjumpCHD, c.IjumpLookupMode)
	require.NotNil(t, c.Logger())
}

func TestLoggerLazyOnZeroValue(t *testing.T) {
	var c Config
	require.NotNil(t, c.Logger())
}

func TestSyncNoopWithoutLogger(t *testing.T) {
	var c Config
	require.NoError(t, c.Sync())
}
