package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, 5*time.Second, cfg.RetryDelay)
	require.Equal(t, 5*time.Second, cfg.ShieldDeadline)
	require.Nil(t, cfg.RunnerFactory)
}

func TestOptions_Override(t *testing.T) {
	cfg := defaultConfig()
	WithRetryDelay(2 * time.Second)(&cfg)
	WithShieldDeadline(3 * time.Second)(&cfg)
	require.Equal(t, 2*time.Second, cfg.RetryDelay)
	require.Equal(t, 3*time.Second, cfg.ShieldDeadline)
}

func TestNewSystem_SetRunnerFactory(t *testing.T) {
	sys := NewSystem(NewMemoryEventQueue(), NewMemoryStateCache())
	factory := func(uint64) Runner { return &recordingRunner{} }
	sys.SetRunnerFactory(factory)
	require.NotNil(t, sys.cfg.RunnerFactory)
}
