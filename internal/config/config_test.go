package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 30, cfg.EmailCodeTimeout)
	assert.False(t, cfg.RaiseNoAccount())
}

func TestLoginCodeTimeoutAlias(t *testing.T) {
	t.Setenv("LOGIN_CODE_TIMEOUT", "45")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.EmailCodeTimeout)
}

func TestRaiseNoAccountValues(t *testing.T) {
	for val, want := range map[string]bool{"1": true, "true": true, "YES": true, "0": false, "off": false, "": false} {
		t.Setenv("TWS_RAISE_WHEN_NO_ACCOUNT", val)
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, want, cfg.RaiseNoAccount(), "value %q", val)
	}
}
