package webhook

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deployhook/internal/config"
)

func TestFromGlobalConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Listener.MaxBodySize = "2MB"
	cfg.Listener.Async = true
	cfg.Service.ShutdownTimeout = 5 * time.Second
	cfg.Metrics.Enabled = true
	handler := http.NotFoundHandler()

	out, err := FromGlobalConfig(cfg, handler)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8120", out.Listen)
	assert.Equal(t, int64(2*1024*1024), out.MaxBodySize)
	assert.True(t, out.Async)
	assert.Equal(t, 5*time.Second, out.DrainTimeout)
	assert.Equal(t, "/metrics", out.MetricsPath)
	assert.NotNil(t, out.MetricsHandler)
}

func TestFromGlobalConfigDefaults(t *testing.T) {
	out, err := FromGlobalConfig(config.Defaults(), http.NotFoundHandler())
	require.NoError(t, err)

	assert.Equal(t, int64(DefaultMaxBodySize), out.MaxBodySize)
	assert.Empty(t, out.MetricsPath, "metrics are off by default")
	assert.Nil(t, out.MetricsHandler)
}

func TestFromGlobalConfigErrors(t *testing.T) {
	_, err := FromGlobalConfig(nil, nil)
	assert.Error(t, err)

	cfg := config.Defaults()
	cfg.Listener.MaxBodySize = "lots"
	_, err = FromGlobalConfig(cfg, nil)
	assert.Error(t, err)
}
