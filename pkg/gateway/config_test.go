package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
listen: :8080
routes:
  - path: /api/v1/uuid/
    backends: [http://u1:8080, http://u2:8080]
    timeouts:
      dial: 1s
      response_header: 3s
    health:
      failures: 5
      cooldown: 15s
    cache:
      enabled: true
      ttl: 10s
      vary_query: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Routes, 1)

	route := cfg.Routes[0]
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "/api/v1/uuid/", route.Path)
	assert.Equal(t, route.Path, route.Rewrite, "unset rewrite defaults to pass-through")
	assert.Equal(t, 2, route.Retries, "unset retries defaults to backend count")
	assert.Equal(t, time.Second, time.Duration(route.Timeouts.Dial))
	assert.Equal(t, 3*time.Second, time.Duration(route.Timeouts.ResponseHeader))
	assert.Equal(t, DefaultOverallTimeout, time.Duration(route.Timeouts.Overall))
	assert.Equal(t, uint32(5), route.Health.Failures)
	assert.Equal(t, DefaultFailureWindow, time.Duration(route.Health.Window))
	assert.Equal(t, 15*time.Second, time.Duration(route.Health.Cooldown))
	assert.True(t, route.Cache.Enabled)
	assert.Equal(t, 10*time.Second, time.Duration(route.Cache.TTL))
	assert.True(t, route.Cache.VaryQuery)
}

func TestLoadConfigRejections(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing listen",
			content: "routes:\n  - path: /a/\n    backends: [http://u1:8080]\n",
			wantErr: "listen address is required",
		},
		{
			name:    "no routes",
			content: "listen: :8080\n",
			wantErr: "at least one route is required",
		},
		{
			name:    "relative path",
			content: "listen: :8080\nroutes:\n  - path: api\n    backends: [http://u1:8080]\n",
			wantErr: "must start with /",
		},
		{
			name:    "no backends",
			content: "listen: :8080\nroutes:\n  - path: /a/\n",
			wantErr: "at least one backend is required",
		},
		{
			name:    "relative backend",
			content: "listen: :8080\nroutes:\n  - path: /a/\n    backends: [u1:8080]\n",
			wantErr: "absolute URL",
		},
		{
			name:    "bad duration",
			content: "listen: :8080\nroutes:\n  - path: /a/\n    backends: [http://u1:8080]\n    timeouts: {dial: fast}\n",
			wantErr: "invalid duration",
		},
		{
			name:    "cache without ttl",
			content: "listen: :8080\nroutes:\n  - path: /a/\n    backends: [http://u1:8080]\n    cache: {enabled: true}\n",
			wantErr: "cache ttl must be positive",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
