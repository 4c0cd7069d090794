package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValidWithBackend(t *testing.T) {
	cfg := Defaults()
	cfg.BackendURL = "http://backend.local/api"
	assert.NoError(t, Validate(cfg))
}

func TestConfigSurvivesYAMLRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.BackendURL = "http://backend.local/api"
	cfg.WedgeDevice = "/dev/hidraw0"

	raw, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(raw, &back))
	if diff := cmp.Diff(cfg, back); diff != "" {
		t.Fatalf("config changed across round trip (-want +got):\n%s", diff)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.BackendURL = "ftp://nope"
	cfg.RateLimit = 0
	cfg.LogLevel = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backendUrl")
	assert.Contains(t, err.Error(), "rateLimit")
	assert.Contains(t, err.Error(), "log level")
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
backendUrl: "http://backend.local/api"
wedgeDevice: "/dev/hidraw0"
resetDelay: 2s
`)
	t.Setenv("GK_LISTEN", ":7070")
	t.Setenv("GK_CALL_TIMEOUT", "10s")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Listen, "env wins over file")
	assert.Equal(t, "http://backend.local/api", cfg.BackendURL)
	assert.Equal(t, "/dev/hidraw0", cfg.WedgeDevice)
	assert.Equal(t, 2*time.Second, cfg.ResetDelay.Std())
	assert.Equal(t, 10*time.Second, cfg.CallTimeout.Std())
	// Untouched fields keep defaults.
	assert.Equal(t, 1280, cfg.CameraWidth)
	assert.Equal(t, DefaultDecodeURL, cfg.DecodeURL)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("GK_BACKEND_URL", "https://backend.example/api")
	t.Setenv("GK_RATE_LIMIT", "30")

	cfg, err := NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, "https://backend.example/api", cfg.BackendURL)
	assert.Equal(t, 30, cfg.RateLimit)
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	t.Setenv("GK_BACKEND_URL", "http://backend.local/api")
	t.Setenv("GK_RESET_DELAY", "soon")

	_, err := NewLoader("").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GK_RESET_DELAY")
}

func TestLoadRejectsMissingBackend(t *testing.T) {
	_, err := NewLoader("").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backendUrl is required")
}

func TestHolderReloadSwapsAndNotifies(t *testing.T) {
	path := writeConfig(t, `
backendUrl: "http://backend.local/api"
rateLimit: 60
`)
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader, path)
	updates := make(chan Config, 1)
	h.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte(`
backendUrl: "http://backend.local/api"
rateLimit: 90
`), 0o644))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, 90, h.Get().RateLimit)
	select {
	case got := <-updates:
		assert.Equal(t, 90, got.RateLimit)
	default:
		t.Fatal("listener not notified")
	}
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfig(t, `backendUrl: "http://backend.local/api"`)
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader, path)
	require.NoError(t, os.WriteFile(path, []byte(`backendUrl: ""`), 0o644))

	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, "http://backend.local/api", h.Get().BackendURL)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `backendUrl: "http://backend.local/api"`)
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader, path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte(`
backendUrl: "http://backend.local/api"
listen: ":9999"
`), 0o644))

	assert.Eventually(t, func() bool {
		return h.Get().Listen == ":9999"
	}, 5*time.Second, 50*time.Millisecond)
}
