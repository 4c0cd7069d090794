package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader produces a validated Config from defaults, an optional YAML file
// and GK_* environment overrides, in that order of precedence (env wins).
type Loader struct {
	path string
}

// NewLoader creates a loader. path may be empty for env-only configuration.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load builds the effective configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		raw, err := os.ReadFile(l.path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays GK_* environment variables onto cfg.
func applyEnv(cfg *Config) error {
	for _, s := range []struct {
		key string
		dst *string
	}{
		{"GK_LISTEN", &cfg.Listen},
		{"GK_BACKEND_URL", &cfg.BackendURL},
		{"GK_DECODE_URL", &cfg.DecodeURL},
		{"GK_QR_URL", &cfg.QRURL},
		{"GK_BARCODE_URL", &cfg.BarcodeURL},
		{"GK_DATA_DIR", &cfg.DataDir},
		{"GK_WEDGE_DEVICE", &cfg.WedgeDevice},
		{"GK_CAMERA_DEVICE", &cfg.CameraDevice},
		{"GK_DECODER_BIN", &cfg.DecoderBin},
		{"GK_LOG_LEVEL", &cfg.LogLevel},
	} {
		if v, ok := os.LookupEnv(s.key); ok {
			*s.dst = v
		}
	}

	for _, d := range []struct {
		key string
		dst *Duration
	}{
		{"GK_NATIVE_INTERVAL", &cfg.NativeInterval},
		{"GK_FALLBACK_INTERVAL", &cfg.FallbackInterval},
		{"GK_RESET_DELAY", &cfg.ResetDelay},
		{"GK_CALL_TIMEOUT", &cfg.CallTimeout},
	} {
		v, ok := os.LookupEnv(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = Duration(parsed)
	}

	for _, n := range []struct {
		key string
		dst *int
	}{
		{"GK_CAMERA_WIDTH", &cfg.CameraWidth},
		{"GK_CAMERA_HEIGHT", &cfg.CameraHeight},
		{"GK_RATE_LIMIT", &cfg.RateLimit},
	} {
		v, ok := os.LookupEnv(n.key)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", n.key, err)
		}
		*n.dst = parsed
	}

	return nil
}
