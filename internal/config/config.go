// Package config loads and validates the kiosk daemon configuration: a YAML
// file merged with GK_* environment overrides, with hot reload through an
// fsnotify watcher. A failed reload keeps the previous configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("200ms", "4s").
type Duration time.Duration

// UnmarshalYAML accepts "1500ms"-style strings and bare nanosecond integers.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the canonical duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the effective daemon configuration.
type Config struct {
	// Listen is the HTTP API bind address.
	Listen string `yaml:"listen"`

	// BackendURL is the remote checkpoint service endpoint. Required.
	BackendURL string `yaml:"backendUrl"`

	// DecodeURL is the remote image-decode service used when no local
	// decoder binary is installed.
	DecodeURL string `yaml:"decodeUrl"`

	// QRURL and BarcodeURL are the pass image rendering endpoints.
	QRURL      string `yaml:"qrUrl"`
	BarcodeURL string `yaml:"barcodeUrl"`

	// DataDir holds downloaded pass images.
	DataDir string `yaml:"dataDir"`

	// WedgeDevice is the keyboard-wedge scanner's line device. Empty
	// disables the wedge channel.
	WedgeDevice string `yaml:"wedgeDevice"`

	// Camera capture settings.
	CameraDevice string `yaml:"cameraDevice"`
	CameraWidth  int    `yaml:"cameraWidth"`
	CameraHeight int    `yaml:"cameraHeight"`

	// DecoderBin is the local decoder binary probed at startup. A bare name
	// is resolved via PATH, a path via stat.
	DecoderBin string `yaml:"decoderBin"`

	// Sampling cadence per decode tier.
	NativeInterval   Duration `yaml:"nativeInterval"`
	FallbackInterval Duration `yaml:"fallbackInterval"`

	// ResetDelay is the RESULT auto-clear delay; CallTimeout bounds every
	// backend call.
	ResetDelay  Duration `yaml:"resetDelay"`
	CallTimeout Duration `yaml:"callTimeout"`

	// RateLimit is the per-IP request budget per minute on mutating API
	// endpoints.
	RateLimit int `yaml:"rateLimit"`

	LogLevel string `yaml:"logLevel"`
}

// DefaultDecodeURL is the remote decode tier used when none is configured.
const DefaultDecodeURL = "https://api.qrserver.com/v1/read-qr-code/"

// Defaults returns the baseline configuration before file and env merging.
func Defaults() Config {
	return Config{
		Listen:           ":8080",
		DecodeURL:        DefaultDecodeURL,
		DataDir:          "/var/lib/gatekeeper",
		CameraDevice:     "/dev/video0",
		CameraWidth:      1280,
		CameraHeight:     720,
		DecoderBin:       "zbarimg",
		NativeInterval:   Duration(200 * time.Millisecond),
		FallbackInterval: Duration(1500 * time.Millisecond),
		ResetDelay:       Duration(4 * time.Second),
		CallTimeout:      Duration(30 * time.Second),
		RateLimit:        120,
		LogLevel:         "info",
	}
}

// Validate checks the configuration, collecting every problem instead of
// stopping at the first.
func Validate(c Config) error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address must not be empty"))
	}
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backendUrl is required"))
	} else if err := validURL(c.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("backendUrl: %w", err))
	}
	for _, u := range []struct{ name, val string }{
		{"decodeUrl", c.DecodeURL},
		{"qrUrl", c.QRURL},
		{"barcodeUrl", c.BarcodeURL},
	} {
		if u.val == "" {
			continue
		}
		if err := validURL(u.val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.name, err))
		}
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("dataDir must not be empty"))
	}
	if c.CameraWidth <= 0 || c.CameraHeight <= 0 {
		errs = append(errs, fmt.Errorf("camera resolution %dx%d is invalid", c.CameraWidth, c.CameraHeight))
	}
	if c.NativeInterval <= 0 || c.FallbackInterval <= 0 {
		errs = append(errs, errors.New("sampling intervals must be positive"))
	}
	if c.ResetDelay <= 0 {
		errs = append(errs, errors.New("resetDelay must be positive"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("callTimeout must be positive"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("rateLimit must be positive"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http(s)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
