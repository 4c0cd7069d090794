package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gatekeeper/internal/decode"
	"gatekeeper/internal/log"
	"gatekeeper/internal/metrics"
)

// Sampling intervals per decode tier. Native decoding is cheap enough to run
// five times a second; the remote tier is paced to one request per 1.5s.
const (
	NativeInterval   = 200 * time.Millisecond
	FallbackInterval = 1500 * time.Millisecond
)

// Channel samples frames from an exclusively-held camera and emits at most
// one decoded code per activation. Deactivation releases the camera on every
// exit path; an in-flight decode that resolves afterwards is discarded.
type Channel struct {
	dev    Device
	local  decode.Decoder // nil when no local decoder is installed
	remote decode.Decoder

	nativeInterval   time.Duration
	fallbackInterval time.Duration

	mu      sync.Mutex
	active  bool
	discard bool
	emitted bool
	cancel  context.CancelFunc
	done    chan struct{}
	codes   chan string
	relOnce *sync.Once

	inflight atomic.Bool
	wg       sync.WaitGroup
}

// NewChannel builds a capture channel. The local decoder may be nil; the
// channel then operates in fallback (remote) mode.
func NewChannel(dev Device, local, remote decode.Decoder) *Channel {
	return &Channel{
		dev:              dev,
		local:            local,
		remote:           remote,
		nativeInterval:   NativeInterval,
		fallbackInterval: FallbackInterval,
	}
}

// SetIntervals overrides the sampling cadence. Used by tests and config.
func (c *Channel) SetIntervals(native, fallback time.Duration) {
	if native > 0 {
		c.nativeInterval = native
	}
	if fallback > 0 {
		c.fallbackInterval = fallback
	}
}

// Codes returns the emission channel for the current activation. At most one
// code is ever delivered; the channel is closed when the activation ends.
func (c *Channel) Codes() <-chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes
}

// Active reports whether a sampler is currently running.
func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Activate acquires the camera and starts the sampler. Failure to acquire
// the device is fatal to this activation only: the channel stays inactive
// and the error is surfaced to the operator.
func (c *Channel) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return errors.New("capture: channel already active")
	}

	logger := log.WithComponent("capture")

	if err := c.dev.Acquire(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "camera.acquire_failed").Msg("camera unavailable")
		return err
	}

	// The local decoder tier is probed once per activation.
	decoder := decode.Decoder(c.remote)
	interval := c.fallbackInterval
	if c.local != nil {
		decoder = c.local
		interval = c.nativeInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.codes = make(chan string, 1)
	c.relOnce = &sync.Once{}
	c.discard = false
	c.emitted = false
	c.inflight.Store(false)
	c.active = true

	logger.Info().
		Str(log.FieldEvent, "camera.activated").
		Str(log.FieldDecodeMode, decoder.Mode()).
		Dur("interval", interval).
		Msg("camera sampling started")

	go c.sample(runCtx, cancel, decoder, interval, c.codes, c.done, c.relOnce)
	return nil
}

// Deactivate stops sampling and releases the camera synchronously, even if a
// decode attempt is still outstanding; that decode's result is discarded.
// Idempotent.
func (c *Channel) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.discard = true
	cancel := c.cancel
	done := c.done
	rel := c.relOnce
	c.mu.Unlock()

	cancel()
	c.release(rel)
	<-done
}

// release frees the device exactly once per activation.
func (c *Channel) release(once *sync.Once) {
	once.Do(func() {
		logger := log.WithComponent("capture")
		if err := c.dev.Release(); err != nil {
			logger.Error().Err(err).
				Str(log.FieldEvent, "camera.release_failed").Msg("camera release failed")
		} else {
			logger.Debug().
				Str(log.FieldEvent, "camera.released").Msg("camera released")
		}
	})
}

// sample is the cooperative timer loop. A tick is skipped while a previous
// decode attempt is still resolving, bounding concurrency to one.
func (c *Channel) sample(ctx context.Context, cancel context.CancelFunc, decoder decode.Decoder, interval time.Duration, codes chan string, done chan struct{}, rel *sync.Once) {
	logger := log.WithComponent("capture")
	ticker := time.NewTicker(interval)
	defer close(done)
	defer c.markInactive()
	defer close(codes)
	defer c.release(rel)
	defer c.wg.Wait()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.inflight.Load() {
				continue
			}
			frame, err := c.dev.Grab(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Str(log.FieldEvent, "camera.grab_failed").Msg("frame grab failed")
				continue
			}
			c.inflight.Store(true)
			c.wg.Add(1)
			go c.decodeFrame(ctx, cancel, decoder, frame, codes, rel)
		}
	}
}

func (c *Channel) markInactive() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

func (c *Channel) decodeFrame(ctx context.Context, cancel context.CancelFunc, decoder decode.Decoder, frame []byte, codes chan string, rel *sync.Once) {
	defer c.wg.Done()
	defer c.inflight.Store(false)

	text, err := decoder.Decode(ctx, frame)
	if err != nil {
		// A decode miss is silently retried on the next tick.
		if errors.Is(err, decode.ErrNoSymbol) {
			metrics.IncDecodeAttempt(decoder.Mode(), "miss")
			return
		}
		if ctx.Err() == nil {
			metrics.IncDecodeAttempt(decoder.Mode(), "error")
			logger := log.WithComponent("capture")
			logger.Warn().Err(err).
				Str(log.FieldEvent, "decode.failed").
				Str(log.FieldDecodeMode, decoder.Mode()).
				Msg("decode attempt failed")
		}
		return
	}
	metrics.IncDecodeAttempt(decoder.Mode(), "hit")

	c.mu.Lock()
	if c.discard || c.emitted {
		c.mu.Unlock()
		return
	}
	c.emitted = true
	c.mu.Unlock()

	codes <- text
	cancel()
	c.release(rel)
}
