package capture

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gatekeeper/internal/decode"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDevice struct {
	mu         sync.Mutex
	held       bool
	grabs      int
	acquireErr error
}

func (d *fakeDevice) Acquire(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquireErr != nil {
		return d.acquireErr
	}
	d.held = true
	return nil
}

func (d *fakeDevice) Grab(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabs++
	return []byte("frame"), nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = false
	return nil
}

func (d *fakeDevice) holding() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// countingDecoder resolves after a delay and tracks concurrent entries.
type countingDecoder struct {
	delay      time.Duration
	result     string
	err        error
	current    atomic.Int32
	maxSeen    atomic.Int32
	totalCalls atomic.Int32
}

func (d *countingDecoder) Decode(ctx context.Context, image []byte) (string, error) {
	cur := d.current.Add(1)
	defer d.current.Add(-1)
	for {
		prev := d.maxSeen.Load()
		if cur <= prev || d.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	d.totalCalls.Add(1)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(d.delay):
	}
	if d.err != nil {
		return "", d.err
	}
	return d.result, nil
}

func (d *countingDecoder) Mode() string { return "native" }

func TestActivateFailsWhenDeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{acquireErr: ErrDeviceUnavailable}
	ch := NewChannel(dev, nil, &countingDecoder{result: "x"})

	err := ch.Activate(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.False(t, ch.Active())
}

func TestSuccessfulDecodeEmitsOnceAndReleases(t *testing.T) {
	dev := &fakeDevice{}
	dec := &countingDecoder{result: "104567890", delay: time.Millisecond}
	ch := NewChannel(dev, dec, nil)
	ch.SetIntervals(2*time.Millisecond, 0)

	require.NoError(t, ch.Activate(context.Background()))
	codes := ch.Codes()

	select {
	case code, ok := <-codes:
		require.True(t, ok)
		assert.Equal(t, "104567890", code)
	case <-time.After(2 * time.Second):
		t.Fatal("no code emitted")
	}

	// Channel closes after the single emission; device must be free.
	select {
	case _, ok := <-codes:
		assert.False(t, ok, "at most one code per activation")
	case <-time.After(2 * time.Second):
		t.Fatal("codes channel not closed")
	}
	assert.Eventually(t, func() bool { return !dev.holding() }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !ch.Active() }, time.Second, 5*time.Millisecond)
}

func TestSamplesSkippedWhileDecodeInFlight(t *testing.T) {
	dev := &fakeDevice{}
	// Decode takes far longer than the sampling interval; ticks must be
	// skipped rather than stacking decodes.
	dec := &countingDecoder{err: decode.ErrNoSymbol, delay: 50 * time.Millisecond}
	ch := NewChannel(dev, dec, nil)
	ch.SetIntervals(2*time.Millisecond, 0)

	require.NoError(t, ch.Activate(context.Background()))
	time.Sleep(120 * time.Millisecond)
	ch.Deactivate()

	assert.Equal(t, int32(1), dec.maxSeen.Load(), "only one decode may be in flight")
	assert.LessOrEqual(t, dec.totalCalls.Load(), int32(4))
}

func TestDeactivateReleasesDespiteInflightDecode(t *testing.T) {
	dev := &fakeDevice{}
	dec := &countingDecoder{result: "SN-554422", delay: 5 * time.Second}
	ch := NewChannel(dev, dec, nil)
	ch.SetIntervals(2*time.Millisecond, 0)

	require.NoError(t, ch.Activate(context.Background()))
	codes := ch.Codes()

	// Wait until a decode is actually in flight, then cancel the view.
	assert.Eventually(t, func() bool { return dec.current.Load() == 1 }, time.Second, time.Millisecond)
	ch.Deactivate()

	assert.False(t, dev.holding(), "device must be released synchronously on deactivation")

	// The in-flight decode result is discarded: channel closes empty.
	select {
	case code, ok := <-codes:
		assert.False(t, ok, "unexpected code after deactivation: %q", code)
	case <-time.After(time.Second):
		t.Fatal("codes channel not closed after deactivation")
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	dec := &countingDecoder{err: decode.ErrNoSymbol, delay: time.Millisecond}
	ch := NewChannel(dev, dec, nil)
	ch.SetIntervals(2*time.Millisecond, 0)

	require.NoError(t, ch.Activate(context.Background()))
	ch.Deactivate()
	ch.Deactivate()
	assert.False(t, dev.holding())
}

func TestFallbackModeUsedWithoutLocalDecoder(t *testing.T) {
	dev := &fakeDevice{}
	remote := &countingDecoder{result: "104567890", delay: time.Millisecond}
	ch := NewChannel(dev, nil, remote)
	ch.SetIntervals(0, 2*time.Millisecond)

	require.NoError(t, ch.Activate(context.Background()))
	select {
	case code := <-ch.Codes():
		assert.Equal(t, "104567890", code)
	case <-time.After(2 * time.Second):
		t.Fatal("no code emitted in fallback mode")
	}
	ch.Deactivate()
}

// decodeAttemptValue scrapes the default registry for one labeled series of
// the decode-attempts counter. Absent series read as zero.
func decodeAttemptValue(t *testing.T, mode, outcome string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	prefix := fmt.Sprintf("gatekeeper_decode_attempts_total{mode=%q,outcome=%q} ", mode, outcome)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, prefix) {
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, prefix), 64)
			require.NoError(t, err)
			return v
		}
	}
	return 0
}

func TestDecodeAttemptsRecorded(t *testing.T) {
	missesBefore := decodeAttemptValue(t, "native", "miss")
	hitsBefore := decodeAttemptValue(t, "native", "hit")

	dev := &fakeDevice{}
	miss := &countingDecoder{err: decode.ErrNoSymbol, delay: time.Millisecond}
	ch := NewChannel(dev, miss, nil)
	ch.SetIntervals(2*time.Millisecond, 0)
	require.NoError(t, ch.Activate(context.Background()))
	assert.Eventually(t, func() bool {
		return decodeAttemptValue(t, "native", "miss") > missesBefore
	}, 2*time.Second, 5*time.Millisecond, "misses must be counted")
	ch.Deactivate()

	dev2 := &fakeDevice{}
	hit := &countingDecoder{result: "104567890", delay: time.Millisecond}
	ch2 := NewChannel(dev2, hit, nil)
	ch2.SetIntervals(2*time.Millisecond, 0)
	require.NoError(t, ch2.Activate(context.Background()))
	select {
	case <-ch2.Codes():
	case <-time.After(2 * time.Second):
		t.Fatal("no code emitted")
	}
	assert.Greater(t, decodeAttemptValue(t, "native", "hit"), hitsBefore, "hits must be counted")
	ch2.Deactivate()
}

func TestReactivationAfterSuccess(t *testing.T) {
	dev := &fakeDevice{}
	dec := &countingDecoder{result: "A1", delay: time.Millisecond}
	ch := NewChannel(dev, dec, nil)
	ch.SetIntervals(2*time.Millisecond, 0)

	require.NoError(t, ch.Activate(context.Background()))
	<-ch.Codes()
	assert.Eventually(t, func() bool { return !ch.Active() }, time.Second, time.Millisecond)

	require.NoError(t, ch.Activate(context.Background()))
	select {
	case code := <-ch.Codes():
		assert.Equal(t, "A1", code)
	case <-time.After(2 * time.Second):
		t.Fatal("no code on second activation")
	}
	ch.Deactivate()
}
