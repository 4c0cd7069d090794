package decode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDecoder struct {
	text string
	err  error
	hits int
	mode string
}

func (s *stubDecoder) Decode(ctx context.Context, image []byte) (string, error) {
	s.hits++
	return s.text, s.err
}

func (s *stubDecoder) Mode() string {
	if s.mode == "" {
		return "stub"
	}
	return s.mode
}

func TestRemoteDecoderParsesSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "qrcode,code128,ean13,code39", r.FormValue("formats"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":[{"data":"SN-554422"}]}]`))
	}))
	defer srv.Close()

	d := NewRemoteDecoder(srv.URL)
	text, err := d.Decode(context.Background(), []byte("fake-jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "SN-554422", text)
}

func TestRemoteDecoderNoSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":[{"data":""}]}]`))
	}))
	defer srv.Close()

	d := NewRemoteDecoder(srv.URL)
	_, err := d.Decode(context.Background(), []byte("fake-jpeg"))
	assert.ErrorIs(t, err, ErrNoSymbol)
}

func TestScanImagePrefersLocal(t *testing.T) {
	local := &stubDecoder{text: "104567890"}
	remote := &stubDecoder{text: "should-not-be-used"}

	text, err := ScanImage(context.Background(), []byte("img"), local, remote)
	require.NoError(t, err)
	assert.Equal(t, "104567890", text)
	assert.Zero(t, remote.hits)
}

func TestScanImageFallsBackOnMiss(t *testing.T) {
	local := &stubDecoder{err: ErrNoSymbol}
	remote := &stubDecoder{text: "SN-554422"}

	text, err := ScanImage(context.Background(), []byte("img"), local, remote)
	require.NoError(t, err)
	assert.Equal(t, "SN-554422", text)
	assert.Equal(t, 1, local.hits)
	assert.Equal(t, 1, remote.hits)
}

func TestScanImageNoLocalNoSymbol(t *testing.T) {
	remote := &stubDecoder{err: ErrNoSymbol}
	_, err := ScanImage(context.Background(), []byte("img"), nil, remote)
	assert.ErrorIs(t, err, ErrNoSymbol)
}

func TestScanImageLocalHardFailureStillTriesRemote(t *testing.T) {
	local := &stubDecoder{err: errors.New("decoder crashed")}
	remote := &stubDecoder{text: "104567890"}

	text, err := ScanImage(context.Background(), []byte("img"), local, remote)
	require.NoError(t, err)
	assert.Equal(t, "104567890", text)
}
