package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RemoteDecoder sends frames to a remote read service that accepts an image
// plus the list of acceptable symbologies and returns decoded symbols.
type RemoteDecoder struct {
	url     string
	formats []string
	http    *http.Client
}

// NewRemoteDecoder creates a remote decoder for the given service URL.
func NewRemoteDecoder(url string) *RemoteDecoder {
	return &RemoteDecoder{
		url:     url,
		formats: Formats,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *RemoteDecoder) Mode() string { return "remote" }

// Decode uploads the image and returns the first decoded symbol's text.
func (d *RemoteDecoder) Decode(ctx context.Context, image []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return "", fmt.Errorf("decode: build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("decode: write image: %w", err)
	}
	if err := mw.WriteField("formats", strings.Join(d.formats, ",")); err != nil {
		return "", fmt.Errorf("decode: write formats: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("decode: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, &body)
	if err != nil {
		return "", fmt.Errorf("decode: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("decode: request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("decode: service returned HTTP %d", res.StatusCode)
	}

	// Response shape: [{"symbol":[{"data":"...","error":null}]}]
	var payload []struct {
		Symbol []struct {
			Data string `json:"data"`
		} `json:"symbol"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode: parse response: %w", err)
	}
	for _, entry := range payload {
		for _, sym := range entry.Symbol {
			if sym.Data != "" {
				return sym.Data, nil
			}
		}
	}
	return "", ErrNoSymbol
}
