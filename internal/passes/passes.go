// Package passes renders issued entry passes: a 2D matrix code for asset
// passes and a 1D line code for personal passes. Images come from an external
// rendering service and are persisted atomically for the kiosk's download and
// print actions.
package passes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gatekeeper/internal/log"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/workflow"
)

// Default rendering endpoints. Both speak plain GET-with-query and answer
// with a PNG body.
const (
	DefaultQRBase      = "https://api.qrserver.com/v1/create-qr-code/"
	DefaultBarcodeBase = "https://bwipjs-api.metafloor.com/"

	downloadTimeout = 15 * time.Second
)

// Service renders and stores pass images.
type Service struct {
	qrBase      string
	barcodeBase string
	dir         string
	http        *http.Client
}

// New creates a pass service writing images under dir.
func New(qrBase, barcodeBase, dir string) *Service {
	if qrBase == "" {
		qrBase = DefaultQRBase
	}
	if barcodeBase == "" {
		barcodeBase = DefaultBarcodeBase
	}
	return &Service{
		qrBase:      qrBase,
		barcodeBase: barcodeBase,
		dir:         dir,
		http: &http.Client{
			Timeout:   downloadTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ImageURL builds the rendering-service URL for a pass.
func (s *Service) ImageURL(pass workflow.IssuedPass) string {
	switch pass.Kind {
	case workflow.PassBarcode:
		q := url.Values{}
		q.Set("bcid", "code128")
		q.Set("text", pass.SubjectID)
		q.Set("scale", "3")
		q.Set("height", "20")
		q.Set("includetext", "true")
		return s.barcodeBase + "?" + q.Encode()
	default:
		q := url.Values{}
		q.Set("size", "300x300")
		q.Set("data", pass.SubjectID)
		return s.qrBase + "?" + q.Encode()
	}
}

// FileName is the stable on-disk name for a pass image.
func FileName(pass workflow.IssuedPass) string {
	return fmt.Sprintf("%s-%s.png", pass.Kind, sanitize(pass.SubjectID))
}

// Download fetches the pass image and writes it atomically under the service
// directory. Returns the written path.
func (s *Service) Download(ctx context.Context, pass workflow.IssuedPass) (string, error) {
	logger := log.WithComponent("passes")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ImageURL(pass), nil)
	if err != nil {
		return "", fmt.Errorf("build pass request: %w", err)
	}
	res, err := s.http.Do(req)
	if err != nil {
		metrics.IncPassDownload(string(pass.Kind), "error")
		return "", fmt.Errorf("fetch pass image: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		metrics.IncPassDownload(string(pass.Kind), "error")
		return "", fmt.Errorf("fetch pass image: status %d", res.StatusCode)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create pass directory: %w", err)
	}
	path := filepath.Join(s.dir, FileName(pass))

	// renameio handles temp file creation, fsync and the atomic rename, so a
	// half-downloaded image never lands under the final name.
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending pass file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending pass file")
		}
	}()

	if _, err := io.Copy(pending, res.Body); err != nil {
		metrics.IncPassDownload(string(pass.Kind), "error")
		return "", fmt.Errorf("write pass image: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace pass file: %w", err)
	}

	metrics.IncPassDownload(string(pass.Kind), "success")
	logger.Info().
		Str(log.FieldEvent, "pass.downloaded").
		Str("kind", string(pass.Kind)).
		Str("path", path).
		Msg("pass image stored")
	return path, nil
}

// PrintDocument renders the single-page document sent to the kiosk printer.
func PrintDocument(pass workflow.IssuedPass, personName string, imageURL string) string {
	title := "PASE DE ACCESO"
	if pass.Kind == workflow.PassBarcode {
		title = "PASE PERSONAL"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(title)
	b.WriteString("</title></head><body style=\"text-align:center;font-family:monospace\">")
	fmt.Fprintf(&b, "<h2>%s</h2>", title)
	if personName != "" {
		fmt.Fprintf(&b, "<p>%s</p>", personName)
	}
	fmt.Fprintf(&b, "<img src=%q alt=%q>", imageURL, pass.SubjectID)
	fmt.Fprintf(&b, "<p>%s</p>", pass.SubjectID)
	b.WriteString("</body></html>")
	return b.String()
}

// sanitize strips path-hostile characters from a subject id before it is used
// in a file name.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
