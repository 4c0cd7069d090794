package passes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/workflow"
)

func TestImageURLSelectsSymbology(t *testing.T) {
	s := New("", "", t.TempDir())

	qr := s.ImageURL(workflow.IssuedPass{SubjectID: "SN-554422", Kind: workflow.PassQR})
	u, err := url.Parse(qr)
	require.NoError(t, err)
	assert.Equal(t, "api.qrserver.com", u.Host)
	assert.Equal(t, "SN-554422", u.Query().Get("data"))

	bc := s.ImageURL(workflow.IssuedPass{SubjectID: "104567890", Kind: workflow.PassBarcode})
	u, err = url.Parse(bc)
	require.NoError(t, err)
	assert.Equal(t, "code128", u.Query().Get("bcid"))
	assert.Equal(t, "104567890", u.Query().Get("text"))
}

func TestDownloadWritesAtomically(t *testing.T) {
	png := []byte("\x89PNG fake image body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := New(srv.URL+"/", srv.URL+"/", dir)

	path, err := s.Download(context.Background(), workflow.IssuedPass{
		SubjectID: "SN-554422", Kind: workflow.PassQR,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "IMAGE_CODE-SN-554422.png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, png, got)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloadRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(srv.URL+"/", srv.URL+"/", t.TempDir())
	_, err := s.Download(context.Background(), workflow.IssuedPass{
		SubjectID: "x", Kind: workflow.PassBarcode,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestFileNameSanitizesSubject(t *testing.T) {
	name := FileName(workflow.IssuedPass{SubjectID: "../../etc/passwd", Kind: workflow.PassQR})
	assert.Equal(t, "IMAGE_CODE-.._.._etc_passwd.png", name)
}

func TestPrintDocumentIncludesSubject(t *testing.T) {
	doc := PrintDocument(workflow.IssuedPass{SubjectID: "104567890", Kind: workflow.PassBarcode},
		"Laura Quintero", "http://img/x.png")
	assert.Contains(t, doc, "PASE PERSONAL")
	assert.Contains(t, doc, "Laura Quintero")
	assert.Contains(t, doc, "104567890")
}
