package decode

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// DefaultLocalBin is the decoder binary probed for native mode.
const DefaultLocalBin = "zbarimg"

// LocalDecoder shells out to a zbar-style decoder binary. The binary reads
// the image from stdin and prints one decoded symbol per line.
type LocalDecoder struct {
	bin string
}

// NewLocalDecoder returns a decoder using the given binary, or the default
// when bin is empty.
func NewLocalDecoder(bin string) *LocalDecoder {
	if bin == "" {
		bin = DefaultLocalBin
	}
	return &LocalDecoder{bin: bin}
}

// Available reports whether a local decoder binary can be resolved. Probed
// once per camera activation to choose native vs fallback mode.
func Available(bin string) bool {
	if bin == "" {
		bin = DefaultLocalBin
	}
	if strings.ContainsRune(bin, '/') {
		fi, err := os.Stat(bin)
		return err == nil && !fi.IsDir()
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

func (d *LocalDecoder) Mode() string { return "native" }

// Decode runs the decoder binary over the image. The first decoded line is
// accepted; exit status 4 (zbarimg: no symbol) maps to ErrNoSymbol.
func (d *LocalDecoder) Decode(ctx context.Context, image []byte) (string, error) {
	cmd := exec.CommandContext(ctx, d.bin, "--quiet", "--raw", "-") // #nosec G204
	cmd.Stdin = bytes.NewReader(image)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 4 {
			return "", ErrNoSymbol
		}
		return "", err
	}
	line := firstLine(string(out))
	if line == "" {
		return "", ErrNoSymbol
	}
	return line, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
