// Package decode turns captured frame images into symbol text. Two tiers
// exist: a local decoder binary (native mode) and a remote decode service
// used when no local decoder is installed.
package decode

import (
	"context"
	"errors"
)

// Formats lists the symbologies the kiosk accepts, in the remote service's
// naming. Code 128 first among the 1D formats because it is by far the most
// common on asset labels.
var Formats = []string{"qrcode", "code128", "ean13", "code39"}

// ErrNoSymbol reports that an image contained no decodable symbol. A decode
// miss is a normal condition: the camera sampler retries silently and the
// static-image path reports it once.
var ErrNoSymbol = errors.New("decode: no symbol found")

// Decoder extracts the first symbol's text from an encoded image.
type Decoder interface {
	Decode(ctx context.Context, image []byte) (string, error)
	// Mode describes the decoder tier ("native" or "remote") for logs and
	// metrics.
	Mode() string
}
