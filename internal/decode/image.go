package decode

import (
	"context"
	"errors"
)

// ScanImage decodes an uploaded static image using the same two-tier policy
// as the live camera: local decoder first when one is present, remote service
// as fallback. Runs once, synchronously; there is no resampling for static
// images.
func ScanImage(ctx context.Context, image []byte, local, remote Decoder) (string, error) {
	if local != nil {
		text, err := local.Decode(ctx, image)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrNoSymbol) && remote == nil {
			return "", err
		}
		// fall through to the remote tier on a miss or local failure
	}
	if remote == nil {
		return "", ErrNoSymbol
	}
	return remote.Decode(ctx, image)
}
