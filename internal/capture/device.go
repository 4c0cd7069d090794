// Package capture owns the camera and turns a live stream into decoded codes
// without blocking the rest of the kiosk.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrDeviceUnavailable reports that the camera could not be acquired. Fatal
// to the current scan attempt only: the channel deactivates and the workflow
// stays in its prior state.
var ErrDeviceUnavailable = errors.New("capture: camera device unavailable")

// Device is an exclusively-owned camera handle. Exactly one component (the
// Channel) holds it per activation; Release must be safe to call more than
// once.
type Device interface {
	// Acquire opens the device for exclusive use at the target resolution.
	Acquire(ctx context.Context) error
	// Grab captures one frame to an off-screen buffer as an encoded image.
	Grab(ctx context.Context) ([]byte, error)
	// Release frees the device. Idempotent.
	Release() error
}

// FrameGrabber drives a rear-facing V4L2 camera through an external grabber
// binary (ffmpeg). The device node is held open between Acquire and Release
// so a vanished camera is noticed at acquisition time, not mid-scan.
type FrameGrabber struct {
	bin    string // grabber binary, default "ffmpeg"
	node   string // e.g. /dev/video0
	width  int
	height int
	handle *os.File
}

// NewFrameGrabber builds a grabber for the given device node. Zero width or
// height fall back to 1280x720, the capture resolution the decode tiers are
// tuned for.
func NewFrameGrabber(bin, node string, width, height int) *FrameGrabber {
	if bin == "" {
		bin = "ffmpeg"
	}
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return &FrameGrabber{bin: bin, node: node, width: width, height: height}
}

func (g *FrameGrabber) Acquire(ctx context.Context) error {
	if g.handle != nil {
		return nil
	}
	f, err := os.OpenFile(g.node, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, g.node, err)
	}
	g.handle = f
	return nil
}

func (g *FrameGrabber) Grab(ctx context.Context) ([]byte, error) {
	if g.handle == nil {
		return nil, ErrDeviceUnavailable
	}
	cmd := exec.CommandContext(ctx, g.bin, // #nosec G204
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", g.width, g.height),
		"-i", g.node,
		"-frames:v", "1",
		"-f", "image2",
		"-codec:v", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("capture: grab frame: %w", err)
	}
	return out, nil
}

func (g *FrameGrabber) Release() error {
	if g.handle == nil {
		return nil
	}
	err := g.handle.Close()
	g.handle = nil
	return err
}
