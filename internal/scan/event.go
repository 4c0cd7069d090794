// Package scan defines the normalized scan event model shared by all input
// channels and the code normalizer that produces it.
package scan

import (
	"github.com/google/uuid"
)

// Source identifies the input channel that produced a scan.
type Source string

const (
	SourceWedge  Source = "wedge"  // hardware keyboard-emulating scanner
	SourceCamera Source = "camera" // live camera capture
	SourceManual Source = "manual" // operator-typed entry
	SourceImage  Source = "image"  // uploaded static image
)

// Event is a single normalized code moving through the pipeline. Events are
// ephemeral: they exist between normalization and consumption by the
// workflow controller.
type Event struct {
	ID         string
	Code       string
	Source     Source
	Generation uint64 // workflow generation the event was issued against
}

// NewEvent builds an event for an already-normalized code.
func NewEvent(code string, source Source, generation uint64) Event {
	return Event{
		ID:         uuid.NewString(),
		Code:       code,
		Source:     source,
		Generation: generation,
	}
}
