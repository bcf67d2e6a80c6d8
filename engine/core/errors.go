package core

import (
	"errors"
)

var (
	// startup
	ErrNoSuitableAdapter       = errors.New("no suitable GPU adapter")
	ErrPresentationUnsupported = errors.New("presentation unsupported")
	ErrShaderMissing           = errors.New("shader binary missing")

	// per frame
	ErrRecording    = errors.New("command recording failed")
	ErrPresentLost  = errors.New("presentation surface lost")
	ErrDeviceLost   = errors.New("device lost")
	ErrAllocation   = errors.New("GPU allocation failed")
	ErrInvalidToken = errors.New("invalid slot token")

	ErrDroppedFrames = errors.New("too many consecutive dropped frames")

	// lifecycle
	ErrResourcesOutstanding = errors.New("resources still outstanding")
	ErrUnknown              = errors.New("unknown")
)

// IsFatal reports whether err must stop the frame loop. Recording errors
// only drop the current frame; everything else terminates.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrRecording)
}
