package software

import (
	"io"

	"golang.org/x/image/bmp"
)

// Capture writes the last presented image as a BMP.
func (s *Swapchain) Capture(w io.Writer) error {
	return bmp.Encode(w, s.Frontbuffer())
}
