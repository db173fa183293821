// Package detector provides Detection Provider implementations and the
// image decoding that runs ahead of them on the analysis workers.
package detector

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/okian/proctor/internal/domain/model"
)

// Frame bounds accepted by Decode.
const (
	minFrameSide = 16
	maxFrameSide = 4096
)

// Decode validates data as a JPEG or PNG image and returns it as a Frame.
// Failures wrap model.ErrImageDecode.
func Decode(data []byte) (model.Frame, error) {
	if len(data) == 0 {
		return model.Frame{}, fmt.Errorf("%w: empty payload", model.ErrImageDecode)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Frame{}, fmt.Errorf("%w: %w", model.ErrImageDecode, err)
	}
	if cfg.Width < minFrameSide || cfg.Height < minFrameSide || cfg.Width > maxFrameSide || cfg.Height > maxFrameSide {
		return model.Frame{}, fmt.Errorf("%w: %w: %dx%d", model.ErrImageDecode, ErrFrameSize, cfg.Width, cfg.Height)
	}
	// Full decode catches truncated payloads that carry a valid header.
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return model.Frame{}, fmt.Errorf("%w: %w", model.ErrImageDecode, err)
	}
	return model.Frame{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
