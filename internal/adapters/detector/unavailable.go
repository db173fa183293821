package detector

import (
	"context"

	"github.com/okian/proctor/internal/domain/model"
)

// Unavailable is the provider used when no detector is configured. Every
// call fails, which the session layer treats as a frame without a usable
// observation.
type Unavailable struct{}

func (Unavailable) Detect(context.Context, model.Frame, bool) (model.Detection, error) {
	return model.Detection{}, ErrUnavailable
}

// Probe always reports the provider as down.
func (Unavailable) Probe(context.Context) error {
	return ErrUnavailable
}
