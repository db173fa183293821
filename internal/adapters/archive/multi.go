// Package archive persists final session reports once a session ends.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Target is one archive destination.
type Target interface {
	Name() string
	Archive(ctx context.Context, rec model.ArchiveRecord) error
}

// Multi writes to every target. One failing target does not stop the others.
type Multi struct {
	targets []Target
	logger  logger.Logger
}

// NewMulti fans out to targets, skipping nil entries.
func NewMulti(targets ...Target) (*Multi, error) {
	m := &Multi{logger: logger.Get().Named("archive")}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	if len(m.targets) == 0 {
		return nil, ErrNoTargets
	}
	return m, nil
}

// Targets lists the configured target names.
func (m *Multi) Targets() []string {
	out := make([]string, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t.Name())
	}
	return out
}

// Archive implements the session manager's archiver.
func (m *Multi) Archive(ctx context.Context, rec model.ArchiveRecord) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Archive(ctx, rec); err != nil {
			metrics.RecordArchive(t.Name(), "error")
			m.logger.Error(ctx, "archive failed",
				logger.SessionID(rec.Report.SessionID),
				logger.String("target", t.Name()),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		metrics.RecordArchive(t.Name(), "ok")
	}
	return errors.Join(errs...)
}
