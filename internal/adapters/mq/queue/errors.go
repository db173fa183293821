package queue

import (
	"fmt"

	"github.com/okian/proctor/internal/domain/model"
)

// ErrClosed answers jobs the queue could not hand to a worker.
var ErrClosed = fmt.Errorf("queue closed: %w", model.ErrNotAnalyzed)
