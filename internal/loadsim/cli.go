// Package loadsim drives a running proctor service with concurrent
// synthetic sessions and checks that final reports stay stable.
package loadsim

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/proctor/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging sends logs to stdout and, unless logFile is "-", to a file.
// An empty logFile picks a timestamped name.
func SetupLogging(logFile, format string) (io.Closer, error) {
	if logFile == "-" {
		return io.NopCloser(nil), logger.Init(logger.WithFormat(format))
	}
	if logFile == "" {
		logFile = "loadsim_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.Init(logger.WithFormat(format), logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return file, nil
}
