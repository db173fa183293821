package main

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/okian/proctor/internal/loadsim"
	"github.com/okian/proctor/pkg/logger"
	"github.com/spf13/pflag"
)

// Default configuration constants.
const (
	defaultSessions    = 50
	defaultFrames      = 40
	defaultEvents      = 5
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL     = pflag.String("url", "http://localhost:9080", "Base URL of the service")
		sessions    = pflag.Int("sessions", defaultSessions, "Number of sessions to drive")
		frames      = pflag.Int("frames", defaultFrames, "Frames submitted per session")
		events      = pflag.Int("events", defaultEvents, "Client events submitted per session")
		duplicate   = pflag.Int("duplicate-every", 0, "Resubmit every Nth frame with the same frame_id (0 disables)")
		interval    = pflag.Duration("interval", 0, "Pause between frames of one session, e.g. 2s")
		workers     = pflag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent sessions")
		timeout     = pflag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		sensitivity = pflag.String("sensitivity", "medium", "Session sensitivity: low, medium or high")
		token       = pflag.String("token", os.Getenv("PROCTOR_TOKEN"), "Bearer token (default $PROCTOR_TOKEN)")
		outputFile  = pflag.String("output", "", "JSON lines file for final reports")
		logFile     = pflag.String("log", "", "Log file (default loadsim_TIMESTAMP.log, - for stdout only)")
		logFormat   = pflag.String("log-format", "text", "Log format: text or json")
		verbose     = pflag.BoolP("verbose", "v", false, "Log every failed request")
	)
	pflag.Parse()

	closer, err := loadsim.SetupLogging(*logFile, *logFormat)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &loadsim.Config{
		BaseURL:          *baseURL,
		Sessions:         *sessions,
		FramesPerSession: *frames,
		EventsPerSession: *events,
		DuplicateEvery:   *duplicate,
		FrameInterval:    *interval,
		Workers:          max(1, *workers),
		Timeout:          *timeout,
		Sensitivity:      *sensitivity,
		Token:            *token,
		OutputFile:       *outputFile,
		Verbose:          *verbose,
	}

	if _, err := loadsim.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		_ = closer.Close()
		os.Exit(1)
	}
}
