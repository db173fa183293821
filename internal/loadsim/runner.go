package loadsim

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/proctor/pkg/logger"
)

// Runner configuration constants.
const (
	busyRetries         = 5
	busyBackoff         = 20 * time.Millisecond
	directoryPermission = 0750
	percentMultiplier   = 100
)

// Run drives cfg.Sessions sessions through start, frames, events and a
// double end, checking that the final report is stable.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("loadsim")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting proctor load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("frames", cfg.FramesPerSession),
		logger.Int("events", cfg.EventsPerSession),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	client := newHTTPClient(cfg)
	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, err
	}

	frames, err := newFramePool()
	if err != nil {
		return stats, err
	}

	reports := make(chan reportLine, cfg.Workers)
	saved := make(chan error, 1)
	go func() { saved <- saveReports(cfg.OutputFile, reports) }()

	ids := make(chan int, cfg.Workers)
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ids {
				r := &sessionRun{cfg: cfg, client: client, frames: frames, stats: stats, log: log}
				line, err := r.run(ctx, i)
				if err != nil {
					if cfg.Verbose {
						log.Warn(ctx, "session run failed", logger.Int("index", i), logger.Error(err))
					}
					continue
				}
				reports <- line
			}
		}()
	}

	go func() {
		defer close(ids)
		for i := 0; i < cfg.Sessions; i++ {
			select {
			case <-ctx.Done():
				return
			case ids <- i:
			}
		}
	}()

	wg.Wait()
	close(reports)
	if err := <-saved; err != nil {
		log.Warn(ctx, "failed to save reports", logger.Error(err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)

	switch {
	case atomic.LoadInt64(&stats.SessionsStarted) == 0:
		return stats, ErrNoSessions
	case atomic.LoadInt64(&stats.ReportsMismatched) > 0:
		return stats, fmt.Errorf("%w: %d sessions", ErrReportMismatch, stats.ReportsMismatched)
	}
	return stats, ctx.Err()
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	status, body, err := client.Get(ctx, "/proctoring/status")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %w", ErrUnhealthy, statusError(status, body))
	}
	return nil
}

type sessionRun struct {
	cfg    *Config
	client *HTTPClient
	frames *framePool
	stats  *Stats
	log    logger.Logger
}

func (r *sessionRun) run(ctx context.Context, index int) (reportLine, error) {
	status, body, err := r.client.Post(ctx, "/proctoring/session/start", startRequest{
		Sensitivity:  r.cfg.Sensitivity,
		InterviewRef: fmt.Sprintf("loadsim-%d", index),
	})
	if err != nil {
		return reportLine{}, err
	}
	if status != http.StatusCreated {
		return reportLine{}, statusError(status, body)
	}
	var started startResponse
	if err := json.Unmarshal(body, &started); err != nil {
		return reportLine{}, fmt.Errorf("decode start: %w", err)
	}
	atomic.AddInt64(&r.stats.SessionsStarted, 1)
	id := started.SessionID

	p := newPlan(r.cfg)
	step := 0
	if len(p.events) > 0 {
		step = max(1, len(p.frameIDs)/len(p.events))
	}
	next := 0
	for i, frameID := range p.frameIDs {
		if i > 0 && r.cfg.FrameInterval > 0 {
			select {
			case <-ctx.Done():
				return reportLine{}, ctx.Err()
			case <-time.After(r.cfg.FrameInterval):
			}
		}
		r.submitFrame(ctx, id, i, frameID)
		if step > 0 && next < len(p.events) && i%step == 0 {
			r.submitEvent(ctx, id, p.events[next])
			next++
		}
	}
	for ; next < len(p.events); next++ {
		r.submitEvent(ctx, id, p.events[next])
	}

	first, err := r.end(ctx, id)
	if err != nil {
		return reportLine{}, err
	}
	atomic.AddInt64(&r.stats.SessionsEnded, 1)
	second, err := r.end(ctx, id)
	if err != nil {
		return reportLine{}, err
	}
	status, stored, err := r.client.Get(ctx, "/proctoring/session/"+id+"/report")
	if err != nil {
		return reportLine{}, err
	}
	if status != http.StatusOK {
		return reportLine{}, statusError(status, stored)
	}

	if bytes.Equal(first, second) && bytes.Equal(first, stored) {
		atomic.AddInt64(&r.stats.ReportsStable, 1)
	} else {
		atomic.AddInt64(&r.stats.ReportsMismatched, 1)
		r.log.Error(ctx, "final report changed between reads", logger.SessionID(id))
	}
	return reportLine{SessionID: id, Report: json.RawMessage(bytes.TrimSpace(first))}, nil
}

// submitFrame posts one frame, backing off while the service is busy.
func (r *sessionRun) submitFrame(ctx context.Context, id string, i int, frameID string) {
	req := frameRequest{SessionID: id, Frame: r.frames.next(i), FrameID: frameID}
	for attempt := 0; ; attempt++ {
		atomic.AddInt64(&r.stats.FramesSubmitted, 1)
		status, body, err := r.client.Post(ctx, "/proctoring/analyze-frame", req)
		switch {
		case err != nil:
			atomic.AddInt64(&r.stats.FramesFailed, 1)
			r.verbose(ctx, "frame failed", id, err)
			return
		case status == http.StatusOK:
			var res frameResponse
			if json.Unmarshal(body, &res) == nil && res.Duplicate {
				atomic.AddInt64(&r.stats.FramesDuplicate, 1)
			} else {
				atomic.AddInt64(&r.stats.FramesAnalyzed, 1)
			}
			return
		case status == http.StatusTooManyRequests && attempt < busyRetries:
			atomic.AddInt64(&r.stats.FramesBusy, 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(busyBackoff << attempt):
			}
		default:
			atomic.AddInt64(&r.stats.FramesFailed, 1)
			r.verbose(ctx, "frame rejected", id, statusError(status, body))
			return
		}
	}
}

func (r *sessionRun) submitEvent(ctx context.Context, id string, ev eventRequest) {
	ev.SessionID = id
	atomic.AddInt64(&r.stats.EventsSubmitted, 1)
	status, body, err := r.client.Post(ctx, "/proctoring/event", ev)
	if err == nil && status != http.StatusOK {
		err = statusError(status, body)
	}
	if err != nil {
		atomic.AddInt64(&r.stats.EventsFailed, 1)
		r.verbose(ctx, "event failed", id, err)
		return
	}
	atomic.AddInt64(&r.stats.EventsRecorded, 1)
}

func (r *sessionRun) end(ctx context.Context, id string) ([]byte, error) {
	status, body, err := r.client.Post(ctx, "/proctoring/session/"+id+"/end", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	return body, nil
}

func (r *sessionRun) verbose(ctx context.Context, msg, id string, err error) {
	if r.cfg.Verbose {
		r.log.Warn(ctx, msg, logger.SessionID(id), logger.Error(err))
	}
}

// saveReports writes one JSON line per session. With no path it drains
// the channel and writes nothing.
func saveReports(path string, lines <-chan reportLine) error {
	if path == "" {
		drain(lines)
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			drain(lines)
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		drain(lines)
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	var firstErr error
	for line := range lines {
		if err := enc.Encode(line); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var analyzedRate, framesPerSecond float64
	if stats.FramesSubmitted > 0 {
		analyzedRate = float64(stats.FramesAnalyzed) / float64(stats.FramesSubmitted) * percentMultiplier
	}
	if stats.Duration > 0 {
		framesPerSecond = float64(stats.FramesSubmitted) / stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.Int64("sessionsStarted", stats.SessionsStarted),
		logger.Int64("sessionsEnded", stats.SessionsEnded),
		logger.Int64("framesSubmitted", stats.FramesSubmitted),
		logger.Int64("framesAnalyzed", stats.FramesAnalyzed),
		logger.Int64("framesDuplicate", stats.FramesDuplicate),
		logger.Int64("framesBusy", stats.FramesBusy),
		logger.Int64("framesFailed", stats.FramesFailed),
		logger.Int64("eventsRecorded", stats.EventsRecorded),
		logger.Int64("eventsFailed", stats.EventsFailed),
		logger.Int64("reportsStable", stats.ReportsStable),
		logger.Int64("reportsMismatched", stats.ReportsMismatched),
		logger.Duration("duration", stats.Duration),
		logger.Float64("analyzedRate", analyzedRate),
		logger.Float64("framesPerSecond", framesPerSecond))
}

func drain(lines <-chan reportLine) {
	for range lines {
	}
}
