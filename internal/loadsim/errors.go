package loadsim

import "errors"

var (
	// ErrUnhealthy is returned when the service status check fails.
	ErrUnhealthy = errors.New("service unhealthy")
	// ErrReportMismatch is returned when repeated ends of a session disagree.
	ErrReportMismatch = errors.New("final report changed between reads")
	// ErrNoSessions is returned when no session could be started.
	ErrNoSessions = errors.New("no session started")
)
