package loadsim

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/proctor/internal/adapters/detector/detectortest"
	"github.com/okian/proctor/internal/adapters/http/api"
	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func startService(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	provider := detectortest.NewScripted()
	svc := app.New(
		app.WithWorkerCount(2),
		app.WithQueueSize(64),
		app.WithProviderFactory(func(int) (model.DetectionProvider, error) { return provider, nil }),
	)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc.Manager(), svc, api.WithProber(svc)).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Stop(ctx)
	})
	return srv
}

func TestRun(t *testing.T) {
	Convey("Given a running proctor service", t, func() {
		srv := startService(t)
		out := filepath.Join(t.TempDir(), "reports", "out.jsonl")
		cfg := &Config{
			BaseURL:          srv.URL,
			Sessions:         4,
			FramesPerSession: 6,
			EventsPerSession: 2,
			DuplicateEvery:   3,
			Workers:          2,
			Timeout:          5 * time.Second,
			Sensitivity:      "medium",
			OutputFile:       out,
		}

		Convey("When a load run completes", func() {
			stats, err := Run(context.Background(), cfg)

			Convey("Then every session ends with a stable report", func() {
				So(err, ShouldBeNil)
				So(stats.SessionsStarted, ShouldEqual, 4)
				So(stats.SessionsEnded, ShouldEqual, 4)
				So(stats.ReportsStable, ShouldEqual, 4)
				So(stats.ReportsMismatched, ShouldEqual, 0)
			})

			Convey("Then replayed frame ids are answered as duplicates", func() {
				So(stats.FramesDuplicate, ShouldEqual, 4)
				So(stats.FramesAnalyzed+stats.FramesDuplicate, ShouldEqual, 24)
				So(stats.FramesFailed, ShouldEqual, 0)
			})

			Convey("Then client events are recorded", func() {
				So(stats.EventsRecorded, ShouldEqual, 8)
				So(stats.EventsFailed, ShouldEqual, 0)
			})

			Convey("Then one report line is written per session", func() {
				f, err := os.Open(out)
				So(err, ShouldBeNil)
				defer f.Close()

				var lines int
				sc := bufio.NewScanner(f)
				sc.Buffer(make([]byte, 1<<20), 1<<20)
				for sc.Scan() {
					var line reportLine
					So(json.Unmarshal(sc.Bytes(), &line), ShouldBeNil)
					So(line.SessionID, ShouldNotBeBlank)

					var report model.Report
					So(json.Unmarshal(line.Report, &report), ShouldBeNil)
					So(report.State, ShouldEqual, model.StateEnded)
					So(report.FramesSeen, ShouldEqual, 5)
					lines++
				}
				So(lines, ShouldEqual, 4)
			})
		})
	})

	Convey("Given a service that is down", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		Convey("Then the run stops at the health check", func() {
			_, err := Run(context.Background(), &Config{BaseURL: srv.URL, Sessions: 1, Workers: 1, Timeout: time.Second})
			So(errors.Is(err, ErrUnhealthy), ShouldBeTrue)
		})
	})
}

func TestPlan(t *testing.T) {
	Convey("Given a plan with duplicates every third frame", t, func() {
		p := newPlan(&Config{FramesPerSession: 7, EventsPerSession: 3, DuplicateEvery: 3})

		Convey("Then only those frames reuse the previous id", func() {
			So(p.frameIDs, ShouldHaveLength, 7)
			So(p.frameIDs[3], ShouldEqual, p.frameIDs[2])
			So(p.frameIDs[6], ShouldEqual, p.frameIDs[5])
			So(p.frameIDs[1], ShouldNotEqual, p.frameIDs[0])
		})

		Convey("Then events use known client event types", func() {
			So(p.events, ShouldHaveLength, 3)
			for _, ev := range p.events {
				_, err := model.ParseClientEvent(ev.EventType)
				So(err, ShouldBeNil)
				So(ev.EventID, ShouldNotBeBlank)
			}
		})
	})

	Convey("Given the frame pool", t, func() {
		pool, err := newFramePool()
		So(err, ShouldBeNil)

		Convey("Then frames are data URLs that cycle", func() {
			So(pool.next(0), ShouldStartWith, "data:image/jpeg;base64,")
			So(pool.next(framePalette), ShouldEqual, pool.next(0))
			So(pool.next(1), ShouldNotEqual, pool.next(0))
		})
	})
}
