package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithPrometheusRegistry(registry),
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
			)

			Convey("Then metrics are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.framesAnalyzed.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_frames_analyzed_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestConstLabels(t *testing.T) {
	Convey("Given a manager with constant labels", t, func() {
		registry := prometheus.NewRegistry()
		manager := NewManager(
			WithPrometheusRegistry(registry),
			WithNamespace("labelled"),
			WithConstLabels(prometheus.Labels{"instance": "a"}),
		)
		manager.sessionsByState.WithLabelValues("active").Set(2)

		Convey("Then every series carries them", func() {
			families, err := registry.Gather()
			So(err, ShouldBeNil)
			var found bool
			for _, f := range families {
				if f.GetName() != "labelled_engine_sessions" {
					continue
				}
				found = true
				var instance string
				for _, l := range f.GetMetric()[0].GetLabel() {
					if l.GetName() == "instance" {
						instance = l.GetValue()
					}
				}
				So(instance, ShouldEqual, "a")
			}
			So(found, ShouldBeTrue)
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording violations", func() {
			before := testutil.ToFloat64(globalManager.violations.WithLabelValues("no_face", "medium"))
			RecordViolation("no_face", "medium")
			RecordViolation("no_face", "medium")

			Convey("Then the labelled counter grows", func() {
				after := testutil.ToFloat64(globalManager.violations.WithLabelValues("no_face", "medium"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When exercising every recorder", func() {
			So(func() {
				RecordSessionCreated("medium")
				RecordSessionEnded("PASSED", 91)
				UpdateSessionsByState("active", 3)
				RecordFrameAnalyzed()
				RecordFrameRejected("busy")
				RecordDetectorFailure()
				RecordAnalysisLatency(12)
				RecordIdentityCheck("match")
				RecordDuplicate("frame")
				AddLiveSubscribers(1)
				AddLiveSubscribers(-1)
				RecordArchive("s3", "ok")
				UpdateQueueSize(1)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(4)
				RecordWorkerProcessingLatency(3)
				RecordHTTPRequest("analyze", "POST", "200")
				RecordHTTPRequestDuration("analyze", "POST", "200", 4)
				RecordErrorByComponent("queue", "full")
				RecordErrorByType("rate_limit", "medium")
				RecordErrorByEndpoint("analyze", "POST", "rate_limit")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
			}, ShouldNotPanic)

			Convey("Then the registry exposes them", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				joined := strings.Join(names, ",")
				So(joined, ShouldContainSubstring, "proctor_engine_sessions_created_total")
				So(joined, ShouldContainSubstring, "proctor_engine_queue_capacity")
			})
		})
	})
}
