package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/proctor/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.IdentityCheckInterval, convey.ShouldEqual, 30)
			convey.So(cfg.AnalysisTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.DetectorTimeout(), convey.ShouldEqual, 3*time.Second)
			convey.So(cfg.EndedRetention(), convey.ShouldEqual, time.Hour)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_AllowedOrigins(t *testing.T) {
	convey.Convey("Given a comma-separated origin list", t, func() {
		cfg := config.New()
		convey.So(cfg.AllowedOrigins(), convey.ShouldBeEmpty)

		cfg.LiveAllowedOrigins = " https://exam.example.com, ,https://review.example.com "
		convey.So(cfg.AllowedOrigins(), convey.ShouldResemble, []string{"https://exam.example.com", "https://review.example.com"})
	})
}
