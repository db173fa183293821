package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/proctor/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsMiddleware(t *testing.T) {
	Convey("Given handlers wrapped by the metrics middleware", t, func() {
		var seen *responseWriter
		capture := func(h http.HandlerFunc) http.HandlerFunc {
			return MetricsMiddleware(func(w http.ResponseWriter, r *http.Request) {
				seen = w.(*responseWriter)
				h(w, r)
			}, "test")
		}

		Convey("When the handler fails through writeError", func() {
			rec := httptest.NewRecorder()
			capture(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusConflict, "session_not_active", errors.New("ended"))
			})(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

			Convey("Then the API code is the error type", func() {
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(seen.errorType(), ShouldEqual, "session_not_active")
			})
		})

		Convey("When the handler writes a bare status", func() {
			rec := httptest.NewRecorder()
			capture(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

			Convey("Then the status class is the error type", func() {
				So(seen.statusCode, ShouldEqual, http.StatusUnauthorized)
				So(seen.errorType(), ShouldEqual, "unauthorized")
			})
		})

		Convey("When the handler succeeds without WriteHeader", func() {
			rec := httptest.NewRecorder()
			capture(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			})(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

			Convey("Then the status defaults to 200", func() {
				So(seen.statusCode, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldEqual, "ok")
			})
		})
	})

	Convey("Error severity ranks server errors above busy", t, func() {
		So(errorSeverity(http.StatusBadGateway), ShouldEqual, "high")
		So(errorSeverity(http.StatusTooManyRequests), ShouldEqual, "low")
		So(errorSeverity(http.StatusNotFound), ShouldEqual, "medium")
	})
}

func TestClassify(t *testing.T) {
	Convey("Unanalyzed frames map to busy, a gone caller to client_closed", t, func() {
		So(classify(fmt.Errorf("%w: no analysis within 1s", session.ErrBusy)).status, ShouldEqual, http.StatusTooManyRequests)
		So(classify(fmt.Errorf("submit: %w", context.Canceled)).code, ShouldEqual, "client_closed")
		So(classify(session.ErrDetectorFailure).status, ShouldEqual, http.StatusBadGateway)
		So(classify(errors.New("boom")).code, ShouldEqual, "internal")
	})
}
