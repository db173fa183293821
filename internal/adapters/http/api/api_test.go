package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/proctor/internal/adapters/auth"
	"github.com/okian/proctor/internal/adapters/detector/detectortest"
	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/adapters/realtime"
	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

type fixture struct {
	provider *detectortest.Scripted
	manager  *session.Manager
	hub      *realtime.Hub
	mux      *http.ServeMux
}

type statsFunc func() map[string]any

func (f statsFunc) GetStats() map[string]any { return f() }

type prober struct{ err error }

func (p prober) Probe(context.Context) error { return p.err }

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	provider := detectortest.NewScripted()
	q := queue.NewInMemoryQueue(queue.WithCapacity(16))
	pool, err := worker.NewPool(2, q, func(int) (model.DetectionProvider, error) { return provider, nil })
	if err != nil {
		t.Fatal(err)
	}
	pool.Start(ctx)

	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	manager := session.NewManager(repository.NewShardedStore[*session.Session](), q,
		session.WithPublisher(hub),
		session.WithIdentityInterval(0),
	)
	stats := statsFunc(func() map[string]any {
		st := manager.Stats()
		return map[string]any{"sessions": st}
	})

	mux := http.NewServeMux()
	srv := api.NewServer(manager, stats, append([]api.Option{api.WithLive(hub)}, opts...)...)
	srv.Register(ctx, mux)
	return &fixture{provider: provider, manager: manager, hub: hub, mux: mux}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) start(body map[string]any) string {
	rec := f.do(http.MethodPost, "/proctoring/session/start", body)
	So(rec.Code, ShouldEqual, http.StatusCreated)
	var info model.SessionInfo
	So(json.Unmarshal(rec.Body.Bytes(), &info), ShouldBeNil)
	return info.SessionID
}

func frameBody(id string) map[string]any {
	return map[string]any{
		"session_id": id,
		"frame":      base64.StdEncoding.EncodeToString(detectortest.JPEG()),
	}
}

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body.Code
}

func TestSessions(t *testing.T) {
	Convey("Given the proctoring API", t, func() {
		f := newFixture(t)

		Convey("When a session starts without a sensitivity", func() {
			rec := f.do(http.MethodPost, "/proctoring/session/start", map[string]any{"interview_id": 42})

			Convey("Then it is medium and already monitoring", func() {
				So(rec.Code, ShouldEqual, http.StatusCreated)
				var body map[string]any
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body["sensitivity"], ShouldEqual, "medium")
				So(body["state"], ShouldEqual, "active")
				So(body["status"], ShouldEqual, "monitoring")
				So(body["interview_ref"], ShouldEqual, "42")
				So(body["features_available"], ShouldNotBeNil)
			})
		})

		Convey("When the sensitivity is unknown", func() {
			rec := f.do(http.MethodPost, "/proctoring/session/start", map[string]any{"sensitivity": "paranoid"})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(rec), ShouldEqual, "invalid_config")
		})

		Convey("When a reference is required", func() {
			rec := f.do(http.MethodPost, "/proctoring/session/start", map[string]any{"sensitivity": "high", "require_reference": true})
			So(rec.Code, ShouldEqual, http.StatusCreated)
			var info model.SessionInfo
			So(json.Unmarshal(rec.Body.Bytes(), &info), ShouldBeNil)
			So(info.State, ShouldEqual, model.StateCreated)

			Convey("Then the report is not available yet", func() {
				rec := f.do(http.MethodGet, "/proctoring/session/"+info.SessionID+"/report", nil)
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(rec), ShouldEqual, "session_not_started")
			})

			Convey("Then begin activates it", func() {
				rec := f.do(http.MethodPost, "/proctoring/session/"+info.SessionID+"/begin", nil)
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `"state":"active"`)
			})
		})

		Convey("When the session is ended twice", func() {
			id := f.start(map[string]any{"sensitivity": "medium"})
			So(f.do(http.MethodPost, "/proctoring/event", map[string]any{"session_id": id, "event_type": "tab_switch"}).Code, ShouldEqual, http.StatusOK)
			first := f.do(http.MethodPost, "/proctoring/session/"+id+"/end", nil)
			second := f.do(http.MethodPost, "/proctoring/session/"+id+"/end", nil)

			Convey("Then both reports are byte-identical", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(second.Body.String(), ShouldEqual, first.Body.String())
				var report model.Report
				So(json.Unmarshal(first.Body.Bytes(), &report), ShouldBeNil)
				So(report.TotalViolations, ShouldEqual, 1)
				So(report.State, ShouldEqual, model.StateEnded)
			})

			Convey("Then later frames are refused", func() {
				rec := f.do(http.MethodPost, "/proctoring/analyze-frame", frameBody(id))
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(rec), ShouldEqual, "session_not_active")
			})

			Convey("Then the report endpoint returns the same report", func() {
				rec := f.do(http.MethodGet, "/proctoring/session/"+id+"/report", nil)
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldEqual, first.Body.String())
			})
		})

		Convey("When the session does not exist", func() {
			for _, path := range []string{"/proctoring/session/nope/end", "/proctoring/session/nope/begin"} {
				rec := f.do(http.MethodPost, path, nil)
				So(rec.Code, ShouldEqual, http.StatusNotFound)
				So(errorCode(rec), ShouldEqual, "not_found")
			}
		})
	})
}

func TestFrames(t *testing.T) {
	Convey("Given an active session", t, func() {
		f := newFixture(t)
		id := f.start(map[string]any{"sensitivity": "medium"})

		Convey("When a frame with one centered face arrives", func() {
			rec := f.do(http.MethodPost, "/proctoring/analyze-frame", frameBody(id))

			Convey("Then the face is reported without violations", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var res model.FrameResult
				So(json.Unmarshal(rec.Body.Bytes(), &res), ShouldBeNil)
				So(res.FaceDetected, ShouldBeTrue)
				So(res.FaceCount, ShouldEqual, 1)
				So(res.Violations, ShouldBeEmpty)
			})
		})

		Convey("When the frame is sent as a data URL", func() {
			body := frameBody(id)
			body["frame"] = "data:image/jpeg;base64," + body["frame"].(string)
			So(f.do(http.MethodPost, "/proctoring/analyze-frame", body).Code, ShouldEqual, http.StatusOK)
		})

		Convey("When two faces are in view", func() {
			f.provider.Push(detectortest.Faces(2))
			rec := f.do(http.MethodPost, "/proctoring/analyze-frame", frameBody(id))
			var res model.FrameResult
			So(json.Unmarshal(rec.Body.Bytes(), &res), ShouldBeNil)
			So(res.Violations, ShouldHaveLength, 1)
			So(res.Violations[0].Kind, ShouldEqual, model.KindMultipleFaces)
			So(res.Alerts, ShouldNotBeEmpty)
		})

		Convey("When the same frame id is retried", func() {
			body := frameBody(id)
			body["frame_id"] = "f-1"
			So(f.do(http.MethodPost, "/proctoring/analyze-frame", body).Code, ShouldEqual, http.StatusOK)
			rec := f.do(http.MethodPost, "/proctoring/analyze-frame", body)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"duplicate":true`)
			So(f.provider.Calls(), ShouldEqual, 1)
		})

		Convey("When the payload is not base64", func() {
			body := frameBody(id)
			body["frame"] = "%%%not-base64%%%"
			rec := f.do(http.MethodPost, "/proctoring/analyze-frame", body)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(rec), ShouldEqual, "decode_error")
		})

		Convey("When the payload is base64 but not an image", func() {
			body := frameBody(id)
			body["frame"] = base64.StdEncoding.EncodeToString([]byte("hello"))
			rec := f.do(http.MethodPost, "/proctoring/analyze-frame", body)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(rec), ShouldEqual, "decode_error")
		})

		Convey("When session_id is missing", func() {
			rec := f.do(http.MethodPost, "/proctoring/analyze-frame", map[string]any{"frame": "AAAA"})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(rec), ShouldEqual, "bad_request")
		})
	})

	Convey("Given a small frame limit", t, func() {
		f := newFixture(t, api.WithMaxFrameBytes(64))
		id := f.start(map[string]any{})
		rec := f.do(http.MethodPost, "/proctoring/analyze-frame", frameBody(id))
		So(rec.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
		So(errorCode(rec), ShouldEqual, "frame_too_large")
	})
}

func TestReference(t *testing.T) {
	upload := func(f *fixture, id string, multipartForm bool) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		contentType := "image/jpeg"
		if multipartForm {
			mw := multipart.NewWriter(&buf)
			part, _ := mw.CreateFormFile("photo", "me.jpg")
			_, _ = part.Write(detectortest.JPEG())
			_ = mw.Close()
			contentType = mw.FormDataContentType()
		} else {
			buf.Write(detectortest.JPEG())
		}
		req := httptest.NewRequest(http.MethodPost, "/proctoring/session/"+id+"/reference", &buf)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		f.mux.ServeHTTP(rec, req)
		return rec
	}

	Convey("Given a session awaiting its reference", t, func() {
		f := newFixture(t)
		id := f.start(map[string]any{"require_reference": true})

		Convey("When a one-face photo is uploaded as multipart", func() {
			f.provider.Push(detectortest.Frontal(detectortest.WithEmbedding(detectortest.ReferenceEmbedding())))
			rec := upload(f, id, true)

			Convey("Then the session is active with a reference", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `"has_reference":true`)
				So(rec.Body.String(), ShouldContainSubstring, `"state":"active"`)
			})

			Convey("Then a second upload is refused", func() {
				rec := upload(f, id, false)
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(rec), ShouldEqual, "reference_already_set")
			})
		})

		Convey("When the photo has no face", func() {
			f.provider.Push(detectortest.NoFace())
			rec := upload(f, id, false)
			So(rec.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(errorCode(rec), ShouldEqual, "no_face_in_reference")
		})

		Convey("When the photo has two faces", func() {
			f.provider.Push(detectortest.Faces(2, detectortest.WithEmbedding(detectortest.ReferenceEmbedding())))
			rec := upload(f, id, true)
			So(rec.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(errorCode(rec), ShouldEqual, "multiple_faces_in_reference")
		})

		Convey("When the multipart form lacks the photo field", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			_ = mw.WriteField("note", "hi")
			_ = mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/proctoring/session/"+id+"/reference", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			rec := httptest.NewRecorder()
			f.mux.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestEvents(t *testing.T) {
	Convey("Given an active session", t, func() {
		f := newFixture(t)
		id := f.start(map[string]any{})

		Convey("When a tab switch is reported", func() {
			rec := f.do(http.MethodPost, "/proctoring/event", map[string]any{"session_id": id, "event_type": "tab_switch"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			var res model.EventResult
			So(json.Unmarshal(rec.Body.Bytes(), &res), ShouldBeNil)
			So(res.Violation, ShouldNotBeNil)
			So(res.Violation.Kind, ShouldEqual, model.KindTabSwitch)
			So(res.Violation.Severity, ShouldEqual, model.SeverityMedium)
		})

		Convey("When the legacy endpoint reports a blur", func() {
			rec := f.do(http.MethodPost, "/proctoring/tab-switch", map[string]any{"session_id": id, "event_type": "blur"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"kind":"window_blur"`)
		})

		Convey("When the event type is unknown", func() {
			rec := f.do(http.MethodPost, "/proctoring/event", map[string]any{"session_id": id, "event_type": "sneeze"})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(rec), ShouldEqual, "invalid_event")
		})

		Convey("When the event type is missing", func() {
			rec := f.do(http.MethodPost, "/proctoring/event", map[string]any{"session_id": id})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(rec), ShouldEqual, "bad_request")
		})

		Convey("When an event id is retried", func() {
			body := map[string]any{"session_id": id, "event_type": "copy", "event_id": "e-1"}
			So(f.do(http.MethodPost, "/proctoring/event", body).Code, ShouldEqual, http.StatusOK)
			rec := f.do(http.MethodPost, "/proctoring/event", body)
			So(rec.Body.String(), ShouldContainSubstring, `"duplicate":true`)
			violations, err := f.manager.Violations(context.Background(), id)
			So(err, ShouldBeNil)
			So(violations, ShouldHaveLength, 1)
		})
	})
}

type stubProctor struct {
	api.Proctor
	err error
}

func (s stubProctor) End(context.Context, string) (model.Report, error) {
	return model.Report{}, s.err
}

func TestErrorMapping(t *testing.T) {
	Convey("Given a proctor that fails", t, func() {
		cases := []struct {
			err    error
			status int
			code   string
		}{
			{session.ErrBusy, http.StatusTooManyRequests, "busy"},
			{fmt.Errorf("%w: sidecar 500", session.ErrDetectorFailure), http.StatusBadGateway, "detector_failure"},
			{session.ErrNotFound, http.StatusNotFound, "not_found"},
			{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
		}
		for _, c := range cases {
			mux := http.NewServeMux()
			api.NewServer(stubProctor{err: c.err}, nil).Register(context.Background(), mux)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/proctoring/session/x/end", nil))
			So(rec.Code, ShouldEqual, c.status)
			So(errorCode(rec), ShouldEqual, c.code)
		}
	})
}

func TestOps(t *testing.T) {
	Convey("Given the API with a failing detector probe", t, func() {
		f := newFixture(t, api.WithProber(prober{err: errors.New("connection refused")}))

		Convey("Then status reports the detector down", func() {
			rec := f.do(http.MethodGet, "/proctoring/status", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			var body map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
			So(body["detector"], ShouldEqual, "down")
			So(body["sensitivity_levels"], ShouldResemble, []any{"low", "medium", "high"})
			So(body["features"].(map[string]any)["tab_switch_detection"], ShouldBeTrue)
		})

		Convey("Then health and stats answer", func() {
			f.start(map[string]any{})
			So(f.do(http.MethodGet, "/healthz", nil).Code, ShouldEqual, http.StatusOK)
			rec := f.do(http.MethodGet, "/stats", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"active":1`)
		})
	})

	Convey("Given a guarded API", t, func() {
		v, err := auth.NewValidator("secret", "")
		So(err, ShouldBeNil)
		f := newFixture(t, api.WithGuard(v.Middleware))

		Convey("Then proctoring routes need a token", func() {
			So(f.do(http.MethodGet, "/proctoring/status", nil).Code, ShouldEqual, http.StatusUnauthorized)

			token, err := v.Issue("platform", "service", time.Minute)
			So(err, ShouldBeNil)
			req := httptest.NewRequest(http.MethodGet, "/proctoring/status", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			f.mux.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then ops routes stay open", func() {
			So(f.do(http.MethodGet, "/healthz", nil).Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestLive(t *testing.T) {
	Convey("Given a server streaming live notices", t, func() {
		f := newFixture(t)
		srv := httptest.NewServer(f.mux)
		defer srv.Close()
		id := f.start(map[string]any{})

		Convey("When a subscriber watches while a violation happens", func() {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/proctoring/session/" + id + "/live"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			So(err, ShouldBeNil)
			defer conn.Close()

			deadline := time.Now().Add(2 * time.Second)
			for f.hub.Subscribers(id) == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(f.hub.Subscribers(id), ShouldEqual, 1)
			So(f.do(http.MethodPost, "/proctoring/event", map[string]any{"session_id": id, "event_type": "paste"}).Code, ShouldEqual, http.StatusOK)

			Convey("Then the notice arrives on the socket", func() {
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, data, err := conn.ReadMessage()
				So(err, ShouldBeNil)
				var n model.Notice
				So(json.Unmarshal(data, &n), ShouldBeNil)
				So(n.Type, ShouldEqual, model.NoticeViolation)
				So(n.Violation.Kind, ShouldEqual, model.KindPasteAttempt)
			})
		})

		Convey("When the session is unknown", func() {
			rec := f.do(http.MethodGet, "/proctoring/session/missing/live", nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a server without a live hub", t, func() {
		mux := http.NewServeMux()
		q := queue.NewInMemoryQueue()
		manager := session.NewManager(repository.NewShardedStore[*session.Session](), q)
		api.NewServer(manager, nil).Register(context.Background(), mux)
		info, err := manager.Create(context.Background(), session.CreateRequest{Sensitivity: "low"})
		So(err, ShouldBeNil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proctoring/session/"+info.SessionID+"/live", nil))
		So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
	})
}
