package auth_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/okian/proctor/internal/adapters/auth"
	. "github.com/smartystreets/goconvey/convey"
)

func TestValidator(t *testing.T) {
	Convey("Given a validator", t, func() {
		v, err := auth.NewValidator("s3cret", "proctor")
		So(err, ShouldBeNil)

		Convey("When a token is issued", func() {
			token, err := v.Issue("candidate-7", "candidate", time.Hour)
			So(err, ShouldBeNil)

			Convey("Then it validates with its claims", func() {
				claims, err := v.Validate(token)
				So(err, ShouldBeNil)
				So(claims.Subject, ShouldEqual, "candidate-7")
				So(claims.Role, ShouldEqual, "candidate")
			})
		})

		Convey("When the token expired", func() {
			token, err := v.Issue("candidate-7", "", -time.Minute)
			So(err, ShouldBeNil)
			_, err = v.Validate(token)
			So(errors.Is(err, auth.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("When the token was signed with another secret", func() {
			other, _ := auth.NewValidator("different", "proctor")
			token, _ := other.Issue("x", "", time.Hour)
			_, err := v.Validate(token)
			So(errors.Is(err, auth.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("When the token uses an unsigned algorithm", func() {
			token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
				Subject:   "x",
				Issuer:    "proctor",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}).SignedString(jwt.UnsafeAllowNoneSignatureType)
			So(err, ShouldBeNil)
			_, err = v.Validate(token)
			So(errors.Is(err, auth.ErrInvalidToken), ShouldBeTrue)
		})
	})

	Convey("Given an empty secret", t, func() {
		_, err := auth.NewValidator("", "")
		So(errors.Is(err, auth.ErrEmptySecret), ShouldBeTrue)
	})
}

func TestMiddleware(t *testing.T) {
	Convey("Given a guarded handler", t, func() {
		v, _ := auth.NewValidator("s3cret", "")
		var subject string
		h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, ok := auth.FromContext(r.Context()); ok {
				subject = c.Subject
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		token, _ := v.Issue("platform", "service", time.Hour)

		Convey("When the bearer header is valid", func() {
			req := httptest.NewRequest(http.MethodGet, "/proctoring/status", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(subject, ShouldEqual, "platform")
		})

		Convey("When the token comes in the query string", func() {
			req := httptest.NewRequest(http.MethodGet, "/proctoring/session/x/live?token="+token, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusNoContent)
		})

		Convey("When no token is sent", func() {
			req := httptest.NewRequest(http.MethodGet, "/proctoring/status", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Convey("Then a 401 error body is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusUnauthorized)
				var body map[string]string
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body["code"], ShouldEqual, "unauthorized")
				So(body["message"], ShouldEqual, auth.ErrMissingToken.Error())
			})
		})

		Convey("When the scheme is not Bearer", func() {
			req := httptest.NewRequest(http.MethodGet, "/proctoring/status", nil)
			req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})
	})
}
