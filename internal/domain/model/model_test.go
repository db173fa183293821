package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSensitivity(t *testing.T) {
	Convey("Given sensitivity names", t, func() {
		Convey("When parsing recognized values in any case", func() {
			for in, want := range map[string]model.Sensitivity{
				"Low": model.SensitivityLow, "MEDIUM": model.SensitivityMedium, " high ": model.SensitivityHigh,
			} {
				got, err := model.ParseSensitivity(in)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, want)
			}
		})

		Convey("When parsing an unknown value", func() {
			_, err := model.ParseSensitivity("extreme")
			So(errors.Is(err, model.ErrUnknownValue), ShouldBeTrue)
			So(model.Sensitivity("extreme").Valid(), ShouldBeFalse)
		})

		Convey("Then the profiles carry the documented thresholds", func() {
			So(model.SensitivityLow.Profile().FaceConfidence, ShouldEqual, 0.7)
			So(model.SensitivityMedium.Profile().FaceConfidence, ShouldEqual, 0.6)
			So(model.SensitivityHigh.Profile().FaceConfidence, ShouldEqual, 0.5)
			So(model.SensitivityLow.Profile().HeadPoseDegrees, ShouldEqual, 40)
			So(model.SensitivityMedium.Profile().HeadPoseDegrees, ShouldEqual, 30)
			So(model.SensitivityHigh.Profile().HeadPoseDegrees, ShouldEqual, 25)
			So(model.SensitivityLow.Profile().NoFaceFrames, ShouldEqual, 60)
			So(model.SensitivityMedium.Profile().NoFaceFrames, ShouldEqual, 30)
			So(model.SensitivityHigh.Profile().NoFaceFrames, ShouldEqual, 15)
		})
	})
}

func TestKinds(t *testing.T) {
	Convey("Given the violation taxonomy", t, func() {
		Convey("Then every kind has a severity with a penalty", func() {
			for _, k := range model.Kinds() {
				So(k.Severity(), ShouldNotBeEmpty)
				So(k.Severity().Penalty(), ShouldBeGreaterThan, 0)
			}
		})

		Convey("Then the static mapping matches the policy", func() {
			So(model.KindMultipleFaces.Severity(), ShouldEqual, model.SeverityHigh)
			So(model.KindDifferentPerson.Severity(), ShouldEqual, model.SeverityCritical)
			So(model.KindTabSwitch.Severity(), ShouldEqual, model.SeverityMedium)
			So(model.KindPasteAttempt.Severity(), ShouldEqual, model.SeverityLow)
			So(model.SeverityCritical.Penalty(), ShouldEqual, 20)
		})

		Convey("When parsing client events with aliases", func() {
			k, err := model.ParseClientEvent("switch")
			So(err, ShouldBeNil)
			So(k, ShouldEqual, model.KindTabSwitch)
			k, err = model.ParseClientEvent("Blur")
			So(err, ShouldBeNil)
			So(k, ShouldEqual, model.KindWindowBlur)
			So(k.ClientReported(), ShouldBeTrue)

			_, err = model.ParseClientEvent("no_face")
			So(err, ShouldNotBeNil)
		})

		Convey("When building a violation", func() {
			at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
			v := model.NewViolation(model.KindCopyAttempt, at, "clipboard")
			So(v.Severity, ShouldEqual, model.SeverityLow)
			So(v.Timestamp.Location(), ShouldEqual, time.UTC)
		})
	})
}
