package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/openmech/godrive/drive"
	"github.com/openmech/godrive/drive/control"
	"github.com/openmech/godrive/drive/encoder"
)

type nullDriver struct{}

func (nullDriver) SetOutput(control.Command) error { return nil }
func (nullDriver) EStop() error                    { return nil }
func (nullDriver) Close() error                    { return nil }

func apiTestConductor() *drive.Conductor {
	cfg := drive.DriveConfig{
		Control: drive.ControlConfig{
			PeriodMs:  1,
			Kp:        1 << 16,
			OutputMax: 10000,
			DeadZone:  350,
		},
		Encoder: drive.EncoderConfig{CountsPerRev: 600, WindowTicks: 1},
		Stall:   drive.StallConfig{ThresholdRPM: 30, HoldMs: 100},
	}
	(&cfg).ClampRanges()
	return drive.NewConductor(cfg, encoder.NewDecoder(false), nullDriver{})
}

func TestDriveEndpoints(t *testing.T) {
	ENV.Drive = apiTestConductor()

	Convey("status returns the telemetry snapshot", t, func() {
		rr := httptest.NewRecorder()
		http.HandlerFunc(DriveStatus).ServeHTTP(rr, httptest.NewRequest("GET", "/api/drive/status", nil))

		So(rr.Code, ShouldEqual, http.StatusOK)

		var snap drive.Telemetry
		So(json.NewDecoder(rr.Result().Body).Decode(&snap), ShouldBeNil)
		So(snap.State, ShouldEqual, "idle")
	})

	Convey("setpoint updates take effect", t, func() {
		body, _ := json.Marshal(&SetpointPayload{RPM: 1200})
		req := httptest.NewRequest("POST", "/api/drive/setpoint", bytes.NewBuffer(body))
		req.Header.Add("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		http.HandlerFunc(DriveSetpoint).ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(ENV.Drive.Setpoint(), ShouldEqual, 1200)
	})

	Convey("a garbage setpoint body is a 400", t, func() {
		req := httptest.NewRequest("POST", "/api/drive/setpoint", bytes.NewBufferString("not json"))
		req.Header.Add("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		http.HandlerFunc(DriveSetpoint).ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusBadRequest)
	})

	Convey("enable and disable flip the loop state", t, func() {
		rr := httptest.NewRecorder()
		http.HandlerFunc(DriveEnable).ServeHTTP(rr, httptest.NewRequest("POST", "/api/drive/enable", nil))
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(ENV.Drive.Enabled(), ShouldBeTrue)

		rr = httptest.NewRecorder()
		http.HandlerFunc(DriveDisable).ServeHTTP(rr, httptest.NewRequest("POST", "/api/drive/disable", nil))
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(ENV.Drive.Enabled(), ShouldBeFalse)
	})
}

func TestProfileEndpoints(t *testing.T) {
	db, err := openDb(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		panic(err)
	}
	ENV.DB = db
	ENV.Drive = apiTestConductor()

	Convey("saving a profile with no gains captures the active tuning", t, func() {
		body, _ := json.Marshal(&TuningProfile{Name: "bench"})
		req := httptest.NewRequest("POST", "/api/profiles/", bytes.NewBuffer(body))
		req.Header.Add("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		http.HandlerFunc(SaveProfile).ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusOK)

		var saved TuningProfile
		So(ENV.DB.One("Name", "bench", &saved), ShouldBeNil)
		So(saved.Control.Kp, ShouldEqual, ENV.Drive.Config().Control.Kp)
	})

	Convey("a profile without a name is a 400", t, func() {
		body, _ := json.Marshal(&TuningProfile{})
		req := httptest.NewRequest("POST", "/api/profiles/", bytes.NewBuffer(body))
		req.Header.Add("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		http.HandlerFunc(SaveProfile).ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusBadRequest)
	})

	Convey("applying a profile is refused while the drive is running", t, func() {
		profile := &TuningProfile{Name: "hot", Control: ENV.Drive.Config().Control}
		So(ENV.DB.Save(profile), ShouldBeNil)

		ENV.Drive.Enable()
		defer ENV.Drive.Disable()

		rr := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/profiles/hot/apply", nil)
		withProfileRoute(rr, req)

		So(rr.Code, ShouldEqual, http.StatusConflict)
	})
}

// withProfileRoute runs the request through a real router so chi.URLParam
// resolves.
func withProfileRoute(rr *httptest.ResponseRecorder, req *http.Request) {
	r := chi.NewRouter()
	r.Post("/api/profiles/{name}/apply", ApplyProfile)
	r.ServeHTTP(rr, req)
}
