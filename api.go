package main

import (
	"errors"
	"net/http"

	"github.com/asdine/storm/v3"
	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/openmech/godrive/drive"
)

//---
// Error renderers
//---

type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request",
		ErrorText:      err.Error(),
	}
}

func ErrUnauthorized(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusUnauthorized,
		StatusText:     "Unauthorized",
		ErrorText:      err.Error(),
	}
}

func ErrPermissionDenied(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusForbidden,
		StatusText:     "Permission denied",
		ErrorText:      err.Error(),
	}
}

func ErrConflict(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusConflict,
		StatusText:     "Conflict",
		ErrorText:      err.Error(),
	}
}

func ErrRender(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusInternalServerError,
		StatusText:     "Error rendering response",
		ErrorText:      err.Error(),
	}
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found"}

//---
// Drive control
//---

type SetpointPayload struct {
	RPM int64 `json:"rpm"`
}

func (s *SetpointPayload) Bind(r *http.Request) error {
	return nil
}

// DriveStatus returns the latest telemetry snapshot.
func DriveStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.Drive.Snapshot())
}

// DriveSetpoint updates the target speed. Takes effect at the next control
// period boundary.
func DriveSetpoint(w http.ResponseWriter, r *http.Request) {
	data := &SetpointPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	ENV.Drive.SetSetpoint(data.RPM)
	render.JSON(w, r, ENV.Drive.Snapshot())
}

func DriveEnable(w http.ResponseWriter, r *http.Request) {
	ENV.Drive.Enable()
	render.JSON(w, r, ENV.Drive.Snapshot())
}

func DriveDisable(w http.ResponseWriter, r *http.Request) {
	ENV.Drive.Disable()
	render.JSON(w, r, ENV.Drive.Snapshot())
}

func DriveEStop(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Drive.EStop(); err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, ENV.Drive.Snapshot())
}

//---
// Tuning profiles
//---

// TuningProfile is a named, persisted gain set. Applying one retunes the
// controller; the drive must be disabled first.
type TuningProfile struct {
	ID      int                 `storm:"increment" json:"-"`
	Name    string              `storm:"unique" json:"name"`
	Control drive.ControlConfig `json:"control"`
}

func (p *TuningProfile) Bind(r *http.Request) error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	return nil
}

func ListProfiles(w http.ResponseWriter, r *http.Request) {
	var profiles []TuningProfile
	if err := ENV.DB.All(&profiles); err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, profiles)
}

// SaveProfile stores a gain set under a name. An empty control block saves
// the currently active tuning.
func SaveProfile(w http.ResponseWriter, r *http.Request) {
	data := &TuningProfile{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if data.Control == (drive.ControlConfig{}) {
		data.Control = ENV.Drive.Config().Control
	}

	if err := ENV.DB.Save(data); err != nil {
		if err == storm.ErrAlreadyExists {
			render.Render(w, r, ErrConflict(err))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, data)
}

// ApplyProfile retunes the controller from a saved profile. Refused while the
// drive is enabled.
func ApplyProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var profile TuningProfile
	if err := ENV.DB.One("Name", name, &profile); err != nil {
		if err == storm.ErrNotFound {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if err := ENV.Drive.Retune(profile.Control); err != nil {
		render.Render(w, r, ErrConflict(err))
		return
	}

	render.JSON(w, r, ENV.Drive.Config())
}
