package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		a, err := svc.Create(r.Context(), appointment.Details{
			Title:       req.Title,
			Description: req.Description,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newAppointmentResponse(a))
	}
}

// appointmentCommandHandler adapts a by-id command to HTTP.
func appointmentCommandHandler(run func(r *http.Request, id string) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := run(r, chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(a))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return appointmentCommandHandler(func(r *http.Request, id string) (*appointment.Appointment, error) {
		return svc.Confirm(r.Context(), id)
	})
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return appointmentCommandHandler(func(r *http.Request, id string) (*appointment.Appointment, error) {
		return svc.Complete(r.Context(), id)
	})
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		a, err := svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(a))
	}
}

func getAppointmentHandler(store appointment.ReadStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := store.FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// getAppointmentStateHandler reads the write side, bypassing projection lag.
func getAppointmentStateHandler(svc *appointment.Service) http.HandlerFunc {
	return appointmentCommandHandler(func(r *http.Request, id string) (*appointment.Appointment, error) {
		return svc.Get(r.Context(), id)
	})
}

func listAppointmentsHandler(store appointment.ReadStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			views []appointment.View
			err   error
		)
		switch {
		case q.Get("patientId") != "":
			views, err = store.FindByPatient(r.Context(), q.Get("patientId"))
		case q.Get("doctorId") != "":
			views, err = store.FindByDoctor(r.Context(), q.Get("doctorId"))
		case q.Get("status") != "":
			views, err = store.FindByStatus(r.Context(), appointment.Status(q.Get("status")))
		default:
			views, err = store.FindAll(r.Context(), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(views))
	}
}

func rebuildAppointmentHandler(p *appointment.Projector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Rebuild(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Sentinels reported under their own name. Transition errors answer 409
// even though the domain classes them as validation.
var knownErrors = []struct {
	err    error
	status int
	code   string
}{
	{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
	{visio.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
	{visio.ErrInvalidParticipantTransition, http.StatusConflict, "invalid_participant_transition"},
	{visio.ErrVisioTerminated, http.StatusConflict, "visio_terminated"},
	{visio.ErrCapacityReached, http.StatusConflict, "capacity_reached"},
	{visio.ErrParticipantExists, http.StatusConflict, "participant_exists"},
	{visio.ErrConnectionLinkExpired, http.StatusForbidden, "connection_link_expired"},
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{visio.ErrVisioNotFound, http.StatusNotFound, "visio_not_found"},
	{visio.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found"},
	{es.ErrVersionConflict, http.StatusConflict, "concurrent_modification"},
}

func writeServiceError(w http.ResponseWriter, err error) {
	for _, k := range knownErrors {
		if errors.Is(err, k.err) {
			writeError(w, k.status, k.code, err.Error())
			return
		}
	}

	switch es.CodeOf(err) {
	case es.CodeValidation:
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case es.CodeNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case es.CodeConflict:
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case es.CodeTransport:
		// The change is stored; only its publication failed.
		writeError(w, http.StatusBadGateway, "publish_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
