package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

func createVisioHandler(svc *visio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateVisioRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		v, err := svc.Create(r.Context(), req.Configuration.apply(visio.DefaultConfiguration()))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newVisioResponse(v))
	}
}

// visioCommandHandler adapts a by-id command to HTTP.
func visioCommandHandler(run func(r *http.Request, id string) (*visio.Visio, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := run(r, chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVisioResponse(v))
	}
}

func visioLifecycleHandlers(svc *visio.Service) map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"start":    visioCommandHandler(func(r *http.Request, id string) (*visio.Visio, error) { return svc.Start(r.Context(), id) }),
		"activate": visioCommandHandler(func(r *http.Request, id string) (*visio.Visio, error) { return svc.Activate(r.Context(), id) }),
		"pause":    visioCommandHandler(func(r *http.Request, id string) (*visio.Visio, error) { return svc.Pause(r.Context(), id) }),
		"resume":   visioCommandHandler(func(r *http.Request, id string) (*visio.Visio, error) { return svc.Resume(r.Context(), id) }),
		"end":      visioCommandHandler(func(r *http.Request, id string) (*visio.Visio, error) { return svc.End(r.Context(), id) }),
	}
}

func cancelVisioHandler(svc *visio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}
		v, err := svc.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVisioResponse(v))
	}
}

func updateConfigurationHandler(svc *visio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfigurationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		current, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		v, err := svc.UpdateConfiguration(r.Context(), id, req.apply(current.Configuration()))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVisioResponse(v))
	}
}

func getVisioStateHandler(svc *visio.Service) http.HandlerFunc {
	return visioCommandHandler(func(r *http.Request, id string) (*visio.Visio, error) {
		return svc.Get(r.Context(), id)
	})
}

func addParticipantHandler(svc *visio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddParticipantRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		p, err := svc.AddParticipant(r.Context(), chi.URLParam(r, "id"), visio.ParticipantSpec{
			ID:          req.ParticipantID,
			Type:        visio.ParticipantType(req.Type),
			IsHost:      req.IsHost,
			Preferences: req.Preferences,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newParticipantResponse(p))
	}
}

func generateLinkHandler(svc *visio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid := chi.URLParam(r, "pid")
		link, err := svc.GenerateConnectionLink(r.Context(), chi.URLParam(r, "id"), pid)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ConnectionLinkResponse{ParticipantID: pid, Token: link.Token, ExpiresAt: link.ExpiresAt})
	}
}

type participantCommand func(r *http.Request, visioID, participantID string) (*visio.Visio, error)

func participantHandler(run participantCommand) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := run(r, chi.URLParam(r, "id"), chi.URLParam(r, "pid"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVisioResponse(v))
	}
}

func participantHandlers(svc *visio.Service) map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"connect": participantHandler(func(r *http.Request, id, pid string) (*visio.Visio, error) {
			return svc.ConnectParticipant(r.Context(), id, pid)
		}),
		"disconnect": participantHandler(func(r *http.Request, id, pid string) (*visio.Visio, error) {
			return svc.DisconnectParticipant(r.Context(), id, pid)
		}),
		"leave": participantHandler(func(r *http.Request, id, pid string) (*visio.Visio, error) {
			return svc.LeaveParticipant(r.Context(), id, pid)
		}),
	}
}

func removeParticipantHandler(svc *visio.Service) http.HandlerFunc {
	return participantHandler(func(r *http.Request, id, pid string) (*visio.Visio, error) {
		return svc.RemoveParticipant(r.Context(), id, pid)
	})
}

func updatePreferencesHandler(svc *visio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var prefs visio.Preferences
		if !decodeJSON(w, r, &prefs) {
			return
		}
		v, err := svc.UpdateParticipantPreferences(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid"), prefs)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVisioResponse(v))
	}
}

func getVisioHandler(store visio.ReadStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := store.FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func listVisiosHandler(store visio.ReadStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			views []visio.View
			err   error
		)
		switch {
		case q.Get("hostId") != "":
			views, err = store.FindByHost(r.Context(), q.Get("hostId"))
		case q.Get("status") != "":
			views, err = store.FindByStatus(r.Context(), visio.Status(q.Get("status")))
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "filter by status or hostId")
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(views))
	}
}

func visioStatsHandler(store visio.ReadStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Statistics(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func rebuildVisioHandler(p *visio.Projector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Rebuild(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
