package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/es/estest"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

type testServer struct {
	handler    http.Handler
	dispatcher *es.Dispatcher
	publisher  *estest.RecordingPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	apptViews := appointment.NewGormReadStore(gdb)
	if err := apptViews.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	visioViews := visio.NewRedisReadStore(rdb)

	store := es.NewMemoryStore()
	apptRepo := appointment.NewRepository(store)
	visioRepo := visio.NewRepository(store)
	apptProjector := appointment.NewProjector(apptRepo, apptViews, log)
	visioProjector := visio.NewProjector(visioRepo, visioViews, log)

	dispatcher := es.NewDispatcher(log)
	dispatcher.Subscribe("projection.appointment", es.Ordered, apptProjector.Handle)
	dispatcher.Subscribe("projection.visio", es.Ordered, visioProjector.Handle)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	publisher := &estest.RecordingPublisher{}
	committer := es.NewCommitter(publisher, dispatcher)

	health := NewHealthHandler(
		map[string]Check{"postgres": func(context.Context) error { return nil }},
		map[string]Check{"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		"test", "v0",
	)

	handler := NewRouter(RouterConfig{
		Appointments:         appointment.NewService(apptRepo, committer, telemetry.Nop{}, log),
		AppointmentViews:     apptViews,
		AppointmentProjector: apptProjector,
		Visios:               visio.NewService(visioRepo, committer, telemetry.Nop{}, log, time.Hour),
		VisioViews:           visioViews,
		VisioProjector:       visioProjector,
		Health:               health,
		Log:                  log,
	})
	return &testServer{handler: handler, dispatcher: dispatcher, publisher: publisher}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	s.dispatcher.Wait()

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func createBody() CreateAppointmentRequest {
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	return CreateAppointmentRequest{
		Title:     "Check-up",
		StartDate: start,
		EndDate:   start.Add(30 * time.Minute),
		PatientID: "p1",
		DoctorID:  "d1",
	}
}

func TestAppointmentEndpoints(t *testing.T) {
	s := newTestServer(t)

	var created AppointmentResponse
	if code := s.do(t, http.MethodPost, "/appointments", createBody(), &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.Status != string(appointment.StatusScheduled) || created.Version != 1 {
		t.Fatalf("created = %+v", created)
	}
	id := created.ID

	var confirmed AppointmentResponse
	if code := s.do(t, http.MethodPost, "/appointments/"+id+"/confirm", nil, &confirmed); code != http.StatusOK {
		t.Fatalf("confirm status = %d", code)
	}

	var view appointment.View
	if code := s.do(t, http.MethodGet, "/appointments/"+id, nil, &view); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if view.Status != string(appointment.StatusConfirmed) || view.Version != 2 {
		t.Fatalf("view = %+v", view)
	}

	if code := s.do(t, http.MethodPost, "/appointments/"+id+"/complete", nil, nil); code != http.StatusOK {
		t.Fatalf("complete status = %d", code)
	}

	var errResp ErrorResponse
	if code := s.do(t, http.MethodPost, "/appointments/"+id+"/cancel", CancelRequest{Reason: "late"}, &errResp); code != http.StatusConflict {
		t.Fatalf("cancel after complete status = %d", code)
	}
	if errResp.Error != "invalid_status_transition" {
		t.Fatalf("error = %+v", errResp)
	}

	var list ListResponse[appointment.View]
	if code := s.do(t, http.MethodGet, "/appointments?doctorId=d1", nil, &list); code != http.StatusOK || list.Count != 1 {
		t.Fatalf("list = %d %+v", code, list)
	}

	if code := s.do(t, http.MethodPost, "/appointments/"+id+"/rebuild", nil, nil); code != http.StatusNoContent {
		t.Fatalf("rebuild status = %d", code)
	}
}

func TestAppointmentErrors(t *testing.T) {
	s := newTestServer(t)

	noTitle := createBody()
	noTitle.Title = ""

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad json", http.MethodPost, "/appointments", "{", http.StatusBadRequest, "invalid_request_body"},
		{"missing title", http.MethodPost, "/appointments", noTitle, http.StatusBadRequest, "validation_error"},
		{"unknown view", http.MethodGet, "/appointments/nope", nil, http.StatusNotFound, "appointment_not_found"},
		{"unknown command target", http.MethodPost, "/appointments/nope/confirm", nil, http.StatusNotFound, "appointment_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			if code := s.do(t, tt.method, tt.path, tt.body, &resp); code != tt.status {
				t.Fatalf("status = %d, want %d (%+v)", code, tt.status, resp)
			}
			if resp.Error != tt.code {
				t.Fatalf("error = %q, want %q", resp.Error, tt.code)
			}
		})
	}
}

func TestIDsOfOtherAggregatesAreNotFound(t *testing.T) {
	s := newTestServer(t)

	var v VisioResponse
	if code := s.do(t, http.MethodPost, "/visios", CreateVisioRequest{}, &v); code != http.StatusCreated {
		t.Fatalf("create visio status = %d", code)
	}
	var a AppointmentResponse
	if code := s.do(t, http.MethodPost, "/appointments", createBody(), &a); code != http.StatusCreated {
		t.Fatalf("create appointment status = %d", code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		code   string
	}{
		{"confirm visio as appointment", http.MethodPost, "/appointments/" + v.ID + "/confirm", "appointment_not_found"},
		{"appointment state of visio", http.MethodGet, "/appointments/" + v.ID + "/state", "appointment_not_found"},
		{"visio state of appointment", http.MethodGet, "/visios/" + a.ID + "/state", "visio_not_found"},
		{"start appointment as visio", http.MethodPost, "/visios/" + a.ID + "/start", "visio_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			if code := s.do(t, tt.method, tt.path, nil, &resp); code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404 (%+v)", code, resp)
			}
			if resp.Error != tt.code {
				t.Fatalf("error = %q, want %q", resp.Error, tt.code)
			}
		})
	}
}

func TestPublishFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t)
	s.publisher.Err = errors.New("broker down")

	var resp ErrorResponse
	if code := s.do(t, http.MethodPost, "/appointments", createBody(), &resp); code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
	if resp.Error != "publish_failed" {
		t.Fatalf("error = %+v", resp)
	}
}

func TestVisioEndpoints(t *testing.T) {
	s := newTestServer(t)

	capacity := 2
	var created VisioResponse
	if code := s.do(t, http.MethodPost, "/visios", CreateVisioRequest{Configuration: &ConfigurationRequest{MaxParticipants: &capacity}}, &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.Configuration.MaxParticipants != 2 || !created.Configuration.Chat {
		t.Fatalf("configuration = %+v", created.Configuration)
	}
	base := "/visios/" + created.ID

	for _, p := range []AddParticipantRequest{
		{ParticipantID: "dr-1", Type: "INTERNAL", IsHost: true},
		{ParticipantID: "pt-1", Type: "EXTERNAL"},
	} {
		var resp ParticipantResponse
		if code := s.do(t, http.MethodPost, base+"/participants", p, &resp); code != http.StatusCreated {
			t.Fatalf("add %s status = %d", p.ParticipantID, code)
		}
		if resp.LinkExpiresAt == nil {
			t.Fatalf("participant %s has no link", p.ParticipantID)
		}
	}

	var errResp ErrorResponse
	if code := s.do(t, http.MethodPost, base+"/participants", AddParticipantRequest{ParticipantID: "x", Type: "EXTERNAL"}, &errResp); code != http.StatusConflict || errResp.Error != "capacity_reached" {
		t.Fatalf("over capacity = %d %+v", code, errResp)
	}

	var link ConnectionLinkResponse
	if code := s.do(t, http.MethodPost, base+"/participants/pt-1/link", nil, &link); code != http.StatusCreated || link.Token == "" {
		t.Fatalf("link = %d %+v", code, link)
	}

	for _, step := range []string{"/participants/dr-1/connect", "/start", "/activate"} {
		if code := s.do(t, http.MethodPost, base+step, nil, nil); code != http.StatusOK {
			t.Fatalf("%s status = %d", step, code)
		}
	}

	var view visio.View
	if code := s.do(t, http.MethodGet, base, nil, &view); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if view.Status != visio.StatusActive || view.ConnectedCount != 1 || view.ParticipantCount != 2 {
		t.Fatalf("view = %+v", view)
	}

	var hosted ListResponse[visio.View]
	if code := s.do(t, http.MethodGet, "/visios?hostId=dr-1", nil, &hosted); code != http.StatusOK || hosted.Count != 1 {
		t.Fatalf("by host = %d %+v", code, hosted)
	}

	var stats visio.Stats
	if code := s.do(t, http.MethodGet, "/visios/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats status = %d", code)
	}
	if stats.TotalVisios != 1 || stats.ActiveVisios != 1 || stats.TotalParticipants != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	if code := s.do(t, http.MethodGet, "/visios", nil, &errResp); code != http.StatusBadRequest {
		t.Fatalf("unfiltered list status = %d", code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	var live LivenessResponse
	if code := s.do(t, http.MethodGet, "/health/live", nil, &live); code != http.StatusOK || live.Status != "ok" {
		t.Fatalf("live = %d %+v", code, live)
	}

	var ready ReadinessResponse
	if code := s.do(t, http.MethodGet, "/health/ready", nil, &ready); code != http.StatusOK || ready.Status != "ok" {
		t.Fatalf("ready = %d %+v", code, ready)
	}

	down := func(context.Context) error { return errors.New("down") }
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name     string
		required map[string]Check
		optional map[string]Check
		status   int
		state    string
	}{
		{"optional down", map[string]Check{"postgres": ok}, map[string]Check{"redis": down}, http.StatusOK, "degraded"},
		{"required down", map[string]Check{"postgres": down}, map[string]Check{"redis": ok}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.required, tt.optional, "test", "v0")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			var resp ReadinessResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.status || resp.Status != tt.state {
				t.Fatalf("got %d %s, want %d %s", rec.Code, resp.Status, tt.status, tt.state)
			}
		})
	}
}
