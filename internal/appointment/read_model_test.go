package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/es/estest"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
)

func openReadStore(t *testing.T) *GormReadStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewGormReadStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestProjectorFollowsCommands(t *testing.T) {
	ctx := context.Background()
	store := openReadStore(t)

	eventStore := es.NewMemoryStore()
	repo := NewRepository(eventStore)
	dispatcher := es.NewDispatcher(logger.NewNop())
	projector := NewProjector(repo, store, logger.NewNop())
	dispatcher.Subscribe("appointment-projection", es.Ordered, projector.Handle)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	svc := NewService(repo, es.NewCommitter(&estest.RecordingPublisher{}, dispatcher), telemetry.Nop{}, logger.NewNop())

	a, err := svc.Create(ctx, sampleDetails())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Confirm(ctx, a.ID()); err != nil {
		t.Fatal(err)
	}
	dispatcher.Wait()

	v, err := store.FindByID(ctx, a.ID())
	if err != nil {
		t.Fatalf("find view: %v", err)
	}
	if v.Status != string(StatusConfirmed) || v.Version != 2 || v.PatientID != "p1" {
		t.Fatalf("view = %+v", v)
	}
	entries, err := v.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].EventType != EventConfirmed {
		t.Fatalf("timeline = %+v", entries)
	}

	byDoctor, err := store.FindByDoctor(ctx, "d1")
	if err != nil || len(byDoctor) != 1 {
		t.Fatalf("by doctor = %v, %v", byDoctor, err)
	}
	confirmed, err := store.FindByStatus(ctx, StatusConfirmed)
	if err != nil || len(confirmed) != 1 {
		t.Fatalf("by status = %v, %v", confirmed, err)
	}

	from := sampleDetails().StartDate.Add(-time.Hour)
	due, err := store.FindConfirmedStartingBetween(ctx, from, from.Add(2*time.Hour))
	if err != nil || len(due) != 1 {
		t.Fatalf("reminder window = %v, %v", due, err)
	}
}

func TestUpsertKeepsNewestVersion(t *testing.T) {
	ctx := context.Background()
	store := openReadStore(t)

	newer := View{AppointmentID: "a1", Title: "t", PatientID: "p", DoctorID: "d", Status: string(StatusConfirmed), Version: 2,
		StartDate: time.Now().UTC(), EndDate: time.Now().UTC().Add(time.Hour)}
	older := newer
	older.Status = string(StatusScheduled)
	older.Version = 1

	if err := store.Upsert(ctx, newer); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, older); err != nil {
		t.Fatal(err)
	}

	got, err := store.FindByID(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || got.Status != string(StatusConfirmed) {
		t.Fatalf("stale write won: %+v", got)
	}

	if _, err := store.FindByID(ctx, "zzz"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("err = %v", err)
	}
}
