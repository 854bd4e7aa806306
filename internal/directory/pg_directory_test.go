package directory

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/hackgods/eventsourced-scheduling/internal/db"
)

func testDirectory(t *testing.T) *PgDirectory {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run directory integration tests")
	}
	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return NewPgDirectory(pool)
}

func TestPatientContact(t *testing.T) {
	d := testDirectory(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := d.UpsertPatient(ctx, Patient{ID: id, Name: "Ada", Email: Optional("ada@example.com")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	c, err := d.GetPatientByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Name != "Ada" || c.Email != "ada@example.com" || c.Phone != "" {
		t.Fatalf("contact = %+v", c)
	}

	if _, err := d.GetPatientByID(ctx, uuid.NewString()); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("err = %v, want ErrPatientNotFound", err)
	}
}

func TestPatientUpsertKeepsKnownFields(t *testing.T) {
	d := testDirectory(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := d.UpsertPatient(ctx, Patient{ID: id, Name: "Ada", Email: Optional("ada@example.com"), Phone: Optional("+33600000000")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := d.UpsertPatient(ctx, Patient{ID: id, Name: "Ada Lovelace"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	c, err := d.GetPatientByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Name != "Ada Lovelace" || c.Email != "ada@example.com" || c.Phone != "+33600000000" {
		t.Fatalf("contact = %+v", c)
	}
}

func TestDoctorUpsertKeepsKnownFields(t *testing.T) {
	d := testDirectory(t)
	ctx := context.Background()
	id := uuid.NewString()

	if err := d.UpsertDoctor(ctx, Doctor{ID: id, Name: "Grey", Email: Optional("grey@example.com"), Available: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := d.UpsertDoctor(ctx, Doctor{ID: id, Name: "Meredith Grey", Specialty: Optional("surgery"), Available: false}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	doc, err := d.GetDoctor(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Name != "Meredith Grey" || deref(doc.Email) != "grey@example.com" || deref(doc.Specialty) != "surgery" || doc.Available {
		t.Fatalf("doctor = %+v", doc)
	}
}

func TestOptional(t *testing.T) {
	if Optional("") != nil {
		t.Fatal("empty string should be NULL")
	}
	if p := Optional("x"); p == nil || *p != "x" {
		t.Fatalf("Optional(x) = %v", p)
	}
}
