// Package directory holds the local copy of patients and doctors that the
// sagas read contact details from. It is fed by the seed command and by
// the external registration events.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/eventsourced-scheduling/internal/saga"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
)

type Patient struct {
	ID        string
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        string
	Name      string
	Email     *string
	Phone     *string
	Specialty *string
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Email,
		&d.Phone,
		&d.Specialty,
		&d.Available,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgDirectory) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgDirectory) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, specialty, available, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

// GetPatientByID implements saga.PatientDirectory.
func (r *PgDirectory) GetPatientByID(ctx context.Context, id string) (saga.Contact, error) {
	p, err := r.GetPatient(ctx, id)
	if err != nil {
		return saga.Contact{}, err
	}
	return saga.Contact{ID: p.ID, Name: p.Name, Email: deref(p.Email), Phone: deref(p.Phone)}, nil
}

// GetDoctorByID implements saga.DoctorDirectory.
func (r *PgDirectory) GetDoctorByID(ctx context.Context, id string) (saga.Contact, error) {
	d, err := r.GetDoctor(ctx, id)
	if err != nil {
		return saga.Contact{}, err
	}
	return saga.Contact{ID: d.ID, Name: d.Name, Email: deref(d.Email), Phone: deref(d.Phone)}, nil
}

// UpsertPatient and UpsertDoctor keep stored contact fields when the new
// value is NULL, so a partial registration event does not erase them.
func (r *PgDirectory) UpsertPatient(ctx context.Context, p Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = COALESCE(EXCLUDED.email, patients.email),
		    phone = COALESCE(EXCLUDED.phone, patients.phone),
		    updated_at = now()
	`, p.ID, p.Name, p.Email, p.Phone)
	if err != nil {
		return fmt.Errorf("upsert patient %s: %w", p.ID, err)
	}
	return nil
}

func (r *PgDirectory) UpsertDoctor(ctx context.Context, d Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, email, phone, specialty, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = COALESCE(EXCLUDED.email, doctors.email),
		    phone = COALESCE(EXCLUDED.phone, doctors.phone),
		    specialty = COALESCE(EXCLUDED.specialty, doctors.specialty),
		    available = EXCLUDED.available,
		    updated_at = now()
	`, d.ID, d.Name, d.Email, d.Phone, d.Specialty, d.Available)
	if err != nil {
		return fmt.Errorf("upsert doctor %s: %w", d.ID, err)
	}
	return nil
}

// ListPatientIDs and ListDoctorIDs feed the load simulator.
func (r *PgDirectory) ListPatientIDs(ctx context.Context, limit int) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM patients ORDER BY created_at LIMIT $1`, limit)
}

func (r *PgDirectory) ListDoctorIDs(ctx context.Context, limit int) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM doctors WHERE available ORDER BY created_at LIMIT $1`, limit)
}

func (r *PgDirectory) listIDs(ctx context.Context, query string, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Optional turns an empty string into a NULL column value.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
