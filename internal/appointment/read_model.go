package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

// View is the query-side projection of one appointment.
type View struct {
	AppointmentID      string         `gorm:"column:appointment_id;primaryKey;size:64" json:"id"`
	Title              string         `gorm:"column:title;not null" json:"title"`
	Description        string         `gorm:"column:description" json:"description,omitempty"`
	StartDate          time.Time      `gorm:"column:start_date;index;not null" json:"startDate"`
	EndDate            time.Time      `gorm:"column:end_date;not null" json:"endDate"`
	PatientID          string         `gorm:"column:patient_id;index;size:64;not null" json:"patientId"`
	DoctorID           string         `gorm:"column:doctor_id;index;size:64;not null" json:"doctorId"`
	Status             string         `gorm:"column:status;index;size:16;not null" json:"status"`
	CancellationReason string         `gorm:"column:cancellation_reason" json:"cancellationReason,omitempty"`
	Version            int            `gorm:"column:version;not null" json:"version"`
	Timeline           datatypes.JSON `gorm:"column:timeline" json:"timeline"`
	CreatedOn          time.Time      `gorm:"column:created_on" json:"createdAt"`
	LastEventAt        time.Time      `gorm:"column:last_event_at" json:"updatedAt"`
	ProjectedAt        time.Time      `gorm:"column:projected_at;autoUpdateTime" json:"-"`
}

func (View) TableName() string { return "appointment_read_models" }

type TimelineEntry struct {
	EventType  string    `json:"eventType"`
	Version    int       `json:"version"`
	OccurredOn time.Time `json:"occurredOn"`
}

// NewView projects a replayed state and its stored records.
func NewView(s State, version int, records []es.Record) (View, error) {
	timeline := make([]TimelineEntry, 0, len(records))
	for _, r := range records {
		timeline = append(timeline, TimelineEntry{EventType: r.EventType, Version: r.Version, OccurredOn: r.OccurredOn})
	}
	raw, err := json.Marshal(timeline)
	if err != nil {
		return View{}, fmt.Errorf("marshal timeline: %w", err)
	}
	return View{
		AppointmentID:      s.ID,
		Title:              s.Title,
		Description:        s.Description,
		StartDate:          s.StartDate,
		EndDate:            s.EndDate,
		PatientID:          s.PatientID,
		DoctorID:           s.DoctorID,
		Status:             string(s.Status),
		CancellationReason: s.CancellationReason,
		Version:            version,
		Timeline:           datatypes.JSON(raw),
		CreatedOn:          s.CreatedAt,
		LastEventAt:        s.UpdatedAt,
	}, nil
}

// Entries decodes the stored timeline.
func (v View) Entries() ([]TimelineEntry, error) {
	var out []TimelineEntry
	if len(v.Timeline) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(v.Timeline, &out); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	return out, nil
}

type ReadStore interface {
	Upsert(ctx context.Context, v View) error
	FindByID(ctx context.Context, id string) (View, error)
	FindByPatient(ctx context.Context, patientID string) ([]View, error)
	FindByDoctor(ctx context.Context, doctorID string) ([]View, error)
	FindByStatus(ctx context.Context, status Status) ([]View, error)
	FindAll(ctx context.Context, limit, offset int) ([]View, error)
	FindConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]View, error)
}

// GormReadStore keeps views in a SQL table through gorm.
type GormReadStore struct {
	db *gorm.DB
}

func NewGormReadStore(db *gorm.DB) *GormReadStore {
	return &GormReadStore{db: db}
}

func (s *GormReadStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&View{}); err != nil {
		return fmt.Errorf("migrate appointment read model: %w", err)
	}
	return nil
}

// Upsert writes v unless a view with a higher version is already stored.
func (s *GormReadStore) Upsert(ctx context.Context, v View) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "appointment_id"}},
		UpdateAll: true,
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "appointment_read_models.version <= excluded.version"},
		}},
	}).Create(&v).Error
	if err != nil {
		return fmt.Errorf("upsert appointment view %s: %w", v.AppointmentID, err)
	}
	return nil
}

func (s *GormReadStore) FindByID(ctx context.Context, id string) (View, error) {
	var v View
	err := s.db.WithContext(ctx).Where("appointment_id = ?", id).Take(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return View{}, es.NotFound("appointment.view", fmt.Errorf("%w: %s", ErrAppointmentNotFound, id))
		}
		return View{}, fmt.Errorf("find appointment view %s: %w", id, err)
	}
	return v, nil
}

func (s *GormReadStore) FindByPatient(ctx context.Context, patientID string) ([]View, error) {
	return s.list(ctx, "patient", s.db.Where("patient_id = ?", patientID))
}

func (s *GormReadStore) FindByDoctor(ctx context.Context, doctorID string) ([]View, error) {
	return s.list(ctx, "doctor", s.db.Where("doctor_id = ?", doctorID))
}

func (s *GormReadStore) FindByStatus(ctx context.Context, status Status) ([]View, error) {
	return s.list(ctx, "status", s.db.Where("status = ?", string(status)))
}

func (s *GormReadStore) FindAll(ctx context.Context, limit, offset int) ([]View, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.list(ctx, "all", s.db.Limit(limit).Offset(offset))
}

// FindConfirmedStartingBetween feeds the reminder worker.
func (s *GormReadStore) FindConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]View, error) {
	q := s.db.Where("status = ? AND start_date >= ? AND start_date < ?", string(StatusConfirmed), from.UTC(), to.UTC())
	return s.list(ctx, "reminder window", q)
}

func (s *GormReadStore) list(ctx context.Context, what string, q *gorm.DB) ([]View, error) {
	var out []View
	if err := q.WithContext(ctx).Order("start_date ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list appointment views by %s: %w", what, err)
	}
	return out, nil
}
