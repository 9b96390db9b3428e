package timeline

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/chartline-health/chartline/pkg/common/faults"
	"github.com/chartline-health/chartline/pkg/common/models"
)

// EventModel is the relational form of a clinical event. Seq records
// insertion order for the tie-break and Latest ordering.
type EventModel struct {
	Seq          int64             `gorm:"primaryKey;autoIncrement;column:seq"`
	ID           string            `gorm:"uniqueIndex;column:id"`
	PatientID    string            `gorm:"index;column:patient_id"`
	Kind         string            `gorm:"column:kind"`
	Description  string            `gorm:"column:description"`
	Value        *float64          `gorm:"column:value"`
	Unit         string            `gorm:"column:unit"`
	OnsetTime    time.Time         `gorm:"index;column:onset_time"`
	Confidence   float64           `gorm:"column:confidence"`
	SourceText   string            `gorm:"column:source_text"`
	EmbeddingRef string            `gorm:"column:embedding_ref"`
	Supersedes   string            `gorm:"column:supersedes"`
	Attributes   datatypes.JSONMap `gorm:"column:attributes"`
	RecordedAt   time.Time         `gorm:"column:recorded_at"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
}

func (EventModel) TableName() string {
	return "clinical_events"
}

// PostgresStore implements Store on a relational database for
// deployments that keep timelines in Postgres rather than local files.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&EventModel{}); err != nil {
		return nil, faults.Storage("migrate clinical_events", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, event models.ClinicalEvent) error {
	rec := toModel(event)
	err := s.db.WithContext(ctx).Create(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return faults.DuplicateEvent(event.ID)
		}
		return faults.Storage("append event", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, patientID, eventID string) (*models.ClinicalEvent, error) {
	var rec EventModel
	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND id = ?", patientID, eventID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Storage("get event", err)
	}
	event := fromModel(rec)
	return &event, nil
}

func (s *PostgresStore) Query(ctx context.Context, patientID string, filter models.EventFilter) ([]models.ClinicalEvent, error) {
	q := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("onset_time ASC").Order("seq ASC")

	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if !filter.From.IsZero() {
		q = q.Where("onset_time >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("onset_time <= ?", filter.To)
	}
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []EventModel
	if err := q.Find(&recs).Error; err != nil {
		return nil, faults.Storage("query timeline", err)
	}
	return fromModels(recs), nil
}

func (s *PostgresStore) Latest(ctx context.Context, patientID string, n int) ([]models.ClinicalEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	var recs []EventModel
	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("seq DESC").Limit(n).
		Find(&recs).Error
	if err != nil {
		return nil, faults.Storage("latest events", err)
	}
	// Flip back to insertion order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return fromModels(recs), nil
}

func (s *PostgresStore) Patients(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&EventModel{}).
		Distinct("patient_id").
		Pluck("patient_id", &ids).Error
	if err != nil {
		return nil, faults.Storage("list patients", err)
	}
	return ids, nil
}

func toModel(event models.ClinicalEvent) EventModel {
	rec := EventModel{
		ID:           event.ID,
		PatientID:    event.PatientID,
		Kind:         string(event.Kind),
		Description:  event.Description,
		OnsetTime:    event.OnsetTime,
		Confidence:   event.Confidence,
		SourceText:   event.SourceText,
		EmbeddingRef: event.EmbeddingRef,
		Supersedes:   event.Supersedes,
		RecordedAt:   event.RecordedAt,
		CreatedAt:    time.Now().UTC(),
	}
	if event.Measurement != nil {
		v := event.Measurement.Value
		rec.Value = &v
		rec.Unit = event.Measurement.Unit
	}
	attrs := datatypes.JSONMap{}
	if event.FoodRelation != "" {
		attrs["food_relation"] = event.FoodRelation
	}
	if event.Frequency != "" {
		attrs["frequency"] = event.Frequency
	}
	if event.Route != "" {
		attrs["route"] = event.Route
	}
	if len(attrs) > 0 {
		rec.Attributes = attrs
	}
	return rec
}

func fromModel(rec EventModel) models.ClinicalEvent {
	event := models.ClinicalEvent{
		ID:           rec.ID,
		PatientID:    rec.PatientID,
		Kind:         models.EventKind(rec.Kind),
		Description:  rec.Description,
		OnsetTime:    rec.OnsetTime,
		Confidence:   rec.Confidence,
		SourceText:   rec.SourceText,
		EmbeddingRef: rec.EmbeddingRef,
		Supersedes:   rec.Supersedes,
		RecordedAt:   rec.RecordedAt,
	}
	if rec.Value != nil {
		event.Measurement = &models.Measurement{Value: *rec.Value, Unit: rec.Unit}
	}
	if rec.Attributes != nil {
		if v, ok := rec.Attributes["food_relation"].(string); ok {
			event.FoodRelation = v
		}
		if v, ok := rec.Attributes["frequency"].(string); ok {
			event.Frequency = v
		}
		if v, ok := rec.Attributes["route"].(string); ok {
			event.Route = v
		}
	}
	return event
}

func fromModels(recs []EventModel) []models.ClinicalEvent {
	out := make([]models.ClinicalEvent, len(recs))
	for i, rec := range recs {
		out[i] = fromModel(rec)
	}
	return out
}
