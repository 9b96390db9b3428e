package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/chartline-health/chartline/pkg/common/logger"
	"github.com/chartline-health/chartline/pkg/common/models"
)

// Publisher writes audit records to the event bus. A nil Publisher is
// valid and publishes nothing, so the pipeline runs unchanged in fully
// offline deployments.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Publisher{writer: writer}
}

// Publish sends one audit record. Failures are logged and returned but
// callers treat them as best-effort: an audit miss never fails a request.
func (p *Publisher) Publish(ctx context.Context, recordType, patientID string, data map[string]interface{}) error {
	if p == nil {
		return nil
	}

	record := models.AuditRecord{
		ID:        uuid.New().String(),
		Type:      recordType,
		Source:    "chartline-pipeline",
		PatientID: patientID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(patientID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "record-type", Value: []byte(recordType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.WithFields(map[string]interface{}{
			"record_id":   record.ID,
			"record_type": recordType,
			"patient_id":  patientID,
		}).WithError(err).Error("Failed to publish audit record")
		return err
	}

	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
