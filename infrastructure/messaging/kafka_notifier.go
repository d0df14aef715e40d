// Package messaging delivers generation reports and errors to the
// requesting conversational surface. Delivery is fire-and-forget: a failed
// notification is logged, never propagated into the generation path.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/shared/common"
)

// notification event types
const (
	eventTypeReport   = "generation_report"
	eventTypeError    = "generation_error"
	eventTypeArtifact = "artifact_ready"
)

// notificationEnvelope is the wire format toward the conversational surface
type notificationEnvelope struct {
	EventType string      `json:"event_type"`
	OwnerID   string      `json:"owner_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type artifactPayload struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// KafkaNotifier implements repository.NotificationSink over a Kafka topic
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier creates a notification sink
func NewKafkaNotifier(cfg common.KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInvalidInput, "invalid kafka configuration")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Async:        cfg.Async,
	}

	logger.Info("Kafka notification sink initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return &KafkaNotifier{writer: writer, logger: logger}, nil
}

// NotifyReport delivers a full per-item generation report
func (n *KafkaNotifier) NotifyReport(ctx context.Context, ownerID string, report *entity.BatchGenerationReport) error {
	return n.publish(ctx, ownerID, eventTypeReport, report)
}

// NotifyError delivers a generation error
func (n *KafkaNotifier) NotifyError(ctx context.Context, ownerID string, message string) error {
	return n.publish(ctx, ownerID, eventTypeError, errorPayload{Message: message})
}

// NotifyArtifact announces a generated artifact ready for pickup
func (n *KafkaNotifier) NotifyArtifact(ctx context.Context, ownerID string, name string, artifactPath string) error {
	return n.publish(ctx, ownerID, eventTypeArtifact, artifactPayload{Name: name, Path: artifactPath})
}

func (n *KafkaNotifier) publish(ctx context.Context, ownerID, eventType string, payload interface{}) error {
	envelope := notificationEnvelope{
		EventType: eventType,
		OwnerID:   ownerID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return common.WrapError(err, common.ErrCodeInternal, "failed to encode notification")
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ownerID),
		Value: value,
	})
	if err != nil {
		// Fire-and-forget: the caller logs and moves on.
		n.logger.Warn("Notification delivery failed",
			zap.String("owner_id", ownerID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return common.WrapError(err, common.ErrCodeServiceUnavailable, "notification delivery failed")
	}
	return nil
}

// Close flushes and closes the writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
