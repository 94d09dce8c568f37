package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/config"
)

const (
	schemaVersion = "1.0"

	TopicVerificationRequested  = "auth.email.verification_requested"
	TopicPasswordResetRequested = "auth.email.password_reset_requested"
)

// EmailPublisher implements port.EmailSender by publishing mail requests for the mailer service.
type EmailPublisher struct {
	producer *Producer
	appCfg   config.AppSettings
}

// NewEmailPublisher constructs a Kafka-backed email sender.
func NewEmailPublisher(producer *Producer, appCfg config.AppSettings) *EmailPublisher {
	return &EmailPublisher{producer: producer, appCfg: appCfg}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	AccountID string            `json:"account_id"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type emailPayload struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (p *EmailPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload emailPayload) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	body, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}

	// Keyed by account so a resend never overtakes the original request.
	return p.producer.Send(ctx, &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(accountID),
		Value: sarama.ByteEncoder(body),
	})
}

func (p *EmailPublisher) SendVerification(ctx context.Context, msg domain.EmailVerificationRequestedEvent) error {
	return p.publish(ctx, msg.EventID, TopicVerificationRequested, msg.AccountID, msg.RequestedAt, emailPayload{
		Email:     msg.Email,
		Name:      msg.Name,
		Token:     msg.Token,
		ExpiresAt: msg.ExpiresAt.UTC(),
	})
}

func (p *EmailPublisher) SendPasswordReset(ctx context.Context, msg domain.PasswordResetRequestedEvent) error {
	return p.publish(ctx, msg.EventID, TopicPasswordResetRequested, msg.AccountID, msg.RequestedAt, emailPayload{
		Email:     msg.Email,
		Name:      msg.Name,
		Token:     msg.Token,
		ExpiresAt: msg.ExpiresAt.UTC(),
	})
}

var _ port.EmailSender = (*EmailPublisher)(nil)
