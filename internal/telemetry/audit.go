package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Publisher is the transport audit events ride on.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter emits structured audit events for user-visible delivery
// actions (sends, clears, membership changes).
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      zerolog.Logger
}

type AuditEnvelope struct {
	SchemaVersion  int          `json:"schema_version"`
	EventType      string       `json:"event_type"`
	OccurredAt     string       `json:"occurred_at"`
	Service        string       `json:"service"`
	Environment    string       `json:"environment"`
	RequestID      string       `json:"request_id"`
	UserID         *int64       `json:"user_id,omitempty"`
	ConversationID *int         `json:"conversation_id,omitempty"`
	Payload        AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes an audit event. Failures are logged, never propagated; audit
// must not break the request path.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *int64, conversationID *int) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion:  1,
		EventType:      "audit_log",
		OccurredAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Service:        e.service,
		Environment:    e.environment,
		RequestID:      requestID,
		UserID:         userID,
		ConversationID: conversationID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn().Err(err).Str("request_id", requestID).Msg("audit publish failed")
	}
}
