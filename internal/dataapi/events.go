package dataapi

import (
	"context"

	"github.com/tabular/tabular-backend/pkg/logger"
	"github.com/tabular/tabular-backend/pkg/messaging"
)

// AuditEventsExchange is the topic exchange audit events fan out to
const AuditEventsExchange = "tabular.events"

// AuditEventType is the routing key for data-API audit events
const AuditEventType = "data_api.audit"

// EventFanout publishes audit events to RabbitMQ when a broker is
// configured. Publishing is fire-and-forget; failures are logged and
// never affect the request outcome.
type EventFanout struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewEventFanout creates the fanout; a nil publisher disables it
func NewEventFanout(publisher *messaging.Publisher, log *logger.Logger) *EventFanout {
	return &EventFanout{
		publisher: publisher,
		logger:    log.WithComponent("audit_fanout"),
	}
}

// Publish sends the audit event to the exchange, if one is configured
func (f *EventFanout) Publish(ctx context.Context, event AuditEvent) {
	if f == nil || f.publisher == nil {
		return
	}

	if err := f.publisher.Publish(ctx, AuditEventType, event.RequestID, event); err != nil {
		f.logger.Warn().Err(err).
			Str("tenant_id", event.TenantID).
			Str("table", event.TableName).
			Msg("failed to publish audit event")
	}
}
