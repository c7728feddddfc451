package event

import (
	"context"

	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"go.uber.org/zap"
)

// AuditLogHandler writes one structured log line per inventory event
type AuditLogHandler struct {
	logger *zap.Logger
}

// NewAuditLogHandler creates the handler
func NewAuditLogHandler(logger *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: logger.Named("audit")}
}

// EventTypes subscribes to every inventory event kind
func (h *AuditLogHandler) EventTypes() []string {
	return inventory.AllEventTypes()
}

// Handle logs ev
func (h *AuditLogHandler) Handle(ctx context.Context, ev shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", ev.EventType()),
		zap.String("event_id", ev.EventID().String()),
		zap.Int64("sequence", ev.Sequence()),
		zap.String("cell", ev.AggregateID()),
	}
	if inv, ok := ev.(*inventory.InventoryEvent); ok {
		fields = append(fields,
			zap.String("operation_id", inv.OperationID.String()),
			zap.String("on_hand", inv.OnHand.String()),
			zap.String("allocated", inv.Allocated.String()),
			zap.Int64("version", inv.Version),
		)
		if inv.RefType != "" {
			fields = append(fields, zap.String("ref", inv.RefType+"/"+inv.RefID))
		}
		if inv.Destination != nil {
			fields = append(fields, zap.String("destination", inv.Destination.Cell().String()))
		}
	}
	h.logger.Info("inventory event", fields...)
	return nil
}

var _ shared.EventHandler = (*AuditLogHandler)(nil)
