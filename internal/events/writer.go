package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradeline/internal/domain"
)

const (
	TradeCreated         = "trade.created"
	TradeStatusChanged   = "trade.status_changed"
	ComplianceCompleted  = "compliance.completed"
	ComplianceFailed     = "compliance.failed"
	FinanceOfferReceived = "finance_offer.received"
	FinanceOfferAccepted = "finance_offer.accepted"
	PaymentExecuted      = "payment.executed"
	PaymentFailed        = "payment.failed"
	PaymentRecorded      = "payment.recorded"
	ProofBundleRecorded  = "proof_bundle.recorded"
	ProofBundleCompleted = "proof_bundle.completed"
)

// Writer appends audit events. Events are written in the caller's
// transaction so they commit or roll back with the change they describe.
type Writer struct {
	Now func() time.Time
}

type Details map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, tradeID, actorID string, details Details) (domain.AuditEvent, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("marshal event details: %w", err)
	}
	evt := domain.AuditEvent{
		ID:        "EVT-" + uuid.NewString(),
		TradeID:   tradeID,
		Type:      evtType,
		ActorID:   actorID,
		Details:   details,
		CreatedAt: domain.Timestamp(w.Now()),
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_events(id,trade_id,event_type,actor_id,details_json,created_at) VALUES (?,?,?,?,?,?)`,
		evt.ID, evt.TradeID, evt.Type, nullable(evt.ActorID), string(data), evt.CreatedAt)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
