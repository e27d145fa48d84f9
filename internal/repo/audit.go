package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tradeline/internal/domain"
)

type AuditFilters struct {
	TradeID         string
	Type            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListAuditEvents returns events newest first.
func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	var clauses []string
	var args []any
	if f.TradeID != "" {
		clauses = append(clauses, "trade_id=?")
		args = append(args, f.TradeID)
	}
	if f.Type != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.Type)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,trade_id,event_type,COALESCE(actor_id,''),details_json,created_at FROM audit_events ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryAuditEvents(ctx, query, args...)
}

// AuditEventsAfter returns up to limit events recorded after the cursor,
// oldest first. An empty cursor starts from the beginning.
func (r Repo) AuditEventsAfter(ctx context.Context, createdAt, id string, limit int) ([]domain.AuditEvent, error) {
	query := `SELECT id,trade_id,event_type,COALESCE(actor_id,''),details_json,created_at FROM audit_events`
	var args []any
	if createdAt != "" {
		query += ` WHERE created_at > ? OR (created_at = ? AND id > ?)`
		args = append(args, createdAt, createdAt, id)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)
	return r.queryAuditEvents(ctx, query, args...)
}

// LatestAuditCursor returns the position of the newest event, or empty
// strings when there are none.
func (r Repo) LatestAuditCursor(ctx context.Context) (string, string, error) {
	var createdAt, id string
	err := r.DB.QueryRowContext(ctx, `SELECT created_at,id FROM audit_events ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&createdAt, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return createdAt, id, err
}

func (r Repo) queryAuditEvents(ctx context.Context, query string, args ...any) ([]domain.AuditEvent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AuditEvent{}
	for rows.Next() {
		var e domain.AuditEvent
		var details string
		if err := rows.Scan(&e.ID, &e.TradeID, &e.Type, &e.ActorID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(details, &e.Details); err != nil {
			return nil, fmt.Errorf("audit event %s details_json: %w", e.ID, err)
		}
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
