package repo

import (
	"context"
	"database/sql"
	"fmt"

	"tradeline/internal/domain"
)

func (r Repo) InsertTradePlan(ctx context.Context, tx *sql.Tx, p domain.TradePlan) error {
	parsed, err := marshalJSON(p.Parsed)
	if err != nil {
		return fmt.Errorf("marshal parsed draft: %w", err)
	}
	questions, err := marshalJSON(emptyIfNil(p.PendingQuestions))
	if err != nil {
		return err
	}
	risks, err := marshalJSON(emptyIfNil(p.RiskFactors))
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO trade_plans(id,trade_id,raw_input,parsed_json,confidence_score,pending_questions_json,reasoning,risk_factors_json,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.TradeID, p.RawInput, parsed, p.ConfidenceScore, questions, nullable(p.Reasoning), risks, p.Status, p.CreatedAt)
	return err
}

// GetPlanByTrade returns the most recent plan recorded for a trade.
func (r Repo) GetPlanByTrade(ctx context.Context, tradeID string) (domain.TradePlan, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,trade_id,raw_input,parsed_json,confidence_score,pending_questions_json,reasoning,risk_factors_json,status,created_at
FROM trade_plans WHERE trade_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, tradeID)
	var p domain.TradePlan
	var parsed, questions, risks string
	var reasoning sql.NullString
	err := row.Scan(&p.ID, &p.TradeID, &p.RawInput, &parsed, &p.ConfidenceScore, &questions, &reasoning, &risks, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Reasoning = reasoning.String
	if err := unmarshalJSON(parsed, &p.Parsed); err != nil {
		return p, fmt.Errorf("plan %s parsed_json: %w", p.ID, err)
	}
	if err := unmarshalJSON(questions, &p.PendingQuestions); err != nil {
		return p, fmt.Errorf("plan %s pending_questions_json: %w", p.ID, err)
	}
	if err := unmarshalJSON(risks, &p.RiskFactors); err != nil {
		return p, fmt.Errorf("plan %s risk_factors_json: %w", p.ID, err)
	}
	p.PendingQuestions = emptyIfNil(p.PendingQuestions)
	p.RiskFactors = emptyIfNil(p.RiskFactors)
	p.Parsed.PendingQuestions = emptyIfNil(p.Parsed.PendingQuestions)
	p.Parsed.RiskFactors = emptyIfNil(p.Parsed.RiskFactors)
	return p, nil
}

// LookupIdempotencyKey returns the trade created under key.
func (r Repo) LookupIdempotencyKey(ctx context.Context, tx *sql.Tx, key string) (string, error) {
	var tradeID string
	err := r.q(tx).QueryRowContext(ctx, `SELECT trade_id FROM idempotency_keys WHERE key=?`, key).Scan(&tradeID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return tradeID, err
}

func (r Repo) InsertIdempotencyKey(ctx context.Context, tx *sql.Tx, key, tradeID, createdAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO idempotency_keys(key,trade_id,created_at) VALUES (?,?,?)`, key, tradeID, createdAt)
	return err
}
