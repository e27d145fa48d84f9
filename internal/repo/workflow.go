package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeline/internal/domain"
)

func (r Repo) InsertComplianceRun(ctx context.Context, tx *sql.Tx, run domain.ComplianceRun) error {
	checks, err := marshalJSON(emptyIfNil(run.Checks))
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO compliance_runs(id,trade_id,status,checks_json,created_at) VALUES (?,?,?,?,?)`,
		run.ID, run.TradeID, run.Status, checks, run.CreatedAt)
	return err
}

func (r Repo) ListComplianceRuns(ctx context.Context, tradeID string) ([]domain.ComplianceRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,trade_id,status,checks_json,created_at FROM compliance_runs WHERE trade_id=? ORDER BY created_at DESC, id DESC`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ComplianceRun{}
	for rows.Next() {
		var run domain.ComplianceRun
		var checks string
		if err := rows.Scan(&run.ID, &run.TradeID, &run.Status, &checks, &run.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(checks, &run.Checks); err != nil {
			return nil, fmt.Errorf("compliance run %s checks_json: %w", run.ID, err)
		}
		run.Checks = emptyIfNil(run.Checks)
		res = append(res, run)
	}
	return res, rows.Err()
}

const offerColumns = `id,trade_id,provider,amount,currency,interest_rate,term_days,stf_certified,status,created_at`

func scanOffer(s scanner) (domain.FinanceOffer, error) {
	var o domain.FinanceOffer
	var amount, rate string
	err := s.Scan(&o.ID, &o.TradeID, &o.Provider, &amount, &o.Currency, &rate, &o.TermDays, &o.Certified, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return o, fmt.Errorf("offer %s amount: %w", o.ID, err)
	}
	if o.InterestRate, err = decimal.NewFromString(rate); err != nil {
		return o, fmt.Errorf("offer %s interest_rate: %w", o.ID, err)
	}
	return o, nil
}

func (r Repo) InsertFinanceOffer(ctx context.Context, tx *sql.Tx, o domain.FinanceOffer) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO finance_offers(`+offerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.TradeID, o.Provider, decimalText(o.Amount), o.Currency, decimalText(o.InterestRate), o.TermDays, o.Certified, o.Status, o.CreatedAt)
	return err
}

func (r Repo) GetFinanceOfferTx(ctx context.Context, tx *sql.Tx, id string) (domain.FinanceOffer, error) {
	return scanOffer(r.q(tx).QueryRowContext(ctx, `SELECT `+offerColumns+` FROM finance_offers WHERE id=?`, id))
}

// ListFinanceOffers returns offers in insertion order, the order the
// accepted-offer lookup relies on.
func (r Repo) ListFinanceOffers(ctx context.Context, tradeID string) ([]domain.FinanceOffer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+offerColumns+` FROM finance_offers WHERE trade_id=? ORDER BY created_at ASC, id ASC`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.FinanceOffer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) CountAcceptedOffers(ctx context.Context, tx *sql.Tx, tradeID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM finance_offers WHERE trade_id=? AND status=?`, tradeID, domain.OfferAccepted).Scan(&n)
	return n, err
}

func (r Repo) UpdateOfferStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE finance_offers SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeclineOtherOffers marks every still-offered offer on the trade except keepID as declined.
func (r Repo) DeclineOtherOffers(ctx context.Context, tx *sql.Tx, tradeID, keepID string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE finance_offers SET status=? WHERE trade_id=? AND id<>? AND status=?`,
		domain.OfferDeclined, tradeID, keepID, domain.OfferOffered)
	return err
}

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	route, err := marshalJSON(emptyIfNil(p.Route))
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO payments(id,trade_id,amount,currency,status,confirmation_code,route_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.TradeID, decimalText(p.Amount), p.Currency, p.Status, nullable(p.ConfirmationCode), route, p.CreatedAt)
	return err
}

func (r Repo) ListPayments(ctx context.Context, tradeID string) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,trade_id,amount,currency,status,confirmation_code,route_json,created_at FROM payments WHERE trade_id=? ORDER BY created_at DESC, id DESC`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Payment{}
	for rows.Next() {
		var p domain.Payment
		var amount, route string
		var code sql.NullString
		if err := rows.Scan(&p.ID, &p.TradeID, &amount, &p.Currency, &p.Status, &code, &route, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("payment %s amount: %w", p.ID, err)
		}
		p.ConfirmationCode = code.String
		if err := unmarshalJSON(route, &p.Route); err != nil {
			return nil, fmt.Errorf("payment %s route_json: %w", p.ID, err)
		}
		p.Route = emptyIfNil(p.Route)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertProofBundle(ctx context.Context, tx *sql.Tx, b domain.ProofBundle) error {
	artifacts, err := marshalJSON(emptyIfNil(b.Artifacts))
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO proof_bundles(id,trade_id,bundle_id,status,merkle_root,artifacts_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.TradeID, b.BundleID, b.Status, nullable(b.MerkleRoot), artifacts, b.CreatedAt)
	return err
}

func (r Repo) ListProofBundles(ctx context.Context, tradeID string) ([]domain.ProofBundle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,trade_id,bundle_id,status,merkle_root,artifacts_json,created_at FROM proof_bundles WHERE trade_id=? ORDER BY created_at DESC, id DESC`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProofBundle{}
	for rows.Next() {
		var b domain.ProofBundle
		var root sql.NullString
		var artifacts string
		if err := rows.Scan(&b.ID, &b.TradeID, &b.BundleID, &b.Status, &root, &artifacts, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.MerkleRoot = root.String
		if err := unmarshalJSON(artifacts, &b.Artifacts); err != nil {
			return nil, fmt.Errorf("proof bundle %s artifacts_json: %w", b.ID, err)
		}
		b.Artifacts = emptyIfNil(b.Artifacts)
		res = append(res, b)
	}
	return res, rows.Err()
}
