package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const tradeColumns = `id,trade_code,status,title,exporter_country,importer_country,exporter_name,importer_name,product,product_hs_code,incoterm,estimated_amount,currency,shipping_date,delivery_date,created_by,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (domain.Trade, error) {
	var t domain.Trade
	var status string
	var exporterCountry, importerCountry, exporterName, importerName, product, hsCode, incoterm, amount, shipping, delivery, createdBy sql.NullString
	err := s.Scan(&t.ID, &t.Code, &status, &t.Title, &exporterCountry, &importerCountry, &exporterName, &importerName,
		&product, &hsCode, &incoterm, &amount, &t.Currency, &shipping, &delivery, &createdBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.Status(status)
	t.ExporterCountry = exporterCountry.String
	t.ImporterCountry = importerCountry.String
	t.ExporterName = exporterName.String
	t.ImporterName = importerName.String
	t.Product = product.String
	t.HSCode = hsCode.String
	t.Incoterm = incoterm.String
	t.ShippingDate = shipping.String
	t.DeliveryDate = delivery.String
	t.CreatedBy = createdBy.String
	if t.EstimatedAmount, err = amountPtr(amount); err != nil {
		return t, fmt.Errorf("trade %s estimated_amount: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) InsertTrade(ctx context.Context, tx *sql.Tx, t domain.Trade) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO trades(`+tradeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Code, string(t.Status), t.Title, nullable(t.ExporterCountry), nullable(t.ImporterCountry),
		nullable(t.ExporterName), nullable(t.ImporterName), nullable(t.Product), nullable(t.HSCode), nullable(t.Incoterm),
		nullableAmount(t.EstimatedAmount), t.Currency, nullable(t.ShippingDate), nullable(t.DeliveryDate),
		nullable(t.CreatedBy), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	return r.GetTradeTx(ctx, nil, id)
}

func (r Repo) GetTradeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Trade, error) {
	return scanTrade(r.q(tx).QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id=?`, id))
}

func (r Repo) GetTradeByCode(ctx context.Context, code string) (domain.Trade, error) {
	return scanTrade(r.DB.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_code=?`, code))
}

// TradeCodeExists reports whether code is already assigned.
func (r Repo) TradeCodeExists(ctx context.Context, tx *sql.Tx, code string) (bool, error) {
	var n int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM trades WHERE trade_code=?`, code).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) UpdateTradeStatus(ctx context.Context, tx *sql.Tx, id string, status domain.Status, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE trades SET status=?, updated_at=? WHERE id=?`, string(status), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TradeFilters struct {
	Status          string
	ExporterCountry string
	ImporterCountry string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListTrades returns trades newest first.
func (r Repo) ListTrades(ctx context.Context, f TradeFilters) ([]domain.Trade, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ExporterCountry != "" {
		clauses = append(clauses, "exporter_country=?")
		args = append(args, f.ExporterCountry)
	}
	if f.ImporterCountry != "" {
		clauses = append(clauses, "importer_country=?")
		args = append(args, f.ImporterCountry)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + tradeColumns + ` FROM trades ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTradesByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM trades GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.Status(status)] = n
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableAmount(a *domain.Amount) any {
	if a == nil {
		return nil
	}
	return a.String()
}

// decimalText keeps the scale the value was written with ("250000.50" stays
// "250000.50"); decimal.String trims trailing zeros.
func decimalText(d decimal.Decimal) string {
	return domain.Amount{Decimal: d}.String()
}

func amountPtr(v sql.NullString) (*domain.Amount, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	return domain.ParseAmount(v.String)
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func emptyIfNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
