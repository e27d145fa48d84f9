package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradeline/internal/domain"
	"tradeline/internal/events"
	"tradeline/internal/repo"
)

var (
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrOfferAlreadyAccepted = errors.New("a finance offer is already accepted for this trade")
	ErrInvalidInput         = errors.New("invalid input")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return domain.Timestamp(e.now())
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// events returns the writer on the engine clock.
func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// ConfirmOptions are parameters for turning an extracted draft into a trade.
type ConfirmOptions struct {
	RawInput string
	Draft    domain.TradeDraft
	ActorID  string
	// IdempotencyKey makes repeated confirmations return the first result.
	IdempotencyKey string
}

type ConfirmResult struct {
	Trade    domain.Trade
	Plan     domain.TradePlan
	Replayed bool
}

// ConfirmDraft writes the trade, its plan and the trade.created audit event
// in one transaction. Either all three rows exist afterwards or none do.
func (e Engine) ConfirmDraft(ctx context.Context, opts ConfirmOptions) (ConfirmResult, error) {
	if strings.TrimSpace(opts.RawInput) == "" {
		return ConfirmResult{}, fmt.Errorf("%w: raw input is required", ErrInvalidInput)
	}
	if opts.IdempotencyKey != "" {
		if res, ok, err := e.replay(ctx, opts.IdempotencyKey); err != nil || ok {
			return res, err
		}
	}
	res, err := e.confirmDraftTx(ctx, opts)
	if err != nil && opts.IdempotencyKey != "" {
		// A concurrent confirm with the same key may have won the insert.
		if replayed, ok, rerr := e.replay(ctx, opts.IdempotencyKey); rerr == nil && ok {
			return replayed, nil
		}
	}
	return res, err
}

func (e Engine) confirmDraftTx(ctx context.Context, opts ConfirmOptions) (ConfirmResult, error) {
	draft := opts.Draft
	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ConfirmResult{}, err
	}
	defer tx.Rollback()

	code, err := e.newTradeCode(ctx, tx)
	if err != nil {
		return ConfirmResult{}, err
	}
	currency := draft.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	trade := domain.Trade{
		ID:              uuid.NewString(),
		Code:            code,
		Status:          domain.StatusPlanning,
		Title:           TradeTitle(draft),
		ExporterCountry: draft.ExporterCountry,
		ImporterCountry: draft.ImporterCountry,
		ExporterName:    draft.ExporterName,
		ImporterName:    draft.ImporterName,
		Product:         draft.Product,
		HSCode:          draft.HSCode,
		Incoterm:        draft.Incoterm,
		EstimatedAmount: draft.EstimatedAmount,
		Currency:        currency,
		ShippingDate:    draft.ShippingDate,
		CreatedBy:       opts.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertTrade(ctx, tx, trade); err != nil {
		return ConfirmResult{}, fmt.Errorf("insert trade: %w", err)
	}
	plan := domain.TradePlan{
		ID:               uuid.NewString(),
		TradeID:          trade.ID,
		RawInput:         opts.RawInput,
		Parsed:           draft,
		ConfidenceScore:  draft.Confidence,
		PendingQuestions: nonNil(draft.PendingQuestions),
		Reasoning:        draft.Reasoning,
		RiskFactors:      nonNil(draft.RiskFactors),
		Status:           domain.PlanConfirmed,
		CreatedAt:        now,
	}
	if err := e.Repo.InsertTradePlan(ctx, tx, plan); err != nil {
		return ConfirmResult{}, fmt.Errorf("insert trade plan: %w", err)
	}
	if _, err := e.events().Append(ctx, tx, events.TradeCreated, trade.ID, opts.ActorID, events.Details{
		"trade_code": trade.Code,
		"plan_id":    plan.ID,
		"confidence": draft.Confidence,
	}); err != nil {
		return ConfirmResult{}, fmt.Errorf("append audit event: %w", err)
	}
	if opts.IdempotencyKey != "" {
		if err := e.Repo.InsertIdempotencyKey(ctx, tx, opts.IdempotencyKey, trade.ID, now); err != nil {
			return ConfirmResult{}, fmt.Errorf("record idempotency key: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ConfirmResult{}, err
	}
	e.log().Info("trade created", zap.String("trade_id", trade.ID), zap.String("trade_code", trade.Code), zap.String("actor", opts.ActorID))
	return ConfirmResult{Trade: trade, Plan: plan}, nil
}

func (e Engine) replay(ctx context.Context, key string) (ConfirmResult, bool, error) {
	tradeID, err := e.Repo.LookupIdempotencyKey(ctx, nil, key)
	if errors.Is(err, repo.ErrNotFound) {
		return ConfirmResult{}, false, nil
	}
	if err != nil {
		return ConfirmResult{}, false, err
	}
	trade, err := e.Repo.GetTrade(ctx, tradeID)
	if err != nil {
		return ConfirmResult{}, false, err
	}
	plan, err := e.Repo.GetPlanByTrade(ctx, tradeID)
	if err != nil {
		return ConfirmResult{}, false, err
	}
	return ConfirmResult{Trade: trade, Plan: plan, Replayed: true}, true, nil
}

// TradeTitle builds "<product> - <exporter> to <importer>" from a draft.
func TradeTitle(d domain.TradeDraft) string {
	return fmt.Sprintf("%s - %s to %s", d.Product, d.ExporterCountry, d.ImporterCountry)
}

const tradeCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateTradeCode returns a code of the form TRD-XXXXXX.
func GenerateTradeCode() (string, error) {
	var b strings.Builder
	b.WriteString("TRD-")
	size := big.NewInt(int64(len(tradeCodeAlphabet)))
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(tradeCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func (e Engine) newTradeCode(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := GenerateTradeCode()
		if err != nil {
			return "", err
		}
		taken, err := e.Repo.TradeCodeExists(ctx, tx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique trade code")
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
