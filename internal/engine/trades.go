package engine

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"tradeline/internal/domain"
	"tradeline/internal/events"
	"tradeline/internal/lifecycle"
	"tradeline/internal/repo"
	"tradeline/internal/viewmodel"
)

// TradeDetail loads a trade with its related records and derives the detail view.
func (e Engine) TradeDetail(ctx context.Context, id string) (viewmodel.TradeView, error) {
	trade, err := e.Repo.GetTrade(ctx, id)
	if err != nil {
		return viewmodel.TradeView{}, err
	}
	rel, err := e.related(ctx, id)
	if err != nil {
		return viewmodel.TradeView{}, err
	}
	return viewmodel.Build(trade, rel), nil
}

func (e Engine) related(ctx context.Context, tradeID string) (viewmodel.Related, error) {
	var rel viewmodel.Related
	var err error
	if rel.ComplianceRuns, err = e.Repo.ListComplianceRuns(ctx, tradeID); err != nil {
		return rel, fmt.Errorf("list compliance runs: %w", err)
	}
	if rel.FinanceOffers, err = e.Repo.ListFinanceOffers(ctx, tradeID); err != nil {
		return rel, fmt.Errorf("list finance offers: %w", err)
	}
	if rel.Payments, err = e.Repo.ListPayments(ctx, tradeID); err != nil {
		return rel, fmt.Errorf("list payments: %w", err)
	}
	if rel.ProofBundles, err = e.Repo.ListProofBundles(ctx, tradeID); err != nil {
		return rel, fmt.Errorf("list proof bundles: %w", err)
	}
	if rel.AuditEvents, err = e.Repo.ListAuditEvents(ctx, repo.AuditFilters{TradeID: tradeID}); err != nil {
		return rel, fmt.Errorf("list audit events: %w", err)
	}
	return rel, nil
}

type Dashboard struct {
	Summary        lifecycle.Summary `json:"summary"`
	RecentTrades   []domain.Trade    `json:"recent_trades"`
	ActiveTrades   []domain.Trade    `json:"active_trades"`
	PendingActions []domain.Trade    `json:"pending_actions"`
}

// DashboardWindow is how many of the newest trades the dashboard reads.
// Counters and lists are computed over that window only.
const DashboardWindow = 50

// Dashboard summarizes the newest DashboardWindow trades.
func (e Engine) Dashboard(ctx context.Context) (Dashboard, error) {
	trades, err := e.Repo.ListTrades(ctx, repo.TradeFilters{Limit: DashboardWindow})
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{
		Summary:        lifecycle.Summarize(trades),
		RecentTrades:   lifecycle.RecentTrades(trades, lifecycle.DefaultRecentLimit),
		ActiveTrades:   lifecycle.ActiveTrades(trades),
		PendingActions: lifecycle.PendingActions(trades),
	}, nil
}

// SetTradeStatus moves a trade along the lifecycle. Moves not allowed by
// lifecycle.CanTransition fail with ErrInvalidTransition.
func (e Engine) SetTradeStatus(ctx context.Context, id string, to domain.Status, actorID string) (domain.Trade, error) {
	if !to.Valid() {
		return domain.Trade{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trade{}, err
	}
	defer tx.Rollback()
	trade, err := e.Repo.GetTradeTx(ctx, tx, id)
	if err != nil {
		return domain.Trade{}, err
	}
	if err := e.transition(ctx, tx, &trade, to, actorID); err != nil {
		return trade, err
	}
	if err := tx.Commit(); err != nil {
		return trade, err
	}
	return trade, nil
}

func (e Engine) transition(ctx context.Context, tx *sql.Tx, trade *domain.Trade, to domain.Status, actorID string) error {
	from := trade.Status
	if !lifecycle.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := e.timestamp()
	if err := e.Repo.UpdateTradeStatus(ctx, tx, trade.ID, to, now); err != nil {
		return err
	}
	if _, err := e.events().Append(ctx, tx, events.TradeStatusChanged, trade.ID, actorID, events.Details{
		"from": string(from),
		"to":   string(to),
	}); err != nil {
		return err
	}
	trade.Status = to
	trade.UpdatedAt = now
	e.log().Info("trade status changed", zap.String("trade_id", trade.ID), zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}
