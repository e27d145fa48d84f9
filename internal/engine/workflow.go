package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeline/internal/domain"
	"tradeline/internal/events"
	"tradeline/internal/viewmodel"
)

type ComplianceInput struct {
	Status string
	Checks []domain.ComplianceCheck
}

// RecordComplianceRun stores a screening result. A trade still in planning
// moves to compliance_check.
func (e Engine) RecordComplianceRun(ctx context.Context, tradeID string, in ComplianceInput, actorID string) (domain.ComplianceRun, error) {
	switch in.Status {
	case domain.CompliancePassed, domain.ComplianceWarnings, domain.ComplianceFailed:
	default:
		return domain.ComplianceRun{}, fmt.Errorf("%w: compliance status %q", ErrInvalidInput, in.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ComplianceRun{}, err
	}
	defer tx.Rollback()
	trade, err := e.Repo.GetTradeTx(ctx, tx, tradeID)
	if err != nil {
		return domain.ComplianceRun{}, err
	}
	switch trade.Status {
	case domain.StatusPlanning:
		if err := e.transition(ctx, tx, &trade, domain.StatusComplianceCheck, actorID); err != nil {
			return domain.ComplianceRun{}, err
		}
	case domain.StatusComplianceCheck:
	default:
		return domain.ComplianceRun{}, fmt.Errorf("%w: compliance cannot run while trade is %s", ErrInvalidTransition, trade.Status)
	}
	run := domain.ComplianceRun{
		ID:        "CMP-" + uuid.NewString(),
		TradeID:   tradeID,
		Status:    in.Status,
		Checks:    in.Checks,
		CreatedAt: e.timestamp(),
	}
	if run.Checks == nil {
		run.Checks = []domain.ComplianceCheck{}
	}
	if err := e.Repo.InsertComplianceRun(ctx, tx, run); err != nil {
		return domain.ComplianceRun{}, err
	}
	evtType := events.ComplianceCompleted
	if run.Status == domain.ComplianceFailed {
		evtType = events.ComplianceFailed
	}
	if _, err := e.events().Append(ctx, tx, evtType, tradeID, actorID, events.Details{
		"run_id": run.ID,
		"status": run.Status,
		"checks": len(run.Checks),
	}); err != nil {
		return domain.ComplianceRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ComplianceRun{}, err
	}
	return run, nil
}

type OfferInput struct {
	Provider     string
	Amount       decimal.Decimal
	Currency     string
	InterestRate decimal.Decimal
	TermDays     int
	Certified    bool
}

// AddFinanceOffer records an offer from a finance provider. The first offer
// moves a trade whose latest compliance run passed into finance_pending.
func (e Engine) AddFinanceOffer(ctx context.Context, tradeID string, in OfferInput, actorID string) (domain.FinanceOffer, error) {
	if strings.TrimSpace(in.Provider) == "" {
		return domain.FinanceOffer{}, fmt.Errorf("%w: provider is required", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return domain.FinanceOffer{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if in.InterestRate.IsNegative() || in.TermDays < 0 {
		return domain.FinanceOffer{}, fmt.Errorf("%w: interest rate and term must not be negative", ErrInvalidInput)
	}
	runs, err := e.Repo.ListComplianceRuns(ctx, tradeID)
	if err != nil {
		return domain.FinanceOffer{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FinanceOffer{}, err
	}
	defer tx.Rollback()
	trade, err := e.Repo.GetTradeTx(ctx, tx, tradeID)
	if err != nil {
		return domain.FinanceOffer{}, err
	}
	switch trade.Status {
	case domain.StatusComplianceCheck:
		latest := viewmodel.LatestComplianceRun(runs)
		if latest == nil || latest.Status != domain.CompliancePassed {
			return domain.FinanceOffer{}, fmt.Errorf("%w: compliance has not passed", ErrInvalidTransition)
		}
		if err := e.transition(ctx, tx, &trade, domain.StatusFinancePending, actorID); err != nil {
			return domain.FinanceOffer{}, err
		}
	case domain.StatusFinancePending:
	default:
		return domain.FinanceOffer{}, fmt.Errorf("%w: offers cannot be added while trade is %s", ErrInvalidTransition, trade.Status)
	}
	currency := in.Currency
	if currency == "" {
		currency = trade.Currency
	}
	offer := domain.FinanceOffer{
		ID:           "OFR-" + uuid.NewString(),
		TradeID:      tradeID,
		Provider:     in.Provider,
		Amount:       in.Amount,
		Currency:     currency,
		InterestRate: in.InterestRate,
		TermDays:     in.TermDays,
		Certified:    in.Certified,
		Status:       domain.OfferOffered,
		CreatedAt:    e.timestamp(),
	}
	if err := e.Repo.InsertFinanceOffer(ctx, tx, offer); err != nil {
		return domain.FinanceOffer{}, err
	}
	if _, err := e.events().Append(ctx, tx, events.FinanceOfferReceived, tradeID, actorID, events.Details{
		"offer_id": offer.ID,
		"provider": offer.Provider,
		"amount":   offer.Amount.String(),
		"currency": offer.Currency,
	}); err != nil {
		return domain.FinanceOffer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FinanceOffer{}, err
	}
	return offer, nil
}

// AcceptFinanceOffer accepts one offer and declines the others. A trade has
// at most one accepted offer; a second acceptance fails with
// ErrOfferAlreadyAccepted.
func (e Engine) AcceptFinanceOffer(ctx context.Context, tradeID, offerID, actorID string) (domain.FinanceOffer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FinanceOffer{}, err
	}
	defer tx.Rollback()
	trade, err := e.Repo.GetTradeTx(ctx, tx, tradeID)
	if err != nil {
		return domain.FinanceOffer{}, err
	}
	offer, err := e.Repo.GetFinanceOfferTx(ctx, tx, offerID)
	if err != nil {
		return domain.FinanceOffer{}, err
	}
	if offer.TradeID != tradeID {
		return domain.FinanceOffer{}, fmt.Errorf("%w: offer %s does not belong to trade %s", ErrInvalidInput, offerID, tradeID)
	}
	accepted, err := e.Repo.CountAcceptedOffers(ctx, tx, tradeID)
	if err != nil {
		return domain.FinanceOffer{}, err
	}
	if accepted > 0 {
		return domain.FinanceOffer{}, ErrOfferAlreadyAccepted
	}
	if offer.Status != domain.OfferOffered {
		return domain.FinanceOffer{}, fmt.Errorf("%w: offer is %s", ErrInvalidTransition, offer.Status)
	}
	if err := e.transition(ctx, tx, &trade, domain.StatusFinanceAccepted, actorID); err != nil {
		return domain.FinanceOffer{}, err
	}
	if err := e.Repo.UpdateOfferStatus(ctx, tx, offerID, domain.OfferAccepted); err != nil {
		return domain.FinanceOffer{}, err
	}
	if err := e.Repo.DeclineOtherOffers(ctx, tx, tradeID, offerID); err != nil {
		return domain.FinanceOffer{}, err
	}
	if _, err := e.events().Append(ctx, tx, events.FinanceOfferAccepted, tradeID, actorID, events.Details{
		"offer_id": offerID,
		"provider": offer.Provider,
	}); err != nil {
		return domain.FinanceOffer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.FinanceOffer{}, err
	}
	offer.Status = domain.OfferAccepted
	return offer, nil
}

type PaymentInput struct {
	Amount           decimal.Decimal
	Currency         string
	Status           string
	ConfirmationCode string
	Route            []domain.RouteHop
}

var paymentTradeStatus = map[string]domain.Status{
	domain.PaymentPending:   domain.StatusPaymentPending,
	domain.PaymentExecuting: domain.StatusPaymentExecuting,
	domain.PaymentCompleted: domain.StatusPaymentCompleted,
	domain.PaymentFailed:    domain.StatusPaymentFailed,
}

// RecordPayment stores a payment attempt and moves the trade to the matching
// payment status.
func (e Engine) RecordPayment(ctx context.Context, tradeID string, in PaymentInput, actorID string) (domain.Payment, error) {
	target, ok := paymentTradeStatus[in.Status]
	if !ok {
		return domain.Payment{}, fmt.Errorf("%w: payment status %q", ErrInvalidInput, in.Status)
	}
	if !in.Amount.IsPositive() {
		return domain.Payment{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()
	trade, err := e.Repo.GetTradeTx(ctx, tx, tradeID)
	if err != nil {
		return domain.Payment{}, err
	}
	if trade.Status != target {
		if err := e.transition(ctx, tx, &trade, target, actorID); err != nil {
			return domain.Payment{}, err
		}
	}
	currency := in.Currency
	if currency == "" {
		currency = trade.Currency
	}
	payment := domain.Payment{
		ID:               "PAY-" + uuid.NewString(),
		TradeID:          tradeID,
		Amount:           in.Amount,
		Currency:         currency,
		Status:           in.Status,
		ConfirmationCode: in.ConfirmationCode,
		Route:            in.Route,
		CreatedAt:        e.timestamp(),
	}
	if payment.Route == nil {
		payment.Route = []domain.RouteHop{}
	}
	if err := e.Repo.InsertPayment(ctx, tx, payment); err != nil {
		return domain.Payment{}, err
	}
	evtType := events.PaymentRecorded
	switch payment.Status {
	case domain.PaymentCompleted:
		evtType = events.PaymentExecuted
	case domain.PaymentFailed:
		evtType = events.PaymentFailed
	}
	if _, err := e.events().Append(ctx, tx, evtType, tradeID, actorID, events.Details{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"amount":     payment.Amount.String(),
		"currency":   payment.Currency,
		"hops":       len(payment.Route),
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	if payment.Status == domain.PaymentFailed {
		e.log().Warn("payment failed", zap.String("trade_id", tradeID), zap.String("payment_id", payment.ID))
	}
	return payment, nil
}

type ProofInput struct {
	BundleID   string
	Status     string
	MerkleRoot string
	Artifacts  []string
}

// RecordProofBundle stores an evidence bundle for a paid trade. A ready or
// verified bundle completes the trade.
func (e Engine) RecordProofBundle(ctx context.Context, tradeID string, in ProofInput, actorID string) (domain.ProofBundle, error) {
	switch in.Status {
	case domain.ProofGenerating, domain.ProofReady, domain.ProofVerified, domain.ProofTampered:
	default:
		return domain.ProofBundle{}, fmt.Errorf("%w: proof status %q", ErrInvalidInput, in.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProofBundle{}, err
	}
	defer tx.Rollback()
	trade, err := e.Repo.GetTradeTx(ctx, tx, tradeID)
	if err != nil {
		return domain.ProofBundle{}, err
	}
	if trade.Status != domain.StatusPaymentCompleted && trade.Status != domain.StatusCompleted {
		return domain.ProofBundle{}, fmt.Errorf("%w: proof requires a completed payment, trade is %s", ErrInvalidTransition, trade.Status)
	}
	bundle := domain.ProofBundle{
		ID:         "PRF-" + uuid.NewString(),
		TradeID:    tradeID,
		BundleID:   in.BundleID,
		Status:     in.Status,
		MerkleRoot: in.MerkleRoot,
		Artifacts:  in.Artifacts,
		CreatedAt:  e.timestamp(),
	}
	if bundle.BundleID == "" {
		bundle.BundleID = "BND-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if bundle.Artifacts == nil {
		bundle.Artifacts = []string{}
	}
	if err := e.Repo.InsertProofBundle(ctx, tx, bundle); err != nil {
		return domain.ProofBundle{}, err
	}
	evtType := events.ProofBundleRecorded
	if bundle.Status == domain.ProofReady || bundle.Status == domain.ProofVerified {
		evtType = events.ProofBundleCompleted
		if trade.Status == domain.StatusPaymentCompleted {
			if err := e.transition(ctx, tx, &trade, domain.StatusCompleted, actorID); err != nil {
				return domain.ProofBundle{}, err
			}
		}
	}
	if _, err := e.events().Append(ctx, tx, evtType, tradeID, actorID, events.Details{
		"bundle_id": bundle.BundleID,
		"status":    bundle.Status,
		"artifacts": len(bundle.Artifacts),
	}); err != nil {
		return domain.ProofBundle{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProofBundle{}, err
	}
	return bundle, nil
}
