package server

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradeline/internal/assistant"
	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/lifecycle"
)

// Request payloads. Amounts travel as decimal strings so no precision is lost.

type SetStatusRequest struct {
	Status string `json:"status" enum:"draft,planning,compliance_check,finance_pending,finance_accepted,payment_pending,payment_executing,payment_completed,payment_failed,completed"`
}

type ComplianceRunRequest struct {
	Status string                   `json:"status" enum:"passed,warnings,failed"`
	Checks []domain.ComplianceCheck `json:"checks,omitempty"`
}

type FinanceOfferRequest struct {
	Provider     string `json:"provider"`
	Amount       string `json:"amount" example:"250000.00"`
	Currency     string `json:"currency,omitempty" example:"USD"`
	InterestRate string `json:"interest_rate,omitempty" example:"4.25"`
	TermDays     int    `json:"term_days,omitempty" minimum:"0"`
	STFCertified bool   `json:"stf_certified,omitempty"`
}

type PaymentRequest struct {
	Amount           string            `json:"amount" example:"250000.00"`
	Currency         string            `json:"currency,omitempty"`
	Status           string            `json:"status" enum:"pending,executing,completed,failed"`
	ConfirmationCode string            `json:"confirmation_code,omitempty"`
	Route            []domain.RouteHop `json:"route,omitempty"`
}

type ProofBundleRequest struct {
	BundleID   string   `json:"bundle_id,omitempty"`
	Status     string   `json:"status" enum:"generating,ready,verified,tampered"`
	MerkleRoot string   `json:"merkle_root,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
}

type AssistantMessageRequest struct {
	Content string `json:"content" example:"Ship organic coffee beans from Colombia to Canada, 10 tons, CIF Vancouver"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type TradeListResponse struct {
	Items      []domain.Trade `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type AuditEventListResponse struct {
	Items      []domain.AuditEvent `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type StepsResponse struct {
	TradeID string                `json:"trade_id"`
	Current lifecycle.Step        `json:"current"`
	Steps   []lifecycle.StepState `json:"steps"`
}

type ConfirmResponse struct {
	Trade    domain.Trade     `json:"trade"`
	Plan     domain.TradePlan `json:"plan"`
	Replayed bool             `json:"replayed"`
}

type AssistantReply struct {
	Message assistant.Message `json:"message"`
	Session assistant.State   `json:"session"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source" enum:"jwt,api_key"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

func confirmResponse(res engine.ConfirmResult) ConfirmResponse {
	return ConfirmResponse{Trade: res.Trade, Plan: res.Plan, Replayed: res.Replayed}
}

func parseAmount(field, raw string, required bool) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return decimal.Decimal{}, fmt.Errorf("%w: %s is required", engine.ErrInvalidInput, field)
		}
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be a decimal number", engine.ErrInvalidInput, field)
	}
	return d, nil
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
