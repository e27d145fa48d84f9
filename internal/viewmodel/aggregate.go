package viewmodel

import (
	"sort"
	"time"

	"tradeline/internal/domain"
	"tradeline/internal/lifecycle"
)

// Related holds the records attached to one trade.
type Related struct {
	ComplianceRuns []domain.ComplianceRun
	FinanceOffers  []domain.FinanceOffer
	Payments       []domain.Payment
	ProofBundles   []domain.ProofBundle
	AuditEvents    []domain.AuditEvent
}

type ActionKind string

const (
	ActionRunCompliance  ActionKind = "run_compliance"
	ActionRequestFinance ActionKind = "request_finance"
	ActionExecutePayment ActionKind = "execute_payment"
	ActionGenerateProof  ActionKind = "generate_proof"
	ActionDownloadProof  ActionKind = "download_proof"
)

// QuickAction is the single next step recommended for a trade.
type QuickAction struct {
	Kind  ActionKind `json:"kind"`
	Label string     `json:"label"`
	// Transitions is false for actions that do not move the lifecycle forward.
	Transitions bool `json:"transitions"`
}

type TradeView struct {
	Trade                 domain.Trade          `json:"trade"`
	Badge                 lifecycle.Descriptor  `json:"badge"`
	Steps                 []lifecycle.StepState `json:"steps"`
	LatestComplianceRun   *domain.ComplianceRun `json:"latest_compliance_run,omitempty"`
	FinanceOffers         []domain.FinanceOffer `json:"finance_offers"`
	AcceptedFinanceOffer  *domain.FinanceOffer  `json:"accepted_finance_offer,omitempty"`
	AcceptedOfferConflict bool                  `json:"accepted_offer_conflict"`
	LatestPayment         *domain.Payment       `json:"latest_payment,omitempty"`
	LatestProofBundle     *domain.ProofBundle   `json:"latest_proof_bundle,omitempty"`
	QuickAction           *QuickAction          `json:"quick_action,omitempty"`
	Timeline              []TimelineEntry       `json:"timeline"`
}

// Build derives the detail view for a trade. It performs no I/O.
func Build(trade domain.Trade, rel Related) TradeView {
	view := TradeView{
		Trade:         trade,
		Badge:         lifecycle.Describe(string(trade.Status)),
		Steps:         lifecycle.ComputeStepStates(string(trade.Status)),
		FinanceOffers: append([]domain.FinanceOffer{}, rel.FinanceOffers...),
		Timeline:      Timeline(rel.AuditEvents, TimelineLimit),
	}
	view.AcceptedFinanceOffer, view.AcceptedOfferConflict = AcceptedOffer(rel.FinanceOffers)
	view.LatestComplianceRun = LatestComplianceRun(rel.ComplianceRuns)
	view.LatestPayment = LatestPayment(rel.Payments)
	view.LatestProofBundle = LatestProofBundle(rel.ProofBundles)
	view.QuickAction = NextAction(trade.Status, view.LatestComplianceRun, view.LatestProofBundle)
	return view
}

// AcceptedOffer returns the first accepted offer in the given order and
// whether more than one offer claims to be accepted.
func AcceptedOffer(offers []domain.FinanceOffer) (*domain.FinanceOffer, bool) {
	var found *domain.FinanceOffer
	for i := range offers {
		if offers[i].Status != domain.OfferAccepted {
			continue
		}
		if found != nil {
			return found, true
		}
		o := offers[i]
		found = &o
	}
	return found, false
}

func LatestComplianceRun(runs []domain.ComplianceRun) *domain.ComplianceRun {
	i := newestIndex(len(runs), func(i int) string { return runs[i].CreatedAt })
	if i < 0 {
		return nil
	}
	r := runs[i]
	return &r
}

func LatestPayment(payments []domain.Payment) *domain.Payment {
	i := newestIndex(len(payments), func(i int) string { return payments[i].CreatedAt })
	if i < 0 {
		return nil
	}
	p := payments[i]
	return &p
}

func LatestProofBundle(bundles []domain.ProofBundle) *domain.ProofBundle {
	i := newestIndex(len(bundles), func(i int) string { return bundles[i].CreatedAt })
	if i < 0 {
		return nil
	}
	b := bundles[i]
	return &b
}

// NextAction applies the quick-action priority table.
func NextAction(status domain.Status, compliance *domain.ComplianceRun, proof *domain.ProofBundle) *QuickAction {
	switch {
	case status == domain.StatusPlanning:
		return &QuickAction{Kind: ActionRunCompliance, Label: "Run Compliance Check", Transitions: true}
	case status == domain.StatusComplianceCheck && compliance != nil && compliance.Status == domain.CompliancePassed:
		return &QuickAction{Kind: ActionRequestFinance, Label: "Request Finance Offers", Transitions: true}
	case status == domain.StatusFinanceAccepted:
		return &QuickAction{Kind: ActionExecutePayment, Label: "Execute Payment", Transitions: true}
	case status == domain.StatusPaymentCompleted && proof == nil:
		return &QuickAction{Kind: ActionGenerateProof, Label: "Generate Proof Bundle", Transitions: true}
	case proof != nil && proof.Status == domain.ProofReady:
		return &QuickAction{Kind: ActionDownloadProof, Label: "Download Proof Bundle"}
	}
	return nil
}

// newestIndex returns the index of the newest record by creation time.
// Ties and unparseable timestamps keep the supplied order.
func newestIndex(n int, createdAt func(int) string) int {
	if n == 0 {
		return -1
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return parseTS(createdAt(idx[a])).After(parseTS(createdAt(idx[b])))
	})
	return idx[0]
}

func parseTS(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}
