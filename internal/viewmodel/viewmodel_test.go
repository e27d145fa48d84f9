package viewmodel_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradeline/internal/domain"
	"tradeline/internal/viewmodel"
)

func TestAcceptedOfferFirstMatch(t *testing.T) {
	offers := []domain.FinanceOffer{
		{ID: "o1", Status: "pending"},
		{ID: "o2", Status: domain.OfferAccepted, Provider: "A"},
		{ID: "o3", Status: domain.OfferAccepted, Provider: "B"},
	}
	got, conflict := viewmodel.AcceptedOffer(offers)
	if got == nil || got.Provider != "A" {
		t.Fatalf("expected provider A, got %+v", got)
	}
	if !conflict {
		t.Fatalf("expected conflict flag with two accepted offers")
	}
	got, conflict = viewmodel.AcceptedOffer(offers[:2])
	if got == nil || got.Provider != "A" || conflict {
		t.Fatalf("unexpected result for single accepted offer: %+v conflict=%v", got, conflict)
	}
	if got, _ := viewmodel.AcceptedOffer(offers[:1]); got != nil {
		t.Fatalf("expected no accepted offer, got %+v", got)
	}
}

func TestLatestSortsByCreatedAt(t *testing.T) {
	payments := []domain.Payment{
		{ID: "old", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "new", CreatedAt: "2024-03-01T00:00:00Z"},
		{ID: "mid", CreatedAt: "2024-02-01T00:00:00Z"},
	}
	if got := viewmodel.LatestPayment(payments); got == nil || got.ID != "new" {
		t.Fatalf("expected newest payment, got %+v", got)
	}
	runs := []domain.ComplianceRun{
		{ID: "first", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "second", CreatedAt: "2024-01-01T00:00:00Z"},
	}
	if got := viewmodel.LatestComplianceRun(runs); got == nil || got.ID != "first" {
		t.Fatalf("ties should keep fetch order, got %+v", got)
	}
	if viewmodel.LatestProofBundle(nil) != nil {
		t.Fatalf("expected nil for empty bundles")
	}
}

func TestNextActionTable(t *testing.T) {
	passed := &domain.ComplianceRun{Status: domain.CompliancePassed}
	warnings := &domain.ComplianceRun{Status: domain.ComplianceWarnings}
	ready := &domain.ProofBundle{Status: domain.ProofReady}
	generating := &domain.ProofBundle{Status: domain.ProofGenerating}

	cases := []struct {
		name       string
		status     domain.Status
		compliance *domain.ComplianceRun
		proof      *domain.ProofBundle
		want       viewmodel.ActionKind
	}{
		{"planning", domain.StatusPlanning, nil, nil, viewmodel.ActionRunCompliance},
		{"compliance passed", domain.StatusComplianceCheck, passed, nil, viewmodel.ActionRequestFinance},
		{"compliance warnings", domain.StatusComplianceCheck, warnings, nil, ""},
		{"compliance none", domain.StatusComplianceCheck, nil, nil, ""},
		{"finance accepted", domain.StatusFinanceAccepted, nil, nil, viewmodel.ActionExecutePayment},
		{"payment completed no proof", domain.StatusPaymentCompleted, nil, nil, viewmodel.ActionGenerateProof},
		{"payment completed generating", domain.StatusPaymentCompleted, nil, generating, ""},
		{"payment completed ready", domain.StatusPaymentCompleted, nil, ready, viewmodel.ActionDownloadProof},
		{"completed ready", domain.StatusCompleted, nil, ready, viewmodel.ActionDownloadProof},
		{"draft", domain.StatusDraft, nil, nil, ""},
		{"payment failed", domain.StatusPaymentFailed, nil, nil, ""},
	}
	for _, c := range cases {
		got := viewmodel.NextAction(c.status, c.compliance, c.proof)
		if c.want == "" {
			if got != nil {
				t.Fatalf("%s: expected no action, got %+v", c.name, got)
			}
			continue
		}
		if got == nil || got.Kind != c.want {
			t.Fatalf("%s: expected %s, got %+v", c.name, c.want, got)
		}
		if got.Kind == viewmodel.ActionDownloadProof && got.Transitions {
			t.Fatalf("%s: download must not transition", c.name)
		}
	}
}

func TestBuild(t *testing.T) {
	amount := decimal.RequireFromString("250000")
	trade := domain.Trade{ID: "t1", Status: domain.StatusComplianceCheck, EstimatedAmount: domain.NewAmount(amount), Currency: "USD"}
	view := viewmodel.Build(trade, viewmodel.Related{
		ComplianceRuns: []domain.ComplianceRun{
			{ID: "c-old", Status: domain.ComplianceFailed, CreatedAt: "2024-01-01T00:00:00Z"},
			{ID: "c-new", Status: domain.CompliancePassed, CreatedAt: "2024-01-02T00:00:00Z"},
		},
		AuditEvents: []domain.AuditEvent{
			{ID: "e1", Type: "trade.created", CreatedAt: "2024-01-01T00:00:00Z"},
			{ID: "e2", Type: "compliance.completed", CreatedAt: "2024-01-02T00:00:00Z"},
		},
	})
	if view.Badge.Label != "Compliance Check" {
		t.Fatalf("unexpected badge %+v", view.Badge)
	}
	if view.LatestComplianceRun == nil || view.LatestComplianceRun.ID != "c-new" {
		t.Fatalf("expected newest compliance run, got %+v", view.LatestComplianceRun)
	}
	if view.QuickAction == nil || view.QuickAction.Label != "Request Finance Offers" {
		t.Fatalf("unexpected quick action %+v", view.QuickAction)
	}
	if len(view.Steps) != 5 || view.Steps[1].State != "current" {
		t.Fatalf("unexpected steps %+v", view.Steps)
	}
	if len(view.Timeline) != 2 || view.Timeline[0].EventID != "e2" {
		t.Fatalf("timeline should be newest first: %+v", view.Timeline)
	}
	if view.FinanceOffers == nil {
		t.Fatalf("finance offers should be an empty slice, not nil")
	}
}

func TestTimelineCapAndTone(t *testing.T) {
	var events []domain.AuditEvent
	for i := 0; i < 15; i++ {
		events = append(events, domain.AuditEvent{ID: string(rune('a' + i)), Type: "trade.updated", CreatedAt: "2024-01-01T00:00:00Z"})
	}
	if got := viewmodel.Timeline(events, viewmodel.TimelineLimit); len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(got))
	}
	tones := map[string]viewmodel.Tone{
		"payment.executed":       viewmodel.ToneSuccess,
		"compliance.completed":   viewmodel.ToneSuccess,
		"payment.failed":         viewmodel.ToneFailure,
		"trade.created":          viewmodel.ToneInfo,
		"finance_offer.accepted": viewmodel.ToneInfo,
	}
	for typ, want := range tones {
		if got := viewmodel.EventTone(typ); got != want {
			t.Fatalf("tone %s = %s, want %s", typ, got, want)
		}
	}
	if got := viewmodel.EventLabel("proof_bundle.ready"); got != "proof bundle ready" {
		t.Fatalf("unexpected label %q", got)
	}
	entries := viewmodel.Timeline([]domain.AuditEvent{{ID: "x", Type: "trade.created", CreatedAt: "2024-03-05T14:07:00Z"}}, 0)
	if entries[0].When != "Mar 5, 2:07 PM" {
		t.Fatalf("unexpected timeline time %q", entries[0].When)
	}
}

func TestFormatting(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     string
	}{
		{"250000", "USD", "$250,000"},
		{"1234.56", "", "$1,235"},
		{"150000", "EUR", "€150,000"},
		{"999", "CHF", "CHF 999"},
		{"-42.4", "usd", "-$42"},
	}
	for _, c := range cases {
		if got := viewmodel.FormatCurrency(decimal.RequireFromString(c.amount), c.currency); got != c.want {
			t.Fatalf("FormatCurrency(%s,%s) = %q, want %q", c.amount, c.currency, got, c.want)
		}
	}
	if got := viewmodel.FormatAmount(nil, "USD"); got != "—" {
		t.Fatalf("unexpected nil amount format %q", got)
	}
	if got := viewmodel.FormatDate("2025-07-04"); got != "Jul 4, 2025" {
		t.Fatalf("unexpected date %q", got)
	}
	if got := viewmodel.FormatDate("soon"); got != "soon" {
		t.Fatalf("unparseable dates should pass through, got %q", got)
	}
	if got := viewmodel.DisplayTitle(domain.Trade{}); got != "Untitled Trade" {
		t.Fatalf("unexpected title %q", got)
	}
}
