package extract_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeline/internal/extract"
)

type fakeClient struct {
	reply string
	err   error
	delay time.Duration
	calls int
	last  extract.Request
}

func (f *fakeClient) Complete(ctx context.Context, req extract.Request) (string, error) {
	f.calls++
	f.last = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

const fullReply = "Here is the plan:\n```json\n" + `{
  "exporter_country": "Germany",
  "importer_country": "USA",
  "product": "Electronic components",
  "product_hs_code": "8542.31",
  "incoterm": "fob",
  "estimated_amount": 250000,
  "currency": "usd",
  "exporter_name": "Siemens",
  "shipping_date": "2025-04-01",
  "confidence": 91.6,
  "pending_questions": ["Which port?", "  "],
  "reasoning": "Clear route.",
  "risk_factors": ["Export controls"]
}` + "\n```"

func TestExtractEmptyInputSkipsClient(t *testing.T) {
	client := &fakeClient{reply: fullReply}
	a := extract.NewAdapter(client, extract.Options{})
	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := a.Extract(context.Background(), input)
		if !extract.IsFailure(err, extract.ReasonEmptyInput) {
			t.Fatalf("input %q: expected empty_input failure, got %v", input, err)
		}
	}
	if client.calls != 0 {
		t.Fatalf("client should not be called, got %d calls", client.calls)
	}
}

func TestExtractNormalizes(t *testing.T) {
	client := &fakeClient{reply: fullReply}
	a := extract.NewAdapter(client, extract.Options{MaxTokens: 512})
	d, err := a.Extract(context.Background(), "export electronics from Germany to the USA")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if client.last.Schema == "" || client.last.MaxTokens != 512 {
		t.Fatalf("request missing schema or token limit: %+v", client.last)
	}
	if d.Currency != "USD" || d.Incoterm != "FOB" || d.HSCode != "8542.31" {
		t.Fatalf("unexpected normalisation: %+v", d)
	}
	if d.Confidence != 92 {
		t.Fatalf("expected rounded confidence 92, got %d", d.Confidence)
	}
	if d.EstimatedAmount == nil || d.EstimatedAmount.IntPart() != 250000 {
		t.Fatalf("unexpected amount %v", d.EstimatedAmount)
	}
	if len(d.PendingQuestions) != 1 || d.ImporterName != "" || d.ShippingDate != "2025-04-01" {
		t.Fatalf("unexpected draft %+v", d)
	}
}

func TestParseDraftDefaults(t *testing.T) {
	d, err := extract.ParseDraft(`{"product":"Coffee","currency":"","confidence":140,"shipping_date":"next week","estimated_amount":null}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Currency != "USD" || d.HSCode != "TBD" || d.Confidence != 100 {
		t.Fatalf("unexpected defaults %+v", d)
	}
	if d.ShippingDate != "" || len(d.PendingQuestions) != 1 {
		t.Fatalf("bad shipping date should be cleared with a question: %+v", d)
	}
	if d.EstimatedAmount != nil || d.RiskFactors == nil {
		t.Fatalf("unexpected amount or nil list: %+v", d)
	}

	d, err = extract.ParseDraft(`{"currency":"DOLLARS","confidence":-5}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Currency != "USD" || d.Confidence != 0 || len(d.PendingQuestions) != 1 {
		t.Fatalf("unknown currency should fall back with a question: %+v", d)
	}
}

func TestExtractFailures(t *testing.T) {
	ctx := context.Background()

	a := extract.NewAdapter(&fakeClient{reply: "I cannot help with that."}, extract.Options{})
	if _, err := a.Extract(ctx, "coffee"); !extract.IsFailure(err, extract.ReasonMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}

	providerErr := errors.New("upstream 500")
	a = extract.NewAdapter(&fakeClient{err: providerErr}, extract.Options{})
	_, err := a.Extract(ctx, "coffee")
	if !extract.IsFailure(err, extract.ReasonProvider) || !errors.Is(err, providerErr) {
		t.Fatalf("expected provider failure wrapping cause, got %v", err)
	}

	a = extract.NewAdapter(&fakeClient{reply: fullReply, delay: time.Second}, extract.Options{Timeout: 20 * time.Millisecond})
	if _, err := a.Extract(ctx, "coffee"); !extract.IsFailure(err, extract.ReasonTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	a = extract.NewAdapter(&fakeClient{reply: `{"confidence": 40}`}, extract.Options{MinConfidence: 60})
	_, err = a.Extract(ctx, "coffee")
	var f *extract.Failure
	if !errors.As(err, &f) || f.Reason != extract.ReasonLowConfidence || f.Draft == nil || f.Draft.Confidence != 40 {
		t.Fatalf("expected low confidence failure with draft, got %v", err)
	}
}

func TestExtractCanceledByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := extract.NewAdapter(&fakeClient{reply: fullReply, delay: time.Second}, extract.Options{})
	if _, err := a.Extract(ctx, "coffee"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestExtractRateLimited(t *testing.T) {
	client := &fakeClient{reply: fullReply}
	a := extract.NewAdapter(client, extract.Options{RequestsPerMinute: 1})
	if _, err := a.Extract(context.Background(), "coffee"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := a.Extract(context.Background(), "coffee"); !extract.IsFailure(err, extract.ReasonRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", client.calls)
	}
}
