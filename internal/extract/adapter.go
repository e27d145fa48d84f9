package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/time/rate"

	"tradeline/internal/domain"
)

type Reason string

const (
	ReasonEmptyInput    Reason = "empty_input"
	ReasonTimeout       Reason = "timeout"
	ReasonProvider      Reason = "provider"
	ReasonMalformed     Reason = "malformed"
	ReasonLowConfidence Reason = "low_confidence"
	ReasonRateLimited   Reason = "rate_limited"
)

// Failure is returned for every extraction that does not produce a usable
// draft. Draft is set only for ReasonLowConfidence.
type Failure struct {
	Reason Reason
	Err    error
	Draft  *domain.TradeDraft
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("extraction %s: %v", f.Reason, f.Err)
	}
	return "extraction " + string(f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFailure reports whether err carries a Failure with the given reason.
func IsFailure(err error, reason Reason) bool {
	var f *Failure
	return errors.As(err, &f) && f.Reason == reason
}

type Options struct {
	Timeout           time.Duration
	MinConfidence     int
	MaxTokens         int
	RequestsPerMinute int
	Logger            *zap.Logger
}

const DefaultTimeout = 30 * time.Second

type Adapter struct {
	client  Client
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewAdapter(client Client, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	a := &Adapter{client: client, opts: opts, logger: opts.Logger}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if opts.RequestsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), opts.RequestsPerMinute)
	}
	return a
}

const systemPrompt = `You are a trade planning assistant. Parse the user's trade description and extract structured data.
Fields:
- exporter_country: country exporting goods
- importer_country: country importing goods
- product: product description
- product_hs_code: HS code if identifiable, otherwise "TBD"
- incoterm: detected incoterm (EXW, FOB, CIF, DAP, etc.) or suggest one
- estimated_amount: numeric value
- currency: ISO 4217 currency code (default USD)
- exporter_name, importer_name: company names if mentioned
- shipping_date: estimated date if mentioned, YYYY-MM-DD
- confidence: 0-100 confidence score
- pending_questions: clarifying questions for missing information
- reasoning: brief explanation of the trade structure
- risk_factors: potential risk factors for this trade`

const draftSchema = `{
  "type": "object",
  "properties": {
    "exporter_country": {"type": "string"},
    "importer_country": {"type": "string"},
    "product": {"type": "string"},
    "product_hs_code": {"type": "string"},
    "incoterm": {"type": "string"},
    "estimated_amount": {"type": "number"},
    "currency": {"type": "string"},
    "exporter_name": {"type": "string"},
    "importer_name": {"type": "string"},
    "shipping_date": {"type": "string"},
    "confidence": {"type": "number"},
    "pending_questions": {"type": "array", "items": {"type": "string"}},
    "reasoning": {"type": "string"},
    "risk_factors": {"type": "array", "items": {"type": "string"}}
  }
}`

// Extract turns one user utterance into a draft. It never persists anything.
// Blank input fails with ReasonEmptyInput without calling the model.
func (a *Adapter) Extract(ctx context.Context, input string) (domain.TradeDraft, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return domain.TradeDraft{}, &Failure{Reason: ReasonEmptyInput}
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return domain.TradeDraft{}, &Failure{Reason: ReasonRateLimited}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()
	start := time.Now()
	raw, err := a.client.Complete(callCtx, Request{
		System:    systemPrompt,
		Prompt:    fmt.Sprintf("User Input: %q", input),
		Schema:    draftSchema,
		MaxTokens: a.opts.MaxTokens,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.TradeDraft{}, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			a.logger.Warn("extraction timed out", zap.Duration("timeout", a.opts.Timeout))
			return domain.TradeDraft{}, &Failure{Reason: ReasonTimeout, Err: err}
		}
		a.logger.Warn("extraction provider error", zap.Error(err))
		return domain.TradeDraft{}, &Failure{Reason: ReasonProvider, Err: err}
	}

	draft, err := ParseDraft(raw)
	if err != nil {
		a.logger.Warn("extraction returned malformed output", zap.Error(err), zap.Int("bytes", len(raw)))
		return domain.TradeDraft{}, &Failure{Reason: ReasonMalformed, Err: err}
	}
	a.logger.Debug("extraction completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("confidence", draft.Confidence),
		zap.Int("pending_questions", len(draft.PendingQuestions)))
	if a.opts.MinConfidence > 0 && draft.Confidence < a.opts.MinConfidence {
		return domain.TradeDraft{}, &Failure{
			Reason: ReasonLowConfidence,
			Err:    fmt.Errorf("confidence %d below %d", draft.Confidence, a.opts.MinConfidence),
			Draft:  &draft,
		}
	}
	return draft, nil
}

type rawDraft struct {
	ExporterCountry  string           `json:"exporter_country"`
	ImporterCountry  string           `json:"importer_country"`
	Product          string           `json:"product"`
	HSCode           string           `json:"product_hs_code"`
	Incoterm         string           `json:"incoterm"`
	EstimatedAmount  *decimal.Decimal `json:"estimated_amount"`
	Currency         string           `json:"currency"`
	ExporterName     string           `json:"exporter_name"`
	ImporterName     string           `json:"importer_name"`
	ShippingDate     string           `json:"shipping_date"`
	Confidence       *float64         `json:"confidence"`
	PendingQuestions []string         `json:"pending_questions"`
	Reasoning        string           `json:"reasoning"`
	RiskFactors      []string         `json:"risk_factors"`
}

// ParseDraft decodes model output into a normalised draft. Surrounding prose
// and markdown fences are ignored.
func ParseDraft(raw string) (domain.TradeDraft, error) {
	body, err := jsonObject(raw)
	if err != nil {
		return domain.TradeDraft{}, err
	}
	var rd rawDraft
	if err := json.Unmarshal([]byte(body), &rd); err != nil {
		return domain.TradeDraft{}, fmt.Errorf("decode draft: %w", err)
	}
	return normalize(rd), nil
}

func jsonObject(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", errors.New("no JSON object in model output")
	}
	return raw[start : end+1], nil
}

func normalize(rd rawDraft) domain.TradeDraft {
	d := domain.TradeDraft{
		ExporterCountry:  strings.TrimSpace(rd.ExporterCountry),
		ImporterCountry:  strings.TrimSpace(rd.ImporterCountry),
		Product:          strings.TrimSpace(rd.Product),
		HSCode:           strings.TrimSpace(rd.HSCode),
		Incoterm:         strings.ToUpper(strings.TrimSpace(rd.Incoterm)),
		ExporterName:     strings.TrimSpace(rd.ExporterName),
		ImporterName:     strings.TrimSpace(rd.ImporterName),
		Reasoning:        strings.TrimSpace(rd.Reasoning),
		PendingQuestions: cleanList(rd.PendingQuestions),
		RiskFactors:      cleanList(rd.RiskFactors),
	}
	if d.HSCode == "" {
		d.HSCode = domain.HSCodeTBD
	}

	d.Currency = strings.ToUpper(strings.TrimSpace(rd.Currency))
	if d.Currency == "" {
		d.Currency = domain.DefaultCurrency
	} else if _, err := currency.ParseISO(d.Currency); err != nil {
		d.PendingQuestions = append(d.PendingQuestions, fmt.Sprintf("%q is not a recognised currency code. Which currency should be used?", rd.Currency))
		d.Currency = domain.DefaultCurrency
	}

	if rd.EstimatedAmount != nil {
		if rd.EstimatedAmount.IsNegative() {
			d.PendingQuestions = append(d.PendingQuestions, "What is the estimated value of the trade?")
		} else {
			d.EstimatedAmount = domain.NewAmount(*rd.EstimatedAmount)
		}
	}

	if date := strings.TrimSpace(rd.ShippingDate); date != "" {
		if _, err := time.Parse(time.DateOnly, date); err == nil {
			d.ShippingDate = date
		} else {
			d.PendingQuestions = append(d.PendingQuestions, fmt.Sprintf("When will the goods ship? %q is not a YYYY-MM-DD date.", date))
		}
	}

	if rd.Confidence != nil {
		d.Confidence = clampConfidence(*rd.Confidence)
	}
	return d
}

func clampConfidence(v float64) int {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(math.Round(v))
}

func cleanList(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
