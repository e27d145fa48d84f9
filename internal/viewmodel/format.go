package viewmodel

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"tradeline/internal/domain"
)

const (
	TimelineLimit = 10

	cardDateLayout     = "Jan 2, 2006"
	timelineDateLayout = "Jan 2, 3:04 PM"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
	"CNY": "CN¥",
	"CAD": "CA$",
	"MXN": "MX$",
	"AUD": "A$",
}

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatCurrency renders amount rounded to whole units with digit grouping,
// e.g. "$250,000". Currency defaults to USD.
func FormatCurrency(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	rounded := amount.Round(0)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	digits := printer.Sprintf("%d", rounded.IntPart())
	if sym, ok := currencySymbols[currency]; ok {
		return sign + sym + digits
	}
	return sign + currency + " " + digits
}

// FormatAmount is FormatCurrency for optional amounts; nil renders as an em dash.
func FormatAmount(amount *domain.Amount, currency string) string {
	if amount == nil {
		return "—"
	}
	return FormatCurrency(amount.Decimal, currency)
}

// FormatDate renders a YYYY-MM-DD or RFC3339 value as "Jan 2, 2006".
// Values that do not parse are returned unchanged.
func FormatDate(v string) string {
	if v == "" {
		return ""
	}
	if ts, err := time.Parse(time.DateOnly, v); err == nil {
		return ts.Format(cardDateLayout)
	}
	if ts := parseTS(v); !ts.IsZero() {
		return ts.Format(cardDateLayout)
	}
	return v
}

// DisplayTitle falls back to "Untitled Trade" for trades without a title.
func DisplayTitle(t domain.Trade) string {
	if strings.TrimSpace(t.Title) == "" {
		return "Untitled Trade"
	}
	return t.Title
}

type Tone string

const (
	ToneSuccess Tone = "success"
	ToneFailure Tone = "failure"
	ToneInfo    Tone = "info"
)

type TimelineEntry struct {
	EventID   string `json:"event_id"`
	Type      string `json:"event_type"`
	Label     string `json:"label"`
	Tone      Tone   `json:"tone" enum:"success,failure,info"`
	When      string `json:"when"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Timeline orders events newest first and keeps at most limit entries.
func Timeline(events []domain.AuditEvent, limit int) []TimelineEntry {
	sorted := append([]domain.AuditEvent{}, events...)
	sort.SliceStable(sorted, func(a, b int) bool {
		return parseTS(sorted[a].CreatedAt).After(parseTS(sorted[b].CreatedAt))
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]TimelineEntry, 0, len(sorted))
	for _, evt := range sorted {
		entry := TimelineEntry{
			EventID:   evt.ID,
			Type:      evt.Type,
			Label:     EventLabel(evt.Type),
			Tone:      EventTone(evt.Type),
			CreatedAt: evt.CreatedAt,
		}
		if ts := parseTS(evt.CreatedAt); !ts.IsZero() {
			entry.When = ts.Format(timelineDateLayout)
		}
		out = append(out, entry)
	}
	return out
}

// EventLabel turns "payment.executed" or "proof_bundle.ready" into words.
func EventLabel(eventType string) string {
	return strings.NewReplacer(".", " ", "_", " ").Replace(eventType)
}

func EventTone(eventType string) Tone {
	switch {
	case strings.Contains(eventType, "completed"), strings.Contains(eventType, "executed"):
		return ToneSuccess
	case strings.Contains(eventType, "failed"):
		return ToneFailure
	}
	return ToneInfo
}
