package lifecycle

import "tradeline/internal/domain"

// Summary counters overlap: a trade can be active and pending at once.
type Summary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

// DefaultRecentLimit is how many trades the dashboard shows as recent.
const DefaultRecentLimit = 6

func IsCompleted(s domain.Status) bool {
	return s == domain.StatusCompleted
}

// IsPendingAction reports statuses waiting on the user or a counterparty.
func IsPendingAction(s domain.Status) bool {
	switch s {
	case domain.StatusComplianceCheck, domain.StatusFinancePending, domain.StatusPaymentPending:
		return true
	}
	return false
}

func IsActive(s domain.Status) bool {
	switch s {
	case domain.StatusCompleted, domain.StatusPaymentFailed, domain.StatusDraft:
		return false
	}
	return true
}

func Summarize(trades []domain.Trade) Summary {
	sum := Summary{Total: len(trades)}
	for _, t := range trades {
		if IsCompleted(t.Status) {
			sum.Completed++
		}
		if IsPendingAction(t.Status) {
			sum.Pending++
		}
		if IsActive(t.Status) {
			sum.Active++
		}
	}
	return sum
}

// RecentTrades returns at most n trades from a newest-first list.
func RecentTrades(trades []domain.Trade, n int) []domain.Trade {
	if n <= 0 || n > len(trades) {
		n = len(trades)
	}
	return append([]domain.Trade{}, trades[:n]...)
}

func ActiveTrades(trades []domain.Trade) []domain.Trade {
	return filter(trades, IsActive)
}

func PendingActions(trades []domain.Trade) []domain.Trade {
	return filter(trades, IsPendingAction)
}

func filter(trades []domain.Trade, keep func(domain.Status) bool) []domain.Trade {
	out := []domain.Trade{}
	for _, t := range trades {
		if keep(t.Status) {
			out = append(out, t)
		}
	}
	return out
}
