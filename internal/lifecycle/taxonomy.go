package lifecycle

import "tradeline/internal/domain"

// Descriptor is the presentation metadata for one lifecycle status.
type Descriptor struct {
	Status     domain.Status `json:"status"`
	Label      string        `json:"label"`
	StyleClass string        `json:"style_class"`
	Icon       string        `json:"icon"`
	Animated   bool          `json:"animated"`
}

var descriptors = map[domain.Status]Descriptor{
	domain.StatusDraft: {
		Label:      "Draft",
		StyleClass: "bg-slate-500/10 text-slate-400 border-slate-500/20",
		Icon:       "file-edit",
	},
	domain.StatusPlanning: {
		Label:      "Planning",
		StyleClass: "bg-blue-500/10 text-blue-400 border-blue-500/20",
		Icon:       "clipboard-list",
	},
	domain.StatusComplianceCheck: {
		Label:      "Compliance Check",
		StyleClass: "bg-amber-500/10 text-amber-400 border-amber-500/20",
		Icon:       "shield",
	},
	domain.StatusFinancePending: {
		Label:      "Finance Pending",
		StyleClass: "bg-purple-500/10 text-purple-400 border-purple-500/20",
		Icon:       "wallet",
	},
	domain.StatusFinanceAccepted: {
		Label:      "Finance Accepted",
		StyleClass: "bg-purple-500/10 text-purple-400 border-purple-500/20",
		Icon:       "check-circle",
	},
	domain.StatusPaymentPending: {
		Label:      "Payment Pending",
		StyleClass: "bg-cyan-500/10 text-cyan-400 border-cyan-500/20",
		Icon:       "credit-card",
	},
	domain.StatusPaymentExecuting: {
		Label:      "Executing Payment",
		StyleClass: "bg-cyan-500/10 text-cyan-400 border-cyan-500/20",
		Icon:       "loader",
		Animated:   true,
	},
	domain.StatusPaymentCompleted: {
		Label:      "Payment Complete",
		StyleClass: "bg-emerald-500/10 text-emerald-400 border-emerald-500/20",
		Icon:       "check-circle",
	},
	domain.StatusPaymentFailed: {
		Label:      "Payment Failed",
		StyleClass: "bg-red-500/10 text-red-400 border-red-500/20",
		Icon:       "alert-circle",
	},
	domain.StatusCompleted: {
		Label:      "Completed",
		StyleClass: "bg-emerald-500/10 text-emerald-400 border-emerald-500/20",
		Icon:       "file-check",
	},
}

// Describe returns the badge metadata for status. Unknown or empty input
// falls back to the draft descriptor.
func Describe(status string) Descriptor {
	s := domain.Status(status)
	d, ok := descriptors[s]
	if !ok {
		s = domain.StatusDraft
		d = descriptors[s]
	}
	d.Status = s
	return d
}

// Catalog lists the descriptors for every recognized status in lifecycle order.
func Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(descriptors))
	for _, s := range domain.Statuses() {
		out = append(out, Describe(string(s)))
	}
	return out
}

var transitions = map[domain.Status][]domain.Status{
	domain.StatusDraft:            {domain.StatusPlanning},
	domain.StatusPlanning:         {domain.StatusComplianceCheck},
	domain.StatusComplianceCheck:  {domain.StatusFinancePending, domain.StatusPlanning},
	domain.StatusFinancePending:   {domain.StatusFinanceAccepted},
	domain.StatusFinanceAccepted:  {domain.StatusPaymentPending},
	domain.StatusPaymentPending:   {domain.StatusPaymentExecuting, domain.StatusPaymentFailed},
	domain.StatusPaymentExecuting: {domain.StatusPaymentCompleted, domain.StatusPaymentFailed},
	domain.StatusPaymentFailed:    {domain.StatusPaymentPending},
	domain.StatusPaymentCompleted: {domain.StatusCompleted},
}

// CanTransition reports whether a trade may move from one status to another.
func CanTransition(from, to domain.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from status in one move.
func NextStatuses(from domain.Status) []domain.Status {
	return append([]domain.Status{}, transitions[from]...)
}
