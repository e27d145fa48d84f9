package domain

// Status is the trade lifecycle state. Only the values declared below are valid.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusPlanning         Status = "planning"
	StatusComplianceCheck  Status = "compliance_check"
	StatusFinancePending   Status = "finance_pending"
	StatusFinanceAccepted  Status = "finance_accepted"
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentExecuting Status = "payment_executing"
	StatusPaymentCompleted Status = "payment_completed"
	StatusPaymentFailed    Status = "payment_failed"
	StatusCompleted        Status = "completed"
)

var statuses = []Status{
	StatusDraft,
	StatusPlanning,
	StatusComplianceCheck,
	StatusFinancePending,
	StatusFinanceAccepted,
	StatusPaymentPending,
	StatusPaymentExecuting,
	StatusPaymentCompleted,
	StatusPaymentFailed,
	StatusCompleted,
}

// Statuses returns every recognized status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

func (s Status) Valid() bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus reports whether raw names a recognized status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}
