package lifecycle

import "tradeline/internal/domain"

type Phase string

const (
	PhasePlan       Phase = "Plan"
	PhaseCompliance Phase = "Compliance"
	PhaseFinance    Phase = "Finance"
	PhasePayment    Phase = "Payment"
	PhaseProof      Phase = "Proof"
)

type StepStatus string

const (
	StepComplete StepStatus = "complete"
	StepCurrent  StepStatus = "current"
	StepUpcoming StepStatus = "upcoming"
)

type phaseDef struct {
	phase    Phase
	icon     string
	statuses []domain.Status
}

// Status sets must stay disjoint: MapToStep takes the first match.
var phases = []phaseDef{
	{PhasePlan, "message-square", []domain.Status{domain.StatusDraft, domain.StatusPlanning}},
	{PhaseCompliance, "shield", []domain.Status{domain.StatusComplianceCheck}},
	{PhaseFinance, "wallet", []domain.Status{domain.StatusFinancePending, domain.StatusFinanceAccepted}},
	{PhasePayment, "credit-card", []domain.Status{
		domain.StatusPaymentPending,
		domain.StatusPaymentExecuting,
		domain.StatusPaymentCompleted,
		domain.StatusPaymentFailed,
	}},
	{PhaseProof, "file-check", []domain.Status{domain.StatusCompleted}},
}

// Step identifies one of the five workflow phases. Index is 1-based.
type Step struct {
	Index int   `json:"index"`
	Phase Phase `json:"phase"`
}

type StepState struct {
	Index int        `json:"index"`
	Phase Phase      `json:"phase"`
	Icon  string     `json:"icon"`
	State StepStatus `json:"state" enum:"complete,current,upcoming"`
}

// MapToStep returns the phase owning status. Unrecognized statuses map to
// the Plan phase, the same as draft.
func MapToStep(status string) Step {
	k := phaseIndex(domain.Status(status))
	return Step{Index: k + 1, Phase: phases[k].phase}
}

// ComputeStepStates marks phases before the current one complete, the
// current one current and the rest upcoming.
func ComputeStepStates(status string) []StepState {
	k := phaseIndex(domain.Status(status))
	out := make([]StepState, len(phases))
	for i, p := range phases {
		state := StepUpcoming
		switch {
		case i < k:
			state = StepComplete
		case i == k:
			state = StepCurrent
		}
		out[i] = StepState{Index: i + 1, Phase: p.phase, Icon: p.icon, State: state}
	}
	return out
}

// Phases lists the workflow phases with the statuses each one owns.
func Phases() map[Phase][]domain.Status {
	out := make(map[Phase][]domain.Status, len(phases))
	for _, p := range phases {
		out[p.phase] = append([]domain.Status(nil), p.statuses...)
	}
	return out
}

func phaseIndex(s domain.Status) int {
	for i, p := range phases {
		for _, member := range p.statuses {
			if member == s {
				return i
			}
		}
	}
	return 0
}
