package domain

import "github.com/shopspring/decimal"

type Trade struct {
	ID              string  `json:"id"`
	Code            string  `json:"trade_code"`
	Status          Status  `json:"status" enum:"draft,planning,compliance_check,finance_pending,finance_accepted,payment_pending,payment_executing,payment_completed,payment_failed,completed"`
	Title           string  `json:"title"`
	ExporterCountry string  `json:"exporter_country,omitempty"`
	ImporterCountry string  `json:"importer_country,omitempty"`
	ExporterName    string  `json:"exporter_name,omitempty"`
	ImporterName    string  `json:"importer_name,omitempty"`
	Product         string  `json:"product,omitempty"`
	HSCode          string  `json:"product_hs_code,omitempty"`
	Incoterm        string  `json:"incoterm,omitempty"`
	EstimatedAmount *Amount `json:"estimated_amount,omitempty"`
	Currency        string  `json:"currency"`
	ShippingDate    string  `json:"shipping_date,omitempty" format:"date"`
	DeliveryDate    string  `json:"delivery_date,omitempty" format:"date"`
	CreatedBy       string  `json:"created_by,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// TradeDraft is the structured result of extracting a trade from free text,
// before the user confirms it.
type TradeDraft struct {
	ExporterCountry  string   `json:"exporter_country"`
	ImporterCountry  string   `json:"importer_country"`
	Product          string   `json:"product"`
	HSCode           string   `json:"product_hs_code"`
	Incoterm         string   `json:"incoterm"`
	EstimatedAmount  *Amount  `json:"estimated_amount,omitempty"`
	Currency         string   `json:"currency"`
	ExporterName     string   `json:"exporter_name,omitempty"`
	ImporterName     string   `json:"importer_name,omitempty"`
	ShippingDate     string   `json:"shipping_date,omitempty" format:"date"`
	Confidence       int      `json:"confidence" minimum:"0" maximum:"100"`
	PendingQuestions []string `json:"pending_questions"`
	Reasoning        string   `json:"reasoning,omitempty"`
	RiskFactors      []string `json:"risk_factors"`
}

type TradePlan struct {
	ID               string     `json:"id"`
	TradeID          string     `json:"trade_id"`
	RawInput         string     `json:"raw_input"`
	Parsed           TradeDraft `json:"parsed_data"`
	ConfidenceScore  int        `json:"confidence_score"`
	PendingQuestions []string   `json:"pending_questions"`
	Reasoning        string     `json:"reasoning,omitempty"`
	RiskFactors      []string   `json:"risk_factors"`
	Status           string     `json:"status" enum:"draft,confirmed"`
	CreatedAt        string     `json:"created_at" format:"date-time"`
}

type ComplianceCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status" enum:"passed,warning,failed"`
	Message string `json:"message,omitempty"`
}

type ComplianceRun struct {
	ID        string            `json:"id"`
	TradeID   string            `json:"trade_id"`
	Status    string            `json:"status" enum:"passed,warnings,failed"`
	Checks    []ComplianceCheck `json:"checks"`
	CreatedAt string            `json:"created_at" format:"date-time"`
}

type FinanceOffer struct {
	ID           string          `json:"id"`
	TradeID      string          `json:"trade_id"`
	Provider     string          `json:"provider"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	TermDays     int             `json:"term_days"`
	Certified    bool            `json:"stf_certified"`
	Status       string          `json:"status" enum:"offered,accepted,declined"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
}

type RouteHop struct {
	Bank string `json:"bank"`
	Name string `json:"name,omitempty"`
}

type Payment struct {
	ID               string          `json:"id"`
	TradeID          string          `json:"trade_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status" enum:"pending,executing,completed,failed"`
	ConfirmationCode string          `json:"confirmation_code,omitempty"`
	Route            []RouteHop      `json:"route"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
}

type ProofBundle struct {
	ID         string   `json:"id"`
	TradeID    string   `json:"trade_id"`
	BundleID   string   `json:"bundle_id"`
	Status     string   `json:"status" enum:"generating,ready,verified,tampered"`
	MerkleRoot string   `json:"merkle_root,omitempty"`
	Artifacts  []string `json:"artifacts"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

// AuditEvent is append-only; it is never updated once written.
type AuditEvent struct {
	ID        string         `json:"event_id"`
	TradeID   string         `json:"trade_id"`
	Type      string         `json:"event_type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Details   map[string]any `json:"details"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

const (
	CompliancePassed   = "passed"
	ComplianceWarnings = "warnings"
	ComplianceFailed   = "failed"

	OfferOffered  = "offered"
	OfferAccepted = "accepted"
	OfferDeclined = "declined"

	PaymentPending   = "pending"
	PaymentExecuting = "executing"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"

	ProofGenerating = "generating"
	ProofReady      = "ready"
	ProofVerified   = "verified"
	ProofTampered   = "tampered"

	PlanConfirmed = "confirmed"

	// HSCodeTBD marks a draft whose harmonized-system code could not be identified.
	HSCodeTBD       = "TBD"
	DefaultCurrency = "USD"
)

// APIKey authenticates platform integrations that record workflow results.
// Only the SHA-256 hash of the key is stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
