package tradelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Tradeline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Trade represents the API trade model (partial). Amounts are decimal strings.
type Trade struct {
	ID              string `json:"id"`
	Code            string `json:"trade_code"`
	Status          string `json:"status"`
	Title           string `json:"title"`
	ExporterCountry string `json:"exporter_country"`
	ImporterCountry string `json:"importer_country"`
	Product         string `json:"product"`
	EstimatedAmount string `json:"estimated_amount"`
	Currency        string `json:"currency"`
	CreatedBy       string `json:"created_by"`
	CreatedAt       string `json:"created_at"`
}

type TradePage struct {
	Items      []Trade `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type StepState struct {
	Index int    `json:"index"`
	Phase string `json:"phase"`
	State string `json:"state"`
}

type Badge struct {
	Status   string `json:"status"`
	Label    string `json:"label"`
	Icon     string `json:"icon"`
	Animated bool   `json:"animated"`
}

type QuickAction struct {
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	Transitions bool   `json:"transitions"`
}

type TimelineEntry struct {
	EventID string `json:"event_id"`
	Label   string `json:"label"`
	Tone    string `json:"tone"`
}

type ComplianceRun struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type FinanceOffer struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	InterestRate string `json:"interest_rate"`
	Status       string `json:"status"`
}

type RouteHop struct {
	Bank string `json:"bank"`
	Name string `json:"name,omitempty"`
}

type Payment struct {
	ID               string     `json:"id"`
	Amount           string     `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	ConfirmationCode string     `json:"confirmation_code"`
	Route            []RouteHop `json:"route"`
}

type ProofBundle struct {
	ID        string   `json:"id"`
	BundleID  string   `json:"bundle_id"`
	Status    string   `json:"status"`
	Artifacts []string `json:"artifacts"`
}

// TradeView is the trade detail with derived presentation fields.
type TradeView struct {
	Trade                 Trade           `json:"trade"`
	Badge                 Badge           `json:"badge"`
	Steps                 []StepState     `json:"steps"`
	LatestComplianceRun   *ComplianceRun  `json:"latest_compliance_run"`
	FinanceOffers         []FinanceOffer  `json:"finance_offers"`
	AcceptedFinanceOffer  *FinanceOffer   `json:"accepted_finance_offer"`
	AcceptedOfferConflict bool            `json:"accepted_offer_conflict"`
	LatestPayment         *Payment        `json:"latest_payment"`
	LatestProofBundle     *ProofBundle    `json:"latest_proof_bundle"`
	QuickAction           *QuickAction    `json:"quick_action"`
	Timeline              []TimelineEntry `json:"timeline"`
}

type Event struct {
	ID        string         `json:"event_id"`
	TradeID   string         `json:"trade_id"`
	Type      string         `json:"event_type"`
	ActorID   string         `json:"actor_id"`
	Details   map[string]any `json:"details"`
	CreatedAt string         `json:"created_at"`
}

type EventPage struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type Summary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

type Dashboard struct {
	Summary        Summary `json:"summary"`
	RecentTrades   []Trade `json:"recent_trades"`
	ActiveTrades   []Trade `json:"active_trades"`
	PendingActions []Trade `json:"pending_actions"`
}

type Draft struct {
	ExporterCountry  string   `json:"exporter_country"`
	ImporterCountry  string   `json:"importer_country"`
	Product          string   `json:"product"`
	Incoterm         string   `json:"incoterm"`
	EstimatedAmount  string   `json:"estimated_amount"`
	Currency         string   `json:"currency"`
	Confidence       int      `json:"confidence"`
	PendingQuestions []string `json:"pending_questions"`
}

type Message struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Draft   *Draft `json:"draft"`
	TradeID string `json:"trade_id"`
}

type Session struct {
	ID             string    `json:"id"`
	Messages       []Message `json:"messages"`
	Draft          *Draft    `json:"draft"`
	Processing     bool      `json:"processing"`
	ExamplePrompts []string  `json:"example_prompts"`
}

type AssistantReply struct {
	Message Message `json:"message"`
	Session Session `json:"session"`
}

type Confirmation struct {
	Trade    Trade `json:"trade"`
	Replayed bool  `json:"replayed"`
}

type Principal struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a bearer token on servers started with dev auth and stores it
// on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"actor_id": actorID}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "dashboard", nil, &resp)
	return resp, err
}

// ListTrades returns one page of trades. Empty filter values are ignored.
func (c *Client) ListTrades(ctx context.Context, filters map[string]string, limit int, cursor string) (TradePage, error) {
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "trades"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TradePage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetTrade(ctx context.Context, id string) (TradeView, error) {
	var resp TradeView
	err := c.do(ctx, http.MethodGet, tradePath(id), nil, &resp)
	return resp, err
}

// TradeEvents returns the audit events of a trade, newest first.
func (c *Client) TradeEvents(ctx context.Context, id string, limit int, cursor string) (EventPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := tradePath(id, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp EventPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) SetStatus(ctx context.Context, id, status string) (Trade, error) {
	var resp Trade
	err := c.do(ctx, http.MethodPatch, tradePath(id, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) RecordCompliance(ctx context.Context, id, status string) (ComplianceRun, error) {
	var resp ComplianceRun
	err := c.do(ctx, http.MethodPost, tradePath(id, "compliance-runs"), map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) AddOffer(ctx context.Context, id, provider, amount, rate string) (FinanceOffer, error) {
	body := map[string]any{
		"provider":      provider,
		"amount":        amount,
		"interest_rate": rate,
	}
	var resp FinanceOffer
	err := c.do(ctx, http.MethodPost, tradePath(id, "finance-offers"), body, &resp)
	return resp, err
}

func (c *Client) AcceptOffer(ctx context.Context, id, offerID string) (FinanceOffer, error) {
	var resp FinanceOffer
	err := c.do(ctx, http.MethodPost, tradePath(id, "finance-offers", offerID, "accept"), nil, &resp)
	return resp, err
}

func (c *Client) RecordPayment(ctx context.Context, id, amount, status string, route []RouteHop) (Payment, error) {
	body := map[string]any{
		"amount": amount,
		"status": status,
		"route":  route,
	}
	var resp Payment
	err := c.do(ctx, http.MethodPost, tradePath(id, "payments"), body, &resp)
	return resp, err
}

func (c *Client) RecordProof(ctx context.Context, id, status string, artifacts []string) (ProofBundle, error) {
	body := map[string]any{
		"status":    status,
		"artifacts": artifacts,
	}
	var resp ProofBundle
	err := c.do(ctx, http.MethodPost, tradePath(id, "proof-bundles"), body, &resp)
	return resp, err
}

func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "assistant/sessions", nil, &resp)
	return resp, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, sessionPath(id), nil, &resp)
	return resp, err
}

func (c *Client) Ask(ctx context.Context, sessionID, content string) (AssistantReply, error) {
	var resp AssistantReply
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "messages"), map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *Client) Confirm(ctx context.Context, sessionID string) (Confirmation, error) {
	var resp Confirmation
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "confirm"), nil, &resp)
	return resp, err
}

func (c *Client) ClearSession(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "clear"), nil, &resp)
	return resp, err
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func tradePath(id string, parts ...string) string {
	segs := []string{"trades", url.PathEscape(id)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

func sessionPath(id string, parts ...string) string {
	segs := []string{"assistant/sessions", url.PathEscape(id)}
	segs = append(segs, parts...)
	return strings.Join(segs, "/")
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
