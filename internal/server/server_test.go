package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradeline/internal/assistant"
	"tradeline/internal/config"
	"tradeline/internal/db"
	"tradeline/internal/engine"
	"tradeline/internal/extract"
	"tradeline/internal/migrate"
	tradelinesdk "tradeline/sdk/go"
)

const testSecret = "test-secret"

type cannedLLM struct {
	reply string
}

func (c cannedLLM) Complete(ctx context.Context, req extract.Request) (string, error) {
	return c.reply, nil
}

const coffeePlan = `{"exporter_country":"Colombia","importer_country":"Canada","product":"Organic coffee beans","incoterm":"CIF","estimated_amount":42000.50,"currency":"CAD","confidence":85,"pending_questions":["Which port?"]}`

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) sdk(t *testing.T, actorID string) *tradelinesdk.Client {
	t.Helper()
	c := tradelinesdk.New(s.URL)
	if actorID != "" {
		if _, err := c.DevLogin(context.Background(), actorID); err != nil {
			t.Fatalf("dev login: %v", err)
		}
	}
	return c
}

func newTestServer(t *testing.T, withAssistant bool) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, zap.NewNop())
	cfg := Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
	}
	if withAssistant {
		adapter := extract.NewAdapter(cannedLLM{reply: coffeePlan}, extract.Options{})
		cfg.Assistant = assistant.NewStore(time.Minute, adapter, e, nil)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func apiCode(t *testing.T, err error) (int, string) {
	t.Helper()
	var apiErr *tradelinesdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	return apiErr.StatusCode, apiErr.Code
}

func TestHealthIsPublicAndAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dashboard", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected envelope %s (%v)", body, err)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/dashboard", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestDevLoginAndLogout(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()
	ctx := context.Background()
	c := srv.sdk(t, "alice")

	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.ActorID != "alice" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
	if err := c.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.Me(ctx); err == nil {
		t.Fatal("revoked token should be rejected")
	} else if status, code := apiCode(t, err); status != http.StatusUnauthorized || code != "invalid_credentials" {
		t.Fatalf("unexpected error %d %s", status, code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()
	ctx := context.Background()
	_, secret, err := srv.Engine.CreateAPIKey(ctx, "platform", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	c := tradelinesdk.New(srv.URL)
	c.APIKey = secret
	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.ActorID != "platform" || me.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", me)
	}
	c.APIKey = secret + "x"
	if _, err := c.Me(ctx); err == nil {
		t.Fatal("unknown key should be rejected")
	}
}

func TestAssistantUnavailable(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()
	c := srv.sdk(t, "alice")
	_, err := c.CreateSession(context.Background())
	if status, code := apiCode(t, err); status != http.StatusServiceUnavailable || code != "assistant_unavailable" {
		t.Fatalf("unexpected error %d %s", status, code)
	}
}

func TestAssistantToCompletedTrade(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	ctx := context.Background()
	c := srv.sdk(t, "alice")

	sess, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Content != assistant.Greeting || len(sess.ExamplePrompts) != 3 {
		t.Fatalf("unexpected new session %+v", sess)
	}
	if _, err := c.Ask(ctx, sess.ID, "   "); err == nil {
		t.Fatal("blank message should be rejected")
	} else if status, _ := apiCode(t, err); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	replyMsg, err := c.Ask(ctx, sess.ID, "Ship organic coffee beans from Colombia to Canada")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if replyMsg.Message.Type != "trade_plan" || replyMsg.Message.Draft == nil || replyMsg.Message.Draft.Currency != "CAD" {
		t.Fatalf("unexpected reply %+v", replyMsg.Message)
	}

	confirmed, err := c.Confirm(ctx, sess.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	trade := confirmed.Trade
	if trade.Status != "planning" || trade.Title != "Organic coffee beans - Colombia to Canada" || trade.CreatedBy != "alice" {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if _, err := c.Confirm(ctx, sess.ID); err == nil {
		t.Fatal("second confirm without a new draft should fail")
	} else if status, code := apiCode(t, err); status != http.StatusConflict || code != "no_draft" {
		t.Fatalf("unexpected error %d %s", status, code)
	}

	view, err := c.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if view.QuickAction == nil || view.QuickAction.Kind != "run_compliance" || view.Steps[0].State != "current" {
		t.Fatalf("unexpected view %+v", view)
	}

	if _, err := c.RecordCompliance(ctx, trade.ID, "passed"); err != nil {
		t.Fatalf("compliance: %v", err)
	}
	offerA, err := c.AddOffer(ctx, trade.ID, "Bank A", "40000.00", "4.25")
	if err != nil {
		t.Fatalf("offer a: %v", err)
	}
	offerB, err := c.AddOffer(ctx, trade.ID, "Bank B", "41000", "5")
	if err != nil {
		t.Fatalf("offer b: %v", err)
	}
	if _, err := c.AddOffer(ctx, trade.ID, "Bank C", "lots", ""); err == nil {
		t.Fatal("non-numeric amount should be rejected")
	} else if status, _ := apiCode(t, err); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if _, err := c.AcceptOffer(ctx, trade.ID, offerA.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := c.AcceptOffer(ctx, trade.ID, offerB.ID); err == nil {
		t.Fatal("second acceptance should conflict")
	} else if status, _ := apiCode(t, err); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}

	route := []tradelinesdk.RouteHop{{Bank: "Bancolombia"}, {Bank: "RBC"}}
	for _, status := range []string{"pending", "executing", "completed"} {
		if _, err := c.RecordPayment(ctx, trade.ID, "40000.00", status, route); err != nil {
			t.Fatalf("payment %s: %v", status, err)
		}
	}
	if _, err := c.RecordProof(ctx, trade.ID, "ready", []string{"bill_of_lading.pdf"}); err != nil {
		t.Fatalf("proof: %v", err)
	}

	view, err = c.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if view.Trade.Status != "completed" || view.QuickAction == nil || view.QuickAction.Kind != "download_proof" {
		t.Fatalf("unexpected final view status=%s action=%+v", view.Trade.Status, view.QuickAction)
	}
	if view.AcceptedFinanceOffer == nil || view.AcceptedFinanceOffer.ID != offerA.ID || view.LatestPayment == nil || len(view.LatestPayment.Route) != 2 {
		t.Fatalf("unexpected related records %+v", view)
	}
	if len(view.Timeline) != 10 {
		t.Fatalf("unexpected timeline %+v", view.Timeline)
	}

	dash, err := c.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Summary.Total != 1 || dash.Summary.Completed != 1 || len(dash.RecentTrades) != 1 {
		t.Fatalf("unexpected dashboard %+v", dash.Summary)
	}

	page, err := c.TradeEvents(ctx, trade.ID, 3, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 3 || page.NextCursor == "" || page.Items[0].TradeID != trade.ID {
		t.Fatalf("unexpected first page %+v", page)
	}
	next, err := c.TradeEvents(ctx, trade.ID, 3, page.NextCursor)
	if err != nil {
		t.Fatalf("events page 2: %v", err)
	}
	if len(next.Items) == 0 || next.Items[0].ID == page.Items[2].ID {
		t.Fatalf("cursor did not advance: %+v", next.Items)
	}
}

func TestSetStatusErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	ctx := context.Background()
	c := srv.sdk(t, "bob")

	if _, err := c.SetStatus(ctx, "missing", "planning"); err == nil {
		t.Fatal("expected not found")
	} else if status, code := apiCode(t, err); status != http.StatusNotFound || code != "not_found" {
		t.Fatalf("unexpected error %d %s", status, code)
	}

	sess, _ := c.CreateSession(ctx)
	if _, err := c.Ask(ctx, sess.ID, "coffee to Canada"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	confirmed, err := c.Confirm(ctx, sess.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := c.SetStatus(ctx, confirmed.Trade.ID, "completed"); err == nil {
		t.Fatal("expected invalid transition")
	} else if status, code := apiCode(t, err); status != http.StatusConflict || code != "invalid_transition" {
		t.Fatalf("unexpected error %d %s", status, code)
	}
	if _, err := c.SetStatus(ctx, confirmed.Trade.ID, "shipped"); err == nil {
		t.Fatal("unknown status should be rejected")
	} else if status, _ := apiCode(t, err); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	trade, err := c.SetStatus(ctx, confirmed.Trade.ID, "compliance_check")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if trade.Status != "compliance_check" {
		t.Fatalf("unexpected status %s", trade.Status)
	}

	page, err := c.ListTrades(ctx, map[string]string{"status": "compliance_check"}, 10, "")
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != trade.ID {
		t.Fatalf("unexpected trades %+v", page.Items)
	}
}

func TestWebhookDeliversAuditEvents(t *testing.T) {
	var mu sync.Mutex
	var received []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Header.Get("X-Tradeline-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t, true)
	defer cleanup()
	ctx := context.Background()
	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{URL: hook.URL, Events: []string{"trade.created"}}}, nil)
	d.DispatchAll(ctx)

	c := srv.sdk(t, "carol")
	sess, _ := c.CreateSession(ctx)
	if _, err := c.Ask(ctx, sess.ID, "coffee to Canada"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	confirmed, err := c.Confirm(ctx, sess.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := c.SetStatus(ctx, confirmed.Trade.ID, "compliance_check"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "trade.created" {
		t.Fatalf("expected one trade.created delivery, got %v", received)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t, false)
	defer cleanup()

	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				errs[i] = errors.New(res.Status)
				return
			}
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) || len(bodies[i]) == 0 {
			t.Fatalf("request %d returned a different document", i)
		}
	}
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(bodies[0], &doc); err != nil || len(doc.Paths) == 0 {
		t.Fatalf("unexpected openapi document (%v)", err)
	}
}
