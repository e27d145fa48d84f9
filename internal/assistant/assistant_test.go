package assistant_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradeline/internal/assistant"
	"tradeline/internal/db"
	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/extract"
	"tradeline/internal/migrate"
)

// scriptedClient answers each prompt with reply; prompts listed in block wait
// until released or cancelled.
type scriptedClient struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   map[string]chan struct{}
	started chan string
}

func (c *scriptedClient) Complete(ctx context.Context, req extract.Request) (string, error) {
	c.mu.Lock()
	wait := c.block[req.Prompt]
	c.mu.Unlock()
	if c.started != nil {
		c.started <- req.Prompt
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.reply, c.err
}

const coffeeReply = `{"exporter_country":"Colombia","importer_country":"Canada","product":"Organic coffee beans","incoterm":"CIF","estimated_amount":42000,"currency":"CAD","confidence":85}`

type recordingConfirmer struct {
	keys []string
	err  error
}

func (r *recordingConfirmer) ConfirmDraft(ctx context.Context, opts engine.ConfirmOptions) (engine.ConfirmResult, error) {
	r.keys = append(r.keys, opts.IdempotencyKey)
	if r.err != nil {
		return engine.ConfirmResult{}, r.err
	}
	return engine.ConfirmResult{Trade: domain.Trade{ID: "T1", Code: "TRD-ABC123"}}, nil
}

func newSession(client extract.Client, cf assistant.Confirmer) *assistant.Session {
	return assistant.NewSession("s1", extract.NewAdapter(client, extract.Options{}), cf, zap.NewNop())
}

func TestNewSessionGreets(t *testing.T) {
	s := newSession(&scriptedClient{reply: coffeeReply}, &recordingConfirmer{})
	st := s.State()
	if len(st.Messages) != 1 || st.Messages[0].Content != assistant.Greeting || st.Messages[0].Role != assistant.RoleAssistant {
		t.Fatalf("unexpected initial transcript %+v", st.Messages)
	}
	if len(st.ExamplePrompts) != 3 || st.Draft != nil || st.Processing {
		t.Fatalf("unexpected initial state %+v", st)
	}
}

func TestAskProducesDraft(t *testing.T) {
	s := newSession(&scriptedClient{reply: coffeeReply}, &recordingConfirmer{})
	msg, err := s.Ask(context.Background(), "  Ship organic coffee beans from Colombia to Canada  ")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if msg.Kind != assistant.KindTradePlan || msg.Draft == nil || msg.Draft.Currency != "CAD" {
		t.Fatalf("unexpected reply %+v", msg)
	}
	st := s.State()
	if len(st.Messages) != 3 || st.Messages[1].Content != "Ship organic coffee beans from Colombia to Canada" {
		t.Fatalf("unexpected transcript %+v", st.Messages)
	}
	if st.Draft == nil || st.ExamplePrompts != nil {
		t.Fatalf("expected draft and no example prompts: %+v", st)
	}
}

func TestAskEmptyInput(t *testing.T) {
	s := newSession(&scriptedClient{reply: coffeeReply}, &recordingConfirmer{})
	if _, err := s.Ask(context.Background(), "   "); !errors.Is(err, assistant.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if n := len(s.State().Messages); n != 1 {
		t.Fatalf("empty input should not be recorded, got %d messages", n)
	}
}

func TestAskFailureIsInline(t *testing.T) {
	s := newSession(&scriptedClient{reply: "sorry, no idea"}, &recordingConfirmer{})
	msg, err := s.Ask(context.Background(), "coffee")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if msg.Kind != assistant.KindError || msg.Draft != nil {
		t.Fatalf("expected inline error message, got %+v", msg)
	}
	if s.State().Draft != nil {
		t.Fatalf("failed extraction must not set a draft")
	}
}

func TestAskNewestWins(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{
		reply:   coffeeReply,
		block:   map[string]chan struct{}{`User Input: "first"`: release},
		started: make(chan string, 2),
	}
	s := newSession(client, &recordingConfirmer{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Ask(context.Background(), "first")
		firstErr <- err
	}()
	<-client.started

	msg, err := s.Ask(context.Background(), "second")
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if msg.Kind != assistant.KindTradePlan {
		t.Fatalf("unexpected reply %+v", msg)
	}
	select {
	case err := <-firstErr:
		if !errors.Is(err, assistant.ErrSuperseded) {
			t.Fatalf("expected first ask superseded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first ask was not cancelled")
	}
	close(release)

	st := s.State()
	plans := 0
	for _, m := range st.Messages {
		if m.Kind == assistant.KindTradePlan {
			plans++
		}
	}
	if plans != 1 || st.Processing {
		t.Fatalf("expected exactly one plan and idle session: %+v", st)
	}
}

func TestClearResetsTranscript(t *testing.T) {
	s := newSession(&scriptedClient{reply: coffeeReply}, &recordingConfirmer{})
	if _, err := s.Ask(context.Background(), "coffee"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	s.Clear()
	st := s.State()
	if len(st.Messages) != 1 || st.Draft != nil {
		t.Fatalf("clear should reset to greeting: %+v", st)
	}
	if _, err := s.Confirm(context.Background(), "tester"); !errors.Is(err, assistant.ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft after clear, got %v", err)
	}
}

func TestConfirmUsesDraftGeneration(t *testing.T) {
	cf := &recordingConfirmer{err: errors.New("disk full")}
	s := newSession(&scriptedClient{reply: coffeeReply}, cf)
	if _, err := s.Confirm(context.Background(), "tester"); !errors.Is(err, assistant.ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft, got %v", err)
	}
	if _, err := s.Ask(context.Background(), "coffee"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, err := s.Confirm(context.Background(), "tester"); err == nil {
		t.Fatal("expected confirm error")
	}
	st := s.State()
	if st.Draft == nil || st.Messages[len(st.Messages)-1].Kind != assistant.KindError {
		t.Fatalf("failed confirm should keep draft and report error: %+v", st)
	}

	cf.err = nil
	res, err := s.Confirm(context.Background(), "tester")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Trade.Code != "TRD-ABC123" || len(cf.keys) != 2 || cf.keys[0] != cf.keys[1] || cf.keys[0] != "s1:1" {
		t.Fatalf("unexpected confirm calls %v", cf.keys)
	}
	st = s.State()
	last := st.Messages[len(st.Messages)-1]
	if last.Kind != assistant.KindTradeCreated || last.TradeID != "T1" || st.Draft != nil {
		t.Fatalf("unexpected state after confirm: %+v", st)
	}
}

func TestConfirmPersistsTrade(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, zap.NewNop())

	store := assistant.NewStore(time.Minute, extract.NewAdapter(&scriptedClient{reply: coffeeReply}, extract.Options{}), eng, zap.NewNop())
	s := store.Create()
	if _, err := s.Ask(ctx, "Ship organic coffee beans from Colombia to Canada"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	res, err := s.Confirm(ctx, "tester")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Trade.Status != domain.StatusPlanning || res.Trade.Title != "Organic coffee beans - Colombia to Canada" {
		t.Fatalf("unexpected trade %+v", res.Trade)
	}
	view, err := eng.TradeDetail(ctx, res.Trade.ID)
	if err != nil {
		t.Fatalf("trade detail: %v", err)
	}
	if view.Trade.Code != res.Trade.Code {
		t.Fatalf("detail mismatch %q != %q", view.Trade.Code, res.Trade.Code)
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := assistant.NewStore(time.Minute, extract.NewAdapter(&scriptedClient{reply: coffeeReply}, extract.Options{}), &recordingConfirmer{}, nil)
	s := store.Create()
	if got, ok := store.Get(s.ID); !ok || got != s {
		t.Fatalf("expected stored session")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one session, got %d", store.Len())
	}
	if !store.Delete(s.ID) {
		t.Fatal("expected delete to succeed")
	}
	if _, ok := store.Get(s.ID); ok || store.Delete(s.ID) {
		t.Fatal("session should be gone")
	}
}

func TestStoreExpires(t *testing.T) {
	store := assistant.NewStore(20*time.Millisecond, extract.NewAdapter(&scriptedClient{reply: coffeeReply}, extract.Options{}), &recordingConfirmer{}, nil)
	s := store.Create()
	time.Sleep(50 * time.Millisecond)
	if _, ok := store.Get(s.ID); ok {
		t.Fatal("session should have expired")
	}
}
