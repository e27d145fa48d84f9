package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/extract"
)

var (
	ErrEmptyInput = errors.New("message is empty")
	ErrNoDraft    = errors.New("no trade plan to confirm")
	ErrBusy       = errors.New("an extraction is still running")
	// ErrSuperseded is returned to an Ask whose result arrived after a newer
	// Ask or a Clear; the result is discarded.
	ErrSuperseded = errors.New("request superseded by a newer message")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Kind string

const (
	KindText         Kind = "text"
	KindTradePlan    Kind = "trade_plan"
	KindError        Kind = "error"
	KindTradeCreated Kind = "trade_created"
)

type Message struct {
	Role      Role               `json:"role" enum:"user,assistant"`
	Kind      Kind               `json:"type" enum:"text,trade_plan,error,trade_created"`
	Content   string             `json:"content"`
	Draft     *domain.TradeDraft `json:"draft,omitempty"`
	TradeID   string             `json:"trade_id,omitempty"`
	CreatedAt string             `json:"created_at" format:"date-time"`
}

const (
	Greeting        = "Hello! I'm your Trade Assistant. Describe the trade you want to create, and I'll help you structure it with all necessary details."
	planIntro       = "I've analyzed your trade request. Here's the structured plan:"
	extractFailed   = "I encountered an issue parsing your request. Please try describing your trade again with more details."
	lowConfidence   = "I'm not confident I understood this trade. Please add details such as the countries, product and value."
	rateLimited     = "Too many requests right now. Please wait a moment and try again."
	confirmFailed   = "I couldn't create the trade. Nothing was saved; please try confirming again."
	tradeCreatedFmt = "Trade %s has been created."
)

// ExamplePrompts are offered to a user starting a new conversation.
var ExamplePrompts = []string{
	"I want to export 5000 units of electronic components from Germany to the USA worth $250,000",
	"Ship organic coffee beans from Colombia to Canada, 10 tons, CIF Vancouver",
	"Import automotive parts from Japan to Mexico, $150,000 FOB Tokyo",
}

type Extractor interface {
	Extract(ctx context.Context, input string) (domain.TradeDraft, error)
}

type Confirmer interface {
	ConfirmDraft(ctx context.Context, opts engine.ConfirmOptions) (engine.ConfirmResult, error)
}

// Session is one assistant conversation. At most one extraction is in flight;
// a newer Ask cancels the older one and the older result is dropped.
type Session struct {
	ID string

	extractor Extractor
	confirmer Confirmer
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	messages   []Message
	draft      *domain.TradeDraft
	rawInput   string
	generation uint64
	cancel     context.CancelFunc
}

func NewSession(id string, ex Extractor, cf Confirmer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{ID: id, extractor: ex, confirmer: cf, logger: logger.With(zap.String("session_id", id)), now: time.Now}
	s.messages = []Message{s.message(RoleAssistant, KindText, Greeting)}
	return s
}

func (s *Session) message(role Role, kind Kind, content string) Message {
	return Message{Role: role, Kind: kind, Content: content, CreatedAt: domain.Timestamp(s.now())}
}

// Ask records the user's message and extracts a draft from it. Extraction
// failures become an inline error message, not a returned error.
func (s *Session) Ask(ctx context.Context, input string) (Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Message{}, ErrEmptyInput
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	callCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.messages = append(s.messages, s.message(RoleUser, KindText, input))
	s.mu.Unlock()

	draft, err := s.extractor.Extract(callCtx, input)

	s.mu.Lock()
	defer s.mu.Unlock()
	cancel()
	if gen != s.generation {
		s.logger.Debug("discarding superseded extraction", zap.Uint64("generation", gen))
		return Message{}, ErrSuperseded
	}
	s.cancel = nil
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		s.logger.Info("extraction failed", zap.Error(err))
		msg := s.message(RoleAssistant, KindError, failureText(err))
		s.messages = append(s.messages, msg)
		return msg, nil
	}
	s.draft = &draft
	s.rawInput = input
	msg := s.message(RoleAssistant, KindTradePlan, planIntro)
	d := draft
	msg.Draft = &d
	s.messages = append(s.messages, msg)
	return msg, nil
}

func failureText(err error) string {
	switch {
	case extract.IsFailure(err, extract.ReasonLowConfidence):
		return lowConfidence
	case extract.IsFailure(err, extract.ReasonRateLimited):
		return rateLimited
	}
	return extractFailed
}

// Confirm persists the current draft as a trade. The trade is reported only
// after the write succeeded; repeating Confirm for the same draft returns the
// same trade.
func (s *Session) Confirm(ctx context.Context, actorID string) (engine.ConfirmResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return engine.ConfirmResult{}, ErrBusy
	}
	if s.draft == nil {
		return engine.ConfirmResult{}, ErrNoDraft
	}
	res, err := s.confirmer.ConfirmDraft(ctx, engine.ConfirmOptions{
		RawInput:       s.rawInput,
		Draft:          *s.draft,
		ActorID:        actorID,
		IdempotencyKey: fmt.Sprintf("%s:%d", s.ID, s.generation),
	})
	if err != nil {
		s.logger.Error("confirm draft failed", zap.Error(err))
		s.messages = append(s.messages, s.message(RoleAssistant, KindError, confirmFailed))
		return engine.ConfirmResult{}, err
	}
	msg := s.message(RoleAssistant, KindTradeCreated, fmt.Sprintf(tradeCreatedFmt, res.Trade.Code))
	msg.TradeID = res.Trade.ID
	s.messages = append(s.messages, msg)
	s.draft = nil
	return res, nil
}

// Clear drops the transcript and draft and cancels any running extraction.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.messages = []Message{s.message(RoleAssistant, KindText, Greeting)}
	s.draft = nil
	s.rawInput = ""
}

// Close cancels any running extraction.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}

type State struct {
	ID             string             `json:"id"`
	Messages       []Message          `json:"messages"`
	Draft          *domain.TradeDraft `json:"draft,omitempty"`
	Processing     bool               `json:"processing"`
	ExamplePrompts []string           `json:"example_prompts,omitempty"`
}

// State returns a copy of the session for display. Example prompts are
// included until the user has sent a message.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:         s.ID,
		Messages:   append([]Message{}, s.messages...),
		Processing: s.cancel != nil,
	}
	if s.draft != nil {
		d := *s.draft
		st.Draft = &d
	}
	if len(s.messages) == 1 {
		st.ExamplePrompts = append([]string{}, ExamplePrompts...)
	}
	return st
}
