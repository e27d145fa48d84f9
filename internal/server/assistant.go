package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"tradeline/internal/assistant"
)

type sessionPath struct {
	SessionID string `path:"session_id"`
}

func (s *server) session(id string) (*assistant.Session, huma.StatusError) {
	if s.assistant == nil {
		return nil, newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", "no language model is configured", nil)
	}
	sess, ok := s.assistant.Get(id)
	if !ok {
		return nil, newAPIError(http.StatusNotFound, "not_found", "assistant session not found", map[string]any{"session_id": id})
	}
	return sess, nil
}

func (s *server) registerAssistant(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assistant-session",
		Method:        http.MethodPost,
		Path:          "/assistant/sessions",
		Summary:       "Start a trade assistant conversation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*output[assistant.State], error) {
		if s.assistant == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", "no language model is configured", nil)
		}
		sess := s.assistant.Create()
		actorID, _ := actorIDFromContext(ctx)
		s.logger.Debug("assistant session created", zap.String("session_id", sess.ID), zap.String("actor_id", actorID))
		return reply(sess.State()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assistant-session",
		Method:      http.MethodGet,
		Path:        "/assistant/sessions/{session_id}",
		Summary:     "Conversation transcript and current draft",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *sessionPath) (*output[assistant.State], error) {
		sess, err := s.session(input.SessionID)
		if err != nil {
			return nil, err
		}
		return reply(sess.State()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-assistant-message",
		Method:      http.MethodPost,
		Path:        "/assistant/sessions/{session_id}/messages",
		Summary:     "Describe a trade; the reply carries the extracted plan or an error message",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Body      AssistantMessageRequest
	}) (*output[AssistantReply], error) {
		sess, serr := s.session(input.SessionID)
		if serr != nil {
			return nil, serr
		}
		msg, err := sess.Ask(ctx, input.Body.Content)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(AssistantReply{Message: msg, Session: sess.State()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "confirm-assistant-draft",
		Method:        http.MethodPost,
		Path:          "/assistant/sessions/{session_id}/confirm",
		Summary:       "Create a trade from the current draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *sessionPath) (*output[ConfirmResponse], error) {
		sess, serr := s.session(input.SessionID)
		if serr != nil {
			return nil, serr
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := sess.Confirm(ctx, actorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(confirmResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-assistant-session",
		Method:      http.MethodPost,
		Path:        "/assistant/sessions/{session_id}/clear",
		Summary:     "Reset the conversation to the greeting",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *sessionPath) (*output[assistant.State], error) {
		sess, err := s.session(input.SessionID)
		if err != nil {
			return nil, err
		}
		sess.Clear()
		return reply(sess.State()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-assistant-session",
		Method:        http.MethodDelete,
		Path:          "/assistant/sessions/{session_id}",
		Summary:       "End a conversation",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if _, err := s.session(input.SessionID); err != nil {
			return nil, err
		}
		s.assistant.Delete(input.SessionID)
		return &struct{}{}, nil
	})
}
