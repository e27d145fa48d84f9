package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/lifecycle"
	"tradeline/internal/repo"
	"tradeline/internal/viewmodel"
)

type StatusInfo struct {
	lifecycle.Descriptor
	Step lifecycle.Step  `json:"step"`
	Next []domain.Status `json:"next"`
}

type tradePath struct {
	TradeID string `path:"trade_id"`
}

func (s *server) registerStatuses(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "Lifecycle statuses with badge metadata and allowed transitions",
	}, func(ctx context.Context, _ *struct{}) (*output[[]StatusInfo], error) {
		items := []StatusInfo{}
		for _, d := range lifecycle.Catalog() {
			items = append(items, StatusInfo{
				Descriptor: d,
				Step:       lifecycle.MapToStep(string(d.Status)),
				Next:       lifecycle.NextStatuses(d.Status),
			})
		}
		return reply(items), nil
	})
}

func (s *server) registerDashboard(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Trade counters and dashboard lists",
	}, func(ctx context.Context, _ *struct{}) (*output[engine.Dashboard], error) {
		d, err := s.engine.Dashboard(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(d), nil
	})
}

func (s *server) registerTrades(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trades",
		Method:      http.MethodGet,
		Path:        "/trades",
		Summary:     "List trades, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status"`
		ExporterCountry string `query:"exporter_country"`
		ImporterCountry string `query:"importer_country"`
		CreatedBy       string `query:"created_by"`
		Limit           int    `query:"limit" default:"50"`
		Cursor          string `query:"cursor"`
	}) (*output[TradeListResponse], error) {
		if input.Status != "" {
			if _, ok := domain.ParseStatus(input.Status); !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status", map[string]any{"status": input.Status})
			}
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := s.engine.Repo.ListTrades(ctx, repo.TradeFilters{
			Status:          input.Status,
			ExporterCountry: strings.TrimSpace(input.ExporterCountry),
			ImporterCountry: strings.TrimSpace(input.ImporterCountry),
			CreatedBy:       strings.TrimSpace(input.CreatedBy),
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		resp := TradeListResponse{Items: items}
		if len(items) > limit {
			last := items[limit-1]
			resp.Items = items[:limit]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trade",
		Method:      http.MethodGet,
		Path:        "/trades/{trade_id}",
		Summary:     "Trade detail with derived view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *tradePath) (*output[viewmodel.TradeView], error) {
		view, err := s.engine.TradeDetail(ctx, input.TradeID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(view), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trade-steps",
		Method:      http.MethodGet,
		Path:        "/trades/{trade_id}/steps",
		Summary:     "Workflow phase states for a trade",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *tradePath) (*output[StepsResponse], error) {
		t, err := s.engine.Repo.GetTrade(ctx, input.TradeID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(StepsResponse{
			TradeID: t.ID,
			Current: lifecycle.MapToStep(string(t.Status)),
			Steps:   lifecycle.ComputeStepStates(string(t.Status)),
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-trade-events",
		Method:      http.MethodGet,
		Path:        "/trades/{trade_id}/events",
		Summary:     "Audit events for a trade, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TradeID string `path:"trade_id"`
		Type    string `query:"type"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*output[AuditEventListResponse], error) {
		if _, err := s.engine.Repo.GetTrade(ctx, input.TradeID); err != nil {
			return nil, s.handleError(err)
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := s.engine.Repo.ListAuditEvents(ctx, repo.AuditFilters{
			TradeID:         input.TradeID,
			Type:            input.Type,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		resp := AuditEventListResponse{Items: items}
		if len(items) > limit {
			last := items[limit-1]
			resp.Items = items[:limit]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-trade-status",
		Method:      http.MethodPatch,
		Path:        "/trades/{trade_id}/status",
		Summary:     "Move a trade to another lifecycle status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TradeID string `path:"trade_id"`
		Body    SetStatusRequest
	}) (*output[domain.Trade], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := s.engine.SetTradeStatus(ctx, input.TradeID, domain.Status(input.Body.Status), actorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(t), nil
	})
}

func (s *server) registerWorkflow(api huma.API) {
	workflowErrors := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID:   "record-compliance-run",
		Method:        http.MethodPost,
		Path:          "/trades/{trade_id}/compliance-runs",
		Summary:       "Record a compliance screening result",
		DefaultStatus: http.StatusCreated,
		Errors:        workflowErrors,
	}, func(ctx context.Context, input *struct {
		TradeID string `path:"trade_id"`
		Body    ComplianceRunRequest
	}) (*output[domain.ComplianceRun], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := s.engine.RecordComplianceRun(ctx, input.TradeID, engine.ComplianceInput{
			Status: input.Body.Status,
			Checks: input.Body.Checks,
		}, actorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(run), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-finance-offer",
		Method:        http.MethodPost,
		Path:          "/trades/{trade_id}/finance-offers",
		Summary:       "Add a finance offer",
		DefaultStatus: http.StatusCreated,
		Errors:        workflowErrors,
	}, func(ctx context.Context, input *struct {
		TradeID string `path:"trade_id"`
		Body    FinanceOfferRequest
	}) (*output[domain.FinanceOffer], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := parseAmount("amount", input.Body.Amount, true)
		if err != nil {
			return nil, s.handleError(err)
		}
		rate, err := parseAmount("interest_rate", input.Body.InterestRate, false)
		if err != nil {
			return nil, s.handleError(err)
		}
		offer, err := s.engine.AddFinanceOffer(ctx, input.TradeID, engine.OfferInput{
			Provider:     input.Body.Provider,
			Amount:       amount,
			Currency:     input.Body.Currency,
			InterestRate: rate,
			TermDays:     input.Body.TermDays,
			Certified:    input.Body.STFCertified,
		}, actorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(offer), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-finance-offer",
		Method:      http.MethodPost,
		Path:        "/trades/{trade_id}/finance-offers/{offer_id}/accept",
		Summary:     "Accept a finance offer; the others are declined",
		Errors:      workflowErrors,
	}, func(ctx context.Context, input *struct {
		TradeID string `path:"trade_id"`
		OfferID string `path:"offer_id"`
	}) (*output[domain.FinanceOffer], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		offer, err := s.engine.AcceptFinanceOffer(ctx, input.TradeID, input.OfferID, actorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(offer), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-payment",
		Method:        http.MethodPost,
		Path:          "/trades/{trade_id}/payments",
		Summary:       "Record a payment attempt",
		DefaultStatus: http.StatusCreated,
		Errors:        workflowErrors,
	}, func(ctx context.Context, input *struct {
		TradeID string `path:"trade_id"`
		Body    PaymentRequest
	}) (*output[domain.Payment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := parseAmount("amount", input.Body.Amount, true)
		if err != nil {
			return nil, s.handleError(err)
		}
		p, err := s.engine.RecordPayment(ctx, input.TradeID, engine.PaymentInput{
			Amount:           amount,
			Currency:         input.Body.Currency,
			Status:           input.Body.Status,
			ConfirmationCode: input.Body.ConfirmationCode,
			Route:            input.Body.Route,
		}, actorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-proof-bundle",
		Method:        http.MethodPost,
		Path:          "/trades/{trade_id}/proof-bundles",
		Summary:       "Record a proof bundle",
		DefaultStatus: http.StatusCreated,
		Errors:        workflowErrors,
	}, func(ctx context.Context, input *struct {
		TradeID string `path:"trade_id"`
		Body    ProofBundleRequest
	}) (*output[domain.ProofBundle], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := s.engine.RecordProofBundle(ctx, input.TradeID, engine.ProofInput{
			BundleID:   input.Body.BundleID,
			Status:     input.Body.Status,
			MerkleRoot: input.Body.MerkleRoot,
			Artifacts:  input.Body.Artifacts,
		}, actorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(b), nil
	})
}
