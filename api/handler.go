package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	perrors "printshop/internal/errors"
)

// unavailableMessage replaces the details of catalog configuration errors
const unavailableMessage = "pricing temporarily unavailable for this configuration"

// handleCalculate handles POST /api/v1/calculate
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.engine.Calculate(r.Context(), req.toEngine())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, resp, http.StatusOK)
}

// handleListServices handles GET /api/v1/services
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services, err := s.reader.ListActiveServices(ctx)
	if err != nil {
		s.writeError(w, r, perrors.Internal("list services", err))
		return
	}

	out := ServicesResponse{Services: make([]ServiceView, 0, len(services))}
	for _, svc := range services {
		tiers, err := s.reader.ListActiveVolumeTiers(ctx, svc.ID)
		if err != nil {
			s.writeError(w, r, perrors.Internal("list volume tiers", err))
			return
		}
		view := ServiceView{
			ID:       svc.ID,
			Name:     svc.Name,
			Unit:     svc.Unit,
			BaseRate: svc.BaseRate,
			Currency: svc.Currency,
			Tiers:    make([]TierView, 0, len(tiers)),
		}
		for _, t := range tiers {
			view.Tiers = append(view.Tiers, TierView{ID: t.ID, MinQuantity: t.MinQuantity, Rate: t.Rate})
		}
		out.Services = append(out.Services, view)
	}
	out.Count = len(out.Services)
	s.writeJSON(w, out, http.StatusOK)
}

// handleGetProduct handles GET /api/v1/products/{productType}
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productType := chi.URLParam(r, "productType")
	snap, err := s.engine.Snapshot(r.Context(), productType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	norms := snap.Norms(productType)
	rules := snap.MaterialRules(productType)
	if len(norms) == 0 && len(rules) == 0 {
		s.writeError(w, r, perrors.NotFound("product type", productType))
		return
	}

	out := ProductResponse{
		ProductType: productType,
		SnapshotID:  snap.ID(),
		TierBasis:   s.engine.TierBasis(snap, productType),
		Currency:    s.engine.Currency(),
		Operations:  make([]OperationView, 0, len(norms)),
		Materials:   make([]MaterialRuleView, 0, len(rules)),
	}
	for _, n := range norms {
		out.Operations = append(out.Operations, OperationView{Operation: n.Operation, ServiceID: n.ServiceID, Formula: n.Formula})
	}
	for _, rule := range rules {
		view := MaterialRuleView{
			Key:            rule.Key,
			Name:           rule.Name,
			FieldPrefix:    rule.FieldPrefix,
			RequiredFields: append([]string{}, rule.RequiredFields...),
			Papers:         []string{},
		}
		for _, p := range rule.Papers {
			if p.IsActive {
				view.Papers = append(view.Papers, p.DisplayName())
			}
		}
		out.Materials = append(out.Materials, view)
	}
	s.writeJSON(w, out, http.StatusOK)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":  "healthy",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// writeError maps an error to its response. Catalog configuration and
// internal errors are logged and answered without their details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		s.writeJSON(w, ErrorResponse{Error: ErrorDetail{
			Code:    string(perrors.TypeInvalidRequest),
			Message: reqErr.message,
			Fields:  reqErr.fields,
		}}, http.StatusBadRequest)
		return
	}

	perr, ok := perrors.As(err)
	if !ok {
		perr = perrors.Internal("unexpected error", err)
	}
	status := perr.Type.HTTPStatus()

	detail := ErrorDetail{Code: string(perr.Type), Message: perr.Message, Context: perr.Context}
	switch perr.Type.Class() {
	case perrors.ClassConfiguration:
		s.logger.Error("catalog configuration error",
			zap.String("path", r.URL.Path),
			zap.String("type", string(perr.Type)),
			zap.Error(err))
		detail = ErrorDetail{Code: "PRICING_UNAVAILABLE", Message: unavailableMessage}
	case perrors.ClassInternal:
		s.logger.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
		detail = ErrorDetail{Code: string(perrors.TypeInternal), Message: "internal error"}
	}
	s.writeJSON(w, ErrorResponse{Error: detail}, status)
}
