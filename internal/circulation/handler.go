// internal/circulation/handler.go
package circulation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracirc/internal/calendar"
	"libracirc/internal/httpjson"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the loan endpoints and the read views on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/loans", func(r chi.Router) {
		r.Post("/", h.handleCreateLoan)
		r.Get("/", h.handleLoanHistory)
		r.Get("/{id}", h.handleGetLoan)
		r.Post("/{id}/return", h.handleReturnLoan)
		r.Post("/{id}/extend", h.handleExtendLoan)
	})
	r.Get("/members/{id}/loans", h.handleCurrentLoans)
	r.Get("/members/{id}/eligibility", h.handleEligibility)
	r.Get("/overdue", h.handleOverdue)
	r.Get("/stats", h.handleStatistics)
	r.Get("/inventory/drift", h.handleVerifyInventory)
}

func (h *Handler) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req LoanRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, loan)
}

func (h *Handler) handleLoanHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}

	loans, err := h.service.LoanHistory(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, loans)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, loan)
}

func (h *Handler) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		ReturnDate calendar.Date `json:"return_date"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ReturnLoan(r.Context(), id, req.ReturnDate)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, result)
}

func (h *Handler) handleExtendLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		ExtraDays int `json:"extra_days"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}

	loan, err := h.service.ExtendLoan(r.Context(), id, req.ExtraDays)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, loan)
}

func (h *Handler) handleCurrentLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	loans, err := h.service.CurrentLoans(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, loans)
}

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	eligible, err := h.service.CanBorrow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]bool{"eligible": eligible})
}

func (h *Handler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	var asOf calendar.Date
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := calendar.Parse(raw)
		if err != nil {
			httpjson.Error(w, http.StatusBadRequest, err)
			return
		}
		asOf = parsed
	}

	details, err := h.service.ReclassifyOverdue(r.Context(), asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, details)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, stats)
}

func (h *Handler) handleVerifyInventory(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.VerifyInventory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, drifts)
}

func parseFilter(r *http.Request) (LoanFilter, error) {
	var (
		filter LoanFilter
		err    error
	)
	q := r.URL.Query()
	if v := q.Get("member_id"); v != "" {
		if filter.MemberID, err = uuid.Parse(v); err != nil {
			return filter, fmt.Errorf("invalid member_id: %w", err)
		}
	}
	if v := q.Get("item_id"); v != "" {
		if filter.ItemID, err = uuid.Parse(v); err != nil {
			return filter, fmt.Errorf("invalid item_id: %w", err)
		}
	}
	filter.Status = Status(q.Get("status"))
	if v := q.Get("from"); v != "" {
		if filter.From, err = calendar.Parse(v); err != nil {
			return filter, err
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = calendar.Parse(v); err != nil {
			return filter, err
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			return filter, fmt.Errorf("invalid limit: %w", err)
		}
	}
	return filter, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, fmt.Errorf("invalid ID: %w", err))
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, err error) {
	httpjson.Write(w, StatusFor(err), httpjson.ErrorBody{Error: err.Error(), Code: Reason(err)})
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInconsistentState):
		return http.StatusInternalServerError
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyReturned),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrItemUnavailable),
		errors.Is(err, ErrNotEligible):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrCodeExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
