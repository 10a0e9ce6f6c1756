// internal/membership/handler.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracirc/internal/httpjson"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the member endpoints on r. They are registered one by one
// so other packages can add routes below /members/{id}.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/members", h.handleRegisterMember)
	r.Get("/members/{id}", h.handleGetMember)
	r.Patch("/members/{id}", h.handleSetMaxLoans)
	r.Post("/members/{id}/suspend", h.handleSuspend)
	r.Post("/members/{id}/reinstate", h.handleReinstate)
}

func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		MaxLoans int    `json:"max_loans"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}

	member, err := h.service.RegisterMember(r.Context(), req.Email, req.Name, req.MaxLoans)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusCreated, member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}

	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusOK, member)
}

func (h *Handler) handleSetMaxLoans(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}

	var req struct {
		MaxLoans *int `json:"max_loans"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.MaxLoans == nil {
		httpjson.Error(w, http.StatusBadRequest, errors.New("max_loans is required"))
		return
	}

	member, err := h.service.SetMaxLoans(r.Context(), id, *req.MaxLoans)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusOK, member)
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Suspend)
}

func (h *Handler) handleReinstate(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, h.service.Reinstate)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, change func(context.Context, uuid.UUID) (*Member, error)) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}

	member, err := change(r.Context(), id)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusOK, member)
}

func memberID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, fmt.Errorf("invalid member ID: %w", err))
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidMember):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateEmail):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
