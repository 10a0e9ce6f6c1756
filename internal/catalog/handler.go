// internal/catalog/handler.go
package catalog

import (
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

// Routes mounts the item endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.handleAddItem)
		r.Get("/", h.handleSearch)
		r.Get("/{id}", h.handleGetItem)
		r.Patch("/{id}", h.handleAdjustCopies)
		r.Delete("/{id}", h.handleRemoveItem)
	})
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN        string `json:"isbn"`
		Title       string `json:"title"`
		Author      string `json:"author"`
		TotalCopies int    `json:"total_copies"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.service.AddItem(r.Context(), req.ISBN, req.Title, req.Author, req.TotalCopies)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusCreated, item)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		httpjson.Error(w, http.StatusBadRequest, errors.New("missing search query"))
		return
	}

	items, err := h.service.Search(r.Context(), query)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusOK, items)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusOK, item)
}

func (h *Handler) handleAdjustCopies(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	var req struct {
		TotalCopies *int `json:"total_copies"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.TotalCopies == nil {
		httpjson.Error(w, http.StatusBadRequest, errors.New("total_copies is required"))
		return
	}

	item, err := h.service.AdjustCopies(r.Context(), id, *req.TotalCopies)
	if err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	httpjson.Write(w, http.StatusOK, item)
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), id); err != nil {
		httpjson.Error(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func itemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, fmt.Errorf("invalid item ID: %w", err))
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, ErrCopiesOnLoan):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
