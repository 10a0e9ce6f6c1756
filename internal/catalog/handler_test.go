package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *Store) {
	t.Helper()
	store, _ := setupStore(t)
	r := chi.NewRouter()
	NewHandler(store).Routes(r)
	return r, store
}

func TestHandlerAddAndGetItem(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(
		`{"isbn":"9780141439518","title":"Pride and Prejudice","author":"Jane Austen","total_copies":5}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Item
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched Item
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fetched))
	assert.Equal(t, 5, fetched.Available)
}

func TestHandlerErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerAdjustAndRemove(t *testing.T) {
	router, store := newTestRouter(t)
	item, err := store.AddItem(t.Context(), "isbn", "Emma", "Jane Austen", 2)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/items/"+item.ID.String(), strings.NewReader(`{"total_copies":4}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var updated Item
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, 4, updated.Available)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/items/"+item.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
