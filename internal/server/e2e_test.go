package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/catalog"
	"libracirc/internal/circulation"
	"libracirc/internal/eventstore"
	"libracirc/internal/membership"
	"libracirc/internal/server"
	"libracirc/internal/storage"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := storage.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := eventstore.NewEventStore()
	items := catalog.NewService(journal, db)
	members := membership.NewService(journal, db)
	engine, err := circulation.NewEngine(db, items, members, journal, circulation.WithLogger(logger))
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(server.Options{
		Logger:         logger,
		Health:         db.PingContext,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	},
		catalog.NewHandler(items),
		membership.NewHandler(members),
		circulation.NewHandler(engine),
	))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/v1"+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1" + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestBorrowAndReturnFlow(t *testing.T) {
	srv := newAPI(t)

	var member membership.Member
	require.Equal(t, http.StatusCreated, post(t, srv, "/members",
		map[string]any{"email": "reader@example.com", "name": "Reader"}, &member))

	var item catalog.Item
	require.Equal(t, http.StatusCreated, post(t, srv, "/items",
		map[string]any{"isbn": "9780141439518", "title": "Pride and Prejudice", "author": "Jane Austen", "total_copies": 5}, &item))

	var loan circulation.Loan
	require.Equal(t, http.StatusCreated, post(t, srv, "/loans",
		map[string]any{"member_id": member.ID, "item_id": item.ID}, &loan))
	assert.Equal(t, circulation.StatusBorrowed, loan.Status)

	var updated catalog.Item
	require.Equal(t, http.StatusOK, get(t, srv, "/items/"+item.ID.String(), &updated))
	assert.Equal(t, 4, updated.Available)

	var current []circulation.LoanDetail
	require.Equal(t, http.StatusOK, get(t, srv, "/members/"+member.ID.String()+"/loans", &current))
	require.Len(t, current, 1)
	assert.Equal(t, "Pride and Prejudice", current[0].ItemTitle)

	var result circulation.ReturnResult
	require.Equal(t, http.StatusOK, post(t, srv, "/loans/"+loan.ID.String()+"/return", map[string]any{}, &result))
	assert.Equal(t, circulation.StatusReturned, result.Loan.Status)
	assert.True(t, result.FineAmount.IsZero())

	require.Equal(t, http.StatusOK, get(t, srv, "/items/"+item.ID.String(), &updated))
	assert.Equal(t, 5, updated.Available)

	assert.Equal(t, http.StatusConflict, post(t, srv, "/loans/"+loan.ID.String()+"/return", map[string]any{}, nil))
}

func TestConcurrentBorrowsCannotOverbook(t *testing.T) {
	srv := newAPI(t)

	var item catalog.Item
	require.Equal(t, http.StatusCreated, post(t, srv, "/items",
		map[string]any{"isbn": "9780743273565", "title": "The Great Gatsby", "author": "F. Scott Fitzgerald", "total_copies": 1}, &item))

	members := make([]membership.Member, 10)
	for i := range members {
		require.Equal(t, http.StatusCreated, post(t, srv, "/members",
			map[string]any{"email": fmt.Sprintf("member%d@test.com", i), "name": fmt.Sprintf("Member %d", i)}, &members[i]))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]any{"member_id": m.ID, "item_id": item.ID})
			resp, err := http.Post(srv.URL+"/api/v1/loans", "application/json", bytes.NewReader(raw))
			if err != nil {
				return
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)

	var updated catalog.Item
	require.Equal(t, http.StatusOK, get(t, srv, "/items/"+item.ID.String(), &updated))
	assert.Equal(t, 0, updated.Available)

	var drift []circulation.Drift
	require.Equal(t, http.StatusOK, get(t, srv, "/inventory/drift", &drift))
	assert.Empty(t, drift)
}

func TestHealthzReportsDatabase(t *testing.T) {
	srv := newAPI(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
