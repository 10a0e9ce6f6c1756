package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/calendar"
	"libracirc/internal/catalog"
	"libracirc/internal/circulation"
	"libracirc/internal/clients"
	"libracirc/internal/eventstore"
	"libracirc/internal/membership"
	"libracirc/internal/server"
	"libracirc/internal/storage"
)

type harness struct {
	db      *sqlx.DB
	opts    *RootOptions
	items   *catalog.Store
	members *membership.Store
	engine  *circulation.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
	next := 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := eventstore.NewEventStore()
	h := &harness{
		db:      db,
		items:   catalog.NewService(journal, db),
		members: membership.NewService(journal, db),
	}
	h.engine, err = circulation.NewEngine(db, h.items, h.members, journal,
		circulation.WithLogger(logger),
		circulation.WithClock(func() time.Time { return clock }),
		circulation.WithRandomSource(func(int) int { next++; return next }),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(server.Options{
		Logger:         logger,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}, catalog.NewHandler(h.items), membership.NewHandler(h.members), circulation.NewHandler(h.engine)))
	t.Cleanup(srv.Close)

	h.opts = &RootOptions{transport: clients.NewTransport(srv.URL+"/api/v1", clients.WithRetryInterval(time.Millisecond))}
	return h
}

func (h *harness) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(h.opts)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func (h *harness) addItem(t *testing.T, title string, copies int) *catalog.Item {
	t.Helper()
	item, err := h.items.AddItem(context.Background(), "9780000000000", title, "Author", copies)
	require.NoError(t, err)
	return item
}

func (h *harness) addMember(t *testing.T, name string) *membership.Member {
	t.Helper()
	m, err := h.members.RegisterMember(context.Background(), uuid.NewString()+"@example.com", name, 0)
	require.NoError(t, err)
	return m
}

func (h *harness) borrow(t *testing.T, member *membership.Member, item *catalog.Item, loanDate, dueDate string) *circulation.Loan {
	t.Helper()
	loan, err := h.engine.CreateLoan(context.Background(), circulation.LoanRequest{
		MemberID: member.ID,
		ItemID:   item.ID,
		LoanDate: calendar.MustParse(loanDate),
		DueDate:  calendar.MustParse(dueDate),
	})
	require.NoError(t, err)
	return loan
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "libractl", cmd.Use)

	for _, name := range []string{"borrow", "return", "extend", "overdue", "stats", "drift"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestBorrowAndReturn(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, "Dune", 2)
	member := h.addMember(t, "Paul Atreides")

	var out bytes.Buffer
	borrowed, err := h.execute(t, "borrow", "--member", member.ID.String(), "--item", item.ID.String())
	require.NoError(t, err)
	out.WriteString(borrowed)

	current, err := h.engine.CurrentLoans(t.Context(), member.ID)
	require.NoError(t, err)
	require.Len(t, current, 1)

	returned, err := h.execute(t, "return", current[0].ID.String(), "--date", "2024-01-18")
	require.NoError(t, err)
	out.WriteString(returned)

	golden(t).Assert(t, "borrow_return", out.Bytes())
}

func TestOverdue(t *testing.T) {
	h := newHarness(t)
	dune := h.addItem(t, "Dune", 1)
	neuromancer := h.addItem(t, "Neuromancer", 1)
	h.borrow(t, h.addMember(t, "Ada Lovelace"), dune, "2024-01-01", "2024-01-05")
	h.borrow(t, h.addMember(t, "Paul Atreides"), neuromancer, "2024-01-01", "2024-01-10")

	out, err := h.execute(t, "overdue", "--as-of", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, "No overdue loans\n", out)

	out, err = h.execute(t, "overdue", "--as-of", "2024-01-12")
	require.NoError(t, err)
	golden(t).Assert(t, "overdue", []byte(out))
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	dune := h.addItem(t, "Dune", 2)
	neuromancer := h.addItem(t, "Neuromancer", 1)
	ada := h.addMember(t, "Ada Lovelace")
	paul := h.addMember(t, "Paul Atreides")

	onTime := h.borrow(t, ada, dune, "2024-01-01", "2024-01-15")
	late := h.borrow(t, paul, neuromancer, "2024-01-01", "2024-01-05")
	h.borrow(t, ada, dune, "2024-01-01", "2024-01-15")

	for _, loan := range []*circulation.Loan{onTime, late} {
		_, err := h.engine.ReturnLoan(t.Context(), loan.ID, calendar.MustParse("2024-01-08"))
		require.NoError(t, err)
	}

	out, err := h.execute(t, "stats")
	require.NoError(t, err)
	golden(t).Assert(t, "stats", []byte(out))

	out, err = h.execute(t, "drift")
	require.NoError(t, err)
	assert.Equal(t, "Inventory consistent\n", out)
}

func TestJSONFormat(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, "Dune", 1)
	member := h.addMember(t, "Paul Atreides")

	out, err := h.execute(t, "--format", "json", "borrow", "--member", member.ID.String(), "--item", item.ID.String(), "--due", "2024-01-20")
	require.NoError(t, err)

	var loan circulation.Loan
	require.NoError(t, json.Unmarshal([]byte(out), &loan))
	assert.Equal(t, "TRX-20240101-000001", loan.Code)
	assert.Equal(t, "2024-01-20", loan.DueDate.String())

	out, err = h.execute(t, "--format", "json", "extend", loan.ID.String(), "--days", "3")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &loan))
	assert.Equal(t, "2024-01-23", loan.DueDate.String())
}

func TestExitCodes(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, "Dune", 1)
	loan := h.borrow(t, h.addMember(t, "Ada Lovelace"), item, "2024-01-01", "2024-01-15")

	_, err := h.execute(t, "return", loan.ID.String())
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"already returned", []string{"return", loan.ID.String()}, ExitFailure},
		{"unknown item", []string{"borrow", "--member", h.addMember(t, "Paul").ID.String(), "--item", uuid.NewString()}, ExitFailure},
		{"bad loan ID", []string{"return", "not-a-uuid"}, ExitCommandError},
		{"bad date", []string{"overdue", "--as-of", "12/01/2024"}, ExitCommandError},
		{"bad format", []string{"--format", "yaml", "stats"}, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}

func TestDriftReportsFailure(t *testing.T) {
	h := newHarness(t)
	item := h.addItem(t, "Dune", 2)
	h.borrow(t, h.addMember(t, "Ada Lovelace"), item, "2024-01-01", "2024-01-15")
	require.NoError(t, h.items.Release(t.Context(), h.db, item.ID))

	out, err := h.execute(t, "drift")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, item.ID.String())
}
