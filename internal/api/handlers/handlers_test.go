package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/importer"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/kv/inmemory"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/migration"
	"github.com/AriceNn/MonEra-sub000/internal/recurring"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
	"github.com/AriceNn/MonEra-sub000/internal/storage/flatstore"
	"github.com/AriceNn/MonEra-sub000/internal/storage/storagetest"
)

type staticSource struct{ a storage.Adapter }

func (s staticSource) Active(context.Context) (storage.Adapter, error) { return s.a, nil }

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*jobs.SyncJob
}

func (p *recordingPublisher) Publish(_ context.Context, job *jobs.SyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) last() *jobs.SyncJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.jobs) == 0 {
		return nil
	}
	return p.jobs[len(p.jobs)-1]
}

type fakeMigration struct {
	result migration.Result
	err    error
}

func (f fakeMigration) Status(context.Context) (migration.Status, error) {
	return migration.Status{State: migration.StateFlatOnly}, nil
}
func (f fakeMigration) Migrate(context.Context) (migration.Result, error)  { return f.result, f.err }
func (f fakeMigration) Rollback(context.Context) (migration.Result, error) { return f.result, f.err }
func (f fakeMigration) CleanupBackup(context.Context, bool) (bool, error)  { return true, nil }

type server struct {
	store *flatstore.Store
	pub   *recordingPublisher
	srv   *httptest.Server
}

func newServer(t *testing.T, mig MigrationService) *server {
	t.Helper()
	store := flatstore.New(inmemory.NewStore())
	pub := &recordingPublisher{}
	src := staticSource{store}
	if mig == nil {
		mig = fakeMigration{}
	}
	mux := NewRouter(Deps{
		Source:       src,
		Publisher:    pub,
		Materializer: recurring.NewMaterializer(src, recurring.WithPublisher(pub)),
		Importer:     importer.New(src),
		Migration:    mig,
	}, logger.NewWithWriter(io.Discard))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &server{store: store, pub: pub, srv: srv}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (s *server) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(testContext(t), method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestTransactions_CRUD(t *testing.T) {
	s := newServer(t, nil)

	resp := s.do(t, http.MethodPost, "/api/transactions",
		`{"title":"Groceries","amount":"42.10","category":"Food","date":"2024-02-03","type":"expense"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.Transaction
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "42.1", created.Amount.String())
	require.Equal(t, &jobs.SyncJob{Type: jobs.JobTypePush, Family: jobs.FamilyTransactions, RecordID: created.ID}, s.pub.last())

	resp = s.do(t, http.MethodPatch, "/api/transactions/"+created.ID, `{"title":"Market"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated domain.Transaction
	decodeBody(t, resp, &updated)
	require.Equal(t, "Market", updated.Title)

	resp = s.do(t, http.MethodGet, "/api/transactions/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/api/transactions/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, jobs.JobTypeDelete, s.pub.last().Type)

	resp = s.do(t, http.MethodGet, "/api/transactions/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransactions_Errors(t *testing.T) {
	s := newServer(t, nil)
	ctx := testContext(t)
	_, err := s.store.AddTransaction(ctx, storagetest.Transaction(t, "t1", "2024-01-05", "Food", domain.TypeExpense, "10"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/transactions", `{`, http.StatusBadRequest},
		{"missing title", http.MethodPost, "/api/transactions", `{"amount":"1","category":"Food","date":"2024-01-01","type":"expense"}`, http.StatusBadRequest},
		{"negative amount", http.MethodPost, "/api/transactions", `{"title":"x","amount":"-1","category":"Food","date":"2024-01-01","type":"expense"}`, http.StatusBadRequest},
		{"duplicate id", http.MethodPost, "/api/transactions", `{"id":"t1","title":"x","amount":"1","category":"Food","date":"2024-01-01","type":"expense"}`, http.StatusConflict},
		{"update missing", http.MethodPatch, "/api/transactions/nope", `{"title":"x"}`, http.StatusNotFound},
		{"bad date filter", http.MethodGet, "/api/transactions?start_date=01/01/2024", "", http.StatusBadRequest},
		{"month without year", http.MethodGet, "/api/transactions?month=2", "", http.StatusBadRequest},
		{"bad type filter", http.MethodGet, "/api/transactions?type=gift", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestTransactions_ListFilters(t *testing.T) {
	s := newServer(t, nil)
	ctx := testContext(t)
	for _, tx := range []domain.Transaction{
		storagetest.Transaction(t, "jan-food", "2024-01-05", "Food", domain.TypeExpense, "10"),
		storagetest.Transaction(t, "feb-food", "2024-02-05", "Food", domain.TypeExpense, "20"),
		storagetest.Transaction(t, "feb-pay", "2024-02-01", "Salary", domain.TypeIncome, "1000"),
	} {
		_, err := s.store.AddTransaction(ctx, tx)
		require.NoError(t, err)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"feb-food", "feb-pay", "jan-food"}},
		{"?month=2&year=2024", []string{"feb-food", "feb-pay"}},
		{"?month=2&year=2024&type=income", []string{"feb-pay"}},
		{"?start_date=2024-01-01&end_date=2024-01-31", []string{"jan-food"}},
		{"?start_date=2024-02-02", []string{"feb-food"}},
		{"?category=Food", []string{"feb-food", "jan-food"}},
		{"?category=Food&type=income", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := s.do(t, http.MethodGet, "/api/transactions"+tt.query, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var got []domain.Transaction
			decodeBody(t, resp, &got)
			require.ElementsMatch(t, tt.want, storagetest.TxIDs(got))
		})
	}

	resp := s.do(t, http.MethodGet, "/api/transactions/summary?month=2&year=2024", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum Summary
	decodeBody(t, resp, &sum)
	require.Equal(t, 2, sum.Count)
	require.Equal(t, "1000", sum.Income.String())
	require.Equal(t, "20", sum.Expense.String())
	require.Equal(t, "980", sum.Balance.String())
}

func TestBudgets_DuplicateActiveCategory(t *testing.T) {
	s := newServer(t, nil)

	body := `{"category":"Food","monthlyLimit":"400","alertThreshold":80,"isActive":true}`
	resp := s.do(t, http.MethodPost, "/api/budgets", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, jobs.FamilyBudgets, s.pub.last().Family)

	resp = s.do(t, http.MethodPost, "/api/budgets", body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/budgets", `{"category":"Food","monthlyLimit":"1","alertThreshold":150}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/budgets?active=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var budgets []domain.Budget
	decodeBody(t, resp, &budgets)
	require.Len(t, budgets, 1)
}

func TestRecurring_Flow(t *testing.T) {
	s := newServer(t, nil)
	ctx := testContext(t)
	_, err := s.store.AddTransaction(ctx, storagetest.Transaction(t, "rent", "2024-01-15", "Housing", domain.TypeExpense, "900"))
	require.NoError(t, err)

	resp := s.do(t, http.MethodPost, "/api/transactions/rent/make-recurring", `{"frequency":"monthly"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tmpl domain.RecurringTemplate
	decodeBody(t, resp, &tmpl)
	require.Equal(t, "2024-02-15", tmpl.NextOccurrence.String())

	resp = s.do(t, http.MethodPost, "/api/recurring/materialize?date=2024-03-20", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res recurring.Result
	decodeBody(t, resp, &res)
	require.Equal(t, 2, res.Created)

	resp = s.do(t, http.MethodGet, "/api/recurring/"+tmpl.ID+"/transactions", "")
	var instances []domain.Transaction
	decodeBody(t, resp, &instances)
	require.Len(t, instances, 3)

	resp = s.do(t, http.MethodDelete, "/api/recurring/"+tmpl.ID+"?cascade=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var removed map[string]int
	decodeBody(t, resp, &removed)
	require.Equal(t, 3, removed["transactionsRemoved"])

	resp = s.do(t, http.MethodPost, "/api/recurring",
		`{"title":"Gym","amount":"30","category":"Health","type":"expense","frequency":"fortnightly","startDate":"2024-01-01","isActive":true}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/transactions/missing/make-recurring", `{"frequency":"monthly"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImportExport(t *testing.T) {
	s := newServer(t, nil)

	resp := s.do(t, http.MethodPost, "/api/import?mode=replace",
		`{"transactions":[{"id":"t1","title":"Coffee","amount":"3.5","category":"Food","date":"2024-03-01","type":"expense"}],"version":"1.0"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res importer.Result
	decodeBody(t, resp, &res)
	require.Equal(t, 1, res.Transactions)

	req, err := http.NewRequestWithContext(testContext(t), http.MethodPost, s.srv.URL+"/api/import",
		bytes.NewBufferString("date,title,amount,category,type\n2024-03-02,Tea,2,Food,expense\n"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/csv")
	csvResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer csvResp.Body.Close()
	require.Equal(t, http.StatusOK, csvResp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/import", `{"transactions":[{"id":"x","title":"","amount":"1","category":"Food","date":"2024-01-01","type":"expense"}]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var problems struct{ Problems []string }
	decodeBody(t, resp, &problems)
	require.Len(t, problems.Problems, 1)

	resp = s.do(t, http.MethodPost, "/api/import?mode=append", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "monera-export-")
	var snap domain.Snapshot
	decodeBody(t, resp, &snap)
	require.Len(t, snap.Transactions, 2)
	require.Contains(t, storagetest.TxIDs(snap.Transactions), "t1")

	resp = s.do(t, http.MethodDelete, "/api/data", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = s.do(t, http.MethodDelete, "/api/data?confirm=true", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/stats", "")
	var stats struct {
		Backend storage.Backend `json:"backend"`
		Stats   domain.Stats    `json:"stats"`
	}
	decodeBody(t, resp, &stats)
	require.Equal(t, storage.BackendFlat, stats.Backend)
	require.Zero(t, stats.Stats.Transactions)
}

func TestSettings(t *testing.T) {
	s := newServer(t, nil)

	resp := s.do(t, http.MethodGet, "/api/settings", "")
	var got domain.Settings
	decodeBody(t, resp, &got)
	require.Equal(t, "USD", got.Currency)

	resp = s.do(t, http.MethodPatch, "/api/settings", `{"currency":"EUR","theme":"dark"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &got)
	require.Equal(t, "EUR", got.Currency)
	require.Equal(t, domain.ThemeDark, got.Theme)
}

func TestMigrationEndpoints(t *testing.T) {
	s := newServer(t, fakeMigration{err: migration.ErrNoBackup})
	resp := s.do(t, http.MethodPost, "/api/migration/rollback", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	s = newServer(t, fakeMigration{err: &migration.VerificationError{}})
	resp = s.do(t, http.MethodPost, "/api/migration/migrate", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	s = newServer(t, fakeMigration{result: migration.Result{Skipped: true}})
	resp = s.do(t, http.MethodPost, "/api/migration/migrate", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/migration", "")
	var st migration.Status
	decodeBody(t, resp, &st)
	require.Equal(t, migration.StateFlatOnly, st.State)
}

func TestSync_NotConfigured(t *testing.T) {
	s := newServer(t, nil)
	for _, path := range []string{"/api/sync", "/api/sync/dedupe"} {
		resp := s.do(t, http.MethodPost, path, "")
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
