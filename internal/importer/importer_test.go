package importer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/kv/inmemory"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
	"github.com/AriceNn/MonEra-sub000/internal/storage/flatstore"
	"github.com/AriceNn/MonEra-sub000/internal/storage/storagetest"
)

type staticSource struct{ a storage.Adapter }

func (s staticSource) Active(context.Context) (storage.Adapter, error) { return s.a, nil }

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func problemsOf(t *testing.T, err error) []string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Problems
}

const validJSON = `{
  "transactions": [
    {"id": "t1", "title": "Groceries", "amount": "42.10", "category": "food", "date": "2024-02-03", "type": "expense"},
    {"title": "Pay", "amount": "3000", "category": "Salary", "date": "2024-02-01", "type": "income"}
  ],
  "budgets": [
    {"id": "b1", "category": "Food", "monthlyLimit": "400", "alertThreshold": 80, "isActive": true, "currency": "USD"}
  ],
  "recurring": [
    {"id": "r1", "title": "Rent", "amount": "900", "category": "Housing", "type": "expense",
     "frequency": "monthly", "startDate": "2024-01-01", "isActive": true}
  ],
  "settings": {"currency": "EUR", "language": "en", "theme": "dark"},
  "exportedAt": "2024-02-04T10:00:00Z",
  "version": "1.0"
}`

func TestParseJSON(t *testing.T) {
	snap, err := ParseJSON(strings.NewReader(validJSON))
	require.NoError(t, err)
	require.Len(t, snap.Transactions, 2)
	require.Equal(t, "Food", snap.Transactions[0].Category)
	require.NotEmpty(t, snap.Transactions[1].ID)
	require.False(t, snap.Transactions[1].CreatedAt.IsZero())
	require.Len(t, snap.Budgets, 1)
	require.Len(t, snap.Recurring, 1)
	require.Equal(t, "2024-01-01", snap.Recurring[0].NextOccurrence.String())
	require.NotNil(t, snap.Settings)
	require.Equal(t, "EUR", snap.Settings.Currency)
}

func TestParseJSON_ImportedTemplateResumesAfterLastGenerated(t *testing.T) {
	payload := `{"recurring": [
	  {"id": "r1", "title": "Rent", "amount": "900", "category": "Housing", "type": "expense",
	   "frequency": "monthly", "startDate": "2024-01-31", "lastGenerated": "2024-03-31", "isActive": true}
	]}`
	snap, err := ParseJSON(strings.NewReader(payload))
	require.NoError(t, err)
	require.Len(t, snap.Recurring, 1)
	require.Equal(t, "2024-04-30", snap.Recurring[0].NextOccurrence.String())
}

func TestParseJSON_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "malformed",
			payload: `{"transactions": [`,
			want:    []string{"malformed JSON"},
		},
		{
			name:    "unsupported version",
			payload: `{"version": "2.0"}`,
			want:    []string{`unsupported snapshot version "2.0"`},
		},
		{
			name: "record problems are all reported",
			payload: `{"transactions": [
				{"id": "a", "title": "", "amount": "1", "category": "Food", "date": "2024-01-01", "type": "expense"},
				{"id": "b", "title": "x", "amount": "-1", "category": "Food", "date": "2024-01-01", "type": "expense"},
				{"id": "b", "title": "x", "amount": "1", "category": "Food", "date": "2024-01-01", "type": "expense"}
			], "budgets": [
				{"id": "b1", "category": "Food", "monthlyLimit": "1", "alertThreshold": 80, "isActive": true},
				{"id": "b2", "category": "food", "monthlyLimit": "1", "alertThreshold": 80, "isActive": true}
			]}`,
			want: []string{
				"transactions[0]: missing required field: title",
				"transactions[1]: amount must be non-negative",
				`transactions[2]: duplicate id "b"`,
				`budgets[1]: category "food" already has active budget "b1"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON(strings.NewReader(tt.payload))
			got := problemsOf(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				require.Contains(t, got[i], tt.want[i])
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	in := "Date,Title,Amount,Category,Type,Description\n" +
		"2024-03-01,Coffee,3.50,food,Expense,\n" +
		"2024-03-02,\"Rent, March\",\"1,200.00\",Housing,expense,landlord\n"
	txs, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "Food", txs[0].Category)
	require.Equal(t, domain.TypeExpense, txs[0].Type)
	require.Equal(t, "Rent, March", txs[1].Title)
	require.Equal(t, "1200", txs[1].Amount.String())
	require.Equal(t, "landlord", txs[1].Description)
	require.NotEmpty(t, txs[0].ID)
}

func TestParseCSV_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{"empty file"}},
		{"missing columns", "date,title,amount\n", []string{`missing column "category"`, `missing column "type"`}},
		{
			name: "bad rows",
			in: "date,title,amount,category,type\n" +
				"03/01/2024,Coffee,3.50,Food,expense\n" +
				"2024-03-01,Coffee,three,Food,expense\n" +
				"2024-03-01,Coffee,3.50,Food,gift\n",
			want: []string{
				`line 2: date "03/01/2024" is not YYYY-MM-DD`,
				`line 3: amount "three" is not a number`,
				`line 4: invalid transaction type: "gift"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.in))
			got := problemsOf(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				require.Contains(t, got[i], tt.want[i])
			}
		})
	}
}

func seeded(t *testing.T, ctx context.Context) *flatstore.Store {
	t.Helper()
	store := flatstore.New(inmemory.NewStore())
	_, err := store.AddTransaction(ctx, storagetest.Transaction(t, "t1", "2024-01-05", "Food", domain.TypeExpense, "10"))
	require.NoError(t, err)
	_, err = store.AddBudget(ctx, storagetest.Budget("b-old", "Food"))
	require.NoError(t, err)
	return store
}

func TestImport_Replace(t *testing.T) {
	ctx := testContext(t)
	store := seeded(t, ctx)
	snap, err := ParseJSON(strings.NewReader(validJSON))
	require.NoError(t, err)

	res, err := New(staticSource{store}).Import(ctx, snap, ModeReplace)
	require.NoError(t, err)
	require.Equal(t, Result{Mode: ModeReplace, Transactions: 2, Budgets: 1, Recurring: 1}, res)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Stats{Transactions: 2, Budgets: 1, Recurring: 1, HasSettings: true}, stats)
	budgets, err := store.GetAllBudgets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, storagetest.BudgetIDs(budgets))
}

func TestImport_Merge(t *testing.T) {
	ctx := testContext(t)
	store := seeded(t, ctx)
	snap, err := ParseJSON(strings.NewReader(validJSON))
	require.NoError(t, err)

	res, err := New(staticSource{store}).Import(ctx, snap, ModeMerge)
	require.NoError(t, err)
	// t1 already exists; the incoming Food budget clashes with b-old.
	require.Equal(t, Result{Mode: ModeMerge, Transactions: 1, Budgets: 0, Recurring: 1}, res)

	t1, err := store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "tx t1", t1.Title)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Stats{Transactions: 2, Budgets: 1, Recurring: 1, HasSettings: true}, stats)
}

func TestImportTransactions_ReplaceKeepsOtherFamilies(t *testing.T) {
	ctx := testContext(t)
	store := seeded(t, ctx)
	txs, err := ParseCSV(strings.NewReader("date,title,amount,category,type\n2024-03-01,Coffee,3.50,Food,expense\n"))
	require.NoError(t, err)

	res, err := New(staticSource{store}).ImportTransactions(ctx, txs, ModeReplace)
	require.NoError(t, err)
	require.Equal(t, 1, res.Transactions)

	all, err := store.GetAllTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Coffee", all[0].Title)
	budgets, err := store.GetAllBudgets(ctx)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
}

func TestImport_SkipsOverlappingRun(t *testing.T) {
	ctx := testContext(t)
	im := New(staticSource{seeded(t, ctx)})
	require.True(t, im.guard.TryEnter())
	defer im.guard.Leave()

	res, err := im.Import(ctx, domain.Snapshot{}, ModeReplace)
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeMerge, m)
	m, err = ParseMode("replace")
	require.NoError(t, err)
	require.Equal(t, ModeReplace, m)
	_, err = ParseMode("append")
	require.Error(t, err)
}
