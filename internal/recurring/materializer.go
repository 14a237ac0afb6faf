package recurring

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/guard"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// instanceNamespace seeds the name-based ids of generated transactions.
var instanceNamespace = uuid.MustParse("6f1c2b8e-4a53-4d0e-9b7a-2f8d1e5c3a90")

// InstanceID is the id of the transaction template templateID generates on
// date. Re-running a materialization therefore never creates a second copy.
func InstanceID(templateID string, date civil.Date) string {
	return uuid.NewSHA1(instanceNamespace, []byte(templateID+"|"+date.String())).String()
}

// Source resolves the adapter to write to. The migration coordinator
// satisfies it.
type Source interface {
	Active(ctx context.Context) (storage.Adapter, error)
}

// Result reports one materialization pass.
type Result struct {
	Templates int      `json:"templates"`
	Created   int      `json:"created"`
	Existing  int      `json:"existing"`
	Errors    []string `json:"errors"`
	Skipped   bool     `json:"skipped,omitempty"`
}

// Materializer turns due template occurrences into transactions.
type Materializer struct {
	source    Source
	publisher jobs.Publisher
	guard     guard.Guard
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithPublisher queues a push job for every record the materializer writes.
func WithPublisher(p jobs.Publisher) Option {
	return func(m *Materializer) {
		m.publisher = p
	}
}

// NewMaterializer returns a materializer writing through source.
func NewMaterializer(source Source, opts ...Option) *Materializer {
	m := &Materializer{source: source}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Materializer) publish(ctx context.Context, job *jobs.SyncJob) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("family", string(job.Family)).
			Str("record_id", job.RecordID).
			Msg("Failed to queue sync job")
	}
}

// Instance builds the transaction t generates on date.
func Instance(t domain.RecurringTemplate, date civil.Date) domain.Transaction {
	return domain.Transaction{
		ID:          InstanceID(t.ID, date),
		Title:       t.Title,
		Amount:      t.Amount,
		Category:    t.Category,
		Date:        date,
		Type:        t.Type,
		Description: t.Description,
		Currency:    t.Currency,
		IsRecurring: true,
		RecurringID: t.ID,
	}
}

// Run materializes every pending occurrence of the templates due on today,
// including occurrences that fell before an end date which has since
// passed. A template whose occurrence fails to write keeps its progress up
// to the last written date and is retried on the next run. Overlapping runs
// are skipped.
//
// Run does not filter templates with IsDue, which rejects a template whose
// end date is before today; such a template still catches up to its end
// date here.
func (m *Materializer) Run(ctx context.Context, today civil.Date) (Result, error) {
	log := logger.ComponentFromContext(ctx, "recurring")
	ctx = logger.WithContext(ctx, log)

	if !m.guard.TryEnter() {
		log.Info().Msg("Materialization already running, skipping")
		return Result{Skipped: true}, nil
	}
	defer m.guard.Leave()

	res := Result{Errors: []string{}}

	local, err := m.source.Active(ctx)
	if err != nil {
		return res, fmt.Errorf("Materializer.Run: resolving store: %w", err)
	}
	due, err := local.GetDueRecurring(ctx, today)
	if err != nil {
		return res, fmt.Errorf("Materializer.Run: listing due templates: %w", err)
	}

	for _, t := range due {
		if !t.IsActive {
			continue
		}
		res.Templates++
		created, existing, err := m.materialize(ctx, local, t, today)
		res.Created += created
		res.Existing += existing
		if err != nil {
			log.Warn().Err(err).Str("recurring_id", t.ID).Msg("Failed to materialize template")
			res.Errors = append(res.Errors, err.Error())
		}
	}

	log.Info().
		Str("today", today.String()).
		Int("templates", res.Templates).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Int("errors", len(res.Errors)).
		Msg("Materialization completed")

	return res, nil
}

func (m *Materializer) materialize(ctx context.Context, local storage.Adapter, t domain.RecurringTemplate, today civil.Date) (created, existing int, err error) {
	dates, err := PendingOccurrences(t.StartDate, t.Frequency, t.LastGenerated, t.EndDate, today)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", t.ID, err)
	}
	if len(dates) == 0 {
		return 0, 0, nil
	}
	if len(dates) == MaxPending {
		log := logger.FromContext(ctx)
		log.Warn().Str("recurring_id", t.ID).Int("limit", MaxPending).
			Msg("Pending occurrences capped, remaining dates follow on the next run")
	}

	var (
		last     *civil.Date
		firstErr error
	)
	for _, date := range dates {
		inst := Instance(t, date)
		found, err := local.GetTransaction(ctx, inst.ID)
		if err != nil {
			firstErr = fmt.Errorf("%s on %s: %w", t.ID, date, err)
			break
		}
		if found != nil {
			existing++
		} else {
			if _, err := local.AddTransaction(ctx, inst); err != nil {
				firstErr = fmt.Errorf("%s on %s: %w", t.ID, date, err)
				break
			}
			created++
			m.publish(ctx, jobs.NewPush(jobs.FamilyTransactions, inst.ID))
		}
		d := date
		last = &d
	}
	if last == nil {
		return created, existing, firstErr
	}

	next, err := domain.NextOccurrence(t.StartDate, t.Frequency, last)
	if err != nil {
		return created, existing, errors.Join(firstErr, err)
	}
	if _, err := local.UpdateRecurring(ctx, t.ID, domain.RecurringPatch{
		LastGenerated:  last,
		NextOccurrence: &next,
	}); err != nil {
		return created, existing, errors.Join(firstErr, fmt.Errorf("%s: advancing: %w", t.ID, err))
	}
	m.publish(ctx, jobs.NewPush(jobs.FamilyRecurring, t.ID))
	return created, existing, firstErr
}

// NewTemplateFromTransaction builds the template for "make recurring": the
// transaction itself counts as the first generated instance.
func NewTemplateFromTransaction(tx domain.Transaction, f domain.Frequency, endDate *civil.Date) (domain.RecurringTemplate, error) {
	first := tx.Date
	next, err := domain.NextOccurrence(tx.Date, f, &first)
	if err != nil {
		return domain.RecurringTemplate{}, err
	}
	t := domain.RecurringTemplate{
		ID:             domain.NewID(),
		Title:          tx.Title,
		Amount:         tx.Amount,
		Category:       tx.Category,
		Type:           tx.Type,
		Frequency:      f,
		StartDate:      tx.Date,
		EndDate:        endDate,
		LastGenerated:  &first,
		NextOccurrence: next,
		IsActive:       true,
		Description:    tx.Description,
		Currency:       tx.Currency,
	}
	if err := t.Validate(); err != nil {
		return domain.RecurringTemplate{}, err
	}
	return t, nil
}

// MakeRecurring creates a template from an existing transaction and links
// the transaction to it.
func (m *Materializer) MakeRecurring(ctx context.Context, txID string, f domain.Frequency, endDate *civil.Date) (domain.RecurringTemplate, error) {
	local, err := m.source.Active(ctx)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("MakeRecurring: resolving store: %w", err)
	}
	tx, err := local.GetTransaction(ctx, txID)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("MakeRecurring: %w", err)
	}
	if tx == nil {
		return domain.RecurringTemplate{}, fmt.Errorf("MakeRecurring: %s: %w", txID, storage.ErrNotFound)
	}

	t, err := NewTemplateFromTransaction(*tx, f, endDate)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("MakeRecurring: %w", err)
	}
	t, err = local.AddRecurring(ctx, t)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("MakeRecurring: adding template: %w", err)
	}
	if _, err := local.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{
		IsRecurring: domain.Ptr(true),
		RecurringID: &t.ID,
	}); err != nil {
		return t, fmt.Errorf("MakeRecurring: linking transaction: %w", err)
	}
	m.publish(ctx, jobs.NewPush(jobs.FamilyRecurring, t.ID))
	m.publish(ctx, jobs.NewPush(jobs.FamilyTransactions, tx.ID))
	return t, nil
}

// UpdateTemplate applies patch and recomputes the next occurrence from the
// resulting start date, frequency and last generated date, so the stored
// value never drifts from the derivation. A NextOccurrence in patch is
// ignored.
func (m *Materializer) UpdateTemplate(ctx context.Context, id string, patch domain.RecurringPatch) (domain.RecurringTemplate, error) {
	local, err := m.source.Active(ctx)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("UpdateTemplate: resolving store: %w", err)
	}
	current, err := local.GetRecurring(ctx, id)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("UpdateTemplate: %w", err)
	}
	if current == nil {
		return domain.RecurringTemplate{}, fmt.Errorf("UpdateTemplate: %s: %w", id, storage.ErrNotFound)
	}

	patch.NextOccurrence = nil
	next, err := patch.Apply(*current, domain.Now()).ExpectedNext()
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("UpdateTemplate: %w", err)
	}
	patch.NextOccurrence = &next

	updated, err := local.UpdateRecurring(ctx, id, patch)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("UpdateTemplate: %w", err)
	}
	m.publish(ctx, jobs.NewPush(jobs.FamilyRecurring, id))
	return updated, nil
}

// CreateTemplate stores a new template with its next occurrence derived
// from the schedule.
func (m *Materializer) CreateTemplate(ctx context.Context, t domain.RecurringTemplate) (domain.RecurringTemplate, error) {
	local, err := m.source.Active(ctx)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("CreateTemplate: resolving store: %w", err)
	}
	next, err := t.ExpectedNext()
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("CreateTemplate: %w", err)
	}
	t.NextOccurrence = next

	t, err = local.AddRecurring(ctx, t)
	if err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("CreateTemplate: %w", err)
	}
	m.publish(ctx, jobs.NewPush(jobs.FamilyRecurring, t.ID))
	return t, nil
}

// DeleteTemplate removes a template. With cascade the transactions it
// generated are removed as well; otherwise they stay as ordinary records
// that still carry the template id. It returns how many transactions were
// removed.
func (m *Materializer) DeleteTemplate(ctx context.Context, id string, cascade bool) (int, error) {
	local, err := m.source.Active(ctx)
	if err != nil {
		return 0, fmt.Errorf("DeleteTemplate: resolving store: %w", err)
	}

	removed := 0
	if cascade {
		generated, err := local.GetTransactionsByRecurringID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("DeleteTemplate: listing generated transactions: %w", err)
		}
		for _, tx := range generated {
			if err := local.DeleteTransaction(ctx, tx.ID); err != nil {
				return removed, fmt.Errorf("DeleteTemplate: %s: %w", tx.ID, err)
			}
			m.publish(ctx, jobs.NewDelete(jobs.FamilyTransactions, tx.ID))
			removed++
		}
	}
	if err := local.DeleteRecurring(ctx, id); err != nil {
		return removed, fmt.Errorf("DeleteTemplate: %w", err)
	}
	m.publish(ctx, jobs.NewDelete(jobs.FamilyRecurring, id))

	log := logger.ComponentFromContext(ctx, "recurring")
	log.Info().
		Str("recurring_id", id).
		Bool("cascade", cascade).
		Int("transactions_removed", removed).
		Msg("Deleted recurring template")
	return removed, nil
}
