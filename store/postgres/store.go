// Package postgres implements the composite Store on PostgreSQL via the
// Grove ORM. Dequeue uses FOR UPDATE SKIP LOCKED so multiple engine
// instances can share one queue.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/RestDB/outhook"
	"github.com/RestDB/outhook/delivery"
	"github.com/RestDB/outhook/dlq"
	"github.com/RestDB/outhook/event"
	"github.com/RestDB/outhook/id"
	outhookstore "github.com/RestDB/outhook/store"
	"github.com/RestDB/outhook/subscription"
)

// compile-time interface check
var _ outhookstore.Store = (*Store)(nil)

// dequeueLease is how long a dequeued delivery stays invisible to other
// pollers. A crashed worker's batch becomes eligible again after the lease.
const dequeueLease = time.Minute

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("outhook/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("outhook/postgres: %w: %v", outhook.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outhook.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription writes the mutable configuration columns. Statistics
// columns are owned by RecordDeliveryOutcome, except that setting the
// status to active also resets the failure streak.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	now := time.Now().UTC()
	q := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("url = $1", sub.URL).
		Set("events = $2", sub.Events).
		Set("verification_mode = $3", string(sub.Mode)).
		Set("secret = $4", sub.Secret).
		Set("status = $5", string(sub.Status)).
		Set("headers = $6", sub.Headers).
		Set("rate_limit = $7", sub.RateLimit).
		Set("metadata = $8", sub.Metadata).
		Set("verification_error = $9", sub.VerificationError).
		Set("updated_at = $10", now).
		// Reactivation resets the failure streak; otherwise the counter is
		// owned by RecordDeliveryOutcome and left alone.
		Set("consecutive_failures = CASE WHEN $11 = 'active' THEN $12 ELSE consecutive_failures END",
			string(sub.Status), sub.ConsecutiveFailures)
	res, err := q.
		Where("id = $13", sub.ID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return outhook.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return outhook.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 && opts.Event == "" {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 && opts.Event == "" {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		// Pattern matching happens here, not in SQL, so the event filter
		// paginates after filtering.
		if opts.Event != "" && !sub.Matches(opts.Event) {
			continue
		}
		result = append(result, sub)
	}

	if opts.Event != "" {
		result = paginate(result, opts.Offset, opts.Limit)
	}
	return result, nil
}

func (s *Store) Resolve(ctx context.Context, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.pg.NewSelect(&models).
		Where("status = $1", string(subscription.StatusActive)).
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*subscription.Subscription
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		if sub.Matches(eventType) {
			result = append(result, sub)
		}
	}
	return result, nil
}

// RecordDeliveryOutcome applies a delivery outcome in a single UPDATE so
// concurrent workers never lose counter increments. The ceiling transition
// to failed happens in the same statement.
func (s *Store) RecordDeliveryOutcome(ctx context.Context, subID id.ID, out subscription.Outcome) (*subscription.Subscription, error) {
	at := out.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var models []subscriptionModel
	var err error
	if out.Success {
		err = s.pg.NewRaw(`
			UPDATE outhook_subscriptions
			SET delivery_count = delivery_count + 1,
			    consecutive_failures = 0,
			    last_delivery_status = 'success',
			    last_delivery_error = '',
			    last_delivery_at = $1,
			    updated_at = NOW()
			WHERE id = $2
			RETURNING *
		`, at, subID.String()).Scan(ctx, &models)
	} else {
		err = s.pg.NewRaw(`
			UPDATE outhook_subscriptions
			SET consecutive_failures = consecutive_failures + 1,
			    last_delivery_status = 'failure',
			    last_delivery_error = $1,
			    last_delivery_at = $2,
			    status = CASE
			        WHEN $3 > 0 AND consecutive_failures + 1 >= $3 AND status = 'active'
			        THEN 'failed' ELSE status
			    END,
			    updated_at = NOW()
			WHERE id = $4
			RETURNING *
		`, out.Error, at, out.FailureCeiling, subID.String()).Scan(ctx, &models)
	}
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, outhook.ErrSubscriptionNotFound
	}
	return fromSubscriptionModel(&models[0])
}

func (s *Store) SetStatus(ctx context.Context, subID id.ID, status subscription.Status) error {
	now := time.Now().UTC()
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", now).
		Where("id = $3", subID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return outhook.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)

	if evt.IdempotencyKey != "" {
		res, err := s.pg.NewInsert(m).
			OnConflict("(idempotency_key) WHERE idempotency_key != '' DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return outhook.ErrDuplicateIdempotencyKey
		}
		return nil
	}

	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outhook.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}

	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	// The FOR UPDATE SKIP LOCKED dequeue pattern, with a visibility lease:
	// claimed rows stay pending but move out of the poll window, so they
	// come back if the worker dies before UpdateDelivery.
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE outhook_deliveries
		SET next_attempt_at = NOW() + $1::interval, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outhook_deliveries
			WHERE state = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, dequeueLease.String(), limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	_, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", delID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outhook.ErrDeliveryNotFound
		}
		return nil, err
	}

	return fromDeliveryModel(m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("subscription_id = $1", subID.String())

	if opts.State != nil {
		q = q.Where("state = $2", string(*opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}

	return result, nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", evtID.String()).
		OrderExpr("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.pg.NewSelect((*deliveryModel)(nil)).
		Where("state = $1", string(delivery.StatePending)).
		Count(ctx)
	return count, err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.SubscriptionID != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("subscription_id = $%d", argIdx), opts.SubscriptionID.String())
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("failed_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", dlqID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outhook.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	entry, err := s.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	if enqueueErr := s.Enqueue(ctx, replayDelivery(entry)); enqueueErr != nil {
		return enqueueErr
	}

	// The entry stays in the DLQ as an audit record, marked as replayed.
	now := time.Now().UTC()
	_, err = s.pg.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = $1", now).
		Set("updated_at = $2", now).
		Where("id = $3", dlqID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	var models []dlqEntryModel
	if err := s.pg.NewSelect(&models).
		Where("failed_at >= $1", from).
		Where("failed_at <= $2", to).
		Where("replayed_at IS NULL").
		Scan(ctx); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var count int64
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return count, err
		}

		if err := s.Enqueue(ctx, replayDelivery(entry)); err != nil {
			return count, err
		}

		if _, err := s.pg.NewUpdate((*dlqEntryModel)(nil)).
			Set("replayed_at = $1", now).
			Set("updated_at = $2", now).
			Where("id = $3", models[i].ID).
			Exec(ctx); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < $1", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return rows, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.pg.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// replayDelivery builds a fresh pending delivery for a DLQ entry. Attempt
// accounting restarts from zero.
func replayDelivery(entry *dlq.Entry) *delivery.Delivery {
	now := time.Now().UTC()
	maxAttempts := entry.AttemptCount
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	d := &delivery.Delivery{
		ID:             id.NewDeliveryID(),
		EventID:        entry.EventID,
		SubscriptionID: entry.SubscriptionID,
		State:          delivery.StatePending,
		MaxAttempts:    maxAttempts,
		NextAttemptAt:  now,
	}
	d.CreatedAt = now
	d.UpdatedAt = now
	return d
}

// paginate slices a result set by offset and limit.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
