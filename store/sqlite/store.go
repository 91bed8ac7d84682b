// Package sqlite implements the composite Store on SQLite via the Grove
// ORM, for single-process deployments and integration tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("outhook/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("outhook/sqlite: %w: %v", outhook.ErrMigrationFailed, err)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
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
	m := toSubscriptionModel(sub)
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("url = ?", m.URL).
		Set("events = ?", m.Events).
		Set("verification_mode = ?", m.Mode).
		Set("secret = ?", m.Secret).
		Set("status = ?", m.Status).
		Set("headers = ?", m.Headers).
		Set("rate_limit = ?", m.RateLimit).
		Set("metadata = ?", m.Metadata).
		Set("verification_error = ?", m.VerificationError).
		Set("updated_at = ?", now()).
		// Reactivation resets the failure streak; otherwise the counter is
		// owned by RecordDeliveryOutcome and left alone.
		Set("consecutive_failures = CASE WHEN ? = 'active' THEN ? ELSE consecutive_failures END",
			m.Status, m.ConsecutiveFailures).
		Where("id = ?", m.ID).
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
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
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
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	if err := s.sdb.NewSelect(&models).
		Where("status = ?", string(subscription.StatusActive)).
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

// RecordDeliveryOutcome applies a delivery outcome in a single UPDATE.
// SQLite serializes writes, so the counter arithmetic is safe against
// concurrent workers.
func (s *Store) RecordDeliveryOutcome(ctx context.Context, subID id.ID, out subscription.Outcome) (*subscription.Subscription, error) {
	at := out.At
	if at.IsZero() {
		at = now()
	}

	var models []subscriptionModel
	var err error
	if out.Success {
		err = s.sdb.NewRaw(`
			UPDATE outhook_subscriptions
			SET delivery_count = delivery_count + 1,
			    consecutive_failures = 0,
			    last_delivery_status = 'success',
			    last_delivery_error = '',
			    last_delivery_at = ?,
			    updated_at = datetime('now')
			WHERE id = ?
			RETURNING *
		`, at, subID.String()).Scan(ctx, &models)
	} else {
		err = s.sdb.NewRaw(`
			UPDATE outhook_subscriptions
			SET consecutive_failures = consecutive_failures + 1,
			    last_delivery_status = 'failure',
			    last_delivery_error = ?,
			    last_delivery_at = ?,
			    status = CASE
			        WHEN ? > 0 AND consecutive_failures + 1 >= ? AND status = 'active'
			        THEN 'failed' ELSE status
			    END,
			    updated_at = datetime('now')
			WHERE id = ?
			RETURNING *
		`, out.Error, at, out.FailureCeiling, out.FailureCeiling, subID.String()).Scan(ctx, &models)
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
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", now()).
		Where("id = ?", subID.String()).
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
		res, err := s.sdb.NewInsert(m).
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

	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", evtID.String()).
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
	q := s.sdb.NewSelect(&models)

	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
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
	_, err := s.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	// SQLite serializes writes, so a plain UPDATE claims the batch. Claimed
	// rows stay pending but move out of the poll window for one minute, so
	// they come back if the worker dies before UpdateDelivery.
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		UPDATE outhook_deliveries
		SET next_attempt_at = datetime('now', '+60 seconds'), updated_at = datetime('now')
		WHERE id IN (
			SELECT id FROM outhook_deliveries
			WHERE state = 'pending' AND next_attempt_at <= datetime('now')
			ORDER BY next_attempt_at ASC
			LIMIT ?
		)
		RETURNING *
	`, limit).Scan(ctx, &models)
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
	m.UpdatedAt = now()
	_, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", delID.String()).
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
	q := s.sdb.NewSelect(&models).Where("subscription_id = ?", subID.String())

	if opts.State != nil {
		q = q.Where("state = ?", string(*opts.State))
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
	if err := s.sdb.NewSelect(&models).
		Where("event_id = ?", evtID.String()).
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
	count, err := s.sdb.NewSelect((*deliveryModel)(nil)).
		Where("state = ?", string(delivery.StatePending)).
		Count(ctx)
	return count, err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.sdb.NewSelect(&models)

	if opts.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", dlqID.String()).
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
	t := now()
	_, err = s.sdb.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", t).
		Set("updated_at = ?", t).
		Where("id = ?", dlqID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	var models []dlqEntryModel
	if err := s.sdb.NewSelect(&models).
		Where("failed_at >= ?", from).
		Where("failed_at <= ?", to).
		Where("replayed_at IS NULL").
		Scan(ctx); err != nil {
		return 0, err
	}

	t := now()
	var count int64
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return count, err
		}

		if err := s.Enqueue(ctx, replayDelivery(entry)); err != nil {
			return count, err
		}

		if _, err := s.sdb.NewUpdate((*dlqEntryModel)(nil)).
			Set("replayed_at = ?", t).
			Set("updated_at = ?", t).
			Where("id = ?", models[i].ID).
			Exec(ctx); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
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
	count, err := s.sdb.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// replayDelivery builds a fresh pending delivery for a DLQ entry. Attempt
// accounting restarts from zero.
func replayDelivery(entry *dlq.Entry) *delivery.Delivery {
	t := now()
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
		NextAttemptAt:  t,
	}
	d.CreatedAt = t
	d.UpdatedAt = t
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
