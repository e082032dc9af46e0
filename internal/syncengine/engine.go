// Package syncengine replays queued mutations against the remote backend and keeps the local
// record caches aligned with it.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zene/zenesync/internal/connectivity"
	"github.com/zene/zenesync/internal/localstore"
	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/queue"
	"github.com/zene/zenesync/internal/remote"
)

// Result describes one reconciliation pass
type Result struct {
	Offline bool
	// Replayed operations were confirmed by the remote and removed from the queue
	Replayed []models.OpRef
	// Skipped operations targeted records never created remotely and were dropped without a remote call
	Skipped      []models.OpRef
	Failed       []models.OpRef
	DeadLettered []models.OpRef
	// Deferred counts operations still waiting out their retry backoff
	Deferred int
}

// Resolved reports how many operations left the queue
func (r *Result) Resolved() int {
	return len(r.Replayed) + len(r.Skipped)
}

// Engine is the reconciler. Passes are serialized: a call arriving during a pass waits for it.
type Engine struct {
	store   *localstore.Store
	queue   *queue.Queue
	remote  remote.Backend
	probe   connectivity.Prober
	metrics *observability.SyncMetrics
	logger  *observability.Logger
	now     func() time.Time

	mu sync.Mutex
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records pass and replay metrics
func WithMetrics(m *observability.SyncMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the wall clock used for backoff and lastSync
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine
func New(store *localstore.Store, q *queue.Queue, backend remote.Backend, probe connectivity.Prober, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		queue:  q,
		remote: backend,
		probe:  probe,
		logger: observability.GetLogger().WithField("component", "syncengine"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Queue returns the engine's pending operation queue
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Sync drains the queue against the remote. Offline, or with an empty queue, it returns without
// side effects beyond sanitizing. Replay failures are recorded on the operations, never returned.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	return e.pass(ctx, false)
}

// ForceSync replays every queued operation regardless of backoff. With a user id it then refreshes
// every local cache for that user.
func (e *Engine) ForceSync(ctx context.Context, userID string) (*Result, error) {
	res, err := e.pass(ctx, true)
	if err != nil {
		return res, err
	}
	if userID != "" && !res.Offline && e.probe.Reachable(ctx) {
		if err := e.RefreshAll(ctx, userID); err != nil {
			e.logger.WithField("user_id", userID).Warnf("Cache refresh incomplete: %v", err)
		}
	}
	return res, nil
}

func (e *Engine) pass(ctx context.Context, force bool) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := observability.StartServiceSpan(ctx, "syncengine", "sync")
	defer span.End()
	start := e.now()

	res := &Result{}

	if _, err := e.queue.Sanitize(ctx); err != nil {
		observability.RecordError(span, err)
		return res, fmt.Errorf("failed to sanitize queue: %w", err)
	}

	var ops []models.PendingOperation
	var err error
	if force {
		ops, err = e.queue.Drain(ctx)
	} else {
		ops, res.Deferred, err = e.queue.Ready(ctx, e.now())
	}
	if err != nil {
		observability.RecordError(span, err)
		return res, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(ops) == 0 {
		return res, nil
	}

	if !e.probe.Reachable(ctx) {
		res.Offline = true
		e.logger.Debugf("Offline, keeping %d pending operations", len(ops))
		e.metrics.RecordPass(ctx, e.now().Sub(start), false, len(ops))
		return res, nil
	}

	logger := e.logger.WithContext(ctx)
	var acked []models.PendingOperation
	refresh := map[refreshKey]bool{}

	for _, op := range ops {
		table, err := models.LookupTable(op.Table)
		if err != nil {
			// Sanitize already dropped these; keep the loop total
			continue
		}

		if unresolvable(table, op) {
			logger.WithFields(map[string]interface{}{
				"table": op.Table,
				"id":    op.ID,
			}).Warnf("Skipping %s of record never created remotely", op.Operation)
			res.Skipped = append(res.Skipped, op.Ref())
			acked = append(acked, op)
			continue
		}

		remoteID, err := e.replay(ctx, table, op)
		e.metrics.RecordReplay(ctx, op.Table, string(op.Operation), err)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"table":     op.Table,
				"id":        op.ID,
				"operation": op.Operation,
				"attempt":   op.Attempts + 1,
			}).Warnf("Replay failed: %v", err)
			res.Failed = append(res.Failed, op.Ref())

			dead, markErr := e.queue.MarkFailed(ctx, op.Ref(), err, e.now())
			if markErr != nil {
				logger.Errorf("Failed to record replay failure: %v", markErr)
			}
			if dead {
				res.DeadLettered = append(res.DeadLettered, op.Ref())
				e.metrics.RecordDeadLetter(ctx, op.Table, string(op.Operation))
			}
			continue
		}

		res.Replayed = append(res.Replayed, op.Ref())
		acked = append(acked, op)

		if op.Operation == models.OpCreate && !remoteID.IsZero() && op.ID != remoteID {
			if err := e.resolveLocalID(ctx, table, op, remoteID); err != nil {
				logger.Warnf("Failed to record remote id %s for %s: %v", remoteID, op.ID, err)
			}
		}
		if table.Authoritative {
			refresh[refreshKey{userID: op.Data.UserID(), table: op.Table}] = true
		}
	}

	if err := e.queue.Acknowledge(ctx, acked); err != nil {
		observability.RecordError(span, err)
		return res, fmt.Errorf("failed to remove replayed operations: %w", err)
	}

	if res.Resolved() > 0 {
		if err := e.store.Set(ctx, localstore.KeyLastSync, e.now().UTC().Format(time.RFC3339Nano)); err != nil {
			logger.Warnf("Failed to record last sync: %v", err)
		}
	}

	for key := range refresh {
		if err := e.RefreshTable(ctx, key.userID, key.table); err != nil {
			logger.WithField("table", key.table).Warnf("Failed to refresh after sync: %v", err)
		}
	}

	pending, _ := e.queue.Len(ctx)
	e.metrics.RecordPass(ctx, e.now().Sub(start), true, pending)
	span.SetAttributes(
		attribute.Int("sync.replayed", len(res.Replayed)),
		attribute.Int("sync.failed", len(res.Failed)),
		attribute.Int("sync.pending", pending),
	)
	observability.SetSuccess(span)

	if res.Resolved() > 0 || len(res.Failed) > 0 {
		logger.Infof("Sync pass: %d replayed, %d skipped, %d failed, %d deferred, %d pending",
			len(res.Replayed), len(res.Skipped), len(res.Failed), res.Deferred, pending)
	}
	return res, nil
}

// unresolvable reports whether op mutates a record of a composite-key table that was never created
// remotely; no remote row can match it
func unresolvable(table models.Table, op models.PendingOperation) bool {
	return table.Composite() && op.Orphaned()
}

type refreshKey struct {
	userID string
	table  string
}

// replay performs op remotely and returns the remote id of a created row
func (e *Engine) replay(ctx context.Context, table models.Table, op models.PendingOperation) (models.RecordID, error) {
	ctx, span := observability.StartServiceSpan(ctx, "syncengine", "replay")
	defer span.End()
	span.SetAttributes(observability.Table(op.Table), observability.Operation(string(op.Operation)))

	if table.ReadOnly {
		return "", models.ErrReadOnlyTable
	}

	key := table.KeyOf(op.Data)
	if !key.Complete() {
		return "", models.ErrIncompleteKey
	}

	var err error
	switch op.Operation {
	case models.OpCreate:
		// upsert on the natural key makes a replayed create idempotent
		var rows []models.Row
		rows, err = e.remote.Upsert(ctx, table.Name, op.Data.WithoutTempID(), table.NaturalKey)
		if err == nil && len(rows) > 0 {
			observability.SetSuccess(span)
			return rows[0].ID(), nil
		}
	case models.OpUpdate:
		var rows []models.Row
		rows, err = e.remote.Update(ctx, table.Name, key.Match(), op.Data.WithoutID())
		if err == nil && len(rows) == 0 {
			e.logger.WithFields(map[string]interface{}{
				"table": table.Name,
				"key":   key.String(),
			}).Warn("Update matched no remote row")
		}
	case models.OpDelete:
		err = e.remote.Delete(ctx, table.Name, key.Match())
	default:
		err = models.ErrInvalidOperation
	}

	if err != nil {
		observability.RecordError(span, err)
		return "", err
	}
	observability.SetSuccess(span)
	return "", nil
}

// resolveLocalID replaces a temporary id in the local cache with the remote id the row was created under
func (e *Engine) resolveLocalID(ctx context.Context, table models.Table, op models.PendingOperation, remoteID models.RecordID) error {
	if !op.ID.IsTemp() {
		return nil
	}

	if table.SingleRow {
		var row models.Row
		found, err := e.store.Get(ctx, table.CacheKey, &row)
		if err != nil || !found {
			return err
		}
		if row.ID() != op.ID {
			return nil
		}
		row["id"] = string(remoteID)
		return e.store.Set(ctx, table.CacheKey, row)
	}

	return localstore.UpdateList(ctx, e.store, table.CacheKey, func(rows []models.Row) ([]models.Row, error) {
		for i, r := range rows {
			if r.ID() == op.ID {
				rows[i]["id"] = string(remoteID)
			}
		}
		return rows, nil
	})
}

// Status reports the queue length, the last successful pass and the dead-letter count
func (e *Engine) Status(ctx context.Context) (models.SyncStatus, error) {
	var status models.SyncStatus

	pending, err := e.queue.Len(ctx)
	if err != nil {
		return status, err
	}
	status.Pending = pending

	dead, err := e.queue.DeadLetters(ctx)
	if err != nil {
		return status, err
	}
	status.DeadLetters = len(dead)

	var last string
	found, err := e.store.Get(ctx, localstore.KeyLastSync, &last)
	if err != nil {
		return status, err
	}
	if found {
		if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
			status.LastSync = &t
		}
	}
	return status, nil
}

// RefreshAll refreshes every table's cache for a user in parallel
func (e *Engine) RefreshAll(ctx context.Context, userID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, t := range models.Tables() {
		table := t.Name
		g.Go(func() error {
			if err := e.RefreshTable(gctx, userID, table); err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// RefreshTable overwrites a table's cache with the remote rows, keeping local records the remote
// does not know yet and local edits still waiting in the queue
func (e *Engine) RefreshTable(ctx context.Context, userID, tableName string) error {
	table, err := models.LookupTable(tableName)
	if err != nil {
		return err
	}
	if table.UserScoped && userID == "" {
		return models.ErrMissingUserID
	}

	ctx, span := observability.StartServiceSpan(ctx, "syncengine", "refresh")
	defer span.End()
	span.SetAttributes(observability.Table(tableName), observability.UserID(userID))

	if table.SingleRow {
		return e.refreshSingle(ctx, table, userID)
	}

	q := remote.Query{Order: table.OrderBy}
	if table.UserScoped {
		q.Eq = map[string]any{"user_id": userID}
	}
	remoteRows, err := e.remote.Select(ctx, table.Name, q)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	// the queue is read in the same transaction as the cache so a write landing after the select
	// is still seen as pending
	err = e.store.Batch(ctx, []string{table.CacheKey, localstore.KeyPendingSync}, func(b *localstore.Batch) error {
		ops, err := localstore.BatchList[models.PendingOperation](b, localstore.KeyPendingSync)
		if err != nil {
			return err
		}
		local, err := localstore.BatchList[models.Row](b, table.CacheKey)
		if err != nil {
			return err
		}
		return b.Set(table.CacheKey, mergeRows(table, userID, remoteRows, local, pendingIn(table, userID, ops)))
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	observability.SetSuccess(span)
	return nil
}

func (e *Engine) refreshSingle(ctx context.Context, table models.Table, userID string) error {
	row, err := e.remote.SelectSingle(ctx, table.Name, remote.Query{Eq: map[string]any{"user_id": userID}})
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return e.store.Batch(ctx, []string{table.CacheKey, localstore.KeyPendingSync}, func(b *localstore.Batch) error {
		ops, err := localstore.BatchList[models.PendingOperation](b, localstore.KeyPendingSync)
		if err != nil {
			return err
		}
		var local models.Row
		if _, err := b.Get(table.CacheKey, &local); err != nil {
			return err
		}
		if local != nil && local.UserID() == userID && pendingIn(table, userID, ops).touches(table.KeyOf(local)) {
			return nil
		}
		return b.Set(table.CacheKey, row)
	})
}

// pendingSet indexes a user's queued operations on one table by natural key
type pendingSet struct {
	changed map[string]bool
	deleted map[string]bool
}

func (p pendingSet) touches(key models.NaturalKey) bool {
	return p.changed[key.String()] || p.deleted[key.String()]
}

func pendingIn(table models.Table, userID string, ops []models.PendingOperation) pendingSet {
	set := pendingSet{changed: map[string]bool{}, deleted: map[string]bool{}}
	for _, op := range ops {
		if op.Table != table.Name || (table.UserScoped && op.Data.UserID() != userID) {
			continue
		}
		key := table.KeyOf(op.Data).String()
		if op.Operation == models.OpDelete {
			set.deleted[key] = true
		} else {
			set.changed[key] = true
		}
	}
	return set
}

// mergeRows combines a user's remote rows with the local cache. Other users' local rows are kept;
// queued local edits win over the remote copy (keeping the remote id); rows with a queued delete are
// dropped; local rows with a temporary id the remote does not have yet are appended.
func mergeRows(table models.Table, userID string, remoteRows, local []models.Row, pending pendingSet) []models.Row {
	if !table.UserScoped {
		return remoteRows
	}

	localByKey := make(map[string]models.Row)
	var others []models.Row
	for _, r := range local {
		if r.UserID() != userID {
			others = append(others, r)
			continue
		}
		localByKey[table.KeyOf(r).String()] = r
	}

	merged := make([]models.Row, 0, len(remoteRows)+len(localByKey))
	seen := make(map[string]bool, len(remoteRows))
	for _, r := range remoteRows {
		key := table.KeyOf(r).String()
		seen[key] = true
		if pending.deleted[key] {
			continue
		}
		if l, ok := localByKey[key]; ok && pending.changed[key] {
			r = l.Merge(models.Row{"id": r["id"]})
		}
		merged = append(merged, r)
	}
	for key, l := range localByKey {
		if !seen[key] && l.ID().IsTemp() {
			merged = append(merged, l)
		}
	}

	if table.OrderBy != "" {
		models.SortRows(merged, table.OrderBy)
	}
	return append(others, merged...)
}
