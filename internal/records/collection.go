package records

import (
	"context"
	"errors"

	"github.com/zene/zenesync/internal/connectivity"
	"github.com/zene/zenesync/internal/localstore"
	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/queue"
	"github.com/zene/zenesync/internal/remote"
	"github.com/zene/zenesync/internal/syncengine"
)

// deps are shared by every collection
type deps struct {
	store  *localstore.Store
	queue  *queue.Queue
	engine *syncengine.Engine
	remote remote.Backend
	probe  connectivity.Prober
	logger *observability.Logger
}

// ReadOptions tunes a list read
type ReadOptions struct {
	// LocalOnly skips the remote and answers from the cache
	LocalOnly bool
}

// Collection implements the write, read and mutate paths for one table, converting rows to T
type Collection[T any] struct {
	*deps
	table models.Table
}

func newCollection[T any](d *deps, name string) *Collection[T] {
	table, err := models.LookupTable(name)
	if err != nil {
		panic("records: unknown table " + name)
	}
	return &Collection[T]{deps: d, table: table}
}

// Save writes rec locally, then remotely when reachable; otherwise the create is queued.
// The returned record is the best known version: remote-confirmed when the write went through.
func (c *Collection[T]) Save(ctx context.Context, rec T) (T, error) {
	ctx, span := observability.StartServiceSpan(ctx, "records", "save")
	defer span.End()
	span.SetAttributes(observability.Table(c.table.Name))

	row, err := models.ToRow(rec)
	if err != nil {
		return rec, err
	}
	if c.table.ReadOnly {
		return rec, models.ErrReadOnlyTable
	}
	if row.UserID() == "" {
		c.logger.WithField("table", c.table.Name).Warn("Rejected write without user_id")
		return rec, models.ErrMissingUserID
	}
	if !c.table.KeyOf(row).Complete() {
		return rec, models.ErrIncompleteKey
	}
	if row.ID().IsZero() {
		row["id"] = string(models.NewTempID())
	}
	id := row.ID()

	if err := c.putLocal(ctx, row); err != nil {
		observability.RecordError(span, err)
		return rec, err
	}

	if c.probe.Reachable(ctx) {
		rows, err := c.remote.Upsert(ctx, c.table.Name, row.WithoutTempID(), c.table.NaturalKey)
		if err == nil && len(rows) > 0 {
			confirmed := rows[0]
			if err := c.replaceLocal(ctx, id, confirmed); err != nil {
				c.logger.Warnf("Failed to cache confirmed %s: %v", c.table.Name, err)
			}
			observability.SetSuccess(span)
			return models.FromRow[T](confirmed)
		}
		c.logger.WithContext(ctx).WithField("table", c.table.Name).Warnf("Remote write failed, queueing: %v", err)
	}

	op := models.NewPendingOperation(models.OpCreate, c.table.Name, id, row.WithoutTempID())
	if err := c.queue.Enqueue(ctx, op); err != nil {
		observability.RecordError(span, err)
		return rec, err
	}
	c.trigger(ctx)

	best, found, err := c.findLocalByKey(ctx, c.table.KeyOf(row))
	if err != nil || !found {
		best = row
	}
	return models.FromRow[T](best)
}

// List returns a user's records: refreshed from the remote when reachable, from the cache otherwise
func (c *Collection[T]) List(ctx context.Context, userID string, opts ReadOptions) ([]T, error) {
	if c.table.UserScoped && userID == "" {
		return []T{}, models.ErrMissingUserID
	}

	if !opts.LocalOnly && c.probe.Reachable(ctx) {
		if err := c.engine.RefreshTable(ctx, userID, c.table.Name); err != nil {
			c.logger.WithContext(ctx).WithField("table", c.table.Name).Warnf("Remote read failed, using cache: %v", err)
		}
	}

	rows, err := c.localRows(ctx, userID)
	if err != nil {
		// the cache is the last resort; an unreadable cache reads as empty
		return []T{}, nil
	}
	return convert[T](rows)
}

// Get returns the single record of a single-row table, refreshed when reachable
func (c *Collection[T]) Get(ctx context.Context, userID string) (T, bool, error) {
	var zero T
	if userID == "" {
		return zero, false, models.ErrMissingUserID
	}
	if c.probe.Reachable(ctx) {
		if err := c.engine.RefreshTable(ctx, userID, c.table.Name); err != nil {
			c.logger.WithField("table", c.table.Name).Warnf("Remote read failed, using cache: %v", err)
		}
	}

	var row models.Row
	found, err := c.store.Get(ctx, c.table.CacheKey, &row)
	if err != nil || !found || row.UserID() != userID {
		return zero, false, nil
	}
	rec, err := models.FromRow[T](row)
	return rec, err == nil, err
}

// Find returns a cached record by id
func (c *Collection[T]) Find(ctx context.Context, userID string, id models.RecordID) (T, bool, error) {
	var zero T
	row, found, err := c.findLocal(ctx, userID, id)
	if err != nil || !found {
		return zero, false, err
	}
	rec, err := models.FromRow[T](row)
	return rec, err == nil, err
}

// Update applies changes to a cached record. A record the remote has never seen is changed locally
// and its queued create amended; otherwise the update is queued by natural key and the engine runs.
func (c *Collection[T]) Update(ctx context.Context, userID string, id models.RecordID, changes models.Row) (T, error) {
	var zero T
	if userID == "" {
		return zero, models.ErrMissingUserID
	}
	if c.table.ReadOnly {
		return zero, models.ErrReadOnlyTable
	}

	current, found, err := c.findLocal(ctx, userID, id)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, models.ErrRecordNotFound
	}

	changes = changes.WithoutID()
	for _, f := range c.table.NaturalKey {
		if v, ok := changes[f]; ok && models.IDFromValue(v) != models.IDFromValue(current[f]) {
			return zero, models.ErrImmutableField
		}
	}

	updated := current.Merge(changes)

	// queue before caching: a concurrent refresh keeps cached rows with queued changes
	identity := c.table.IdentityOf(current)
	switch identity.Kind {
	case models.IdentityPending:
		amended, err := c.queue.Amend(ctx, c.table.Name, id, func(data models.Row) models.Row {
			return data.Merge(changes)
		})
		if err != nil {
			return zero, err
		}
		if !amended {
			c.logger.WithFields(map[string]interface{}{
				"table": c.table.Name,
				"id":    id,
			}).Warn("Record was never queued for creation, change kept locally only")
		}
	case models.IdentityResolved:
		op := models.NewPendingOperation(models.OpUpdate, c.table.Name, identity.RemoteID, updated)
		if err := c.queue.Enqueue(ctx, op); err != nil {
			return zero, err
		}
	}
	if err := c.putLocal(ctx, updated); err != nil {
		return zero, err
	}
	c.trigger(ctx)

	best, found, err := c.findLocalByKey(ctx, identity.Key)
	if err != nil || !found {
		best = updated
	}
	return models.FromRow[T](best)
}

// Delete removes a cached record. A record the remote has never seen only loses its queued create.
func (c *Collection[T]) Delete(ctx context.Context, userID string, id models.RecordID) error {
	if userID == "" {
		return models.ErrMissingUserID
	}
	if c.table.ReadOnly {
		return models.ErrReadOnlyTable
	}

	current, found, err := c.findLocal(ctx, userID, id)
	if err != nil {
		return err
	}
	if !found {
		if id.IsTemp() {
			_, err := c.queue.Discard(ctx, c.table.Name, id)
			return err
		}
		return models.ErrRecordNotFound
	}

	identity := c.table.IdentityOf(current)
	if !identity.Resolved() {
		if _, err := c.queue.Discard(ctx, c.table.Name, id); err != nil {
			return err
		}
		return c.removeLocal(ctx, id)
	}

	op := models.NewPendingOperation(models.OpDelete, c.table.Name, identity.RemoteID, current)
	if err := c.queue.Enqueue(ctx, op); err != nil {
		return err
	}
	if err := c.removeLocal(ctx, id); err != nil {
		return err
	}
	c.trigger(ctx)
	return nil
}

// HasPending reports whether any queued operation touches the user's records in this table
func (c *Collection[T]) HasPending(ctx context.Context, userID string) (bool, error) {
	ops, err := c.queue.Drain(ctx)
	if err != nil {
		return false, err
	}
	for _, op := range ops {
		if op.Table == c.table.Name && op.Data.UserID() == userID {
			return true, nil
		}
	}
	return false, nil
}

// trigger runs a sync pass; its failures are the engine's to retry
func (c *Collection[T]) trigger(ctx context.Context) {
	if _, err := c.engine.Sync(ctx); err != nil {
		c.logger.Warnf("Sync after %s write failed: %v", c.table.Name, err)
	}
}

func (c *Collection[T]) localRows(ctx context.Context, userID string) ([]models.Row, error) {
	if c.table.SingleRow {
		var row models.Row
		found, err := c.store.Get(ctx, c.table.CacheKey, &row)
		if err != nil || !found || row.UserID() != userID {
			return []models.Row{}, err
		}
		return []models.Row{row}, nil
	}

	rows, err := localstore.GetList[models.Row](ctx, c.store, c.table.CacheKey)
	if err != nil {
		return nil, err
	}
	if !c.table.UserScoped {
		return rows, nil
	}
	out := make([]models.Row, 0, len(rows))
	for _, r := range rows {
		if r.UserID() == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Collection[T]) findLocal(ctx context.Context, userID string, id models.RecordID) (models.Row, bool, error) {
	rows, err := c.localRows(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	for _, r := range rows {
		if r.ID() == id {
			return r, true, nil
		}
	}
	return nil, false, nil
}

func (c *Collection[T]) findLocalByKey(ctx context.Context, key models.NaturalKey) (models.Row, bool, error) {
	userID, _ := key.Match()["user_id"].(string)
	rows, err := c.localRows(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	for _, r := range rows {
		if c.table.KeyOf(r).Equal(key) {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// putLocal stores row, replacing the cached row with the same id or, failing that, the same natural key
func (c *Collection[T]) putLocal(ctx context.Context, row models.Row) error {
	if c.table.SingleRow {
		return c.store.Set(ctx, c.table.CacheKey, row)
	}
	key := c.table.KeyOf(row)
	return localstore.UpdateList(ctx, c.store, c.table.CacheKey, func(rows []models.Row) ([]models.Row, error) {
		for i, r := range rows {
			if r.ID() == row.ID() || c.table.KeyOf(r).Equal(key) {
				rows[i] = row
				return rows, nil
			}
		}
		return append(rows, row), nil
	})
}

// replaceLocal swaps the cached row stored under id for the remote-confirmed row
func (c *Collection[T]) replaceLocal(ctx context.Context, id models.RecordID, confirmed models.Row) error {
	if c.table.SingleRow {
		return c.store.Set(ctx, c.table.CacheKey, confirmed)
	}
	return localstore.UpdateList(ctx, c.store, c.table.CacheKey, func(rows []models.Row) ([]models.Row, error) {
		for i, r := range rows {
			if r.ID() == id {
				rows[i] = confirmed
				return rows, nil
			}
		}
		return append(rows, confirmed), nil
	})
}

func (c *Collection[T]) removeLocal(ctx context.Context, id models.RecordID) error {
	if c.table.SingleRow {
		return c.store.Remove(ctx, c.table.CacheKey)
	}
	return localstore.UpdateList(ctx, c.store, c.table.CacheKey, func(rows []models.Row) ([]models.Row, error) {
		kept := rows[:0]
		for _, r := range rows {
			if r.ID() != id {
				kept = append(kept, r)
			}
		}
		return kept, nil
	})
}

func convert[T any](rows []models.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	var errs []error
	for _, r := range rows {
		rec, err := models.FromRow[T](r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}
