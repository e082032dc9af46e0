// Package queue holds the durable list of mutations waiting to be replayed against the remote backend.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zene/zenesync/internal/localstore"
	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
)

// Queue is the pending operation queue. At most one operation is held per (table, id):
// later mutations of the same record are folded into the queued one.
type Queue struct {
	store  *localstore.Store
	policy Policy
	logger *observability.Logger
}

// New creates a queue persisted in store under the pending_sync key
func New(store *localstore.Store, policy Policy) *Queue {
	return &Queue{
		store:  store,
		policy: policy,
		logger: observability.GetLogger().WithField("component", "queue"),
	}
}

// Enqueue appends op, coalescing it with a queued operation on the same record
func (q *Queue) Enqueue(ctx context.Context, op models.PendingOperation) error {
	if op.Timestamp == 0 {
		op.Timestamp = time.Now().UnixMilli()
	}

	return q.update(ctx, func(ops []models.PendingOperation) ([]models.PendingOperation, error) {
		return q.fold(ops, op), nil
	})
}

// fold adds op to ops, merging it into the queued operation on the same record
func (q *Queue) fold(ops []models.PendingOperation, op models.PendingOperation) []models.PendingOperation {
	for i, existing := range ops {
		if existing.Ref() != op.Ref() {
			continue
		}
		merged, keep := coalesce(existing, op)
		if !keep {
			q.logger.WithFields(map[string]interface{}{
				"table": op.Table,
				"id":    op.ID,
			}).Debug("Delete cancels queued create")
			return append(ops[:i], ops[i+1:]...)
		}
		ops[i] = merged
		return ops
	}
	return append(ops, op)
}

// coalesce folds next into prev. keep is false when the two cancel out.
func coalesce(prev, next models.PendingOperation) (merged models.PendingOperation, keep bool) {
	switch {
	case prev.Operation == models.OpCreate && next.Operation == models.OpDelete:
		return models.PendingOperation{}, false
	case prev.Operation == models.OpCreate:
		prev.Data = prev.Data.Merge(next.Data.WithoutTempID())
		return resetRetry(prev), true
	case prev.Operation == models.OpUpdate && next.Operation == models.OpUpdate:
		prev.Data = prev.Data.Merge(next.Data)
		return resetRetry(prev), true
	default:
		next.Revision = prev.Revision
		return resetRetry(next), true
	}
}

func resetRetry(op models.PendingOperation) models.PendingOperation {
	op.Revision++
	op.Attempts = 0
	op.NextAttemptAt = 0
	op.LastError = ""
	return op
}

// Drain returns every queued operation in enqueue order without removing any
func (q *Queue) Drain(ctx context.Context) ([]models.PendingOperation, error) {
	return localstore.GetList[models.PendingOperation](ctx, q.store, localstore.KeyPendingSync)
}

// Ready returns the queued operations whose retry backoff has elapsed, in enqueue order, and how
// many are still waiting
func (q *Queue) Ready(ctx context.Context, now time.Time) (ready []models.PendingOperation, waiting int, err error) {
	ops, err := q.Drain(ctx)
	if err != nil {
		return nil, 0, err
	}
	ready = make([]models.PendingOperation, 0, len(ops))
	for _, op := range ops {
		if op.Ready(now) {
			ready = append(ready, op)
		}
	}
	return ready, len(ops) - len(ready), nil
}

// Len returns the number of queued operations
func (q *Queue) Len(ctx context.Context) (int, error) {
	ops, err := q.Drain(ctx)
	return len(ops), err
}

// Find returns the queued operation for a record
func (q *Queue) Find(ctx context.Context, table string, id models.RecordID) (models.PendingOperation, bool, error) {
	ops, err := q.Drain(ctx)
	if err != nil {
		return models.PendingOperation{}, false, err
	}
	ref := models.OpRef{Table: table, ID: id}
	for _, op := range ops {
		if op.Ref() == ref {
			return op, true, nil
		}
	}
	return models.PendingOperation{}, false, nil
}

// Remove drops the referenced operations in a single rewrite
func (q *Queue) Remove(ctx context.Context, refs []models.OpRef) error {
	if len(refs) == 0 {
		return nil
	}
	drop := make(map[models.OpRef]bool, len(refs))
	for _, r := range refs {
		drop[r] = true
	}
	return q.update(ctx, func(ops []models.PendingOperation) ([]models.PendingOperation, error) {
		kept := ops[:0]
		for _, op := range ops {
			if !drop[op.Ref()] {
				kept = append(kept, op)
			}
		}
		return kept, nil
	})
}

// Acknowledge removes replayed operations in a single rewrite. An operation whose queued copy was
// amended after it was read keeps its place so the newer data is replayed too.
func (q *Queue) Acknowledge(ctx context.Context, replayed []models.PendingOperation) error {
	if len(replayed) == 0 {
		return nil
	}
	seen := make(map[models.OpRef]int, len(replayed))
	for _, op := range replayed {
		seen[op.Ref()] = op.Revision
	}
	return q.update(ctx, func(ops []models.PendingOperation) ([]models.PendingOperation, error) {
		kept := ops[:0]
		for _, op := range ops {
			if rev, ok := seen[op.Ref()]; ok && rev == op.Revision {
				continue
			}
			kept = append(kept, op)
		}
		return kept, nil
	})
}

// Amend rewrites the data of a create that never reached the remote, whether it is still queued or
// was dead-lettered. It reports false when no such create exists.
func (q *Queue) Amend(ctx context.Context, table string, id models.RecordID, fn func(models.Row) models.Row) (bool, error) {
	amended := false
	ref := models.OpRef{Table: table, ID: id}
	err := q.batch(ctx, func(pending, dead []models.PendingOperation) ([]models.PendingOperation, []models.PendingOperation, error) {
		for i, op := range pending {
			if op.Ref() == ref && op.Operation == models.OpCreate {
				pending[i].Data = fn(op.Data.Clone())
				pending[i] = resetRetry(pending[i])
				amended = true
				return pending, dead, nil
			}
		}
		for i, op := range dead {
			if op.Ref() == ref && op.Operation == models.OpCreate {
				dead[i].Data = fn(op.Data.Clone())
				dead[i].Revision++
				amended = true
				break
			}
		}
		return pending, dead, nil
	})
	return amended, err
}

// Discard drops whatever is queued or dead-lettered for a record. It reports whether anything was dropped.
func (q *Queue) Discard(ctx context.Context, table string, id models.RecordID) (bool, error) {
	discarded := false
	ref := models.OpRef{Table: table, ID: id}
	drop := func(ops []models.PendingOperation) []models.PendingOperation {
		kept := ops[:0]
		for _, op := range ops {
			if op.Ref() == ref {
				discarded = true
				continue
			}
			kept = append(kept, op)
		}
		return kept
	}
	err := q.batch(ctx, func(pending, dead []models.PendingOperation) ([]models.PendingOperation, []models.PendingOperation, error) {
		return drop(pending), drop(dead), nil
	})
	return discarded, err
}

// Sanitize drops operations that can never be replayed: no id, unknown kind or table, no user_id
// in the payload, or an update/delete aimed at a temporary id. It returns how many were dropped.
func (q *Queue) Sanitize(ctx context.Context) (int, error) {
	dropped := 0
	err := q.update(ctx, func(ops []models.PendingOperation) ([]models.PendingOperation, error) {
		kept := ops[:0]
		for _, op := range ops {
			if err := op.Validate(); err != nil {
				q.logger.WithFields(map[string]interface{}{
					"table":     op.Table,
					"id":        op.ID,
					"operation": op.Operation,
				}).Warnf("Dropping invalid pending operation: %v", err)
				dropped++
				continue
			}
			kept = append(kept, op)
		}
		return kept, nil
	})
	return dropped, err
}

// MarkFailed records a failed replay. The operation is rescheduled with backoff or, once the policy
// is exhausted or cause says a retry cannot succeed, moved to the dead-letter list; deadLettered
// reports which.
func (q *Queue) MarkFailed(ctx context.Context, ref models.OpRef, cause error, now time.Time) (deadLettered bool, err error) {
	var failed models.PendingOperation
	err = q.batch(ctx, func(pending, dead []models.PendingOperation) ([]models.PendingOperation, []models.PendingOperation, error) {
		for i := range pending {
			if pending[i].Ref() != ref {
				continue
			}
			op := pending[i]
			op.Attempts++
			if cause != nil {
				op.LastError = cause.Error()
			}
			failed = op

			if q.policy.Exhausted(op.Attempts) || !retryable(cause) {
				deadLettered = true
				return append(pending[:i], pending[i+1:]...), append(dead, op), nil
			}
			op.NextAttemptAt = now.Add(q.policy.Delay(op.Attempts)).UnixMilli()
			pending[i] = op
			break
		}
		return pending, dead, nil
	})
	if err != nil {
		return false, err
	}

	if deadLettered {
		q.logger.WithFields(map[string]interface{}{
			"table":     failed.Table,
			"id":        failed.ID,
			"operation": failed.Operation,
			"attempts":  failed.Attempts,
		}).Errorf("Giving up on pending operation: %s", failed.LastError)
	}
	return deadLettered, nil
}

// temporary is implemented by errors that know whether repeating the request can succeed
type temporary interface {
	Temporary() bool
}

func retryable(err error) bool {
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// DeadLetters returns the operations given up on
func (q *Queue) DeadLetters(ctx context.Context) ([]models.PendingOperation, error) {
	return localstore.GetList[models.PendingOperation](ctx, q.store, localstore.KeyDeadLetters)
}

// RetryDeadLetters moves every dead letter back onto the queue with a fresh retry budget. A dead
// letter is older than anything queued for the same record, so queued changes are folded into it.
func (q *Queue) RetryDeadLetters(ctx context.Context) (int, error) {
	revived := 0
	err := q.batch(ctx, func(pending, dead []models.PendingOperation) ([]models.PendingOperation, []models.PendingOperation, error) {
		revived = len(dead)
		for _, op := range dead {
			op = resetRetry(op)
			placed := false
			for i, existing := range pending {
				if existing.Ref() != op.Ref() {
					continue
				}
				pending = append(pending[:i], pending[i+1:]...)
				pending = q.fold(pending, op)
				pending = q.fold(pending, existing)
				placed = true
				break
			}
			if !placed {
				pending = append(pending, op)
			}
		}
		return pending, nil, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to requeue dead letters: %w", err)
	}
	return revived, nil
}

// DiscardDeadLetters empties the dead-letter list
func (q *Queue) DiscardDeadLetters(ctx context.Context) (int, error) {
	dead, err := q.DeadLetters(ctx)
	if err != nil {
		return 0, err
	}
	if err := q.store.Remove(ctx, localstore.KeyDeadLetters); err != nil {
		return 0, err
	}
	return len(dead), nil
}

// batch applies fn to the queue and the dead-letter list in one transaction
func (q *Queue) batch(ctx context.Context, fn func(pending, dead []models.PendingOperation) ([]models.PendingOperation, []models.PendingOperation, error)) error {
	return q.store.Batch(ctx, []string{localstore.KeyPendingSync, localstore.KeyDeadLetters}, func(b *localstore.Batch) error {
		pending, err := localstore.BatchList[models.PendingOperation](b, localstore.KeyPendingSync)
		if err != nil {
			return err
		}
		dead, err := localstore.BatchList[models.PendingOperation](b, localstore.KeyDeadLetters)
		if err != nil {
			return err
		}
		pending, dead, err = fn(pending, dead)
		if err != nil {
			return err
		}
		if pending == nil {
			pending = []models.PendingOperation{}
		}
		if dead == nil {
			dead = []models.PendingOperation{}
		}
		if err := b.Set(localstore.KeyPendingSync, pending); err != nil {
			return err
		}
		return b.Set(localstore.KeyDeadLetters, dead)
	})
}

func (q *Queue) update(ctx context.Context, fn func([]models.PendingOperation) ([]models.PendingOperation, error)) error {
	return localstore.UpdateList(ctx, q.store, localstore.KeyPendingSync, fn)
}
