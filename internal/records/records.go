// Package records is the application-facing surface for wellness records. Writes land in the
// local cache first and reach the remote directly when reachable or through the sync queue
// otherwise; reads prefer the remote and fall back to the cache.
package records

import (
	"context"
	"time"

	"github.com/zene/zenesync/internal/connectivity"
	"github.com/zene/zenesync/internal/localstore"
	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/remote"
	"github.com/zene/zenesync/internal/syncengine"
)

// Records exposes one facade per record type
type Records struct {
	deps *deps
	now  func() time.Time

	meditation *Collection[models.MeditationSession]
	work       *Collection[models.WorkSession]
	journal    *Collection[models.JournalLog]
	goals      *Collection[models.Goal]
	bookStatus *Collection[models.UserBookStatus]
	books      *Collection[models.BookSummary]
	voice      *Collection[models.VoiceMessage]
	prefs      *Collection[models.UserPrefs]
}

// New wires the facades onto a store, an engine (and its queue), a backend and a probe
func New(store *localstore.Store, engine *syncengine.Engine, backend remote.Backend, probe connectivity.Prober) *Records {
	d := &deps{
		store:  store,
		queue:  engine.Queue(),
		engine: engine,
		remote: backend,
		probe:  probe,
		logger: observability.GetLogger().WithField("component", "records"),
	}
	return &Records{
		deps:       d,
		now:        time.Now,
		meditation: newCollection[models.MeditationSession](d, models.TableMeditationSessions),
		work:       newCollection[models.WorkSession](d, models.TableWorkSessions),
		journal:    newCollection[models.JournalLog](d, models.TableJournalLogs),
		goals:      newCollection[models.Goal](d, models.TableGoals),
		bookStatus: newCollection[models.UserBookStatus](d, models.TableUserBookStatus),
		books:      newCollection[models.BookSummary](d, models.TableBookSummaries),
		voice:      newCollection[models.VoiceMessage](d, models.TableVoiceMessages),
		prefs:      newCollection[models.UserPrefs](d, models.TableUserPrefs),
	}
}

// SyncStatus reports pending operations, dead letters and the last successful sync
func (r *Records) SyncStatus(ctx context.Context) (models.SyncStatus, error) {
	return r.deps.engine.Status(ctx)
}

// ForceSync drains the queue now; with a user id every cache is then refreshed for that user
func (r *Records) ForceSync(ctx context.Context, userID string) (*syncengine.Result, error) {
	return r.deps.engine.ForceSync(ctx, userID)
}

func (r *Records) stamp(ts string) string {
	if ts != "" {
		return ts
	}
	return models.Timestamp(r.now())
}
