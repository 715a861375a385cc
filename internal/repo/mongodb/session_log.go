package mongodb

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// SessionLogRepository keeps the system notices of live sessions: who
// joined, who left.
type SessionLogRepository interface {
	Append(ctx context.Context, entry models.SessionLogEntry) (models.SessionLogEntry, error)
	ListBySession(ctx context.Context, sessionID string, limit, skip int64) (*Page[models.SessionLogEntry], error)
}

type sessionLogRepo struct {
	logs collection[models.SessionLogEntry]
}

func NewSessionLogRepository(db *DB) SessionLogRepository {
	return &sessionLogRepo{logs: collectionOf[models.SessionLogEntry](db.Database)}
}

func (r *sessionLogRepo) Append(ctx context.Context, entry models.SessionLogEntry) (models.SessionLogEntry, error) {
	stamp(&entry, time.Now())
	if err := r.logs.insert(ctx, entry); err != nil {
		return entry, fmt.Errorf("append session log: %w", err)
	}
	return entry, nil
}

func (r *sessionLogRepo) ListBySession(ctx context.Context, sessionID string, limit, skip int64) (*Page[models.SessionLogEntry], error) {
	sort := bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	res, err := r.logs.page(ctx, bson.M{"session_id": sessionID}, sort, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list session logs: %w", err)
	}
	return res, nil
}

// memorySessionLogRepo serves when no database is configured. Entries live
// for the lifetime of the process.
type memorySessionLogRepo struct {
	mu      sync.Mutex
	entries []models.SessionLogEntry
}

func NewMemorySessionLogRepository() SessionLogRepository {
	return &memorySessionLogRepo{}
}

func (r *memorySessionLogRepo) Append(ctx context.Context, entry models.SessionLogEntry) (models.SessionLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return entry, err
	}
	stamp(&entry, time.Now())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *memorySessionLogRepo) ListBySession(ctx context.Context, sessionID string, limit, skip int64) (*Page[models.SessionLogEntry], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	matched := slices.DeleteFunc(slices.Clone(r.entries), func(e models.SessionLogEntry) bool {
		return e.SessionID != sessionID
	})
	r.mu.Unlock()

	res := &Page[models.SessionLogEntry]{Total: int64(len(matched)), Data: []models.SessionLogEntry{}}
	if skip >= int64(len(matched)) {
		return res, nil
	}
	matched = matched[skip:]
	if limit > 0 && limit < int64(len(matched)) {
		matched = matched[:limit]
	}
	res.Data = matched
	return res, nil
}

// stamp assigns the id client side so both stores return it without a
// round trip.
func stamp(e *models.SessionLogEntry, now time.Time) {
	e.ID = models.NewObjectID(now)
	e.CreatedAt = now
	e.UpdatedAt = now
}
