// Package gapjournal keeps fills that executed on the exchange but could not
// be written to the database, so a later sync can store them.
package gapjournal

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"
)

const (
	DefaultDir     = "./wal/gaps"
	segmentLimit   = 1000
	maxSegments    = 100
	dirPermissions = 0o755

	gapKeyPrefix = "gap_"

	StatusPending  = "pending"
	StatusResolved = "resolved"
)

// Entry one unrecorded fill.
type Entry struct {
	ID          string                   `json:"id"`
	Status      string                   `json:"status"`
	Transaction domain.WalletTransaction `json:"transaction"`
	Reason      string                   `json:"reason,omitempty"`
	RecordedAt  time.Time                `json:"recorded_at"`
	ResolvedAt  *time.Time               `json:"resolved_at,omitempty"`
}

// Journal WAL backed gap journal. The latest record of an entry wins on replay.
type Journal struct {
	wal    *gowal.Wal
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// Open opens or creates the journal in dir and replays it.
func Open(dir string, logger *zap.Logger) (*Journal, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure journal directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "gap_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init gap journal WAL")
	}

	j := &Journal{wal: wal, logger: logger, entries: make(map[string]*Entry)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, gapKeyPrefix) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			logger.Error("failed to unmarshal gap entry", zap.Error(err), zap.String("key", msg.Key))
			continue
		}
		j.entries[e.ID] = &e
	}

	return j, nil
}

// Record stores tx as a pending gap.
func (j *Journal) Record(tx domain.WalletTransaction, cause error) (Entry, error) {
	e := &Entry{
		ID:          uuid.New().String(),
		Status:      StatusPending,
		Transaction: tx,
		RecordedAt:  time.Now().UTC(),
	}
	if cause != nil {
		e.Reason = cause.Error()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(e); err != nil {
		return Entry{}, err
	}
	j.entries[e.ID] = e
	return *e, nil
}

// Pending unresolved entries of userID, oldest first.
func (j *Journal) Pending(userID string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Entry
	for _, e := range j.entries {
		if e.Status == StatusPending && e.Transaction.UserID == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RecordedAt.Before(out[b].RecordedAt) })
	return out
}

// Resolve marks an entry as stored. Resolving twice is a no-op.
func (j *Journal) Resolve(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[id]
	if !ok {
		return errors.Errorf("gap entry %s not found", id)
	}
	if e.Status == StatusResolved {
		return nil
	}

	resolved := *e
	now := time.Now().UTC()
	resolved.Status = StatusResolved
	resolved.ResolvedAt = &now
	if err := j.persist(&resolved); err != nil {
		return err
	}
	j.entries[id] = &resolved
	return nil
}

func (j *Journal) persist(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal gap entry")
	}
	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, gapKeyPrefix+e.ID, data)
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}
