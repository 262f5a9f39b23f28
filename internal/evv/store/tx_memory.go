package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"evv/internal/evv/models"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
)

// numVisitShards spreads per-visit locks so unrelated visits rarely contend.
const numVisitShards = 128

const defaultTxTimeout = 5 * time.Second

// ShardedTx serializes in-memory work per key using a fixed set of mutexes
// selected by FNV-1a hash.
//
// Record and time entry writes made inside a callback are undone when the
// callback fails. Geofence counter deltas are held back and applied only on
// success. A geofence registered during a failed callback is kept: it
// depends on the address alone and a concurrent visit may already use it.
type ShardedTx struct {
	shards    [numVisitShards]sync.Mutex
	records   *MemoryRecordStore
	entries   *MemoryTimeEntryStore
	geofences *MemoryGeofenceStore
	timeout   time.Duration
}

func NewShardedTx(records *MemoryRecordStore, entries *MemoryTimeEntryStore, geofences *MemoryGeofenceStore) *ShardedTx {
	return &ShardedTx{
		records:   records,
		entries:   entries,
		geofences: geofences,
		timeout:   defaultTxTimeout,
	}
}

// NewMemoryStores builds a full set of in-memory stores and their runner.
func NewMemoryStores() (Stores, *ShardedTx) {
	records := NewMemoryRecordStore()
	entries := NewMemoryTimeEntryStore()
	geofences := NewMemoryGeofenceStore()
	stores := Stores{
		Records:   records,
		Entries:   entries,
		Geofences: geofences,
	}
	return stores, NewShardedTx(records, entries, geofences)
}

func (t *ShardedTx) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, stores Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := &t.shards[shardFor(key)]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	j := &journal{}
	stores := Stores{
		Records:   &journaledRecords{MemoryRecordStore: t.records, j: j},
		Entries:   &journaledEntries{MemoryTimeEntryStore: t.entries, j: j},
		Geofences: &journaledGeofences{MemoryGeofenceStore: t.geofences, j: j},
	}
	if err := fn(ctx, stores); err != nil {
		j.rollback()
		return err
	}
	j.commit(t.geofences)
	return nil
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % numVisitShards
}

type pendingDelta struct {
	geofenceID id.GeofenceID
	delta      models.VerificationDelta
	at         time.Time
}

// journal collects the undo steps and deferred counter updates of one callback.
type journal struct {
	undo   []func()
	deltas []pendingDelta
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo, j.deltas = nil, nil
}

func (j *journal) commit(geofences *MemoryGeofenceStore) {
	for _, d := range j.deltas {
		_, _ = geofences.RecordVerification(context.Background(), d.geofenceID, d.delta, d.at)
	}
	j.undo, j.deltas = nil, nil
}

type journaledRecords struct {
	*MemoryRecordStore
	j *journal
}

func (s *journaledRecords) Create(ctx context.Context, record *models.EVVRecord) error {
	if err := s.MemoryRecordStore.Create(ctx, record); err != nil {
		return err
	}
	s.j.undo = append(s.j.undo, func() { s.remove(record.ID) })
	return nil
}

func (s *journaledRecords) Update(ctx context.Context, record *models.EVVRecord) error {
	prev, err := s.FindByID(ctx, record.ID)
	if err != nil {
		return err
	}
	if err := s.MemoryRecordStore.Update(ctx, record); err != nil {
		return err
	}
	s.j.undo = append(s.j.undo, func() { s.restore(prev) })
	return nil
}

type journaledEntries struct {
	*MemoryTimeEntryStore
	j *journal
}

func (s *journaledEntries) Append(ctx context.Context, entry *models.TimeEntry) error {
	if err := s.MemoryTimeEntryStore.Append(ctx, entry); err != nil {
		return err
	}
	s.j.undo = append(s.j.undo, func() { s.remove(entry.ID) })
	return nil
}

func (s *journaledEntries) LinkRecord(ctx context.Context, entryID id.TimeEntryID, recordID id.RecordID) error {
	prev, err := s.FindByID(ctx, entryID)
	if err != nil {
		return err
	}
	if err := s.MemoryTimeEntryStore.LinkRecord(ctx, entryID, recordID); err != nil {
		return err
	}
	s.j.undo = append(s.j.undo, func() { s.restore(prev) })
	return nil
}

func (s *journaledEntries) SaveOverride(ctx context.Context, entry *models.TimeEntry) error {
	prev, err := s.FindByID(ctx, entry.ID)
	if err != nil {
		return err
	}
	if err := s.MemoryTimeEntryStore.SaveOverride(ctx, entry); err != nil {
		return err
	}
	s.j.undo = append(s.j.undo, func() { s.restore(prev) })
	return nil
}

type journaledGeofences struct {
	*MemoryGeofenceStore
	j *journal
}

// RecordVerification returns the geofence as it will read once the
// transaction commits. Deltas already queued by this transaction are included.
func (s *journaledGeofences) RecordVerification(ctx context.Context, geofenceID id.GeofenceID, delta models.VerificationDelta, now time.Time) (*models.Geofence, error) {
	g, err := s.FindByID(ctx, geofenceID)
	if err != nil {
		return nil, err
	}
	for _, d := range s.j.deltas {
		if d.geofenceID == geofenceID {
			g.ApplyVerification(d.delta, d.at)
		}
	}
	g.ApplyVerification(delta, now)
	s.j.deltas = append(s.j.deltas, pendingDelta{geofenceID: geofenceID, delta: delta, at: now})
	return g, nil
}
