package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActiveCallRecord tracks one in-flight call. Records are keyed by the
// engine call id once it is known; before the engine responds the record
// lives under a synthetic pending key so a crash between slot acquisition and
// call creation still leaves a reapable trace.
type ActiveCallRecord struct {
	Key          string
	EngineCallID string
	UserID       uuid.UUID
	CampaignID   uuid.UUID
	ContactID    uuid.UUID
	StartedAt    time.Time
}

// PendingKey is the synthetic record key used before the engine call id exists.
func PendingKey(campaignID, contactID uuid.UUID) string {
	return fmt.Sprintf("pending_%s_%s", campaignID, contactID)
}

// activeCallTable is the in-memory registry of in-flight calls. Exactly one
// budget slot corresponds to each record; whoever removes a record releases
// the slot.
type activeCallTable struct {
	mu      sync.Mutex
	records map[string]*ActiveCallRecord
}

func newActiveCallTable() *activeCallTable {
	return &activeCallTable{records: make(map[string]*ActiveCallRecord)}
}

// Put registers a record under its key.
func (t *activeCallTable) Put(rec ActiveCallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := rec
	t.records[rec.Key] = &r
}

// Rekey moves a record from its pending key to the engine call id.
func (t *activeCallTable) Rekey(oldKey, engineCallID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[oldKey]
	if !ok {
		return
	}
	delete(t.records, oldKey)
	rec.Key = engineCallID
	rec.EngineCallID = engineCallID
	t.records[engineCallID] = rec
}

// Remove drops the record and reports whether it existed.
func (t *activeCallTable) Remove(key string) (*ActiveCallRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	if ok {
		delete(t.records, key)
	}
	return rec, ok
}

// Get looks up a record without removing it.
func (t *activeCallTable) Get(key string) (*ActiveCallRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[key]
	return rec, ok
}

// Expired removes and returns every record older than the threshold.
func (t *activeCallTable) Expired(now time.Time, threshold time.Duration) []*ActiveCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*ActiveCallRecord
	for key, rec := range t.records {
		if now.Sub(rec.StartedAt) >= threshold {
			delete(t.records, key)
			out = append(out, rec)
		}
	}
	return out
}

// RemoveByUser removes all of one user's records and returns them.
func (t *activeCallTable) RemoveByUser(userID uuid.UUID) []*ActiveCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*ActiveCallRecord
	for key, rec := range t.records {
		if rec.UserID == userID {
			delete(t.records, key)
			out = append(out, rec)
		}
	}
	return out
}

// ListByUser returns copies of the user's records.
func (t *activeCallTable) ListByUser(userID uuid.UUID) []ActiveCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ActiveCallRecord
	for _, rec := range t.records {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out
}
