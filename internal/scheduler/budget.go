package scheduler

import (
	"sync"

	"github.com/google/uuid"
)

// userBudget is the in-memory concurrency ledger for one user. activeCalls
// counts occupied slots, processing is the per-user latch that keeps the tick
// loop and webhook wakeups from dialing for the same user at once, and
// rotation round-robins the user's campaigns across passes.
type userBudget struct {
	maxCalls    int
	activeCalls int
	processing  bool
	rotation    int
	loaded      bool
}

// BudgetSnapshot is a read-only view of a user's ledger.
type BudgetSnapshot struct {
	MaxCalls    int
	ActiveCalls int
	Processing  bool
}

// budgetTracker holds per-user budgets. It is rebuilt lazily after a restart:
// a user's entry starts unloaded and gets seeded from settings plus the
// durable in_progress count the first time the user is processed.
type budgetTracker struct {
	mu    sync.Mutex
	users map[uuid.UUID]*userBudget
}

func newBudgetTracker() *budgetTracker {
	return &budgetTracker{users: make(map[uuid.UUID]*userBudget)}
}

func (t *budgetTracker) get(userID uuid.UUID) *userBudget {
	b, ok := t.users[userID]
	if !ok {
		b = &userBudget{maxCalls: 1}
		t.users[userID] = b
	}
	return b
}

// Loaded reports whether the user's ledger has been seeded.
func (t *budgetTracker) Loaded(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(userID).loaded
}

// Load seeds the ledger. The first load wins; a ledger that is already live
// keeps its counts.
func (t *budgetTracker) Load(userID uuid.UUID, maxCalls, activeCalls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.get(userID)
	if b.loaded {
		return
	}
	if maxCalls < 1 {
		maxCalls = 1
	}
	b.maxCalls = maxCalls
	b.activeCalls = activeCalls
	b.loaded = true
}

// TryBeginProcessing takes the user's processing latch. Returns false when
// another goroutine already holds it.
func (t *budgetTracker) TryBeginProcessing(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.get(userID)
	if b.processing {
		return false
	}
	b.processing = true
	return true
}

// EndProcessing releases the latch.
func (t *budgetTracker) EndProcessing(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(userID).processing = false
}

// AcquireSlot occupies one concurrency slot if the user is under their cap.
func (t *budgetTracker) AcquireSlot(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.get(userID)
	if b.activeCalls >= b.maxCalls {
		return false
	}
	b.activeCalls++
	return true
}

// ReleaseSlot frees one slot, never dropping below zero.
func (t *budgetTracker) ReleaseSlot(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.get(userID)
	if b.activeCalls > 0 {
		b.activeCalls--
	}
}

// HasFreeSlot reports whether a slot is available without taking it.
func (t *budgetTracker) HasFreeSlot(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.get(userID)
	return b.activeCalls < b.maxCalls
}

// SetMax updates the cap, e.g. when settings change between passes.
func (t *budgetTracker) SetMax(userID uuid.UUID, maxCalls int) {
	if maxCalls < 1 {
		maxCalls = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(userID).maxCalls = maxCalls
}

// Reset zeroes the user's active slot count. Used by the operator call-state
// reset together with failing the user's in_progress contacts.
func (t *budgetTracker) Reset(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(userID).activeCalls = 0
}

// NextRotation returns the starting index for a pass over n campaigns and
// advances the rotation so the next pass starts one further.
func (t *budgetTracker) NextRotation(userID uuid.UUID, n int) int {
	if n <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.get(userID)
	start := b.rotation % n
	b.rotation = (b.rotation + 1) % n
	return start
}

// Snapshot returns the user's current ledger.
func (t *budgetTracker) Snapshot(userID uuid.UUID) BudgetSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.get(userID)
	return BudgetSnapshot{MaxCalls: b.maxCalls, ActiveCalls: b.activeCalls, Processing: b.processing}
}
