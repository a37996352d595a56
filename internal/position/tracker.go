package position

import (
	"sort"
	"sync"

	"ibbridge/internal/model"

	"github.com/yanun0323/decimal"
)

// Key identifies one position.
type Key struct {
	Account string
	ConID   int64
}

// FillResult reports how a fill changed a position.
type FillResult struct {
	Before model.Position
	After  model.Position
	Opened decimal.Decimal
	Closed decimal.Decimal
}

// Entry is a keyed position copy.
type Entry struct {
	Key
	model.Position
}

// Tracker keeps positions per account and instrument.
type Tracker struct {
	mu        sync.Mutex
	positions map[Key]model.Position
}

func NewTracker() *Tracker {
	return &Tracker{positions: make(map[Key]model.Position)}
}

// Fill applies a signed fill.
func (t *Tracker) Fill(key Key, size, price decimal.Decimal) FillResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	before := t.positions[key]
	after, opened, closed := before.Update(size, price)
	t.positions[key] = after
	return FillResult{Before: before, After: after, Opened: opened, Closed: closed}
}

// Snapshot reconciles a broker snapshot. The first snapshot of a key seeds
// it; later ones overwrite the local state and report drift when the locally
// accumulated size disagrees.
func (t *Tracker) Snapshot(key Key, size, avgCost decimal.Decimal) (drift bool, local model.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	local, seen := t.positions[key]
	if !seen {
		t.positions[key] = model.Position{Size: size, Price: avgCost}
		return false, local
	}
	next, same := local.Fix(size, avgCost)
	t.positions[key] = next
	return !same, local
}

// Get returns the position of key. Unknown keys are flat.
func (t *Tracker) Get(key Key) model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positions[key]
}

// All returns every tracked position ordered by account and contract.
func (t *Tracker) All() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.positions))
	for k, p := range t.positions {
		out = append(out, Entry{Key: k, Position: p})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].ConID < out[j].ConID
	})
	return out
}

// Count returns the number of tracked positions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}
