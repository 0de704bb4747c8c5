// Package stubtable tracks imports that could not be resolved at load
// time. Entries are appended, never physically removed: a "replace"
// marks one as superseded so the table keeps a full history for later
// inspection.
package stubtable

import "github.com/xyproto/ne16/internal/errs"

// Entry is one unresolved-import record.
type Entry struct {
	Module    string
	API       string // empty if ordinal-only
	Ordinal   uint16
	Behavior  string
	Milestone string
	Removed   bool
}

// Table is the append-only stub registry, capped at a fixed capacity.
type Table struct {
	entries []Entry
	cap     int
}

// New creates an empty table that can hold up to capacity stubs.
func New(capacity int) *Table {
	return &Table{entries: make([]Entry, 0, capacity), cap: capacity}
}

func (t *Table) findIndex(module string, ordinal uint16) int {
	for i := range t.entries {
		if t.entries[i].Module == module && t.entries[i].Ordinal == ordinal {
			return i
		}
	}
	return -1
}

// Register adds a stub for (module, ordinal) if none exists yet; a
// duplicate register is a silent no-op. Fails with Full once capacity
// is reached.
func (t *Table) Register(module, api string, ordinal uint16, behavior, milestone string) error {
	const op = "stubtable.Register"
	if t.findIndex(module, ordinal) >= 0 {
		return nil
	}
	if len(t.entries) >= t.cap {
		return errs.New(op, errs.Full, "stub table full")
	}
	t.entries = append(t.entries, Entry{
		Module:    module,
		API:       api,
		Ordinal:   ordinal,
		Behavior:  behavior,
		Milestone: milestone,
	})
	return nil
}

// Replace finds the first non-removed entry for (module, ordinal) and
// marks it removed, without deleting it. Returns Unresolved if no such
// entry exists.
func (t *Table) Replace(module string, ordinal uint16) error {
	const op = "stubtable.Replace"
	for i := range t.entries {
		if t.entries[i].Module == module && t.entries[i].Ordinal == ordinal && !t.entries[i].Removed {
			t.entries[i].Removed = true
			return nil
		}
	}
	return errs.New(op, errs.Unresolved, "no matching active stub")
}

// FindByOrdinal returns the first entry for (module, ordinal)
// regardless of its removed state, or ok=false if none exists.
func (t *Table) FindByOrdinal(module string, ordinal uint16) (Entry, bool) {
	if i := t.findIndex(module, ordinal); i >= 0 {
		return t.entries[i], true
	}
	return Entry{}, false
}

// FindByName returns the first entry for (module, api) regardless of
// its removed state. An empty api never matches.
func (t *Table) FindByName(module, api string) (Entry, bool) {
	if api == "" {
		return Entry{}, false
	}
	for _, e := range t.entries {
		if e.Module == module && e.API == api {
			return e, true
		}
	}
	return Entry{}, false
}

// Len reports the total number of entries, including removed ones.
func (t *Table) Len() int { return len(t.entries) }
