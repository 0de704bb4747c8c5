// Package modtable implements the name-keyed module registry: handle
// assignment, reference counting, forward dependency edges, and
// dependency-guarded unload. Dependency edges are stored as handles,
// never pointers, so entries hold no references to each other; AddDep
// does not check the dependency graph for cycles.
package modtable

import (
	"log/slog"

	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/exports"
	"github.com/xyproto/ne16/internal/loader"
	"github.com/xyproto/ne16/internal/parser"
)

// MaxNameLength is the module name width before truncation, 8
// characters as in the real NE resident-name convention.
const MaxNameLength = 8

// InvalidHandle is the sentinel returned on lookup failure and never
// assigned to a live entry.
const InvalidHandle uint16 = 0

// Entry is one loaded module: its name, reference count, owned parser
// and loader contexts, its resolved export table, and its forward
// dependency edges.
type Entry struct {
	Handle   uint16
	Name     string
	RefCount int
	Parser   *parser.Context
	Loader   *loader.Context
	Exports  *exports.Table
	Deps     []uint16
	active   bool
}

// Table is the module registry. Capacity and per-module dependency
// capacity are fixed at construction, matching the fixed-size tables
// a constrained target expects.
type Table struct {
	entries    []Entry
	nextHandle uint16
	maxDeps    int
	log        *slog.Logger
}

// New creates an empty table that can hold up to capacity modules,
// each with up to maxDeps dependency edges.
func New(capacity, maxDeps int, log *slog.Logger) *Table {
	return &Table{
		entries:    make([]Entry, 0, capacity),
		nextHandle: 1,
		maxDeps:    maxDeps,
		log:        log,
	}
}

func truncateName(name string) string {
	if len(name) > MaxNameLength {
		return name[:MaxNameLength]
	}
	return name
}

func (t *Table) indexOfHandle(h uint16) int {
	for i := range t.entries {
		if t.entries[i].active && t.entries[i].Handle == h {
			return i
		}
	}
	return -1
}

func (t *Table) vacantSlot() int {
	for i := range t.entries {
		if !t.entries[i].active {
			return i
		}
	}
	return -1
}

func (t *Table) indexOfName(name string) int {
	for i := range t.entries {
		if t.entries[i].active && t.entries[i].Name == name {
			return i
		}
	}
	return -1
}

// Load registers a module. If a module with the exact truncated name
// is already loaded, its reference count is incremented and its
// handle returned; pc and lc remain the caller's responsibility to
// free. Otherwise a new entry is created, assigned the next handle,
// and ownership of pc/lc transfers to the table. On any failure the
// caller retains ownership and InvalidHandle is returned.
func (t *Table) Load(name string, pc *parser.Context, lc *loader.Context) (uint16, error) {
	const op = "modtable.Load"
	if pc == nil || lc == nil {
		return InvalidHandle, errs.New(op, errs.NullArg, "nil parser or loader context")
	}
	name = truncateName(name)

	if i := t.indexOfName(name); i >= 0 {
		t.entries[i].RefCount++
		if t.log != nil {
			t.log.Debug("module already loaded, incremented refcount", "name", name, "handle", t.entries[i].Handle, "refcount", t.entries[i].RefCount)
		}
		return t.entries[i].Handle, nil
	}

	h := t.nextHandle
	newEntry := Entry{
		Handle:   h,
		Name:     name,
		RefCount: 1,
		Parser:   pc,
		Loader:   lc,
		active:   true,
	}

	if slot := t.vacantSlot(); slot >= 0 {
		t.entries[slot] = newEntry
	} else if len(t.entries) < cap(t.entries) {
		t.entries = append(t.entries, newEntry)
	} else {
		return InvalidHandle, errs.New(op, errs.Full, "module table full")
	}
	t.nextHandle++
	if t.log != nil {
		t.log.Info("module loaded", "name", name, "handle", h)
	}
	return h, nil
}

// SetExports attaches a module's resolved export table to its entry,
// so other modules loaded afterward can resolve imports against it.
// Called once, right after Load succeeds for a new entry.
func (t *Table) SetExports(h uint16, et *exports.Table) error {
	const op = "modtable.SetExports"
	i := t.indexOfHandle(h)
	if i < 0 {
		return errs.New(op, errs.BadHandle, "no such module handle")
	}
	t.entries[i].Exports = et
	return nil
}

// AddRef increments an entry's reference count.
func (t *Table) AddRef(h uint16) error {
	const op = "modtable.AddRef"
	i := t.indexOfHandle(h)
	if i < 0 {
		return errs.New(op, errs.BadHandle, "no such module handle")
	}
	t.entries[i].RefCount++
	return nil
}

// Unload decrements an entry's reference count, freeing and vacating
// it when the count reaches zero. It fails with InUse, making no
// change, while any other active entry lists h as a dependency.
func (t *Table) Unload(h uint16) error {
	const op = "modtable.Unload"
	i := t.indexOfHandle(h)
	if i < 0 {
		return errs.New(op, errs.BadHandle, "no such module handle")
	}

	for j := range t.entries {
		if j == i || !t.entries[j].active {
			continue
		}
		for _, d := range t.entries[j].Deps {
			if d == h {
				return errs.New(op, errs.InUse, "module has active dependents")
			}
		}
	}

	t.entries[i].RefCount--
	if t.entries[i].RefCount > 0 {
		return nil
	}

	parser.Free(t.entries[i].Parser)
	loader.Free(t.entries[i].Loader)
	exports.Free(t.entries[i].Exports)
	if t.log != nil {
		t.log.Info("module unloaded", "name", t.entries[i].Name, "handle", h)
	}
	t.entries[i] = Entry{}
	return nil
}

// AddDep appends depHandle to h's dependency list, silently ignoring
// exact duplicates and failing if the per-module dependency list is
// at capacity.
func (t *Table) AddDep(h, depHandle uint16) error {
	const op = "modtable.AddDep"
	i := t.indexOfHandle(h)
	if i < 0 {
		return errs.New(op, errs.BadHandle, "no such module handle")
	}
	for _, d := range t.entries[i].Deps {
		if d == depHandle {
			return nil
		}
	}
	if len(t.entries[i].Deps) >= t.maxDeps {
		return errs.New(op, errs.Full, "dependency list full")
	}
	t.entries[i].Deps = append(t.entries[i].Deps, depHandle)
	return nil
}

// Find returns the handle of the module named name, or InvalidHandle
// if none is loaded (case-sensitive).
func (t *Table) Find(name string) uint16 {
	if i := t.indexOfName(truncateName(name)); i >= 0 {
		return t.entries[i].Handle
	}
	return InvalidHandle
}

// Get returns a pointer to the entry named by h, or nil if not found.
// The pointer's validity ends at the next Load/Unload call.
func (t *Table) Get(h uint16) *Entry {
	if i := t.indexOfHandle(h); i >= 0 {
		return &t.entries[i]
	}
	return nil
}

// Len reports the number of active entries.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].active {
			n++
		}
	}
	return n
}
