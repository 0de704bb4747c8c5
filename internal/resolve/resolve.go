// Package resolve wires a loading module's decoded module-reference
// table to the module registry and the stub table, producing the
// reloc.ImportResolver the relocation engine drives per segment. It
// is the glue between parsing/loading one module and patching its
// IMP_ORD/IMP_NAME relocations against whatever modules are already
// registered.
package resolve

import (
	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/modtable"
	"github.com/xyproto/ne16/internal/neformat"
	"github.com/xyproto/ne16/internal/reloc"
	"github.com/xyproto/ne16/internal/stubtable"
)

// ModuleRefs decodes the fixed-width module-reference table into one
// byte offset per referenced module, each an offset into the
// imported-names table where that module's Pascal-string name lives.
// Index i here corresponds to ref1 == i+1 in a relocation record.
func ModuleRefs(buf []byte) ([]uint16, error) {
	const op = "resolve.ModuleRefs"
	if len(buf)%2 != 0 {
		return nil, errs.New(op, errs.BadFormat, "module-ref table length not a multiple of 2")
	}
	refs := make([]uint16, len(buf)/2)
	for i := range refs {
		off, err := neformat.ReadUint16LE(buf, i*2)
		if err != nil {
			return nil, errs.Wrap(op, errs.Bounds, err)
		}
		refs[i] = off
	}
	return refs, nil
}

// Binder produces an ImportResolver bound to one loading module,
// resolving a relocation's referenced module by name against the
// module table and its export by ordinal or name. A reference to a
// module that isn't loaded, or an export the target module doesn't
// have, is not a hard failure: it is recorded in the stub table and
// patched to a harmless placeholder so the module finishes loading.
// A reference that itself doesn't parse (an out-of-range module
// index, a Pascal string running past the imported-names table) is a
// genuine malformed record and is reported as unresolved.
type Binder struct {
	mt *modtable.Table
	st *stubtable.Table
}

// New creates a Binder over the given module and stub tables.
func New(mt *modtable.Table, st *stubtable.Table) *Binder {
	return &Binder{mt: mt, st: st}
}

// For returns a reloc.ImportResolver for the module identified by
// self (already registered in mt), using moduleRefs as decoded by
// ModuleRefs to translate a record's 1-based Ref1 into the name of
// the module it references.
func (b *Binder) For(self uint16, moduleRefs []uint16) reloc.ImportResolver {
	return func(moduleRef uint16, ordinalOrOffset uint16, byName bool, importedNames []byte) (int, int, bool) {
		if moduleRef == 0 || int(moduleRef) > len(moduleRefs) {
			return 0, 0, false
		}
		name, _, err := neformat.PascalString(importedNames, int(moduleRefs[moduleRef-1]))
		if err != nil {
			return 0, 0, false
		}

		var api string
		if byName {
			api, _, err = neformat.PascalString(importedNames, int(ordinalOrOffset))
			if err != nil {
				return 0, 0, false
			}
		}

		if target := b.mt.Find(name); target != modtable.InvalidHandle {
			if entry := b.mt.Get(target); entry != nil && entry.Exports != nil {
				seg, off, rerr := resolveExport(entry, api, ordinalOrOffset, byName)
				if rerr == nil {
					b.mt.AddDep(self, target)
					return seg, int(off), true
				}
			}
		}

		if err := b.st.Register(name, api, ordinalOrOffset, "unresolved at load time", ""); err != nil {
			return 0, 0, false
		}
		return 0, 0, true
	}
}

func resolveExport(entry *modtable.Entry, api string, ordinal uint16, byName bool) (int, uint16, error) {
	if byName {
		return entry.Exports.ResolveName(api)
	}
	return entry.Exports.ResolveOrdinal(ordinal)
}
