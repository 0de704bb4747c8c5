// Package exports builds a module's export table from its entry table
// and resident-name table, and answers ordinal/name lookups against
// it, walking NE's bundle grammar into a single indexed view.
package exports

import (
	"sort"

	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/neformat"
)

// Entry is one export: a 1-based ordinal, the 0-based target segment,
// the byte offset within it, and an optional name (empty if the
// export is ordinal-only).
type Entry struct {
	Ordinal uint16
	Segment int
	Offset  uint16
	Name    string
}

// Table holds every export of one module, kept sorted ascending by
// ordinal with no duplicates.
type Table struct {
	Entries []Entry
}

func (t *Table) freed() bool { return t.Entries == nil }

// Free zeroes the table; a no-op on a zeroed or nil table.
func Free(t *Table) {
	if t == nil || t.freed() {
		return
	}
	*t = Table{}
}

const (
	bundleNull    = 0x00
	bundleFirst   = 0x01
	bundleLast    = 0xFE
	bundleMovable = 0xFF
)

// Build walks entryTable's bundle grammar, assigning ordinals
// starting at 1, then attaches names found in residentNameTable.
// entryTable and residentNameTable are the raw table slices captured
// by the parser.
func Build(entryTable, residentNameTable []byte) (*Table, error) {
	const op = "exports.Build"
	entries, err := walkEntryTable(entryTable)
	if err != nil {
		return nil, errs.Wrap(op, errs.BadFormat, err)
	}
	if err := attachNames(entries, residentNameTable); err != nil {
		return nil, errs.Wrap(op, errs.BadFormat, err)
	}
	return &Table{Entries: entries}, nil
}

func walkEntryTable(buf []byte) ([]Entry, error) {
	var entries []Entry
	ordinal := uint16(1)
	pos := 0

	for {
		if pos >= len(buf) {
			break // no explicit terminator byte; table simply ends
		}
		count := buf[pos]
		pos++
		if count == 0 {
			break // terminator bundle
		}
		if pos >= len(buf) {
			return nil, errBundle("truncated bundle header")
		}
		bundleType := buf[pos]
		pos++

		switch {
		case bundleType == bundleNull:
			ordinal += uint16(count)

		case bundleType >= bundleFirst && bundleType <= bundleLast:
			segment := int(bundleType) - 1
			for i := 0; i < int(count); i++ {
				if pos+3 > len(buf) {
					return nil, errBundle("truncated fixed-segment bundle entry")
				}
				offset := uint16(buf[pos+1]) | uint16(buf[pos+2])<<8
				pos += 3
				entries = append(entries, Entry{Ordinal: ordinal, Segment: segment, Offset: offset})
				ordinal++
			}

		case bundleType == bundleMovable:
			for i := 0; i < int(count); i++ {
				if pos+6 > len(buf) {
					return nil, errBundle("truncated movable bundle entry")
				}
				// buf[pos] = flag, buf[pos+1:pos+3] = 0xCD 0x3F thunk marker (ignored)
				segment := int(buf[pos+3]) - 1
				offset := uint16(buf[pos+4]) | uint16(buf[pos+5])<<8
				pos += 6
				entries = append(entries, Entry{Ordinal: ordinal, Segment: segment, Offset: offset})
				ordinal++
			}

		default:
			return nil, errBundle("unreachable bundle type")
		}
	}

	return entries, nil
}

func attachNames(entries []Entry, residentNameTable []byte) error {
	byOrdinal := make(map[uint16]int, len(entries))
	for i, e := range entries {
		byOrdinal[e.Ordinal] = i
	}

	pos := 0
	first := true
	for pos < len(residentNameTable) {
		name, consumed, err := neformat.PascalString(residentNameTable, pos)
		if err != nil {
			return err
		}
		pos += consumed
		if name == "" {
			break // terminator
		}
		ord, err := neformat.ReadUint16LE(residentNameTable, pos)
		if err != nil {
			return err
		}
		pos += 2

		if first {
			first = false
			continue // the first string is the module name, ordinal 0
		}
		if idx, ok := byOrdinal[ord]; ok {
			entries[idx].Name = name
		}
	}
	return nil
}

func errBundle(msg string) error {
	return errs.New("exports.walkEntryTable", errs.BadFormat, msg)
}

// ResolveOrdinal looks up an export by ordinal using binary search
// over the ordinal-sorted table.
func (t *Table) ResolveOrdinal(ordinal uint16) (segment int, offset uint16, err error) {
	const op = "exports.ResolveOrdinal"
	if t == nil || t.freed() {
		return 0, 0, errs.New(op, errs.Unresolved, "empty export table")
	}
	entries := t.Entries
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Ordinal >= ordinal })
	if i < len(entries) && entries[i].Ordinal == ordinal {
		return entries[i].Segment, entries[i].Offset, nil
	}
	return 0, 0, errs.New(op, errs.Unresolved, "ordinal not exported")
}

// ResolveName looks up an export by name with a case-sensitive linear
// scan. An empty name never matches.
func (t *Table) ResolveName(name string) (segment int, offset uint16, err error) {
	const op = "exports.ResolveName"
	if name == "" {
		return 0, 0, errs.New(op, errs.Unresolved, "empty name never matches")
	}
	if t == nil || t.freed() {
		return 0, 0, errs.New(op, errs.Unresolved, "empty export table")
	}
	for _, e := range t.Entries {
		if e.Name == name {
			return e.Segment, e.Offset, nil
		}
	}
	return 0, 0, errs.New(op, errs.Unresolved, "name not exported")
}
