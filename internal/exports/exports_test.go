package exports

import (
	"testing"

	"github.com/xyproto/ne16/internal/errs"
)

// TestScenarioENullAndFixedBundle covers a null bundle of 2 followed
// by a 1-entry fixed-segment bundle, which yields exactly one export
// at ordinal 3.
func TestScenarioENullAndFixedBundle(t *testing.T) {
	entryTable := []byte{0x02, 0x00, 0x01, 0x01, 0x00, 0x00, 0x05, 0x00}

	tbl, err := Build(entryTable, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tbl.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(tbl.Entries))
	}
	e := tbl.Entries[0]
	if e.Ordinal != 3 {
		t.Errorf("Ordinal = %d, want 3", e.Ordinal)
	}
	if e.Segment != 0 {
		t.Errorf("Segment = %d, want 0", e.Segment)
	}
	if e.Offset != 0x0500 {
		t.Errorf("Offset = %#x, want 0x0500", e.Offset)
	}

	for _, ord := range []uint16{1, 2} {
		if _, _, err := tbl.ResolveOrdinal(ord); err == nil {
			t.Errorf("ResolveOrdinal(%d) unexpectedly succeeded", ord)
		}
	}
	if seg, off, err := tbl.ResolveOrdinal(3); err != nil || seg != 0 || off != 0x0500 {
		t.Errorf("ResolveOrdinal(3) = (%d, %#x, %v), want (0, 0x500, nil)", seg, off, err)
	}
}

func TestMovableBundle(t *testing.T) {
	// count=1, type=0xFF (movable), flag=0x00, thunk 0xCD 0x3F, segment=2, offset=0x0010.
	entryTable := []byte{0x01, 0xFF, 0x00, 0xCD, 0x3F, 0x02, 0x10, 0x00}

	tbl, err := Build(entryTable, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tbl.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(tbl.Entries))
	}
	e := tbl.Entries[0]
	if e.Ordinal != 1 || e.Segment != 1 || e.Offset != 0x0010 {
		t.Errorf("movable entry = %+v, want {Ordinal:1 Segment:1 Offset:0x10}", e)
	}
}

// TestAscendingOrdinalsNoDuplicates verifies ordinals stay ascending
// with no duplicates across multiple bundles.
func TestAscendingOrdinalsNoDuplicates(t *testing.T) {
	entryTable := []byte{
		0x01, 0x01, 0x01, 0x00, 0x00, // ordinal 1, segment 0, offset 0
		0x01, 0x00, // null bundle, count 1: skip ordinal 2
		0x01, 0x02, 0x01, 0x10, 0x00, // ordinal 3, segment 1, offset 0x10
	}
	tbl, err := Build(entryTable, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	seen := map[uint16]bool{}
	last := uint16(0)
	for _, e := range tbl.Entries {
		if e.Ordinal <= last {
			t.Fatalf("ordinals not strictly ascending: %d after %d", e.Ordinal, last)
		}
		if seen[e.Ordinal] {
			t.Fatalf("duplicate ordinal %d", e.Ordinal)
		}
		seen[e.Ordinal] = true
		last = e.Ordinal
	}
	if len(tbl.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(tbl.Entries))
	}
}

// TestAttachNames exercises the resident-name-table walk: the first
// string is the module name (ordinal 0, skipped for attachment), and
// subsequent strings attach to the matching ordinal's export.
func TestAttachNames(t *testing.T) {
	entryTable := []byte{0x01, 0x01, 0x01, 0x00, 0x00} // ordinal 1, segment 0, offset 0

	residentNames := buildResidentNames(t, []nameOrdinal{
		{"MYMODULE", 0},
		{"MyFunc", 1},
	})

	tbl, err := Build(entryTable, residentNames)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tbl.Entries) != 1 || tbl.Entries[0].Name != "MyFunc" {
		t.Fatalf("Entries = %+v, want one entry named MyFunc", tbl.Entries)
	}
}

func TestResolveNameEmptyNeverMatches(t *testing.T) {
	tbl := &Table{Entries: []Entry{{Ordinal: 1, Name: ""}}}
	_, _, err := tbl.ResolveName("")
	if code, ok := errs.CodeOf(err); !ok || code != errs.Unresolved {
		t.Fatalf("ResolveName(\"\"): err=%v, want Unresolved", err)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	tbl, err := Build([]byte{0x01, 0x01, 0x01, 0x00, 0x00}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	Free(tbl)
	Free(tbl)
	Free(nil)
	if tbl.Entries != nil {
		t.Errorf("freed table still retains entries")
	}
}

type nameOrdinal struct {
	name    string
	ordinal uint16
}

func buildResidentNames(t *testing.T, pairs []nameOrdinal) []byte {
	t.Helper()
	var buf []byte
	for _, p := range pairs {
		buf = append(buf, byte(len(p.name)))
		buf = append(buf, p.name...)
		buf = append(buf, byte(p.ordinal), byte(p.ordinal>>8))
	}
	buf = append(buf, 0x00) // terminator: zero-length string
	return buf
}
