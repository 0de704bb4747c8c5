// Package reloc implements the NE relocation engine: decoding each
// segment's relocation block and patching the loaded segment image so
// every intra-module and inter-module reference resolves to a runtime
// location. Patch-site arithmetic dispatches on the NE address type
// through a small table of width/offset rules.
package reloc

import (
	"encoding/binary"
	"log/slog"

	"github.com/xyproto/ne16/internal/errs"
	"github.com/xyproto/ne16/internal/neformat"
)

// ImportResolver resolves an imported reference. moduleRef is the
// 1-based module-reference-table index (ref1 of an IMP_ORD/IMP_NAME
// record); ordinalOrOffset is ref2, interpreted as an ordinal when
// byName is false or as a byte offset into importedNames (a Pascal
// string) when byName is true. It returns the resolved 0-based
// segment and byte offset, or ok=false if unresolved.
type ImportResolver func(moduleRef uint16, ordinalOrOffset uint16, byName bool, importedNames []byte) (segment int, offset int, ok bool)

// ParseSegmentRelocations decodes the relocation block for a segment
// that carries HAS_RELOC and has non-zero file data: a 16-bit record
// count followed by count*8 bytes of raw records, starting at
// fileOffset+dataLen in image. A segment with HAS_RELOC but a zero
// count produces no records (an empty, non-nil slice).
func ParseSegmentRelocations(image []byte, fileOffset, dataLen int) ([]neformat.RelocRaw, error) {
	const op = "reloc.ParseSegmentRelocations"
	blockStart := fileOffset + dataLen
	count, err := neformat.ReadUint16LE(image, blockStart)
	if err != nil {
		return nil, errs.Wrap(op, errs.Bounds, err)
	}
	if count == 0 {
		return []neformat.RelocRaw{}, nil
	}
	recs, err := neformat.DecodeRelocRecords(image[blockStart+2:], int(count))
	if err != nil {
		return nil, errs.Wrap(op, errs.BadFormat, err)
	}
	return recs, nil
}

// Apply patches seg in place for every record, calling resolver for
// IMP_ORD/IMP_NAME records and skipping OS_FIXUP records silently.
// importedNames is the raw imported-names table, needed to
// dereference IMP_NAME's Pascal string (the resolver callback does
// the dereferencing itself).
func Apply(seg []byte, records []neformat.RelocRaw, resolver ImportResolver, importedNames []byte, log *slog.Logger) error {
	const op = "reloc.Apply"
	for i, r := range records {
		relocType, additive := r.Type()

		width := neformat.AddressType(r.AddrType).Width()
		if width == 0 {
			return errs.New(op, errs.BadFunction, "unsupported address type")
		}

		if relocType == neformat.RelocOSFixup {
			continue
		}

		var seg1Based, offset uint16
		switch relocType {
		case neformat.RelocInternal:
			if r.Ref1 == 0 {
				return errs.New(op, errs.BadSeg, "internal relocation with segment 0")
			}
			seg1Based, offset = r.Ref1, r.Ref2
		case neformat.RelocImpOrd, neformat.RelocImpName:
			if resolver == nil {
				return errs.New(op, errs.Unresolved, "no import resolver supplied")
			}
			byName := relocType == neformat.RelocImpName
			resSeg, resOff, ok := resolver(r.Ref1, r.Ref2, byName, importedNames)
			if !ok {
				return errs.New(op, errs.Unresolved, "import not resolved")
			}
			seg1Based, offset = uint16(resSeg+1), uint16(resOff)
		default:
			return errs.New(op, errs.BadFunction, "unsupported relocation type")
		}

		value := fixupBytes(neformat.AddressType(r.AddrType), seg1Based, offset)

		if additive {
			if err := applyAdditive(seg, int(r.TargetOff), value); err != nil {
				return errs.Wrap(op, errs.Bounds, err)
			}
		} else {
			if err := applyChain(seg, neformat.AddressType(r.AddrType), int(r.TargetOff), value); err != nil {
				code, _ := errs.CodeOf(err) // BadFormat for a cycle, Bounds for an out-of-segment site
				return errs.Wrap(op, code, err)
			}
		}

		if log != nil {
			log.Debug("applied relocation", "index", i, "type", relocType.String(), "addr_type", neformat.AddressType(r.AddrType).String(), "additive", additive)
		}
	}
	return nil
}

// fixupBytes builds the little-endian patch value for the given
// address type, given a 1-based target segment/selector and target
// offset.
func fixupBytes(t neformat.AddressType, seg1Based, offset uint16) []byte {
	switch t {
	case neformat.AddrLoByte:
		return []byte{byte(offset)}
	case neformat.AddrSeg16, neformat.AddrSel16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, seg1Based)
		return b
	case neformat.AddrOff16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, offset)
		return b
	case neformat.AddrFar32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint16(b[0:], offset)
		binary.LittleEndian.PutUint16(b[2:], seg1Based)
		return b
	case neformat.AddrPtr32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint16(b[0:], offset)
		binary.LittleEndian.PutUint16(b[2:], 0)
		return b
	default:
		return nil
	}
}

// linkWidth returns the width in bytes of the chain-link field for
// the address type (1 for LOBYTE, 2 for every other type, including
// the low word of FAR32/PTR32), and the terminator value for that
// width.
func linkWidth(t neformat.AddressType) (width int, terminator uint32) {
	if t == neformat.AddrLoByte {
		return 1, 0xFF
	}
	return 2, 0xFFFF
}

func readLink(seg []byte, site, width int) (uint32, error) {
	if site < 0 || site+width > len(seg) {
		return 0, errs.New("reloc.readLink", errs.Bounds, "chain link site out of segment")
	}
	switch width {
	case 1:
		return uint32(seg[site]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(seg[site:])), nil
	default:
		return 0, errs.New("reloc.readLink", errs.BadFunction, "unsupported link width")
	}
}

// applyChain walks the non-additive chain starting at targetOffset,
// writing value (full patch width) at every site, until the link
// field reads as the terminator. Cycles and out-of-segment sites are
// fatal.
func applyChain(seg []byte, addrType neformat.AddressType, targetOffset int, value []byte) error {
	const op = "reloc.applyChain"
	lw, terminator := linkWidth(addrType)
	width := len(value)

	site := targetOffset
	visited := make(map[int]bool)
	for {
		if visited[site] {
			return errs.New(op, errs.BadFormat, "cyclic relocation chain")
		}
		visited[site] = true

		if site < 0 || site+width > len(seg) {
			return errs.New(op, errs.Bounds, "relocation chain site out of segment")
		}
		link, err := readLink(seg, site, lw)
		if err != nil {
			return err
		}
		copy(seg[site:site+width], value)
		if link == terminator {
			return nil
		}
		site = int(link)
	}
}

// applyAdditive reads the existing value at the site, adds it to
// value modulo the patch width, and writes it back without chain
// traversal.
func applyAdditive(seg []byte, site int, value []byte) error {
	width := len(value)
	if site < 0 || site+width > len(seg) {
		return errs.New("reloc.applyAdditive", errs.Bounds, "additive relocation site out of segment")
	}
	switch width {
	case 1:
		seg[site] = seg[site] + value[0]
	case 2:
		existing := binary.LittleEndian.Uint16(seg[site:])
		sum := existing + binary.LittleEndian.Uint16(value)
		binary.LittleEndian.PutUint16(seg[site:], sum)
	case 4:
		existing := binary.LittleEndian.Uint32(seg[site:])
		sum := existing + binary.LittleEndian.Uint32(value)
		binary.LittleEndian.PutUint32(seg[site:], sum)
	default:
		return errs.New("reloc.applyAdditive", errs.BadFunction, "unsupported additive width")
	}
	return nil
}
