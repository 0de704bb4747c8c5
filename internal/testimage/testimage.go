// Package testimage assembles minimal NE byte images field-by-field
// so the parser, loader, and relocation tests can exercise concrete
// scenarios without checked-in binary fixtures.
package testimage

import (
	"encoding/binary"

	"github.com/xyproto/ne16/internal/neformat"
)

func putU16(buf []byte, off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:], v) }
func putU32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }

// HeaderOffset is where every fixture here places the NE header.
const HeaderOffset = 0x40

// ScenarioA builds a single-segment image: one segment at sector 10
// (file offset 10<<4 = 160), length 0x0010, flags 0, min_alloc
// 0x0010, align shift 4, initial CS=1 (1-based, i.e. segment 0),
// initial IP=0. The segment's 16 data bytes are filled with a
// recognizable pattern so zero-fill tests can distinguish copied
// bytes from padding.
func ScenarioA() []byte {
	const (
		neOffset     = HeaderOffset
		segCount     = 1
		segTableOff  = 0x40 // relative to NE header, right after the 64-byte header
		alignShift   = 4
		sectorOffset = 10
		segLength    = 0x0010
		segMinAlloc  = 0x0010
	)
	fileOffset := sectorOffset << alignShift
	imgLen := fileOffset + segLength
	buf := make([]byte, imgLen)

	// MZ stub.
	buf[0], buf[1] = 'M', 'Z'
	putU32(buf, 0x3C, neOffset)

	writeHeader(buf, neOffset, headerFields{
		segmentCount:      segCount,
		autoDataSegment:   0,
		initialCS:         1,
		initialIP:         0,
		segmentTableOff:   segTableOff,
		resourceTableOff:  segTableOff + segCount*8,
		residentNameOff:   segTableOff + segCount*8,
		moduleRefTableOff: segTableOff + segCount*8,
		importedNamesOff:  segTableOff + segCount*8,
		entryTableOffset:  0,
		entryTableLength:  0,
		alignShift:        alignShift,
	})

	segOff := neOffset + segTableOff
	putU16(buf, segOff+0, sectorOffset)
	putU16(buf, segOff+2, segLength)
	putU16(buf, segOff+4, 0x0000)
	putU16(buf, segOff+6, segMinAlloc)

	for i := 0; i < segLength; i++ {
		buf[fileOffset+i] = byte(0xA0 + i)
	}

	return buf
}

// ScenarioAWithReloc is ScenarioA but the one segment carries the
// HAS_RELOC flag (0x0100) and a relocation block (a 16-bit record
// count followed by 8-byte records) immediately after its data.
func ScenarioAWithReloc(records []byte) []byte {
	buf := ScenarioA()
	segOff := HeaderOffset + 0x40
	putU16(buf, segOff+4, 0x0100) // HAS_RELOC

	count := uint16(len(records) / 8)
	block := make([]byte, 2+len(records))
	putU16(block, 0, count)
	copy(block[2:], records)

	return append(buf, block...)
}

type headerFields struct {
	segmentCount      uint16
	autoDataSegment   uint16
	initialCS         uint16
	initialIP         uint16
	segmentTableOff   uint16
	resourceTableOff  uint16
	residentNameOff   uint16
	moduleRefTableOff uint16
	moduleRefCount    uint16
	importedNamesOff  uint16
	entryTableOffset  uint16
	entryTableLength  uint16
	alignShift        uint16
}

// ScenarioImportingOrdinal builds a single-segment module that
// imports one ordinal from one referenced module: module-ref count 1
// (its sole entry pointing at offset 0 of the imported-names table,
// which holds moduleName as a Pascal string), and a HAS_RELOC segment
// of 2 bytes holding the 0xFFFF chain terminator, carrying one
// non-additive OFF16 IMP_ORD relocation at offset 0, ref1=1,
// ref2=ordinal.
func ScenarioImportingOrdinal(moduleName string, ordinal uint16) []byte {
	const (
		neOffset     = HeaderOffset
		segCount     = 1
		segTableOff  = 0x40
		alignShift   = 4
		sectorOffset = 10
		segLength    = 2
		segMinAlloc  = 2
	)
	fileOffset := sectorOffset << alignShift
	const moduleRefTableOff = segTableOff + segCount*8
	const importedNamesOff = moduleRefTableOff + 2

	imgLen := fileOffset + segLength
	buf := make([]byte, imgLen)

	buf[0], buf[1] = 'M', 'Z'
	putU32(buf, 0x3C, neOffset)

	writeHeader(buf, neOffset, headerFields{
		segmentCount: segCount,
		initialCS:    1,
		initialIP:    0,

		segmentTableOff: segTableOff,
		// Resource/resident-name tables aren't exercised here; point them
		// at the module-ref table's leading zero byte so they decode as
		// an immediate (harmless) terminator.
		resourceTableOff:  moduleRefTableOff,
		residentNameOff:   moduleRefTableOff,
		moduleRefTableOff: moduleRefTableOff,
		moduleRefCount:    1,
		importedNamesOff:  importedNamesOff,
		entryTableOffset:  0,
		entryTableLength:  0,
		alignShift:        alignShift,
	})

	segOff := neOffset + segTableOff
	putU16(buf, segOff+0, sectorOffset)
	putU16(buf, segOff+2, segLength)
	putU16(buf, segOff+4, 0x0100) // HAS_RELOC
	putU16(buf, segOff+6, segMinAlloc)

	putU16(buf, neOffset+moduleRefTableOff, 0) // one module ref, offset 0 into imported names

	namesAbs := neOffset + importedNamesOff
	buf[namesAbs] = byte(len(moduleName))
	copy(buf[namesAbs+1:], moduleName)

	putU16(buf, fileOffset, 0xFFFF) // single-site chain: the site holds the terminator

	block := []byte{
		1, 0, // record count = 1
		byte(neformat.AddrOff16), byte(neformat.RelocImpOrd),
		0, 0, // TargetOff = 0
		1, 0, // Ref1 = 1
		byte(ordinal), byte(ordinal >> 8),
	}
	return append(buf, block...)
}

// writeHeader writes a 64-byte NE header at buf[neOffset:] per the
// field layout in internal/neformat.Header.
func writeHeader(buf []byte, neOffset int, f headerFields) {
	h := buf[neOffset : neOffset+64]
	h[0], h[1] = 'N', 'E'
	h[2] = 5 // linker version
	h[3] = 0 // linker revision
	putU16(h, 0x04, f.entryTableOffset)
	putU16(h, 0x06, f.entryTableLength)
	putU32(h, 0x08, 0) // crc
	putU16(h, 0x0C, 0) // program flags
	putU16(h, 0x0E, f.autoDataSegment)
	putU16(h, 0x10, 0) // heap
	putU16(h, 0x12, 0) // stack
	putU16(h, 0x14, f.initialIP)
	putU16(h, 0x16, f.initialCS)
	putU16(h, 0x18, 0) // initial SP
	putU16(h, 0x1A, 0) // initial SS
	putU16(h, 0x1C, f.segmentCount)
	putU16(h, 0x1E, f.moduleRefCount)
	putU16(h, 0x20, 0) // nonresident name size
	putU16(h, 0x22, f.segmentTableOff)
	putU16(h, 0x24, f.resourceTableOff)
	putU16(h, 0x26, f.residentNameOff)
	putU16(h, 0x28, f.moduleRefTableOff)
	putU16(h, 0x2A, f.importedNamesOff)
	putU32(h, 0x2C, 0) // nonresident name table offset (absolute)
	putU16(h, 0x30, 0) // movable entry count
	putU16(h, 0x32, f.alignShift)
	putU16(h, 0x34, 0) // resource count
	h[0x36] = 0         // target OS
	h[0x37] = 0         // other flags
	putU16(h, 0x38, 0)
	putU16(h, 0x3A, 0)
	putU16(h, 0x3C, 0)
	putU16(h, 0x3E, 0) // expected windows version
}
