// Package neformat decodes the on-disk byte layout of a 16-bit NE
// (New Executable) module: the MZ stub, the 64-byte NE header, the
// segment-descriptor table, relocation records, and the Pascal-string
// name tables. Every accessor is bounds-checked against the slice it
// reads from; nothing here reinterprets raw memory.
//
// Fixed-width flat records (the NE header, segment descriptors, and
// relocation records) are decoded with github.com/lunixbochs/struc, a
// tagged-struct packer; the non-fixed-width grammars (Pascal strings,
// entry-table bundles) are walked by hand since struc has no tag for
// a length-prefixed string or a variable-count bundle.
package neformat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Byte sizes of the fixed records this package decodes.
const (
	MZHeaderSize    = 64
	NEHeaderSize    = 64
	SegmentDescSize = 8
	RelocRecordSize = 8
)

// NEMagicOffset is the byte offset of the 32-bit pointer to the NE
// header within the MZ stub.
const NEMagicOffset = 0x3C

// Segment descriptor flag bits.
const (
	SegFlagData         uint16 = 0x0001
	SegFlagAllocated    uint16 = 0x0002
	SegFlagLoaded       uint16 = 0x0004
	SegFlagMovable      uint16 = 0x0010
	SegFlagShared       uint16 = 0x0020
	SegFlagPreload      uint16 = 0x0040
	SegFlagExecReadOnly uint16 = 0x0080
	SegFlagHasReloc     uint16 = 0x0100
	SegFlagDiscardable  uint16 = 0x1000
)

// Header is the 64-byte NE header, decoded with struc in
// little-endian order. Field names mirror the Windows
// 3.1 NE header layout; table offsets are relative to the start of
// the NE header (i.e. to the file offset this header itself was read
// from).
type Header struct {
	Magic             [2]byte // "NE"
	LinkerVersion     uint8
	LinkerRevision    uint8
	EntryTableOffset  uint16
	EntryTableLength  uint16
	CRC               uint32
	ProgramFlags      uint16
	AutoDataSegment   uint16 // 1-based segment index; 0 means none
	HeapSize          uint16
	StackSize         uint16
	InitialIP         uint16
	InitialCS         uint16
	InitialSP         uint16
	InitialSS         uint16
	SegmentCount      uint16
	ModuleRefCount    uint16
	NonResNameSize    uint16
	SegmentTableOff   uint16
	ResourceTableOff  uint16
	ResidentNameOff   uint16
	ModuleRefTableOff uint16
	ImportedNamesOff  uint16
	NonResNameTabOff  uint32
	MovableEntryCount uint16
	AlignShift        uint16
	ResourceCount     uint16
	TargetOS          uint8
	OtherFlags        uint8
	FastLoadOffset    uint16
	FastLoadLength    uint16
	Reserved          uint16
	ExpectedWinVer    uint16
}

// DecodeHeader decodes the 64-byte NE header starting at buf[0].
// buf must already be sliced to begin at the NE header; callers
// validate the "NE" magic themselves before or after calling this so
// the BadHeader/NotNE distinction stays with the caller.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < NEHeaderSize {
		return Header{}, fmt.Errorf("neformat: header needs %d bytes, got %d", NEHeaderSize, len(buf))
	}
	var h Header
	r := bytes.NewReader(buf[:NEHeaderSize])
	if err := struc.UnpackWithOptions(r, &h, &struc.Options{Order: binary.LittleEndian}); err != nil {
		return Header{}, fmt.Errorf("neformat: decode header: %w", err)
	}
	return h, nil
}

// SegmentDescriptor is the 8-byte per-segment record.
type SegmentDescriptor struct {
	SectorOffset uint16 // file sector; actual offset = SectorOffset << align shift
	Length       uint16 // 0 means 65536
	Flags        uint16
	MinAlloc     uint16 // 0 means 65536
}

// DecodeSegmentDescriptors decodes count 8-byte descriptors starting
// at buf[0].
func DecodeSegmentDescriptors(buf []byte, count int) ([]SegmentDescriptor, error) {
	need := count * SegmentDescSize
	if len(buf) < need {
		return nil, fmt.Errorf("neformat: segment table needs %d bytes, got %d", need, len(buf))
	}
	out := make([]SegmentDescriptor, count)
	for i := 0; i < count; i++ {
		r := bytes.NewReader(buf[i*SegmentDescSize : (i+1)*SegmentDescSize])
		if err := struc.UnpackWithOptions(r, &out[i], &struc.Options{Order: binary.LittleEndian}); err != nil {
			return nil, fmt.Errorf("neformat: decode segment %d: %w", i, err)
		}
	}
	return out, nil
}

// EffectiveLength returns d.Length, with the NE convention that a
// stored zero means 65536 bytes.
func (d SegmentDescriptor) EffectiveLength() int {
	if d.Length == 0 {
		return 65536
	}
	return int(d.Length)
}

// EffectiveMinAlloc returns d.MinAlloc with the same zero-means-65536
// convention.
func (d SegmentDescriptor) EffectiveMinAlloc() int {
	if d.MinAlloc == 0 {
		return 65536
	}
	return int(d.MinAlloc)
}

// FileOffset resolves the descriptor's file offset given the header's
// alignment shift; a zero sector offset means "no file data".
func (d SegmentDescriptor) FileOffset(alignShift uint16) int {
	if d.SectorOffset == 0 {
		return 0
	}
	return int(d.SectorOffset) << alignShift
}

// AddressType enumerates the relocation address types.
type AddressType uint8

const (
	AddrLoByte AddressType = 0
	AddrSeg16  AddressType = 2
	AddrFar32  AddressType = 3
	AddrOff16  AddressType = 5
	AddrSel16  AddressType = 11
	AddrPtr32  AddressType = 6
)

// Width returns the patch width in bytes for the address type, or 0
// if the type is not one of the supported enumerants.
func (t AddressType) Width() int {
	switch t {
	case AddrLoByte:
		return 1
	case AddrSeg16, AddrOff16, AddrSel16:
		return 2
	case AddrFar32, AddrPtr32:
		return 4
	default:
		return 0
	}
}

func (t AddressType) String() string {
	switch t {
	case AddrLoByte:
		return "LOBYTE"
	case AddrSeg16:
		return "SEG16"
	case AddrFar32:
		return "FAR32"
	case AddrOff16:
		return "OFF16"
	case AddrSel16:
		return "SEL16"
	case AddrPtr32:
		return "PTR32"
	default:
		return fmt.Sprintf("AddressType(%d)", uint8(t))
	}
}

// RelocType enumerates the relocation record's source-of-target kind.
type RelocType uint8

const (
	RelocInternal RelocType = 0
	RelocImpOrd   RelocType = 1
	RelocImpName  RelocType = 2
	RelocOSFixup  RelocType = 3
)

func (t RelocType) String() string {
	switch t {
	case RelocInternal:
		return "INTERNAL"
	case RelocImpOrd:
		return "IMPORTED_ORDINAL"
	case RelocImpName:
		return "IMPORTED_NAME"
	case RelocOSFixup:
		return "OSFIXUP"
	default:
		return fmt.Sprintf("RelocType(%d)", uint8(t))
	}
}

// AdditiveFlag is the 0x04 bit in the relocation record's type byte
// that selects additive mode instead of chain-walk mode.
const AdditiveFlag uint8 = 0x04

// RelocRaw is the 8-byte on-disk relocation record, before the
// type/additive-flag byte has been split apart.
type RelocRaw struct {
	AddrType   uint8
	RelocByte  uint8 // bit 0x04: additive flag; every other bit: RelocType
	TargetOff  uint16
	Ref1       uint16
	Ref2       uint16
}

// DecodeRelocRecords decodes a raw relocation block (no count prefix)
// into RelocRaw records, 8 bytes each.
func DecodeRelocRecords(buf []byte, count int) ([]RelocRaw, error) {
	need := count * RelocRecordSize
	if len(buf) < need {
		return nil, fmt.Errorf("neformat: relocation block needs %d bytes, got %d", need, len(buf))
	}
	out := make([]RelocRaw, count)
	for i := 0; i < count; i++ {
		r := bytes.NewReader(buf[i*RelocRecordSize : (i+1)*RelocRecordSize])
		if err := struc.UnpackWithOptions(r, &out[i], &struc.Options{Order: binary.LittleEndian}); err != nil {
			return nil, fmt.Errorf("neformat: decode relocation %d: %w", i, err)
		}
	}
	return out, nil
}

// Type splits the raw type byte into its RelocType and additive flag.
func (r RelocRaw) Type() (RelocType, bool) {
	return RelocType(r.RelocByte &^ AdditiveFlag), r.RelocByte&AdditiveFlag != 0
}

// ReadUint16LE reads a little-endian uint16 at offset off, bounds-checked.
func ReadUint16LE(buf []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(buf) {
		return 0, fmt.Errorf("neformat: read uint16 at %d out of bounds (len %d)", off, len(buf))
	}
	return binary.LittleEndian.Uint16(buf[off:]), nil
}

// ReadUint32LE reads a little-endian uint32 at offset off, bounds-checked.
func ReadUint32LE(buf []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(buf) {
		return 0, fmt.Errorf("neformat: read uint32 at %d out of bounds (len %d)", off, len(buf))
	}
	return binary.LittleEndian.Uint32(buf[off:]), nil
}

// PascalString reads a length-prefixed (1-byte length) string at
// offset off. It returns the string, the number of bytes consumed
// (1 + length), and an error if the length byte or the string body
// would read past the end of buf.
func PascalString(buf []byte, off int) (string, int, error) {
	if off < 0 || off >= len(buf) {
		return "", 0, fmt.Errorf("neformat: pascal string length byte at %d out of bounds (len %d)", off, len(buf))
	}
	n := int(buf[off])
	if off+1+n > len(buf) {
		return "", 0, fmt.Errorf("neformat: pascal string body at %d (len %d) out of bounds (buf len %d)", off+1, n, len(buf))
	}
	return string(buf[off+1 : off+1+n]), 1 + n, nil
}
