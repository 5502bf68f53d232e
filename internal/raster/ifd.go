package raster

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279

	compressionNone = 1

	entrySize = 12
	// Largest value array accepted for one entry. A 6001 row tile needs
	// 24 KiB of strip offsets.
	maxFieldBytes = 1 << 24
)

var requiredTags = []uint16{
	tagImageWidth,
	tagImageLength,
	tagBitsPerSample,
	tagStripOffsets,
	tagStripByteCounts,
}

type fieldType uint16

const (
	typeByte fieldType = iota + 1
	typeASCII
	typeShort
	typeLong
	typeRational
	typeSByte
	typeUndefined
	typeSShort
	typeSLong
	typeSRational
	typeFloat
	typeDouble
)

// size is the byte size of one value, 0 for unknown types.
func (t fieldType) size() int {
	switch t {
	case typeByte, typeASCII, typeSByte, typeUndefined:
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat:
		return 4
	case typeRational, typeSRational, typeDouble:
		return 8
	}
	return 0
}

type field struct {
	typ   fieldType
	count uint32
	data  []byte
}

// directory maps tag ids to the fields of one image file directory.
type directory map[uint16]field

func readDirectory(r io.ReaderAt, order binary.ByteOrder, offset int64) (directory, error) {
	var n [2]byte
	if err := readFull(r, n[:], offset); err != nil {
		return nil, fmt.Errorf("%w: read directory at %d: %v", ErrTileParse, offset, err)
	}
	count := int(order.Uint16(n[:]))
	entries := make([]byte, count*entrySize)
	if err := readFull(r, entries, offset+2); err != nil {
		return nil, fmt.Errorf("%w: read %d directory entries: %v", ErrTileParse, count, err)
	}

	dir := make(directory, count)
	for i := 0; i < count; i++ {
		e := entries[i*entrySize : (i+1)*entrySize]
		tag := order.Uint16(e[0:2])
		f := field{
			typ:   fieldType(order.Uint16(e[2:4])),
			count: order.Uint32(e[4:8]),
		}
		size := f.typ.size()
		if size == 0 {
			continue
		}
		total := int64(size) * int64(f.count)
		if total > maxFieldBytes {
			return nil, fmt.Errorf("%w: tag %d holds %d bytes", ErrTileParse, tag, total)
		}

		f.data = make([]byte, total)
		if total <= 4 {
			copy(f.data, e[8:8+total])
		} else if err := readFull(r, f.data, int64(order.Uint32(e[8:12]))); err != nil {
			return nil, fmt.Errorf("%w: read tag %d values: %v", ErrTileParse, tag, err)
		}
		dir[tag] = f
	}
	return dir, nil
}

// uints decodes an unsigned integer field.
func (f field) uints(order binary.ByteOrder) ([]uint64, error) {
	size := f.typ.size()
	switch f.typ {
	case typeByte, typeShort, typeLong:
	default:
		return nil, fmt.Errorf("%w: field type %d is not an unsigned integer", ErrTileParse, f.typ)
	}
	out := make([]uint64, f.count)
	for i := range out {
		out[i] = decodeUint(order, f.data[i*size:(i+1)*size])
	}
	return out, nil
}

// first returns the first value of tag, and whether the tag is present.
func (d directory) first(tag uint16, order binary.ByteOrder) (uint64, bool, error) {
	f, ok := d[tag]
	if !ok {
		return 0, false, nil
	}
	values, err := f.uints(order)
	if err != nil {
		return 0, true, fmt.Errorf("tag %d: %w", tag, err)
	}
	if len(values) == 0 {
		return 0, true, fmt.Errorf("%w: tag %d has no values", ErrTileParse, tag)
	}
	return values[0], true, nil
}
