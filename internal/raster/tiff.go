// Package raster reads single-band elevation rasters stored as baseline,
// uncompressed, strip-organized TIFF files. Pixels are sampled straight from
// the backing file, so a tile costs a few kilobytes of memory however large
// the image is.
package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrTileParse         = errors.New("tile parse error")
	ErrUnsupportedFormat = errors.New("unsupported tile format")
	ErrOutOfRange        = errors.New("pixel out of range")
)

const (
	markerLittleEndian = 0x4949 // "II"
	markerBigEndian    = 0x4d4d // "MM"
	tiffMagic          = 42
)

type readerAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Tile is one parsed raster. It is immutable and safe for concurrent use.
type Tile struct {
	Width  int
	Length int

	depth int
	order binary.ByteOrder
	// rows holds the absolute file offset of the first sample of each row.
	rows []int64
	src  readerAtCloser
	// path is set for file-backed tiles so reads survive Close.
	path string
}

// Open parses the directory of the TIFF file at path and keeps the file
// open for sampling until Close.
func Open(path string) (*Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	t, err := parse(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.src = f
	t.path = path
	return t, nil
}

// Decode parses a TIFF held by r. r must stay readable for the lifetime of
// the returned tile.
func Decode(r io.ReaderAt) (*Tile, error) {
	t, err := parse(r)
	if err != nil {
		return nil, err
	}
	t.src = nopCloser{r}
	return t, nil
}

func (t *Tile) Dims() (width, length int) {
	return t.Width, t.Length
}

// SampleDepth is the size of one sample in bytes.
func (t *Tile) SampleDepth() int {
	return t.depth
}

func (t *Tile) ByteOrder() binary.ByteOrder {
	return t.order
}

// Close releases the backing file. A closed file-backed tile still answers
// ValueAt by opening the file for each read.
func (t *Tile) Close() error {
	return t.src.Close()
}

// ValueAt seeks to the sample at (row, col) and reads it from the backing
// file.
func (t *Tile) ValueAt(row, col int) (uint64, error) {
	if row < 0 || row >= t.Length || col < 0 || col >= t.Width {
		return 0, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrOutOfRange, row, col, t.Width, t.Length)
	}

	var buf [8]byte
	sample := buf[:t.depth]
	off := t.rows[row] + int64(col*t.depth)
	err := readFull(t.src, sample, off)
	if errors.Is(err, os.ErrClosed) && t.path != "" {
		err = t.reread(sample, off)
	}
	if err != nil {
		return 0, fmt.Errorf("read pixel (%d,%d): %w", row, col, err)
	}
	return decodeUint(t.order, sample), nil
}

func (t *Tile) reread(buf []byte, off int64) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return readFull(f, buf, off)
}

func parse(r io.ReaderAt) (*Tile, error) {
	var hdr [8]byte
	if err := readFull(r, hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrTileParse, err)
	}

	var order binary.ByteOrder
	switch marker := binary.BigEndian.Uint16(hdr[0:2]); marker {
	case markerLittleEndian:
		order = binary.LittleEndian
	case markerBigEndian:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: byte order marker %#04x", ErrTileParse, marker)
	}
	if magic := order.Uint16(hdr[2:4]); magic != tiffMagic {
		return nil, fmt.Errorf("%w: magic %d", ErrTileParse, magic)
	}

	dir, err := readDirectory(r, order, int64(order.Uint32(hdr[4:8])))
	if err != nil {
		return nil, err
	}
	return dir.tile(order)
}

func (d directory) tile(order binary.ByteOrder) (*Tile, error) {
	for _, tag := range requiredTags {
		if _, ok := d[tag]; !ok {
			return nil, fmt.Errorf("%w: missing tag %d", ErrTileParse, tag)
		}
	}

	if v, ok, err := d.first(tagCompression, order); err != nil {
		return nil, err
	} else if ok && v != compressionNone {
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedFormat, v)
	}
	if v, ok, err := d.first(tagSamplesPerPixel, order); err != nil {
		return nil, err
	} else if ok && v != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrUnsupportedFormat, v)
	}

	width, _, err := d.first(tagImageWidth, order)
	if err != nil {
		return nil, err
	}
	length, _, err := d.first(tagImageLength, order)
	if err != nil {
		return nil, err
	}
	if width == 0 || length == 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrTileParse, width, length)
	}
	bits, _, err := d.first(tagBitsPerSample, order)
	if err != nil {
		return nil, err
	}
	depth := int(bits / 8)
	if bits%8 != 0 || (depth != 1 && depth != 2 && depth != 4 && depth != 8) {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, bits)
	}

	t := &Tile{
		Width:  int(width),
		Length: int(length),
		depth:  depth,
		order:  order,
	}
	if err := t.layoutRows(d, order); err != nil {
		return nil, err
	}
	return t, nil
}

// layoutRows derives per-row offsets. Absent RowsPerStrip means the whole
// image is one strip.
func (t *Tile) layoutRows(d directory, order binary.ByteOrder) error {
	offsets, err := d[tagStripOffsets].uints(order)
	if err != nil {
		return err
	}
	counts, err := d[tagStripByteCounts].uints(order)
	if err != nil {
		return err
	}
	if len(offsets) != len(counts) {
		return fmt.Errorf("%w: %d strip offsets but %d byte counts", ErrTileParse, len(offsets), len(counts))
	}

	rowsPerStrip := uint64(t.Length)
	if v, ok, err := d.first(tagRowsPerStrip, order); err != nil {
		return err
	} else if ok && v > 0 && v < rowsPerStrip {
		rowsPerStrip = v
	}

	strips := (uint64(t.Length) + rowsPerStrip - 1) / rowsPerStrip
	if uint64(len(offsets)) < strips {
		return fmt.Errorf("%w: %d strips for %d rows of %d", ErrTileParse, len(offsets), t.Length, rowsPerStrip)
	}

	rowBytes := uint64(t.Width * t.depth)
	for s := uint64(0); s < strips; s++ {
		rows := rowsPerStrip
		if last := uint64(t.Length) - s*rowsPerStrip; last < rows {
			rows = last
		}
		if counts[s] < rows*rowBytes {
			return fmt.Errorf("%w: strip %d holds %d bytes, need %d", ErrTileParse, s, counts[s], rows*rowBytes)
		}
	}

	t.rows = make([]int64, t.Length)
	for row := range t.rows {
		strip := uint64(row) / rowsPerStrip
		t.rows[row] = int64(offsets[strip] + (uint64(row)%rowsPerStrip)*rowBytes)
	}
	return nil
}

func decodeUint(order binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}

func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

type nopCloser struct {
	io.ReaderAt
}

func (nopCloser) Close() error { return nil }
