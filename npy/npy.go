// Package npy provides read-only, memory-mapped access to NumPy .npy array
// files.
//
// Only the subset of the format used by the stack archives is supported:
// little-endian float32/float64 data in C order, with a 2D or 3D shape. The
// file is never copied into memory; tiles are decoded on demand from the
// mapping, so arbitrarily large stack files can be opened cheaply.
package npy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/exp/mmap"
)

// Common errors
var (
	ErrFormat      = errors.New("not an npy file")
	ErrUnsupported = errors.New("unsupported npy feature")
	ErrBounds      = errors.New("read outside array bounds")
)

// DType identifies the element type of an array, using NumPy descr notation.
type DType string

const (
	Float32 DType = "<f4"
	Float64 DType = "<f8"
)

var itemSizes = map[DType]int{
	Float32: 4,
	Float64: 8,
}

var magic = []byte("\x93NUMPY")

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']+)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Array is a read-only view of a memory-mapped .npy file. A 2D file is
// treated as a single-stack 3D array of shape (1, rows, cols).
type Array struct {
	r        *mmap.ReaderAt
	dtype    DType
	itemSize int
	shape    []int

	stacks, rows, cols int
	dataOff            int64
}

// Open memory-maps the .npy file at path and parses its header.
func Open(path string) (*Array, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}

	a, err := parse(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func parse(r *mmap.ReaderAt) (*Array, error) {
	pre := make([]byte, 10)
	if _, err := r.ReadAt(pre, 0); err != nil {
		return nil, fmt.Errorf("failed to read preamble: %w", err)
	}
	if string(pre[:6]) != string(magic) {
		return nil, ErrFormat
	}
	major := pre[6]

	// Version 1.x uses a 2-byte header length, 2.x and later a 4-byte one.
	var headerLen, headerOff int64
	switch {
	case major == 1:
		headerLen = int64(binary.LittleEndian.Uint16(pre[8:10]))
		headerOff = 10
	case major >= 2:
		ext := make([]byte, 4)
		if _, err := r.ReadAt(ext, 8); err != nil {
			return nil, fmt.Errorf("failed to read header length: %w", err)
		}
		headerLen = int64(binary.LittleEndian.Uint32(ext))
		headerOff = 12
	default:
		return nil, fmt.Errorf("version %d.%d: %w", pre[6], pre[7], ErrUnsupported)
	}

	header := make([]byte, headerLen)
	if _, err := r.ReadAt(header, headerOff); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	descr, fortran, shape, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran order: %w", ErrUnsupported)
	}
	size, ok := itemSizes[descr]
	if !ok {
		return nil, fmt.Errorf("dtype %q: %w", descr, ErrUnsupported)
	}

	a := &Array{
		r:        r,
		dtype:    descr,
		itemSize: size,
		shape:    shape,
		dataOff:  headerOff + headerLen,
	}
	switch len(shape) {
	case 2:
		a.stacks, a.rows, a.cols = 1, shape[0], shape[1]
	case 3:
		a.stacks, a.rows, a.cols = shape[0], shape[1], shape[2]
	default:
		return nil, fmt.Errorf("%d-dimensional array: %w", len(shape), ErrUnsupported)
	}

	want := a.dataOff + int64(a.stacks)*int64(a.rows)*int64(a.cols)*int64(size)
	if int64(r.Len()) < want {
		return nil, fmt.Errorf("file truncated: have %d bytes, want %d: %w", r.Len(), want, ErrFormat)
	}
	return a, nil
}

func parseHeader(h string) (descr DType, fortran bool, shape []int, err error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return "", false, nil, fmt.Errorf("header missing descr: %w", ErrFormat)
	}
	descr = DType(m[1])

	m = fortranRe.FindStringSubmatch(h)
	if m == nil {
		return "", false, nil, fmt.Errorf("header missing fortran_order: %w", ErrFormat)
	}
	fortran = m[1] == "True"

	m = shapeRe.FindStringSubmatch(h)
	if m == nil {
		return "", false, nil, fmt.Errorf("header missing shape: %w", ErrFormat)
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, perr := strconv.Atoi(part)
		if perr != nil || n < 0 {
			return "", false, nil, fmt.Errorf("bad shape entry %q: %w", part, ErrFormat)
		}
		shape = append(shape, n)
	}
	return descr, fortran, shape, nil
}

// Shape returns a copy of the array shape as stored in the file.
func (a *Array) Shape() []int {
	out := make([]int, len(a.shape))
	copy(out, a.shape)
	return out
}

// DType returns the element type.
func (a *Array) DType() DType { return a.dtype }

// Stacks returns the number of 2D slices in the array.
func (a *Array) Stacks() int { return a.stacks }

// Rows returns the number of rows per 2D slice.
func (a *Array) Rows() int { return a.rows }

// Cols returns the number of columns per 2D slice.
func (a *Array) Cols() int { return a.cols }

// Close releases the mapping. The array must not be used afterwards.
func (a *Array) Close() error { return a.r.Close() }

// ReadTile decodes the square sub-block of side size whose top-left corner is
// (row0, col0) within 2D slice stack, into dst (which must hold at least
// size*size values). Float64 data is converted to float32 on the fly.
func (a *Array) ReadTile(stack, row0, col0, size int, dst []float32) error {
	if stack < 0 || stack >= a.stacks {
		return fmt.Errorf("stack %d of %d: %w", stack, a.stacks, ErrBounds)
	}
	if row0 < 0 || col0 < 0 || size <= 0 || row0+size > a.rows || col0+size > a.cols {
		return fmt.Errorf("tile [%d:%d, %d:%d] of %dx%d slice: %w",
			row0, row0+size, col0, col0+size, a.rows, a.cols, ErrBounds)
	}
	if len(dst) < size*size {
		return fmt.Errorf("destination holds %d values, tile needs %d: %w", len(dst), size*size, ErrBounds)
	}

	row := make([]byte, size*a.itemSize)
	for r := 0; r < size; r++ {
		off := a.dataOff + int64((stack*a.rows+row0+r)*a.cols+col0)*int64(a.itemSize)
		if _, err := a.r.ReadAt(row, off); err != nil {
			return fmt.Errorf("failed to read row %d: %w", row0+r, err)
		}
		out := dst[r*size : (r+1)*size]
		switch a.dtype {
		case Float32:
			for c := range out {
				out[c] = math.Float32frombits(binary.LittleEndian.Uint32(row[c*4:]))
			}
		case Float64:
			for c := range out {
				out[c] = float32(math.Float64frombits(binary.LittleEndian.Uint64(row[c*8:])))
			}
		}
	}
	return nil
}
