// Package mem provides user-space buffers with controllable alignment and
// first-page offset, used as command payloads and caller-owned queue memory.
package mem

import (
	"bytes"
	"encoding/hex"
	"math"
	"math/bits"
	"os"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
)

// MaxLength passed to SetDataPattern means "up to the end of the region"
const MaxLength = math.MaxInt

// PageSize is the system page size
var PageSize = os.Getpagesize()

// DataPattern selects the fill written by SetDataPattern
type DataPattern int

const (
	DataPatConst8 DataPattern = iota
	DataPatConst16
	DataPatConst32
	DataPatInc8
	DataPatInc16
	DataPatInc32
)

func (p DataPattern) width() int {
	switch p {
	case DataPatConst16, DataPatInc16:
		return 2
	case DataPatConst32, DataPatInc32:
		return 4
	}
	return 1
}

func (p DataPattern) incrementing() bool {
	return p >= DataPatInc8
}

func (p DataPattern) String() string {
	return [...]string{"CONST_8BIT", "CONST_16BIT", "CONST_32BIT", "INC_8BIT", "INC_16BIT", "INC_32BIT"}[p]
}

// Region is a user-space buffer. The usable view may start inside the
// underlying allocation to honor an alignment or first-page offset request.
type Region struct {
	raw    []byte
	buf    []byte
	align  int
	mapped bool
}

// New returns an empty region; call one of the Init methods before use
func New() *Region {
	return &Region{}
}

// InitAlignment allocates size bytes whose first byte is aligned to align,
// which must be a power of two. The region is filled with initVal.
func (r *Region) InitAlignment(size int, align int, initVal byte) error {
	r.Free()

	if align <= 0 || bits.OnesCount(uint(align)) != 1 {
		return errs.Newf("INIT_ALIGNMENT", errs.ErrCodeConfiguration, "alignment %d is not a power of two", align)
	}
	if size == 0 {
		r.align = align
		return nil
	}

	// mmap hands back page-aligned memory, so only larger alignments need
	// over-allocation
	total := size
	if align > PageSize {
		total += align
	}
	if err := r.mmap(total); err != nil {
		return err
	}

	start := 0
	if rem := int(addrOf(r.raw) % uintptr(align)); rem != 0 {
		start = align - rem
	}
	r.buf = r.raw[start : start+size : start+size]
	r.align = align
	r.fill(initVal)
	return nil
}

// InitOffset1stPage allocates memory and returns a view that starts offset
// bytes into the first page. The base is always page aligned, so there is
// no alignment argument; offset must fall inside that first page. The
// allocation covers size+offset bytes.
func (r *Region) InitOffset1stPage(size int, offset int, initVal byte) error {
	r.Free()

	if offset < 0 || offset >= PageSize {
		return errs.Newf("INIT_OFFSET_1ST_PAGE", errs.ErrCodeBounds,
			"offset %d outside first page of %d bytes", offset, PageSize)
	}
	if err := r.mmap(size + offset); err != nil {
		return err
	}

	r.buf = r.raw[offset : offset+size : offset+size]
	r.align = 1
	if offset == 0 {
		r.align = PageSize
	}
	r.fill(initVal)
	return nil
}

// Init allocates size bytes from the Go heap with no alignment guarantee
func (r *Region) Init(size int, initVal byte) {
	r.Free()

	r.raw = make([]byte, size)
	r.buf = r.raw
	r.align = 1
	r.fill(initVal)
}

func (r *Region) mmap(total int) error {
	if total <= 0 {
		return nil
	}
	total = (total + PageSize - 1) &^ (PageSize - 1)
	b, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return errs.Wrap("MMAP_ANON", err)
	}
	r.raw = b
	r.mapped = true
	return nil
}

func (r *Region) fill(v byte) {
	for i := range r.buf {
		r.buf[i] = v
	}
}

// Free releases the underlying allocation. Safe to call repeatedly.
func (r *Region) Free() {
	if r.mapped && r.raw != nil {
		if err := unix.Munmap(r.raw); err != nil {
			logging.Default().Warn("munmap failed", "size", len(r.raw), "error", err)
		}
	}
	r.raw = nil
	r.buf = nil
	r.align = 0
	r.mapped = false
}

// Size returns the usable size in bytes
func (r *Region) Size() int {
	return len(r.buf)
}

// Alignment returns the alignment requested at allocation
func (r *Region) Alignment() int {
	return r.align
}

// Bytes returns the usable view
func (r *Region) Bytes() []byte {
	return r.buf
}

// Addr returns the address of the usable view, 0 when empty
func (r *Region) Addr() uintptr {
	return addrOf(r.buf)
}

// RawAddr returns the address of the underlying allocation, 0 when empty
func (r *Region) RawAddr() uintptr {
	return addrOf(r.raw)
}

// AllocatedSize returns the size of the underlying allocation
func (r *Region) AllocatedSize() int {
	return len(r.raw)
}

func addrOf(b []byte) uintptr {
	if cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Zero clears the usable view
func (r *Region) Zero() {
	r.fill(0)
}

// SetDataPattern writes pattern starting at seed over [offset, offset+length).
// Multi-byte values are little-endian; a trailing partial value is truncated.
func (r *Region) SetDataPattern(pattern DataPattern, seed uint32, offset int, length int) error {
	if offset < 0 || offset > len(r.buf) {
		return errs.Newf("SET_DATA_PATTERN", errs.ErrCodeBounds,
			"offset %d outside region of %d bytes", offset, len(r.buf))
	}
	if length == MaxLength {
		length = len(r.buf) - offset
	}
	if length < 0 || length > len(r.buf)-offset {
		return errs.Newf("SET_DATA_PATTERN", errs.ErrCodeBounds,
			"pattern [%d,%d) overruns region of %d bytes", offset, offset+length, len(r.buf))
	}

	w := pattern.width()
	mask := uint32(1)<<(8*w) - 1
	if w == 4 {
		mask = math.MaxUint32
	}
	dst := r.buf[offset : offset+length]
	for i := range dst {
		v := seed
		if pattern.incrementing() {
			v += uint32(i / w)
		}
		v &= mask
		dst[i] = byte(v >> (8 * (i % w)))
	}
	return nil
}

// Compare reports whether two regions hold identical bytes. Regions of
// different size cannot be compared.
func (r *Region) Compare(other *Region) (bool, error) {
	if other == nil || len(r.buf) != len(other.buf) {
		otherSize := 0
		if other != nil {
			otherSize = len(other.buf)
		}
		return false, errs.Newf("COMPARE", errs.ErrCodeConfiguration,
			"size mismatch: %d vs %d bytes", len(r.buf), otherSize)
	}
	return bytes.Equal(r.buf, other.buf), nil
}

// Dump writes a hex listing of the region to the logger
func (r *Region) Dump(log *logging.Logger, header string) {
	log.Info(header,
		"size", humanize.IBytes(uint64(len(r.buf))),
		"addr", r.Addr(),
		"align", r.align)
	if len(r.buf) > 0 {
		log.Debugf("\n%s", hex.Dump(r.buf))
	}
}
