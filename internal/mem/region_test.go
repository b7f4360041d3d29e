package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
)

func TestInitAlignment(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		align int
	}{
		{"byte aligned", 100, 1},
		{"dword aligned", 64, 4},
		{"page aligned", 8192, PageSize},
		{"beyond page", 512, PageSize * 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			defer r.Free()

			require.NoError(t, r.InitAlignment(tt.size, tt.align, 0xaa))
			assert.Equal(t, tt.size, r.Size())
			assert.Zero(t, r.Addr()%uintptr(tt.align))
			for _, b := range r.Bytes() {
				if b != 0xaa {
					t.Fatalf("init value not applied: 0x%02x", b)
				}
			}
		})
	}
}

func TestInitAlignmentRejectsBadAlignment(t *testing.T) {
	r := New()
	err := r.InitAlignment(64, 3, 0)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
}

func TestInitOffset1stPage(t *testing.T) {
	for _, offset := range []int{0, 1, 3, 512, PageSize - 1} {
		r := New()
		require.NoError(t, r.InitOffset1stPage(4096, offset, 0))

		assert.Equal(t, uintptr(offset), r.Addr()-r.RawAddr(), "offset %d", offset)
		assert.Zero(t, r.RawAddr()%uintptr(PageSize))
		assert.GreaterOrEqual(t, r.AllocatedSize(), 4096+offset)
		assert.Equal(t, 4096, r.Size())
		if offset == 0 {
			assert.Equal(t, PageSize, r.Alignment())
		} else {
			assert.Equal(t, 1, r.Alignment())
		}
		r.Free()
	}

	r := New()
	err := r.InitOffset1stPage(16, PageSize, 0)
	assert.True(t, errs.IsCode(err, errs.ErrCodeBounds))
}

func TestReinitTearsDown(t *testing.T) {
	r := New()
	require.NoError(t, r.InitOffset1stPage(64, 8, 1))
	r.Init(32, 2)

	assert.Equal(t, 32, r.Size())
	assert.Equal(t, r.RawAddr(), r.Addr())
	assert.Equal(t, byte(2), r.Bytes()[31])

	r.Free()
	r.Free()
	assert.Zero(t, r.Size())
	assert.Zero(t, r.Addr())
}

func TestSetDataPatternInc8(t *testing.T) {
	r := New()
	r.Init(1000, 0)

	require.NoError(t, r.SetDataPattern(DataPatInc8, 0, 0, 1000))
	for i, b := range r.Bytes() {
		if b != byte(i%256) {
			t.Fatalf("byte[%d] = %d, want %d", i, b, i%256)
		}
	}
}

func TestSetDataPatternWidths(t *testing.T) {
	tests := []struct {
		pattern DataPattern
		seed    uint32
		want    []byte
	}{
		{DataPatConst8, 0x1234, []byte{0x34, 0x34, 0x34, 0x34, 0x34, 0x34}},
		{DataPatConst16, 0xbeef, []byte{0xef, 0xbe, 0xef, 0xbe, 0xef, 0xbe}},
		{DataPatConst32, 0x01020304, []byte{0x04, 0x03, 0x02, 0x01, 0x04, 0x03}},
		{DataPatInc16, 0xfffe, []byte{0xfe, 0xff, 0xff, 0xff, 0x00, 0x00}},
		{DataPatInc32, 7, []byte{7, 0, 0, 0, 8, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.pattern.String(), func(t *testing.T) {
			r := New()
			r.Init(8, 0xcc)

			require.NoError(t, r.SetDataPattern(tt.pattern, tt.seed, 1, 6))
			assert.Equal(t, byte(0xcc), r.Bytes()[0])
			assert.Equal(t, tt.want, r.Bytes()[1:7])
			assert.Equal(t, byte(0xcc), r.Bytes()[7])
		})
	}
}

func TestSetDataPatternBounds(t *testing.T) {
	r := New()
	r.Init(16, 0)

	require.NoError(t, r.SetDataPattern(DataPatConst8, 9, 4, MaxLength))
	assert.Equal(t, byte(0), r.Bytes()[3])
	assert.Equal(t, byte(9), r.Bytes()[15])

	err := r.SetDataPattern(DataPatConst8, 0, 8, 9)
	assert.True(t, errs.IsCode(err, errs.ErrCodeBounds))

	err = r.SetDataPattern(DataPatConst8, 0, 17, 0)
	assert.True(t, errs.IsCode(err, errs.ErrCodeBounds))
}

func TestCompare(t *testing.T) {
	a := New()
	a.Init(64, 0)
	require.NoError(t, a.SetDataPattern(DataPatInc8, 0, 0, MaxLength))

	same, err := a.Compare(a)
	require.NoError(t, err)
	assert.True(t, same)

	b := New()
	b.Init(64, 0)
	same, err = a.Compare(b)
	require.NoError(t, err)
	assert.False(t, same)

	c := New()
	c.Init(65, 0)
	_, err = a.Compare(c)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))

	_, err = a.Compare(nil)
	assert.Error(t, err)
}

func TestZeroLengthRegion(t *testing.T) {
	r := New()
	r.Init(0, 0)
	assert.Zero(t, r.Size())
	assert.NoError(t, r.SetDataPattern(DataPatInc8, 0, 0, MaxLength))

	require.NoError(t, r.InitAlignment(0, 4, 0))
	assert.Zero(t, r.Size())
}
