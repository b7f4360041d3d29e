package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
)

type closer struct {
	name   string
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestAllocateNamed(t *testing.T) {
	r := NewRegistry(logging.Nop())

	obj, err := AllocateNamed(r, "IOQ1", func() (*closer, error) { return &closer{name: "a"}, nil })
	require.NoError(t, err)
	assert.True(t, r.Has("IOQ1"))

	got, err := GetNamed[*closer](r, "IOQ1")
	require.NoError(t, err)
	assert.Same(t, obj, got)
}

func TestAllocateNamedCollision(t *testing.T) {
	r := NewRegistry(logging.Nop())
	first := &closer{name: "first"}
	require.NoError(t, Register(r, "X", first))

	built := false
	_, err := AllocateNamed(r, "X", func() (*closer, error) {
		built = true
		return &closer{name: "second"}, nil
	})
	assert.True(t, errs.IsCode(err, errs.ErrCodeExists))
	assert.False(t, built, "constructor must not run on a collision")

	got, err := GetNamed[*closer](r, "X")
	require.NoError(t, err)
	assert.Same(t, first, got, "original entry is untouched")
	assert.Zero(t, first.closed)
}

func TestAllocateNamedFailure(t *testing.T) {
	r := NewRegistry(logging.Nop())

	_, err := AllocateNamed(r, "bad", func() (*closer, error) { return nil, errors.New("no memory") })
	require.Error(t, err)
	assert.False(t, r.Has("bad"))

	_, err = AllocateNamed(r, "", func() (int, error) { return 1, nil })
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
}

func TestGetNamed(t *testing.T) {
	r := NewRegistry(logging.Nop())
	require.NoError(t, Register(r, "count", 42))

	n, err := GetNamed[int](r, "count")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = GetNamed[string](r, "count")
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))

	_, err = GetNamed[int](r, "missing")
	assert.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
}

func TestFreeNamed(t *testing.T) {
	r := NewRegistry(logging.Nop())
	c := &closer{}
	require.NoError(t, Register(r, "q", c))

	require.NoError(t, r.FreeNamed("q"))
	assert.Equal(t, 1, c.closed)
	assert.Zero(t, r.Len())

	assert.True(t, errs.IsCode(r.FreeNamed("q"), errs.ErrCodeNotFound))
}

func TestFreeAllExcept(t *testing.T) {
	r := NewRegistry(logging.Nop())
	objs := map[string]*closer{}
	for _, name := range []string{AdminSQName, AdminCQName, "IOSQ1", "IOCQ1", "buf"} {
		objs[name] = &closer{name: name}
		require.NoError(t, Register(r, name, objs[name]))
	}
	objs["buf"].err = errors.New("stuck")

	freed, err := r.FreeAllExcept(AdminSQName, AdminCQName)
	assert.Equal(t, 3, freed)
	require.Error(t, err, "close failures are reported")
	assert.Equal(t, []string{AdminCQName, AdminSQName}, r.Names())
	assert.Zero(t, objs[AdminSQName].closed)
	assert.Equal(t, 1, objs["IOSQ1"].closed)
	assert.Equal(t, 1, objs["buf"].closed)

	freed, err = r.FreeAll()
	require.NoError(t, err)
	assert.Equal(t, 2, freed)
	assert.Zero(t, r.Len())
}
