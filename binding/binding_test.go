package binding_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sliverarmory/callshim/binding"
)

func countingResolver(addr uintptr, calls *atomic.Int64) binding.Resolver {
	return func(symbol string) (uintptr, error) {
		calls.Add(1)
		return addr, nil
	}
}

func TestResolveRunsOnce(t *testing.T) {
	var calls atomic.Int64
	b := binding.New("pthread_create", countingResolver(0x1000, &calls))

	assert.False(t, b.Resolved())
	assert.Equal(t, "pthread_create", b.Name())

	for i := 0; i < 50; i++ {
		addr, err := b.Resolve()
		require.NoError(t, err)
		require.Equal(t, uintptr(0x1000), addr)
	}

	assert.True(t, b.Resolved())
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), b.Resolutions())
}

func TestResolveConcurrentFirstCallers(t *testing.T) {
	const callers = 64

	var calls atomic.Int64
	release := make(chan struct{})
	b := binding.New("pthread_create", func(symbol string) (uintptr, error) {
		calls.Add(1)
		<-release
		return 0x2000, nil
	})

	var (
		wg    sync.WaitGroup
		start sync.WaitGroup
		got   [callers]uintptr
		errs  [callers]error
	)
	start.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Done()
			got[i], errs[i] = b.Resolve()
		}(i)
	}
	start.Wait()
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, uintptr(0x2000), got[i], "caller %d", i)
	}
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), b.Resolutions())
}

func TestResolveFailureIsCached(t *testing.T) {
	var calls atomic.Int64
	b := binding.New("missing_symbol", countingResolver(0, &calls))

	_, err := b.Resolve()
	require.ErrorIs(t, err, binding.ErrUnresolved)
	_, err = b.Resolve()
	require.ErrorIs(t, err, binding.ErrUnresolved)

	assert.False(t, b.Resolved())
	assert.Equal(t, int64(1), calls.Load())
}

func TestResolverErrorIsWrapped(t *testing.T) {
	cause := errors.New("dlsym: undefined symbol")
	b := binding.New("pthread_create", func(string) (uintptr, error) {
		return 0, cause
	})

	_, err := b.Resolve()
	require.ErrorIs(t, err, cause)

	var rerr *binding.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "pthread_create", rerr.Symbol)
}

func TestAddressPanicsWhenUnresolved(t *testing.T) {
	b := binding.New("missing_symbol", nil)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*binding.ResolutionError)
		require.True(t, ok, "panic value %T", r)
		assert.ErrorIs(t, err, binding.ErrUnresolved)
	}()
	_ = b.Address()
	t.Fatal("Address did not panic")
}

func TestWithSelfRejectsWrapperAddress(t *testing.T) {
	const wrapper = uintptr(0x4000)
	b := binding.New("pthread_create", func(string) (uintptr, error) {
		return wrapper, nil
	}, binding.WithSelf(wrapper))

	_, err := b.Resolve()
	require.ErrorIs(t, err, binding.ErrSelfReference)
	assert.False(t, b.Resolved())
}

func TestStatic(t *testing.T) {
	b := binding.Static("__real_pthread_create", 0x5000)

	addr, err := b.Resolve()
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x5000), addr)
	assert.True(t, b.Resolved())
	assert.Equal(t, int64(0), b.Resolutions())

	missing := binding.Static("__real_missing", 0)
	_, err = missing.Resolve()
	assert.ErrorIs(t, err, binding.ErrUnresolved)
}
