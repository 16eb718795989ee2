package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Size Class Tests
// ============================================================================

func TestSizeClasses(t *testing.T) {
	t.Run("HeaderClass", func(t *testing.T) {
		buf := Get(448)
		defer Put(buf)
		assert.Equal(t, 448, len(buf))
		assert.Equal(t, DefaultHeaderSize, cap(buf))
	})

	t.Run("WorkClass", func(t *testing.T) {
		buf := Get(8 << 10)
		defer Put(buf)
		assert.Equal(t, DefaultWorkSize, cap(buf))
	})

	t.Run("BulkClass", func(t *testing.T) {
		buf := Get(200 << 10)
		defer Put(buf)
		assert.Equal(t, DefaultBulkSize, cap(buf))
	})

	t.Run("OversizedAllocatedDirectly", func(t *testing.T) {
		buf := Get(DefaultBulkSize + 1)
		defer Put(buf)
		assert.Equal(t, DefaultBulkSize+1, len(buf))
		assert.Equal(t, len(buf), cap(buf))
	})

	t.Run("ZeroSizeUsesHeaderClass", func(t *testing.T) {
		buf := Get(0)
		defer Put(buf)
		assert.NotNil(t, buf)
		assert.Equal(t, DefaultHeaderSize, cap(buf))
	})
}

func TestCustomPool(t *testing.T) {
	p := NewPool(&Config{WorkSize: 1024})
	buf := p.Get(1000)
	assert.Equal(t, 1024, cap(buf))
	p.Put(buf)

	// Defaults survive partial configuration.
	assert.Equal(t, DefaultHeaderSize, p.headerSize)
	assert.Equal(t, DefaultBulkSize, p.bulkSize)
}

func TestPutTolerance(t *testing.T) {
	t.Run("NilIsIgnored", func(t *testing.T) {
		assert.NotPanics(t, func() { Put(nil) })
	})

	t.Run("ForeignCapacityIsDropped", func(t *testing.T) {
		assert.NotPanics(t, func() { Put(make([]byte, 100)) })
	})
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentGetPut(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				buf := Get(1 << (j % 15))
				buf[0] = byte(j)
				Put(buf)
			}
		}()
	}
	wg.Wait()
}
