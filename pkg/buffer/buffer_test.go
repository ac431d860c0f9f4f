package buffer

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/metric"
)

func TestCircularBuffer_FIFO(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	require.NoError(t, buf.Write("a"))
	require.NoError(t, buf.Write("b"))

	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, buf.Size())

	v, _ = buf.Read()
	assert.Equal(t, "a", v)
	v, _ = buf.Read()
	assert.Equal(t, "b", v)

	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](3, WithDropCallback(func(v int) { dropped = append(dropped, v) }))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.True(t, buf.IsFull())
	assert.Equal(t, []int{3, 4, 5}, buf.ReadBatch(10))
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, int64(2), buf.Stats().Drops())
	assert.InDelta(t, 0.4, buf.Stats().DropRate(), 1e-9)
}

func TestCircularBuffer_DropNewest(t *testing.T) {
	buf, err := NewCircularBuffer[int](2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{1, 2}, buf.ReadBatch(5))
	assert.Equal(t, int64(2), buf.Stats().Drops())
}

func TestCircularBuffer_NotifyAndDone(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	select {
	case <-buf.Notify():
	default:
		t.Fatal("expected notification after write")
	}
	select {
	case <-buf.Notify():
		t.Fatal("notification channel should coalesce")
	default:
	}

	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())
	<-buf.Done()

	assert.Error(t, buf.Write(3))
	v, ok := buf.Read()
	assert.True(t, ok, "queued items survive close")
	assert.Equal(t, 1, v)
}

func TestCircularBuffer_Clear(t *testing.T) {
	count := 0
	buf, err := NewCircularBuffer[int](4, WithDropCallback(func(int) { count++ }))
	require.NoError(t, err)

	_ = buf.Write(1)
	_ = buf.Write(2)
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(2), buf.Stats().MaxSize())
}

func TestCircularBuffer_MinimumCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())
	assert.Nil(t, buf.ReadBatch(0))
}

func TestCircularBuffer_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	buf, err := NewCircularBuffer[int](1, WithMetrics[int](reg, "sub_gps0"))
	require.NoError(t, err)

	_ = buf.Write(1)
	_ = buf.Write(2)

	m := buf.(*circularBuffer[int]).metrics
	require.NotNil(t, m)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.writes))

	_, err = NewCircularBuffer[int](1, WithMetrics[int](reg, "sub_gps0"))
	assert.Error(t, err, "duplicate metric label must fail")

	require.NoError(t, buf.Close())
	again, err := NewCircularBuffer[int](1, WithMetrics[int](reg, "sub_gps0"))
	require.NoError(t, err, "closing releases the label")
	require.NoError(t, again.Close())
}

func TestCircularBuffer_ConcurrentWriters(t *testing.T) {
	buf, err := NewCircularBuffer[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(i)
			}
		}()
	}
	wg.Wait()

	stats := buf.Stats().Summary()
	assert.Equal(t, int64(800), stats.Writes)
	assert.Equal(t, int64(800-64), stats.Drops)
	assert.Equal(t, 64, buf.Size())
}
