package plain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestScheduler(size int) (*scheduler, []entry) {
	table := make([]entry, size)
	for i := range table {
		e := &table[i]
		e.schedNext = nilIdx
		e.schedPrev = nilIdx
		e.wheelNext = nilIdx
		e.wheelPrev = nilIdx
		e.bucket = nilIdx
	}
	return newScheduler(table), table
}

func drainScheduler(sch *scheduler) []int32 {
	var order []int32
	for {
		idx := sch.next()
		if idx == nilIdx {
			return order
		}
		order = append(order, idx)
	}
}

func TestSchedulerFIFO(t *testing.T) {
	sch, _ := newTestScheduler(16)
	require.True(t, sch.empty())

	sch.schedule(3)
	sch.schedule(7)
	sch.schedule(1)
	require.False(t, sch.empty())

	require.Equal(t, []int32{3, 7, 1}, drainScheduler(sch))
	require.True(t, sch.empty())
}

func TestSchedulerDoubleScheduleIsNoop(t *testing.T) {
	sch, _ := newTestScheduler(16)

	sch.schedule(5)
	sch.schedule(5)
	sch.schedule(5)

	require.Equal(t, []int32{5}, drainScheduler(sch))
}

func TestSchedulerSelfRescheduleGoesBehindBatch(t *testing.T) {
	sch, _ := newTestScheduler(16)

	sch.schedule(1)
	sch.schedule(2)
	sch.schedule(3)

	// 1 runs and re-schedules itself; it must wait behind 2 and 3.
	require.Equal(t, int32(1), sch.next())
	sch.schedule(1)

	require.Equal(t, int32(2), sch.next())
	require.Equal(t, int32(3), sch.next())
	require.Equal(t, int32(1), sch.next())
	require.Equal(t, nilIdx, sch.next())
}

func TestSchedulerDescheduledEntryIsSkipped(t *testing.T) {
	sch, _ := newTestScheduler(16)

	sch.schedule(1)
	sch.schedule(2)
	sch.deschedule(1)

	require.Equal(t, []int32{2}, drainScheduler(sch))
}

func TestSchedulerRescheduleAfterDeschedule(t *testing.T) {
	sch, _ := newTestScheduler(16)

	sch.schedule(4)
	sch.deschedule(4)
	sch.schedule(4)

	require.Equal(t, []int32{4}, drainScheduler(sch))
	require.True(t, sch.empty())
}

func TestSchedulerInterleavedProduceConsume(t *testing.T) {
	sch, _ := newTestScheduler(64)

	sch.schedule(10)
	require.Equal(t, int32(10), sch.next())

	// New arrivals while the batch runs queue behind the current batch.
	sch.schedule(11)
	sch.schedule(12)
	require.Equal(t, int32(11), sch.next())
	sch.schedule(13)
	require.Equal(t, int32(12), sch.next())
	require.Equal(t, int32(13), sch.next())
	require.Equal(t, nilIdx, sch.next())
}

func TestSchedulerConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 64

	sch, _ := newTestScheduler(producers * perProducer)

	done := make(chan struct{})
	for pr := 0; pr < producers; pr++ {
		go func(pr int) {
			for i := 0; i < perProducer; i++ {
				sch.schedule(int32(pr*perProducer + i))
			}
			done <- struct{}{}
		}(pr)
	}
	for pr := 0; pr < producers; pr++ {
		<-done
	}

	seen := make(map[int32]bool)
	for _, idx := range drainScheduler(sch) {
		require.False(t, seen[idx], "entry %d popped twice", idx)
		seen[idx] = true
	}
	require.Equal(t, producers*perProducer, len(seen))
}
