package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestScheduleRunsAfterDelay(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	var ran atomic.Int32
	s.Schedule("merge:r1", 5*time.Second, func() { ran.Add(1) })
	assert.True(t, s.Pending("merge:r1"))

	mock.Add(4 * time.Second)
	assert.Equal(t, int32(0), ran.Load())

	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Pending("merge:r1"))
}

func TestCancelPreventsRun(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	var ran atomic.Int32
	s.Schedule("k", time.Second, func() { ran.Add(1) })
	assert.True(t, s.Cancel("k"))
	assert.False(t, s.Cancel("k"))

	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

func TestRescheduleReplacesTask(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	var first, second atomic.Int32
	s.Schedule("k", time.Second, func() { first.Add(1) })
	s.Schedule("k", 3*time.Second, func() { second.Add(1) })

	mock.Add(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(0), second.Load())

	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestStopRefusesNewTasks(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	var ran atomic.Int32
	s.Schedule("a", time.Second, func() { ran.Add(1) })
	s.Stop()
	s.Schedule("b", time.Second, func() { ran.Add(1) })
	assert.False(t, s.Pending("b"))

	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}
