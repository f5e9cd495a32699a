// Scheduler tests for rxstream
// 调度器测试：实时调度器和虚拟时间调度器
package rxstream

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestImmediateScheduler(t *testing.T) {
	c := qt.New(t)

	var ran bool
	d := ImmediateScheduler.Schedule(func() { ran = true })
	c.Assert(ran, qt.IsTrue)
	c.Assert(d.IsDisposed(), qt.IsFalse)
}

func TestCurrentThreadSchedulerTrampolines(t *testing.T) {
	c := qt.New(t)

	s := NewCurrentThreadScheduler()
	var order []string
	s.Schedule(func() {
		order = append(order, "outer-start")
		s.Schedule(func() { order = append(order, "inner") })
		order = append(order, "outer-end")
	})
	c.Assert(order, qt.DeepEquals, []string{"outer-start", "outer-end", "inner"})
}

func TestCurrentThreadSchedulerCancel(t *testing.T) {
	c := qt.New(t)

	s := NewCurrentThreadScheduler()
	var ran bool
	s.Schedule(func() {
		d := s.Schedule(func() { ran = true })
		d.Dispose()
	})
	c.Assert(ran, qt.IsFalse)
}

func TestNewThreadScheduler(t *testing.T) {
	c := qt.New(t)

	done := make(chan struct{})
	NewThreadScheduler.ScheduleWithDelay(func() { close(done) }, time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("任务没有执行")
	}
}

func TestRealTimeCancelBeforeDue(t *testing.T) {
	c := qt.New(t)

	var ran int32
	d := NewThreadScheduler.ScheduleWithDelay(func() { atomic.StoreInt32(&ran, 1) }, 20*time.Millisecond)
	d.Dispose()
	time.Sleep(50 * time.Millisecond)
	c.Assert(atomic.LoadInt32(&ran), qt.Equals, int32(0))
	c.Assert(d.IsDisposed(), qt.IsTrue)
}

func TestThreadPoolScheduler(t *testing.T) {
	c := qt.New(t)

	pool := NewThreadPoolScheduler(4)
	c.Assert(pool.Workers(), qt.Equals, 4)

	var wg sync.WaitGroup
	var count int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		pool.Schedule(func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
	}
	wg.Wait()
	c.Assert(atomic.LoadInt64(&count), qt.Equals, int64(100))

	pool.Dispose()
	c.Assert(pool.IsDisposed(), qt.IsTrue)
	c.Assert(pool.Schedule(func() {}).IsDisposed(), qt.IsTrue)
}

func TestThreadPoolSchedulerSurvivesPanic(t *testing.T) {
	c := qt.New(t)

	pool := NewThreadPoolScheduler(1)
	defer pool.Dispose()

	done := make(chan struct{})
	pool.Schedule(func() { panic("boom") })
	pool.Schedule(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("panic之后工作goroutine应继续执行任务")
	}
}

func TestThreadPoolSchedulerNestedSchedule(t *testing.T) {
	c := qt.New(t)

	pool := NewThreadPoolScheduler(1)
	defer pool.Dispose()

	var wg sync.WaitGroup
	var count int64
	done := make(chan struct{})
	wg.Add(1)
	pool.Schedule(func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			wg.Add(1)
			pool.Schedule(func() {
				defer wg.Done()
				atomic.AddInt64(&count, 1)
			})
		}
	})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("工作goroutine内部调度的任务没有全部执行")
	}
	c.Assert(atomic.LoadInt64(&count), qt.Equals, int64(10))
	c.Assert(pool.Pending(), qt.Equals, 0)
}

func TestVirtualTimeScheduler(t *testing.T) {
	c := qt.New(t)

	c.Run("同一时刻按调度顺序执行", func(c *qt.C) {
		s := NewVirtualTimeScheduler()
		var order []int
		for i := 0; i < 5; i++ {
			i := i
			s.ScheduleWithDelay(func() { order = append(order, i) }, time.Second)
		}
		s.Start()
		c.Assert(order, qt.DeepEquals, []int{0, 1, 2, 3, 4})
		c.Assert(s.Clock(), qt.Equals, time.Second)
	})

	c.Run("按到期时间执行", func(c *qt.C) {
		s := NewVirtualTimeScheduler()
		var order []string
		s.ScheduleWithDelay(func() { order = append(order, "late") }, 3*time.Second)
		s.ScheduleWithDelay(func() { order = append(order, "early") }, time.Second)
		s.Start()
		c.Assert(order, qt.DeepEquals, []string{"early", "late"})
	})

	c.Run("AdvanceBy执行嵌套的零延迟任务", func(c *qt.C) {
		s := NewVirtualTimeScheduler()
		var order []string
		s.ScheduleWithDelay(func() {
			order = append(order, "outer")
			s.Schedule(func() { order = append(order, "nested") })
		}, time.Second)
		s.AdvanceBy(time.Second)
		c.Assert(order, qt.DeepEquals, []string{"outer", "nested"})
		c.Assert(s.Pending(), qt.Equals, 0)
	})

	c.Run("AdvanceTo设置时钟", func(c *qt.C) {
		s := NewVirtualTimeScheduler()
		var ran bool
		s.ScheduleWithDelay(func() { ran = true }, 5*time.Second)
		s.AdvanceTo(2 * time.Second)
		c.Assert(ran, qt.IsFalse)
		c.Assert(s.Clock(), qt.Equals, 2*time.Second)
		c.Assert(s.Now(), qt.Equals, time.Unix(2, 0).UTC())
		c.Assert(s.Pending(), qt.Equals, 1)

		s.AdvanceBy(3 * time.Second)
		c.Assert(ran, qt.IsTrue)
	})

	c.Run("取消的任务不执行", func(c *qt.C) {
		s := NewVirtualTimeScheduler()
		var ran bool
		d := s.ScheduleWithDelay(func() { ran = true }, time.Second)
		c.Assert(s.Pending(), qt.Equals, 1)
		d.Dispose()
		c.Assert(s.Pending(), qt.Equals, 0)
		s.Start()
		c.Assert(ran, qt.IsFalse)
		c.Assert(s.Clock(), qt.Equals, time.Duration(0))
	})

	c.Run("Stop", func(c *qt.C) {
		s := NewVirtualTimeScheduler()
		var ran []int
		s.ScheduleWithDelay(func() {
			ran = append(ran, 1)
			s.Stop()
		}, time.Second)
		s.ScheduleWithDelay(func() { ran = append(ran, 2) }, 2*time.Second)
		s.Start()
		c.Assert(ran, qt.DeepEquals, []int{1})
		c.Assert(s.Pending(), qt.Equals, 1)

		s.Start()
		c.Assert(ran, qt.DeepEquals, []int{1, 2})
	})

	c.Run("过去的绝对时间按当前时钟执行", func(c *qt.C) {
		s := NewVirtualTimeScheduler()
		s.AdvanceTo(5 * time.Second)
		var at time.Duration
		s.ScheduleAbsolute(time.Second, func() { at = s.Clock() })
		s.Start()
		c.Assert(at, qt.Equals, 5*time.Second)
	})
}

func TestSchedulePeriodic(t *testing.T) {
	c := qt.New(t)

	s := NewVirtualTimeScheduler()
	var ticks []time.Duration
	var d Disposable
	d = SchedulePeriodic(s, time.Second, func() {
		ticks = append(ticks, s.Clock())
		if len(ticks) == 3 {
			d.Dispose()
		}
	})
	s.Start()
	c.Assert(ticks, qt.DeepEquals, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second})
	c.Assert(s.Pending(), qt.Equals, 0)
}

func TestRunRecordsSubscriptionWindow(t *testing.T) {
	c := qt.New(t)

	s := NewVirtualTimeScheduler()
	var source *TestableObservable
	observer := s.Run(func() Observable {
		source = s.CreateColdObservable(
			OnNextAt(time.Second, "a"),
			OnNextAt(3*time.Second, "b"),
			OnCompletedAt(5*time.Second),
		)
		return source
	}, time.Second, 3*time.Second)

	c.Assert(observer.Messages(), qt.CmpEquals(), []Recorded{OnNextAt(2*time.Second, "a")})
	c.Assert(source.Subscriptions(), qt.DeepEquals, []SubscriptionRecord{{Subscribe: time.Second, Unsubscribe: 3 * time.Second}})
}

func TestHotObservable(t *testing.T) {
	c := qt.New(t)

	s := NewVirtualTimeScheduler()
	hot := s.CreateHotObservable(
		OnNextAt(time.Second, "a"),
		OnNextAt(3*time.Second, "b"),
		OnCompletedAt(4*time.Second),
	)
	observer := s.Run(func() Observable { return hot }, 2*time.Second, Infinite)

	c.Assert(observer.Values(), qt.DeepEquals, []interface{}{"b"})
	c.Assert(observer.Completed(), qt.IsTrue)
	c.Assert(hot.Subscriptions(), qt.DeepEquals, []SubscriptionRecord{{Subscribe: 2 * time.Second, Unsubscribe: 4 * time.Second}})
}
