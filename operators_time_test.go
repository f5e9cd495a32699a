// Time-based operator tests for rxstream
// 时间操作符测试，全部运行在虚拟时间调度器上
package rxstream

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func windows(ws ...[]interface{}) []interface{} {
	out := make([]interface{}, len(ws))
	for i, w := range ws {
		out[i] = w
	}
	return out
}

func TestBuffer(t *testing.T) {
	got := collect(Range(0, 12).Buffer(4))
	want := windows(
		[]interface{}{0, 1, 2, 3},
		[]interface{}{4, 5, 6, 7},
		[]interface{}{8, 9, 10, 11},
	)
	if diff := cmp.Diff(want, got.values); diff != "" {
		t.Errorf("窗口不符 (-期望 +得到):\n%s", diff)
	}

	got = collect(Range(0, 5).Buffer(2))
	want = windows([]interface{}{0, 1}, []interface{}{2, 3}, []interface{}{4})
	if diff := cmp.Diff(want, got.values); diff != "" {
		t.Errorf("完成时应发射剩余的值 (-期望 +得到):\n%s", diff)
	}

	if got := collect(Range(0, 5).Buffer(0)); got.err == nil {
		t.Error("count为0时期望错误")
	}
}

func TestBufferWithTime(t *testing.T) {
	s := NewVirtualTimeScheduler()
	observer := runVirtual(s, Interval(time.Second, s).Take(8).BufferWithTime(3*time.Second, s))

	want := []Recorded{
		OnNextAt(3*time.Second, ints(0, 1)),
		OnNextAt(6*time.Second, ints(2, 3, 4)),
		OnNextAt(8*time.Second, ints(5, 6, 7)),
		OnCompletedAt(8 * time.Second),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("窗口不符 (-期望 +得到):\n%s", diff)
	}
}

func TestBufferWithTimeEmitsEmptyWindows(t *testing.T) {
	s := NewVirtualTimeScheduler()
	source := s.CreateColdObservable(
		OnNextAt(1*time.Second, "a"),
		OnCompletedAt(5*time.Second),
	)
	observer := runVirtual(s, source.BufferWithTime(2*time.Second, s))

	want := []Recorded{
		OnNextAt(2*time.Second, []interface{}{"a"}),
		OnNextAt(4*time.Second, []interface{}{}),
		OnCompletedAt(5 * time.Second),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("窗口不符 (-期望 +得到):\n%s", diff)
	}
}

func TestBufferWithTimeAfterDelay(t *testing.T) {
	s := NewVirtualTimeScheduler()
	source := Interval(time.Second, s).Delay(secs(1.5), s).Take(7)
	observer := runVirtual(s, source.BufferWithTime(3*time.Second, s))

	want := []interface{}{ints(0), ints(1, 2, 3), ints(4, 5, 6)}
	if diff := cmp.Diff(want, observer.Values()); diff != "" {
		t.Errorf("窗口不符 (-期望 +得到):\n%s", diff)
	}
}

func TestBufferWithTimeOrCount(t *testing.T) {
	s := NewVirtualTimeScheduler()
	observer := runVirtual(s, Interval(time.Second, s).Take(9).BufferWithTimeOrCount(5*time.Second, 3, s))

	want := []Recorded{
		OnNextAt(3*time.Second, ints(0, 1, 2)),
		OnNextAt(6*time.Second, ints(3, 4, 5)),
		OnNextAt(9*time.Second, ints(6, 7, 8)),
		OnCompletedAt(9 * time.Second),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("窗口不符 (-期望 +得到):\n%s", diff)
	}
}

func TestBufferWithTimeOrCountClosesOnTimer(t *testing.T) {
	s := NewVirtualTimeScheduler()
	source := s.CreateColdObservable(
		OnNextAt(1*time.Second, 1),
		OnNextAt(2*time.Second, 2),
		OnNextAt(3*time.Second, 3),
		OnNextAt(4*time.Second, 4),
		OnCompletedAt(10*time.Second),
	)
	observer := runVirtual(s, source.BufferWithTimeOrCount(5*time.Second, 3, s))

	want := []Recorded{
		OnNextAt(3*time.Second, []interface{}{1, 2, 3}),
		OnNextAt(8*time.Second, []interface{}{4}),
		OnCompletedAt(10 * time.Second),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("窗口不符 (-期望 +得到):\n%s", diff)
	}
}

// hookedScheduler 第n次ScheduleWithDelay调用时先执行hook
type hookedScheduler struct {
	*VirtualTimeScheduler
	calls int
	at    int
	hook  func()
}

func (s *hookedScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	s.calls++
	if s.calls == s.at {
		s.hook()
	}
	return s.VirtualTimeScheduler.ScheduleWithDelay(action, delay)
}

func TestBufferWithTimeOrCountStaleTimerDoesNotReplaceNewer(t *testing.T) {
	vs := NewVirtualTimeScheduler()
	subject := NewPublishSubject()
	// 第2次调用是3s窗口关闭后的重新计时，此时窗口被计数提前填满
	s := &hookedScheduler{VirtualTimeScheduler: vs, at: 2, hook: func() {
		subject.OnNext(1)
		subject.OnNext(2)
	}}

	observer := vs.NewTestObserver()
	subject.BufferWithTimeOrCount(3*time.Second, 2, s).Subscribe(observer.On)
	vs.AdvanceTo(10 * time.Second)

	want := []Recorded{
		OnNextAt(3*time.Second, []interface{}{}),
		OnNextAt(3*time.Second, []interface{}{1, 2}),
		OnNextAt(6*time.Second, []interface{}{}),
		OnNextAt(9*time.Second, []interface{}{}),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("过期的计时器不应取代新的计时器 (-期望 +得到):\n%s", diff)
	}
}

func TestAverageOfWindows(t *testing.T) {
	s := NewVirtualTimeScheduler()
	averages := Interval(time.Second, s).Take(8).
		BufferWithTime(3*time.Second, s).
		Map(func(v interface{}) (interface{}, error) {
			got := collect(FromSlice(v.([]interface{})).Average())
			return got.values[0], got.err
		})
	observer := runVirtual(s, averages)

	if diff := cmp.Diff([]interface{}{0.5, 3.0, 6.0}, observer.Values()); diff != "" {
		t.Errorf("平均值不符 (-期望 +得到):\n%s", diff)
	}
}

func TestSample(t *testing.T) {
	s := NewVirtualTimeScheduler()
	observer := runVirtual(s, Interval(time.Second, s).Take(8).Sample(3*time.Second, s))

	want := []Recorded{
		OnNextAt(3*time.Second, int64(1)),
		OnNextAt(6*time.Second, int64(4)),
		OnNextAt(8*time.Second, int64(7)),
		OnCompletedAt(8 * time.Second),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("采样不符 (-期望 +得到):\n%s", diff)
	}
}

func TestSampleSkipsQuietTicks(t *testing.T) {
	s := NewVirtualTimeScheduler()
	source := s.CreateColdObservable(
		OnNextAt(1*time.Second, "a"),
		OnNextAt(7*time.Second, "b"),
		OnCompletedAt(11*time.Second),
	)
	observer := runVirtual(s, source.Sample(2*time.Second, s))

	want := []Recorded{
		OnNextAt(2*time.Second, "a"),
		OnNextAt(8*time.Second, "b"),
		OnCompletedAt(11 * time.Second),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("采样不符 (-期望 +得到):\n%s", diff)
	}
}

func TestThrottle(t *testing.T) {
	s := NewVirtualTimeScheduler()
	ms := time.Millisecond
	source := s.CreateColdObservable(
		OnNextAt(0, 1),
		OnNextAt(100*ms, 2),
		OnNextAt(500*ms, 3),
		OnNextAt(800*ms, 4),
		OnCompletedAt(1200*ms),
	)
	observer := runVirtual(s, source.Throttle(350*ms, s))

	want := []Recorded{
		OnNextAt(450*ms, 2),
		OnNextAt(1150*ms, 4),
		OnCompletedAt(1200 * ms),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("节流不符 (-期望 +得到):\n%s", diff)
	}
}

func TestThrottleFlushesOnComplete(t *testing.T) {
	s := NewVirtualTimeScheduler()
	ms := time.Millisecond
	source := s.CreateColdObservable(
		OnNextAt(0, 1),
		OnNextAt(100*ms, 2),
		OnCompletedAt(200*ms),
	)
	observer := runVirtual(s, source.Throttle(350*ms, s))

	want := []Recorded{
		OnNextAt(200*ms, 2),
		OnCompletedAt(200 * ms),
	}
	if diff := cmp.Diff(want, observer.Messages()); diff != "" {
		t.Errorf("节流不符 (-期望 +得到):\n%s", diff)
	}
}

func TestDelay(t *testing.T) {
	s := NewVirtualTimeScheduler()
	boom := errors.New("boom")
	source := s.CreateColdObservable(
		OnNextAt(1*time.Second, "a"),
		OnNextAt(2*time.Second, "b"),
		OnErrorAt(3*time.Second, boom),
	)
	observer := runVirtual(s, source.Delay(secs(1.5), s))

	want := []Recorded{
		OnNextAt(secs(2.5), "a"),
		OnNextAt(secs(3.5), "b"),
		OnErrorAt(secs(4.5), boom),
	}
	if diff := cmp.Diff(want, observer.Messages(), cmp.Comparer(func(a, b error) bool { return a == b })); diff != "" {
		t.Errorf("延迟不符 (-期望 +得到):\n%s", diff)
	}
}

func TestTimeout(t *testing.T) {
	timeout := 100 * time.Nanosecond

	t.Run("Never超时", func(t *testing.T) {
		s := NewVirtualTimeScheduler()
		observer := runVirtual(s, Never().Timeout(timeout, s))
		msgs := observer.Messages()
		if len(msgs) != 1 || msgs[0].Time != timeout || !IsTimeout(msgs[0].Item.Error) {
			t.Errorf("期望在 %v 超时, 得到 %v", timeout, msgs)
		}
	})

	tests := []struct {
		name string
		obs  Observable
		want []interface{}
		err  bool
	}{
		{"Empty", Empty(), nil, false},
		{"Return", Return(42), []interface{}{42}, false},
		{"Throw", Throw(errors.New("boom")), nil, true},
		{"Create", Create(func(e Emitter) Disposable {
			e.OnNext(1)
			e.OnComplete()
			return nil
		}), []interface{}{1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewVirtualTimeScheduler()
			observer := runVirtual(s, tt.obs.Timeout(timeout, s))
			if diff := cmp.Diff(tt.want, observer.Values()); diff != "" {
				t.Errorf("值不符 (-期望 +得到):\n%s", diff)
			}
			if err := observer.Err(); (err != nil) != tt.err || IsTimeout(err) {
				t.Errorf("意外的错误: %v", err)
			}
			if s.Clock() != 0 {
				t.Errorf("同步完成时不应推进时钟, 得到 %v", s.Clock())
			}
		})
	}

	t.Run("每个通知重置计时", func(t *testing.T) {
		s := NewVirtualTimeScheduler()
		source := s.CreateColdObservable(
			OnNextAt(80*time.Nanosecond, 1),
			OnNextAt(160*time.Nanosecond, 2),
		)
		observer := runVirtual(s, source.Timeout(timeout, s))
		if diff := cmp.Diff([]interface{}{1, 2}, observer.Values()); diff != "" {
			t.Errorf("值不符 (-期望 +得到):\n%s", diff)
		}
		msgs := observer.Messages()
		last := msgs[len(msgs)-1]
		if last.Time != 260*time.Nanosecond || !IsTimeout(last.Item.Error) {
			t.Errorf("期望在 260ns 超时, 得到 %v", last)
		}
	})
}

func TestTimeIntervalAndTimestamp(t *testing.T) {
	s := NewVirtualTimeScheduler()
	source := s.CreateColdObservable(
		OnNextAt(1*time.Second, "a"),
		OnNextAt(4*time.Second, "b"),
		OnCompletedAt(5*time.Second),
	)

	intervals := runVirtual(s, source.TimeInterval(s))
	want := []interface{}{
		TimeIntervalItem{Value: "a", Interval: 1 * time.Second},
		TimeIntervalItem{Value: "b", Interval: 3 * time.Second},
	}
	if diff := cmp.Diff(want, intervals.Values()); diff != "" {
		t.Errorf("间隔不符 (-期望 +得到):\n%s", diff)
	}

	s2 := NewVirtualTimeScheduler()
	source2 := s2.CreateColdObservable(OnNextAt(2*time.Second, "x"), OnCompletedAt(3*time.Second))
	stamps := runVirtual(s2, source2.Timestamp(s2))
	wantStamps := []interface{}{
		TimestampedItem{Value: "x", Timestamp: time.Unix(2, 0).UTC()},
	}
	if diff := cmp.Diff(wantStamps, stamps.Values()); diff != "" {
		t.Errorf("时间戳不符 (-期望 +得到):\n%s", diff)
	}
}
