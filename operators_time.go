// Time-based operators for rxstream
// 时间操作符实现：窗口缓冲、采样、节流、延迟、超时以及时间元数据
package rxstream

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// 窗口操作符
// ============================================================================

// Buffer 每收集count个值发射一个窗口，完成时发射剩余的值
func (o *observableImpl) Buffer(count int) Observable {
	if count <= 0 {
		return Throw(newOperatorError("Buffer", errNonPositive("count", count)))
	}
	return o.lift(func(observer Observer) Observer {
		window := make([]interface{}, 0, count)
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				window = append(window, item.Value)
				if len(window) == count {
					full := window
					window = make([]interface{}, 0, count)
					observer(CreateItem(full))
				}
			case ErrorKind:
				window = nil
				observer(item)
			case CompleteKind:
				if len(window) > 0 {
					observer(CreateItem(window))
				}
				observer(item)
			}
		}
	})
}

// BufferWithTime 按固定时长切分不重叠的窗口，每个边界发射一个窗口（可能为空）。
// 第一个窗口从订阅时开始，窗口计时器先于源被调度，同一时刻到达的值归入下一个窗口。
func (o *observableImpl) BufferWithTime(timespan time.Duration, scheduler Scheduler) Observable {
	return o.bufferWithTimeOrCount("BufferWithTime", timespan, 0, scheduler)
}

// BufferWithTimeOrCount 与BufferWithTime相同，但窗口达到count个值时提前关闭并重新计时
func (o *observableImpl) BufferWithTimeOrCount(timespan time.Duration, count int, scheduler Scheduler) Observable {
	if count <= 0 {
		return Throw(newOperatorError("BufferWithTimeOrCount", errNonPositive("count", count)))
	}
	return o.bufferWithTimeOrCount("BufferWithTimeOrCount", timespan, count, scheduler)
}

// bufferWithTimeOrCount count为0时只按时间切分
func (o *observableImpl) bufferWithTimeOrCount(op string, timespan time.Duration, count int, scheduler Scheduler) Observable {
	if timespan <= 0 {
		return Throw(newOperatorError(op, errNonPositive("timespan", timespan)))
	}
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu     sync.Mutex
			window []interface{}
			done   bool
			// epoch 每次重新计时加一，过期的计时器不再关闭窗口
			epoch uint64
		)
		timer := NewSerialDisposable()

		var startTimer func(e uint64)
		closeWindow := func(e uint64) {
			mu.Lock()
			if done || e != epoch {
				mu.Unlock()
				return
			}
			full := window
			window = nil
			if full == nil {
				full = []interface{}{}
			}
			observer(CreateItem(full))
			mu.Unlock()
			startTimer(e)
		}
		startTimer = func(e uint64) {
			d := scheduler.ScheduleWithDelay(func() { closeWindow(e) }, timespan)
			mu.Lock()
			defer mu.Unlock()
			if done || e != epoch {
				d.Dispose()
				return
			}
			timer.Set(d)
		}

		startTimer(0)

		upstream := o.SubscribeContext(ctx, func(item Item) {
			mu.Lock()
			if done {
				mu.Unlock()
				return
			}
			switch item.Kind {
			case NextKind:
				window = append(window, item.Value)
				if count == 0 || len(window) < count {
					mu.Unlock()
					return
				}
				full := window
				window = nil
				epoch++
				e := epoch
				observer(CreateItem(full))
				mu.Unlock()
				startTimer(e)
				return
			case ErrorKind:
				done = true
				window = nil
				observer(item)
			case CompleteKind:
				done = true
				if len(window) > 0 {
					observer(CreateItem(window))
				}
				window = nil
				observer(item)
			}
			mu.Unlock()
			timer.Dispose()
		})
		return NewCompositeDisposable(timer, upstream)
	})
}

// Sample 每个采样周期发射自上次采样以来收到的最新值，没有新值时跳过。
// 完成时如果还有未发射的值则先发射它。
func (o *observableImpl) Sample(interval time.Duration, scheduler Scheduler) Observable {
	if interval <= 0 {
		return Throw(newOperatorError("Sample", errNonPositive("interval", interval)))
	}
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu     sync.Mutex
			latest interface{}
			has    bool
			done   bool
		)

		ticker := SchedulePeriodic(scheduler, interval, func() {
			mu.Lock()
			defer mu.Unlock()
			if done || !has {
				return
			}
			has = false
			observer(CreateItem(latest))
		})

		upstream := o.SubscribeContext(ctx, func(item Item) {
			mu.Lock()
			if done {
				mu.Unlock()
				return
			}
			switch item.Kind {
			case NextKind:
				latest, has = item.Value, true
				mu.Unlock()
				return
			case ErrorKind:
				done = true
				observer(item)
			case CompleteKind:
				done = true
				if has {
					has = false
					observer(CreateItem(latest))
				}
				observer(item)
			}
			mu.Unlock()
			ticker.Dispose()
		})
		return NewCompositeDisposable(ticker, upstream)
	})
}

// Throttle 值在duration内没有被更新的值取代时才发射（防抖语义）。
// 一串密集的值只有最后一个在其静默期结束后发射，完成时立即发射挂起的值。
func (o *observableImpl) Throttle(duration time.Duration, scheduler Scheduler) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu      sync.Mutex
			pending interface{}
			has     bool
			done    bool
			id      uint64
		)
		timer := NewSerialDisposable()

		upstream := o.SubscribeContext(ctx, func(item Item) {
			mu.Lock()
			if done {
				mu.Unlock()
				return
			}
			switch item.Kind {
			case NextKind:
				pending, has = item.Value, true
				id++
				current := id
				mu.Unlock()
				timer.Set(scheduler.ScheduleWithDelay(func() {
					mu.Lock()
					defer mu.Unlock()
					if done || !has || id != current {
						return
					}
					has = false
					observer(CreateItem(pending))
				}, duration))
				return
			case ErrorKind:
				done = true
				has = false
				observer(item)
			case CompleteKind:
				done = true
				if has {
					has = false
					observer(CreateItem(pending))
				}
				observer(item)
			}
			mu.Unlock()
			timer.Dispose()
		})
		return NewCompositeDisposable(timer, upstream)
	})
}

// ============================================================================
// 时间平移
// ============================================================================

// delayedItem Delay队列中的通知
type delayedItem struct {
	due  time.Time
	item Item
}

// Delay 把每个通知（包括错误和完成）推迟duration后投递，保持相对顺序
func (o *observableImpl) Delay(duration time.Duration, scheduler Scheduler) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu       sync.Mutex
			queue    []delayedItem
			draining bool
		)
		timer := NewSerialDisposable()

		var drain func()
		drain = func() {
			for {
				mu.Lock()
				if len(queue) == 0 || ctx.Err() != nil {
					draining = false
					mu.Unlock()
					return
				}
				head := queue[0]
				if head.due.After(scheduler.Now()) {
					mu.Unlock()
					timer.Set(scheduler.ScheduleAt(head.due, drain))
					return
				}
				queue = queue[1:]
				mu.Unlock()
				observer(head.item)
			}
		}

		upstream := o.SubscribeContext(ctx, func(item Item) {
			due := scheduler.Now().Add(duration)
			mu.Lock()
			queue = append(queue, delayedItem{due: due, item: item})
			if draining {
				mu.Unlock()
				return
			}
			draining = true
			mu.Unlock()
			timer.Set(scheduler.ScheduleAt(due, drain))
		})
		return NewCompositeDisposable(timer, upstream)
	})
}

// Timeout 订阅开始或上一个通知之后duration内没有新通知时以TimeoutError终止
func (o *observableImpl) Timeout(duration time.Duration, scheduler Scheduler) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu   sync.Mutex
			gen  uint64
			done bool
		)
		timer := NewSerialDisposable()

		arm := func(g uint64) {
			timer.Set(scheduler.ScheduleWithDelay(func() {
				mu.Lock()
				defer mu.Unlock()
				if done || g != gen {
					return
				}
				done = true
				observer(CreateErrorItem(&TimeoutError{Duration: duration}))
			}, duration))
		}

		arm(0)

		upstream := o.SubscribeContext(ctx, func(item Item) {
			mu.Lock()
			if done {
				mu.Unlock()
				return
			}
			gen++
			g := gen
			if item.IsTerminal() {
				done = true
			}
			observer(item)
			mu.Unlock()

			if item.IsTerminal() {
				timer.Dispose()
				return
			}
			arm(g)
		})
		return NewCompositeDisposable(timer, upstream)
	})
}

// ============================================================================
// 时间元数据
// ============================================================================

// TimeIntervalItem TimeInterval发射的值
type TimeIntervalItem struct {
	Value    interface{}
	Interval time.Duration
}

// TimestampedItem Timestamp发射的值
type TimestampedItem struct {
	Value     interface{}
	Timestamp time.Time
}

// TimeInterval 为每个值附上距离上一个值（第一个值为订阅时刻）的时间间隔
func (o *observableImpl) TimeInterval(scheduler Scheduler) Observable {
	return o.lift(func(observer Observer) Observer {
		last := scheduler.Now()
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			now := scheduler.Now()
			interval := now.Sub(last)
			last = now
			observer(CreateItem(TimeIntervalItem{Value: item.Value, Interval: interval}))
		}
	})
}

// Timestamp 为每个值附上调度器时间
func (o *observableImpl) Timestamp(scheduler Scheduler) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			observer(CreateItem(TimestampedItem{Value: item.Value, Timestamp: scheduler.Now()}))
		}
	})
}
