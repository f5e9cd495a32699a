// Factory functions for rxstream
// 工厂函数：创建冷Observable，每次订阅都是独立的执行
package rxstream

import (
	"context"
	"time"
)

// ============================================================================
// 基础工厂函数
// ============================================================================

// Create 从订阅函数创建Observable。subscribe收到发射器并返回用于清理的Disposable，
// 可以返回nil。subscribe中的panic会以ProducerError的形式发送给观察者。
func Create(subscribe func(emitter Emitter) Disposable, options ...Option) Observable {
	return NewObservable(func(ctx context.Context, observer Observer) Disposable {
		return subscribe(&emitter{ctx: ctx, observer: observer})
	}, options...)
}

// Empty 创建一个立即完成的Observable
func Empty(options ...Option) Observable {
	config := newConfig(options)
	return newObservable(func(ctx context.Context, observer Observer) Disposable {
		return iterate(ctx, config, observer, func() (Item, bool) {
			return CreateCompleteItem(), true
		})
	}, config)
}

// Never 创建一个永不发射也永不完成的Observable
func Never() Observable {
	return NewObservable(func(ctx context.Context, observer Observer) Disposable {
		return nil
	})
}

// Return 发射一个值然后完成
func Return(value interface{}, options ...Option) Observable {
	return FromSlice([]interface{}{value}, options...)
}

// Just 从给定的值创建Observable
func Just(values ...interface{}) Observable {
	return FromSlice(values)
}

// Throw 创建一个立即发射错误的Observable
func Throw(err error, options ...Option) Observable {
	config := newConfig(options)
	return newObservable(func(ctx context.Context, observer Observer) Disposable {
		return iterate(ctx, config, observer, func() (Item, bool) {
			return CreateErrorItem(err), true
		})
	}, config)
}

// Range 创建发射[start, start+count)整数的Observable
func Range(start, count int, options ...Option) Observable {
	config := newConfig(options)
	return newObservable(func(ctx context.Context, observer Observer) Disposable {
		i := 0
		return iterate(ctx, config, observer, func() (Item, bool) {
			if i >= count {
				return CreateCompleteItem(), true
			}
			i++
			return CreateItem(start + i - 1), true
		})
	}, config)
}

// Generate 从seed开始迭代，condition成立时发射resultSelector(state)。
// 默认同步发射，配置WithScheduler后每一步通过调度器执行。
func Generate(
	seed interface{},
	condition func(state interface{}) bool,
	iterateFn func(state interface{}) interface{},
	resultSelector func(state interface{}) interface{},
	options ...Option,
) Observable {
	config := newConfig(options)
	return newObservable(func(ctx context.Context, observer Observer) Disposable {
		state := seed
		first := true
		return iterate(ctx, config, observer, func() (Item, bool) {
			var (
				ok     bool
				result interface{}
			)
			err := tryProduce(func() error {
				if !first {
					state = iterateFn(state)
				}
				first = false
				ok = condition(state)
				if ok {
					result = resultSelector(state)
				}
				return nil
			})
			switch {
			case err != nil:
				return CreateErrorItem(err), true
			case !ok:
				return CreateCompleteItem(), true
			}
			return CreateItem(result), true
		})
	}, config)
}

// ============================================================================
// 从数据源创建
// ============================================================================

// FromSlice 从切片创建Observable
func FromSlice(slice []interface{}, options ...Option) Observable {
	config := newConfig(options)
	return newObservable(func(ctx context.Context, observer Observer) Disposable {
		i := 0
		return iterate(ctx, config, observer, func() (Item, bool) {
			if i >= len(slice) {
				return CreateCompleteItem(), true
			}
			i++
			return CreateItem(slice[i-1]), true
		})
	}, config)
}

// FromChannel 从Go channel创建Observable，channel关闭时完成
func FromChannel(ch <-chan interface{}, options ...Option) Observable {
	return NewObservable(func(ctx context.Context, observer Observer) Disposable {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case value, ok := <-ch:
					if !ok {
						observer(CreateCompleteItem())
						return
					}
					observer(CreateItem(value))
				}
			}
		}()
		return nil
	}, options...)
}

// FromEvent 把事件源适配为热Observable。每次订阅调用addHandler登记处理函数，
// addHandler返回的注销函数在取消订阅时调用。配置了调度器时事件通过它投递。
func FromEvent(addHandler func(handler func(value interface{})) (remove func()), options ...Option) Observable {
	config := newConfig(options)
	events := newObservable(func(ctx context.Context, observer Observer) Disposable {
		emit := serialize(observer)
		remove := addHandler(func(value interface{}) {
			if ctx.Err() == nil {
				emit(CreateItem(value))
			}
		})
		if remove == nil {
			return nil
		}
		return NewBaseDisposable(remove)
	}, config)
	if config.Scheduler != nil {
		return events.ObserveOn(config.Scheduler)
	}
	return events
}

// FromAsync 每次订阅在调度器上执行一次fn，发射结果后完成，fn返回错误时发送该错误。
// 取消订阅时fn收到的ctx被取消。没有配置调度器时使用NewThreadScheduler。
func FromAsync(fn func(ctx context.Context) (interface{}, error), options ...Option) Observable {
	config := newConfig(options)
	scheduler := config.Scheduler
	if scheduler == nil {
		scheduler = NewThreadScheduler
	}
	return newObservable(func(ctx context.Context, observer Observer) Disposable {
		return scheduler.Schedule(func() {
			var (
				value  interface{}
				result error
			)
			if err := tryProduce(func() error {
				value, result = fn(ctx)
				return nil
			}); err != nil {
				observer(CreateErrorItem(err))
				return
			}
			if result != nil {
				observer(CreateErrorItem(result))
				return
			}
			observer(CreateItem(value))
			observer(CreateCompleteItem())
		})
	}, config)
}

// Defer 每次订阅时调用factory创建新的Observable
func Defer(factory func() Observable) Observable {
	return NewObservable(func(ctx context.Context, observer Observer) Disposable {
		var source Observable
		if err := tryProduce(func() error {
			source = factory()
			return nil
		}); err != nil {
			observer(CreateErrorItem(err))
			return nil
		}
		return source.SubscribeContext(ctx, observer)
	})
}

// ============================================================================
// 时间相关
// ============================================================================

// Interval 每隔period发射一个递增整数，从0开始
func Interval(period time.Duration, scheduler Scheduler) Observable {
	return NewObservable(func(ctx context.Context, observer Observer) Disposable {
		sd := NewSerialDisposable()
		var tick func(n int64)
		tick = func(n int64) {
			sd.Set(scheduler.ScheduleWithDelay(func() {
				if ctx.Err() != nil {
					return
				}
				observer(CreateItem(n))
				tick(n + 1)
			}, period))
		}
		tick(0)
		return sd
	})
}

// Timer 在due之后发射0然后完成
func Timer(due time.Duration, scheduler Scheduler) Observable {
	return NewObservable(func(ctx context.Context, observer Observer) Disposable {
		return scheduler.ScheduleWithDelay(func() {
			observer(CreateItem(int64(0)))
			observer(CreateCompleteItem())
		}, due)
	})
}

// ============================================================================
// 内部工具
// ============================================================================

// iterate 依次发射next产生的通知直到终止或订阅取消。
// 未配置调度器时同步发射，否则每一步都通过调度器递归执行。
func iterate(ctx context.Context, config *Config, observer Observer, next func() (Item, bool)) Disposable {
	if config.Scheduler == nil {
		for ctx.Err() == nil {
			item, ok := next()
			if !ok {
				return nil
			}
			observer(item)
			if item.IsTerminal() {
				return nil
			}
		}
		return nil
	}

	sd := NewSerialDisposable()
	var step func()
	step = func() {
		if ctx.Err() != nil {
			return
		}
		item, ok := next()
		if !ok {
			return
		}
		observer(item)
		if !item.IsTerminal() {
			sd.Set(config.Scheduler.Schedule(step))
		}
	}
	sd.Set(config.Scheduler.Schedule(step))
	return sd
}
