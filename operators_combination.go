// Combination operators for rxstream
// 组合操作符实现，包含Concat, Merge, Amb, CombineLatest, Zip, And/Then/When, SwitchOnNext, GroupBy等
package rxstream

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

type sourceFunc = func(ctx context.Context, observer Observer) Disposable

// ============================================================================
// 多源组合
// ============================================================================

// Concat 依次订阅每个Observable，前一个完成后才订阅下一个
func Concat(sources ...Observable) Observable {
	return NewObservable(concatSource(sources))
}

// Merge 同时订阅所有Observable，按到达顺序交错发射，全部完成后完成
func Merge(sources ...Observable) Observable {
	return NewObservable(mergeSource(sources))
}

// Amb 同时订阅所有Observable，第一个产生通知的胜出，其余被取消订阅
func Amb(sources ...Observable) Observable {
	return NewObservable(ambSource(sources))
}

// Concat 连接操作符，当前Observable完成后订阅other
func (o *observableImpl) Concat(other Observable) Observable {
	return o.derive(concatSource([]Observable{o, other}))
}

// Merge 合并操作符
func (o *observableImpl) Merge(other Observable) Observable {
	return o.derive(mergeSource([]Observable{o, other}))
}

// Amb 竞争操作符
func (o *observableImpl) Amb(other Observable) Observable {
	return o.derive(ambSource([]Observable{o, other}))
}

// StartWith 先发射给定的值，再发射源序列
func (o *observableImpl) StartWith(values ...interface{}) Observable {
	return o.derive(concatSource([]Observable{FromSlice(values), o}))
}

func concatSource(sources []Observable) sourceFunc {
	return func(ctx context.Context, observer Observer) Disposable {
		subs := NewCompositeDisposable()
		var next func(i int)
		next = func(i int) {
			if ctx.Err() != nil {
				return
			}
			if i >= len(sources) {
				observer(CreateCompleteItem())
				return
			}
			subs.Add(sources[i].SubscribeContext(ctx, func(item Item) {
				if item.IsCompleted() {
					next(i + 1)
					return
				}
				observer(item)
			}))
		}
		next(0)
		return subs
	}
}

func mergeSource(sources []Observable) sourceFunc {
	return func(ctx context.Context, observer Observer) Disposable {
		if len(sources) == 0 {
			observer(CreateCompleteItem())
			return nil
		}
		out := serialize(observer)
		remaining := int32(len(sources))
		subs := NewCompositeDisposable()
		for _, source := range sources {
			if ctx.Err() != nil {
				break
			}
			subs.Add(source.SubscribeContext(ctx, func(item Item) {
				if item.IsCompleted() {
					if atomic.AddInt32(&remaining, -1) == 0 {
						out(item)
					}
					return
				}
				out(item)
			}))
		}
		return subs
	}
}

func ambSource(sources []Observable) sourceFunc {
	return func(ctx context.Context, observer Observer) Disposable {
		var mu sync.Mutex
		winner := -1
		subs := make([]Disposable, len(sources))

		for i, source := range sources {
			i := i
			mu.Lock()
			decided := winner != -1
			mu.Unlock()
			if decided {
				break
			}

			d := source.SubscribeContext(ctx, func(item Item) {
				mu.Lock()
				switch {
				case winner == -1:
					winner = i
					var losers []Disposable
					for j, sub := range subs {
						if j != i && sub != nil {
							losers = append(losers, sub)
						}
					}
					mu.Unlock()
					for _, loser := range losers {
						loser.Dispose()
					}
				case winner != i:
					mu.Unlock()
					return
				default:
					mu.Unlock()
				}
				observer(item)
			})

			mu.Lock()
			subs[i] = d
			lost := winner != -1 && winner != i
			mu.Unlock()
			if lost {
				d.Dispose()
			}
		}

		return NewBaseDisposable(func() {
			mu.Lock()
			all := append([]Disposable(nil), subs...)
			mu.Unlock()
			for _, d := range all {
				if d != nil {
					d.Dispose()
				}
			}
		})
	}
}

// ============================================================================
// 配对组合
// ============================================================================

// CombineLatest 任一源发射时用两边的最新值调用combiner，两边都至少发射过一次后才开始
func (o *observableImpl) CombineLatest(other Observable, combiner Combiner) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu        sync.Mutex
			latest    [2]interface{}
			has       [2]bool
			completed [2]bool
			done      bool
		)

		handle := func(idx int) Observer {
			return func(item Item) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				switch item.Kind {
				case NextKind:
					latest[idx], has[idx] = item.Value, true
					if !has[0] || !has[1] {
						return
					}
					var result interface{}
					if err := tryCall("CombineLatest", func() (err error) {
						result, err = combiner(latest[0], latest[1])
						return err
					}); err != nil {
						done = true
						observer(CreateErrorItem(err))
						return
					}
					observer(CreateItem(result))
				case ErrorKind:
					done = true
					observer(item)
				case CompleteKind:
					completed[idx] = true
					// 一边没有发射过任何值就完成时，组合永远不会产生
					if (completed[0] && completed[1]) || !has[idx] {
						done = true
						observer(item)
					}
				}
			}
		}

		first := o.SubscribeContext(ctx, handle(0))
		second := other.SubscribeContext(ctx, handle(1))
		return NewCompositeDisposable(first, second)
	})
}

// Zip 按到达序号配对两边的值，较短的一边完成后丢弃另一边多余的值
func (o *observableImpl) Zip(other Observable, zipper Combiner) Observable {
	return o.derive(zipSource("Zip", []Observable{o, other}, func(values []interface{}) (interface{}, error) {
		return zipper(values[0], values[1])
	}))
}

// ZipAll 按到达序号把所有源的值组合在一起，任意一个源完成且没有排队的值时完成
func ZipAll(selector func(values []interface{}) (interface{}, error), sources ...Observable) Observable {
	if len(sources) == 0 {
		return Empty()
	}
	return NewObservable(zipSource("ZipAll", sources, selector))
}

func zipSource(op string, sources []Observable, selector func(values []interface{}) (interface{}, error)) sourceFunc {
	return func(ctx context.Context, observer Observer) Disposable {
		var (
			mu        sync.Mutex
			queues    = make([][]interface{}, len(sources))
			completed = make([]bool, len(sources))
			done      bool
		)

		ready := func() bool {
			for _, q := range queues {
				if len(q) == 0 {
					return false
				}
			}
			return true
		}
		finished := func() bool {
			for i := range queues {
				if completed[i] && len(queues[i]) == 0 {
					return true
				}
			}
			return false
		}

		handle := func(idx int) Observer {
			return func(item Item) {
				mu.Lock()
				defer mu.Unlock()
				if done {
					return
				}
				switch item.Kind {
				case NextKind:
					queues[idx] = append(queues[idx], item.Value)
					for ready() {
						values := make([]interface{}, len(queues))
						for i := range queues {
							values[i] = queues[i][0]
							queues[i] = queues[i][1:]
						}
						var result interface{}
						if err := tryCall(op, func() (err error) {
							result, err = selector(values)
							return err
						}); err != nil {
							done = true
							observer(CreateErrorItem(err))
							return
						}
						observer(CreateItem(result))
					}
					if finished() {
						done = true
						observer(CreateCompleteItem())
					}
				case ErrorKind:
					done = true
					observer(item)
				case CompleteKind:
					completed[idx] = true
					if finished() {
						done = true
						observer(item)
					}
				}
			}
		}

		subs := NewCompositeDisposable()
		for i, source := range sources {
			subs.Add(source.SubscribeContext(ctx, handle(i)))
		}
		return subs
	}
}

// ============================================================================
// 连接模式 And/Then/When
// ============================================================================

// Pattern 连接模式，收集一组按序号配对的源
type Pattern struct {
	sources []Observable
}

// Plan 连接计划，模式加上组合函数
type Plan struct {
	pattern  *Pattern
	selector func(values []interface{}) (interface{}, error)
}

// And 由给定的源创建连接模式
func And(sources ...Observable) *Pattern {
	return &Pattern{sources: append([]Observable(nil), sources...)}
}

// And 以当前Observable和other开始一个连接模式
func (o *observableImpl) And(other Observable) *Pattern {
	return And(o, other)
}

// And 向模式追加一个源
func (p *Pattern) And(other Observable) *Pattern {
	sources := make([]Observable, 0, len(p.sources)+1)
	sources = append(sources, p.sources...)
	return &Pattern{sources: append(sources, other)}
}

// Then 为模式指定组合函数，values按And的顺序排列
func (p *Pattern) Then(selector func(values []interface{}) (interface{}, error)) Plan {
	return Plan{pattern: p, selector: selector}
}

// When 同时执行所有计划并合并它们的结果，所有计划都完成后完成
func When(plans ...Plan) Observable {
	sources := make([]Observable, len(plans))
	for i, plan := range plans {
		sources[i] = NewObservable(zipSource("When", plan.pattern.sources, plan.selector))
	}
	return Merge(sources...)
}

// ============================================================================
// 高阶Observable
// ============================================================================

// SwitchOnNext 源发射的值必须是Observable，只订阅最新的一个，之前的内部订阅被取消。
// 源和当前内部Observable都完成后才完成。
func (o *observableImpl) SwitchOnNext() Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu          sync.Mutex
			latestID    uint64
			innerActive bool
			outerDone   bool
			done        bool
		)
		inner := NewSerialDisposable()

		fail := func(err error) {
			mu.Lock()
			defer mu.Unlock()
			if !done {
				done = true
				observer(CreateErrorItem(err))
			}
		}

		outer := o.SubscribeContext(ctx, func(item Item) {
			switch item.Kind {
			case NextKind:
				source, ok := item.Value.(Observable)
				if !ok {
					fail(newOperatorError("SwitchOnNext",
						errors.Errorf("value %T is not an Observable", item.Value)))
					return
				}

				mu.Lock()
				latestID++
				id := latestID
				innerActive = true
				mu.Unlock()

				d := source.SubscribeContext(ctx, func(in Item) {
					mu.Lock()
					defer mu.Unlock()
					if done || id != latestID {
						return
					}
					switch in.Kind {
					case NextKind:
						observer(in)
					case ErrorKind:
						done = true
						observer(in)
					case CompleteKind:
						innerActive = false
						if outerDone {
							done = true
							observer(in)
						}
					}
				})

				mu.Lock()
				stale := id != latestID
				mu.Unlock()
				if stale {
					d.Dispose()
					return
				}
				inner.Set(d)
			case ErrorKind:
				fail(item.Error)
			case CompleteKind:
				mu.Lock()
				defer mu.Unlock()
				outerDone = true
				if !innerActive && !done {
					done = true
					observer(item)
				}
			}
		})
		return NewCompositeDisposable(outer, inner)
	})
}

// GroupBy 按keySelector把源分成多个分组，某个键第一次出现时发射GroupedObservable。
// 分组是热的：只有在值到达时已经订阅分组的观察者才能收到该值。
func (o *observableImpl) GroupBy(keySelector KeySelector) Observable {
	return o.lift(func(observer Observer) Observer {
		groups := make(map[interface{}]Subject)
		var order []Subject

		terminateGroups := func(item Item) {
			for _, g := range order {
				g.AsObserver()(item)
			}
		}

		return func(item Item) {
			switch item.Kind {
			case NextKind:
				var key interface{}
				if err := tryCall("GroupBy", func() error {
					key = keySelector(item.Value)
					if key != nil && !reflect.TypeOf(key).Comparable() {
						return errors.Errorf("key of type %T is not comparable", key)
					}
					return nil
				}); err != nil {
					failed := CreateErrorItem(err)
					terminateGroups(failed)
					observer(failed)
					return
				}

				group, ok := groups[key]
				if !ok {
					group = NewPublishSubject()
					groups[key] = group
					order = append(order, group)
					observer(CreateItem(GroupedObservable{Key: key, Observable: group}))
				}
				group.OnNext(item.Value)
			default:
				terminateGroups(item)
				observer(item)
			}
		}
	})
}
