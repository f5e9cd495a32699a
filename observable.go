// Observable implementation for rxstream
// Observable核心实现：订阅契约、调度切换以及逐项处理的操作符
package rxstream

import (
	"context"
	"reflect"
	"sync"
)

// ============================================================================
// Observable 核心实现
// ============================================================================

// observableImpl Observable的核心实现，只保存"如何产生序列"的描述
type observableImpl struct {
	source func(ctx context.Context, observer Observer) Disposable
	config *Config
}

// NewObservable 创建新的Observable。
// source在每次订阅时被调用，ctx在订阅终止或被释放时取消，同步发射的生产者应检查它。
func NewObservable(source func(ctx context.Context, observer Observer) Disposable, options ...Option) Observable {
	return newObservable(source, newConfig(options))
}

func newObservable(source func(ctx context.Context, observer Observer) Disposable, config *Config) *observableImpl {
	return &observableImpl{
		source: source,
		config: config,
	}
}

// derive 基于当前Observable创建下游，继承日志器但不继承上下文
func (o *observableImpl) derive(source func(ctx context.Context, observer Observer) Disposable) *observableImpl {
	return newObservable(source, &Config{
		BufferSize: o.config.BufferSize,
		Logger:     o.config.Logger,
		Context:    context.Background(),
	})
}

// lift 构造逐项处理的操作符，op在每次订阅时调用以创建独立状态
func (o *observableImpl) lift(op func(observer Observer) Observer) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		return o.SubscribeContext(ctx, op(observer))
	})
}

// Subscribe 订阅观察者
func (o *observableImpl) Subscribe(observer Observer) Disposable {
	return o.SubscribeContext(context.Background(), observer)
}

// SubscribeContext 订阅观察者，ctx取消后生产者停止发射
func (o *observableImpl) SubscribeContext(ctx context.Context, observer Observer) Disposable {
	if observer == nil {
		observer = func(Item) {}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	sink := newSafeObserver(observer, cancel, o.config.logger())

	if o.config.Context.Done() != nil {
		stop := context.AfterFunc(o.config.Context, sink.Dispose)
		sink.upstream.Add(NewBaseDisposable(func() { stop() }))
	}

	sink.upstream.Add(o.run(ctx, sink))
	return sink
}

// run 执行source，生产者panic转换为ProducerError
func (o *observableImpl) run(ctx context.Context, sink *safeObserver) (d Disposable) {
	defer func() {
		if r := recover(); r != nil {
			sink.on(CreateErrorItem(newProducerError(panicError(r))))
			d = nil
		}
	}()
	return o.source(ctx, sink.on)
}

// SubscribeWithCallbacks 使用回调函数订阅
func (o *observableImpl) SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Disposable {
	return o.Subscribe(callbackObserver(onNext, onError, onComplete, o.config.logger()))
}

// SubscribeOn 在调度器上执行订阅动作
func (o *observableImpl) SubscribeOn(scheduler Scheduler) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		inner := NewSerialDisposable()
		scheduled := scheduler.Schedule(func() {
			inner.Set(o.SubscribeContext(ctx, observer))
		})
		return NewCompositeDisposable(scheduled, inner)
	})
}

// ObserveOn 在调度器上投递通知，保持原有顺序
func (o *observableImpl) ObserveOn(scheduler Scheduler) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		var (
			mu       sync.Mutex
			queue    []Item
			draining bool
		)
		pending := NewCompositeDisposable()

		drain := func() {
			for {
				mu.Lock()
				if len(queue) == 0 || ctx.Err() != nil {
					draining = false
					mu.Unlock()
					return
				}
				item := queue[0]
				queue = queue[1:]
				mu.Unlock()
				observer(item)
			}
		}

		upstream := o.SubscribeContext(ctx, func(item Item) {
			mu.Lock()
			queue = append(queue, item)
			if draining {
				mu.Unlock()
				return
			}
			draining = true
			mu.Unlock()
			pending.Add(scheduler.Schedule(drain))
		})
		return NewCompositeDisposable(upstream, pending)
	})
}

// ============================================================================
// 转换与过滤操作符
// ============================================================================

// Map 转换操作符，转换函数返回错误或panic时以OperatorError终止
func (o *observableImpl) Map(transformer Transformer) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			var result interface{}
			if err := tryCall("Map", func() (err error) {
				result, err = transformer(item.Value)
				return err
			}); err != nil {
				observer(CreateErrorItem(err))
				return
			}
			observer(CreateItem(result))
		}
	})
}

// Select Map的别名
func (o *observableImpl) Select(transformer Transformer) Observable {
	return o.Map(transformer)
}

// Filter 过滤操作符
func (o *observableImpl) Filter(predicate Predicate) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			var keep bool
			if err := tryCall("Filter", func() error {
				keep = predicate(item.Value)
				return nil
			}); err != nil {
				observer(CreateErrorItem(err))
				return
			}
			if keep {
				observer(item)
			}
		}
	})
}

// Where Filter的别名
func (o *observableImpl) Where(predicate Predicate) Observable {
	return o.Filter(predicate)
}

// Distinct 丢弃之前出现过的值，已见集合不设上限
func (o *observableImpl) Distinct() Observable {
	return o.lift(func(observer Observer) Observer {
		seen := newValueSet()
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			if seen.add(item.Value) {
				observer(item)
			}
		}
	})
}

// DistinctUntilChanged 只丢弃与前一个值相等的值
func (o *observableImpl) DistinctUntilChanged() Observable {
	return o.lift(func(observer Observer) Observer {
		var last interface{}
		hasLast := false
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			if hasLast && valuesEqual(last, item.Value) {
				return
			}
			last, hasLast = item.Value, true
			observer(item)
		}
	})
}

// Take 取前N个元素，取满后完成并取消上游
func (o *observableImpl) Take(count int) Observable {
	if count <= 0 {
		return o.derive(func(ctx context.Context, observer Observer) Disposable {
			observer(CreateCompleteItem())
			return nil
		})
	}
	return o.lift(func(observer Observer) Observer {
		taken := 0
		return func(item Item) {
			if taken >= count {
				return
			}
			if !item.IsNext() {
				observer(item)
				return
			}
			taken++
			observer(item)
			if taken == count {
				observer(CreateCompleteItem())
			}
		}
	})
}

// Skip 跳过前N个元素
func (o *observableImpl) Skip(count int) Observable {
	return o.lift(func(observer Observer) Observer {
		skipped := 0
		return func(item Item) {
			if item.IsNext() && skipped < count {
				skipped++
				return
			}
			observer(item)
		}
	})
}

// TakeUntil 转发值直到other发射第一个值
func (o *observableImpl) TakeUntil(other Observable) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		serialized := serialize(observer)
		trigger := other.SubscribeContext(ctx, func(item Item) {
			switch item.Kind {
			case NextKind:
				serialized(CreateCompleteItem())
			case ErrorKind:
				serialized(item)
			}
		})
		if ctx.Err() != nil {
			return trigger
		}
		return NewCompositeDisposable(trigger, o.SubscribeContext(ctx, serialized))
	})
}

// Contains 发射是否包含指定值，然后完成
func (o *observableImpl) Contains(value interface{}) Observable {
	return o.Any(func(v interface{}) bool {
		return valuesEqual(v, value)
	})
}

// Any 发射是否存在满足谓词的值，然后完成
func (o *observableImpl) Any(predicate Predicate) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				var hit bool
				if err := tryCall("Any", func() error {
					hit = predicate(item.Value)
					return nil
				}); err != nil {
					observer(CreateErrorItem(err))
					return
				}
				if hit {
					observer(CreateItem(true))
					observer(CreateCompleteItem())
				}
			case ErrorKind:
				observer(item)
			case CompleteKind:
				observer(CreateItem(false))
				observer(item)
			}
		}
	})
}

// All 发射是否所有值都满足谓词，然后完成
func (o *observableImpl) All(predicate Predicate) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				var ok bool
				if err := tryCall("All", func() error {
					ok = predicate(item.Value)
					return nil
				}); err != nil {
					observer(CreateErrorItem(err))
					return
				}
				if !ok {
					observer(CreateItem(false))
					observer(CreateCompleteItem())
				}
			case ErrorKind:
				observer(item)
			case CompleteKind:
				observer(CreateItem(true))
				observer(item)
			}
		}
	})
}

// Count 完成时发射元素个数
func (o *observableImpl) Count() Observable {
	return o.lift(func(observer Observer) Observer {
		count := 0
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				count++
			case ErrorKind:
				observer(item)
			case CompleteKind:
				observer(CreateItem(count))
				observer(item)
			}
		}
	})
}

// ============================================================================
// 内部工具
// ============================================================================

// serialize 用互斥锁串行化来自多个源的通知
func serialize(observer Observer) Observer {
	var mu sync.Mutex
	return func(item Item) {
		mu.Lock()
		defer mu.Unlock()
		observer(item)
	}
}

// valuesEqual 可比较类型直接比较，其余使用reflect.DeepEqual。
// 接口字段里保存不可比较值时==会panic，此时也退回reflect.DeepEqual。
func valuesEqual(a, b interface{}) (equal bool) {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	defer func() {
		if recover() != nil {
			equal = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}

// valueSet Distinct使用的已见集合
type valueSet struct {
	keys   map[interface{}]struct{}
	others []interface{}
}

func newValueSet() *valueSet {
	return &valueSet{keys: make(map[interface{}]struct{})}
}

// add 返回值是否第一次出现
func (s *valueSet) add(v interface{}) bool {
	if v == nil || reflect.TypeOf(v).Comparable() {
		if first, ok := s.addKey(v); ok {
			return first
		}
	}
	for _, other := range s.others {
		if reflect.DeepEqual(other, v) {
			return false
		}
	}
	s.others = append(s.others, v)
	return true
}

// addKey 以v作为map键登记，哈希时panic则ok为false
func (s *valueSet) addKey(v interface{}) (first, ok bool) {
	defer func() {
		if recover() != nil {
			first, ok = false, false
		}
	}()
	if _, seen := s.keys[v]; seen {
		return false, true
	}
	s.keys[v] = struct{}{}
	return true, true
}
