// Subject implementations for rxstream
// 实现Subject系统，包括PublishSubject、ReplaySubject、BehaviorSubject、AsyncSubject
package rxstream

import (
	"context"
	"sync"
)

// ============================================================================
// subjectCore - 公共状态
// ============================================================================

type subjectState int

const (
	subjectActive subjectState = iota
	subjectCompleted
	subjectErrored
)

// subjectCore 观察者注册表和终止状态机。观察者以递增的句柄登记，
// 移除按句柄进行，投递时遍历快照，所以投递过程中取消订阅是安全的。
type subjectCore struct {
	mu        sync.Mutex
	nextID    uint64
	observers map[uint64]Observer
	order     []uint64
	state     subjectState
	err       error
	disposed  bool
}

func newSubjectCore() *subjectCore {
	return &subjectCore{observers: make(map[uint64]Observer)}
}

// register 登记观察者，调用者持有锁
func (c *subjectCore) register(observer Observer) Disposable {
	c.nextID++
	id := c.nextID
	c.observers[id] = observer
	c.order = append(c.order, id)
	return NewBaseDisposable(func() { c.remove(id) })
}

// subscribe 订阅的公共流程。replay在锁内执行，返回新观察者需要先收到的通知；
// 主题仍然活跃时观察者通过闸门登记，锁释放后先投递replay再放行排队的实时通知，
// 所以观察者在投递过程中可以重新进入主题。
func (c *subjectCore) subscribe(ctx context.Context, observer Observer, replay func() []Item) Disposable {
	c.mu.Lock()
	var prefix []Item
	if replay != nil {
		prefix = replay()
	}
	var (
		gate *gatedObserver
		reg  Disposable
	)
	if c.state == subjectActive {
		gate = &gatedObserver{observer: observer}
		reg = c.register(gate.on)
	}
	c.mu.Unlock()

	for _, item := range prefix {
		if ctx.Err() != nil {
			break
		}
		observer(item)
	}
	if gate == nil {
		return nil
	}
	gate.release()
	if ctx.Err() != nil {
		reg.Dispose()
		return nil
	}
	return reg
}

// gatedObserver 订阅期间的实时通知先排队，release之后按顺序投递
type gatedObserver struct {
	mu       sync.Mutex
	observer Observer
	queue    []Item
	open     bool
}

func (g *gatedObserver) on(item Item) {
	g.mu.Lock()
	if !g.open {
		g.queue = append(g.queue, item)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.observer(item)
}

// release 投递排队的通知，队列清空后打开闸门
func (g *gatedObserver) release() {
	for {
		g.mu.Lock()
		if len(g.queue) == 0 {
			g.open = true
			g.mu.Unlock()
			return
		}
		queue := g.queue
		g.queue = nil
		g.mu.Unlock()
		for _, item := range queue {
			g.observer(item)
		}
	}
}

func (c *subjectCore) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.observers[id]; !ok {
		return
	}
	delete(c.observers, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
}

// snapshot 按登记顺序复制当前观察者，调用者持有锁
func (c *subjectCore) snapshot() []Observer {
	observers := make([]Observer, 0, len(c.order))
	for _, id := range c.order {
		observers = append(observers, c.observers[id])
	}
	return observers
}

// active 可以接收通知，调用者持有锁
func (c *subjectCore) active() bool {
	return c.state == subjectActive && !c.disposed
}

// terminal 已存储的终止通知，调用者持有锁
func (c *subjectCore) terminal() Item {
	if c.state == subjectErrored {
		return CreateErrorItem(c.err)
	}
	return CreateCompleteItem()
}

// next 向当前观察者投递一个值，update在锁内执行以更新变体自己的状态
func (c *subjectCore) next(value interface{}, update func()) {
	c.mu.Lock()
	if !c.active() {
		c.mu.Unlock()
		return
	}
	if update != nil {
		update()
	}
	observers := c.snapshot()
	c.mu.Unlock()

	item := CreateItem(value)
	for _, observer := range observers {
		observer(item)
	}
}

// terminate 转换到终止状态并通知当前观察者，之后的终止调用无效。
// before在锁内执行，返回需要在终止通知之前投递的值。
func (c *subjectCore) terminate(item Item, before func() []Item) {
	c.mu.Lock()
	if !c.active() {
		c.mu.Unlock()
		return
	}
	if item.IsError() {
		c.state, c.err = subjectErrored, item.Error
	} else {
		c.state = subjectCompleted
	}
	var prefix []Item
	if before != nil {
		prefix = before()
	}
	observers := c.snapshot()
	c.observers = make(map[uint64]Observer)
	c.order = nil
	c.mu.Unlock()

	for _, observer := range observers {
		for _, p := range prefix {
			observer(p)
		}
		observer(item)
	}
}

// OnError 发送错误
func (c *subjectCore) OnError(err error) {
	c.terminate(CreateErrorItem(err), nil)
}

// HasObservers 检查是否有观察者
func (c *subjectCore) HasObservers() bool {
	return c.ObserverCount() > 0
}

// ObserverCount 获取观察者数量
func (c *subjectCore) ObserverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Dispose 释放主题，移除所有观察者，之后的通知被忽略
func (c *subjectCore) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.observers = make(map[uint64]Observer)
	c.order = nil
}

// IsDisposed 检查是否已释放
func (c *subjectCore) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// subjectObserver 把通知分派给主题的OnNext/OnError/OnComplete
func subjectObserver(s Subject) Observer {
	return func(item Item) {
		switch item.Kind {
		case NextKind:
			s.OnNext(item.Value)
		case ErrorKind:
			s.OnError(item.Error)
		case CompleteKind:
			s.OnComplete()
		}
	}
}

// ============================================================================
// PublishSubject - 发布主题
// ============================================================================

// PublishSubject 发布主题，只向当前订阅者发送新的值
type PublishSubject struct {
	*observableImpl
	*subjectCore
}

// NewPublishSubject 创建新的发布主题
func NewPublishSubject(options ...Option) *PublishSubject {
	s := &PublishSubject{subjectCore: newSubjectCore()}
	s.observableImpl = newObservable(s.subscribe, newConfig(options))
	return s
}

func (s *PublishSubject) subscribe(ctx context.Context, observer Observer) Disposable {
	return s.subjectCore.subscribe(ctx, observer, func() []Item {
		if s.state != subjectActive {
			return []Item{s.terminal()}
		}
		return nil
	})
}

// AsObserver 返回Observer函数
func (s *PublishSubject) AsObserver() Observer { return subjectObserver(s) }

// OnNext 发送下一个值
func (s *PublishSubject) OnNext(value interface{}) { s.next(value, nil) }

// OnComplete 发送完成信号
func (s *PublishSubject) OnComplete() { s.terminate(CreateCompleteItem(), nil) }

// ============================================================================
// ReplaySubject - 重放主题
// ============================================================================

// ReplaySubject 重放主题，新订阅者先收到缓冲的历史值，再收到实时值和终止通知
type ReplaySubject struct {
	*observableImpl
	*subjectCore
	bufferSize int
	buffer     []interface{}
}

// NewReplaySubject 创建新的重放主题，bufferSize<=0时不限制缓冲大小
func NewReplaySubject(bufferSize int, options ...Option) *ReplaySubject {
	s := &ReplaySubject{subjectCore: newSubjectCore(), bufferSize: bufferSize}
	s.observableImpl = newObservable(s.subscribe, newConfig(options))
	return s
}

func (s *ReplaySubject) subscribe(ctx context.Context, observer Observer) Disposable {
	return s.subjectCore.subscribe(ctx, observer, func() []Item {
		items := make([]Item, 0, len(s.buffer)+1)
		for _, v := range s.buffer {
			items = append(items, CreateItem(v))
		}
		if s.state != subjectActive {
			items = append(items, s.terminal())
		}
		return items
	})
}

// AsObserver 返回Observer函数
func (s *ReplaySubject) AsObserver() Observer { return subjectObserver(s) }

// OnNext 缓冲并发送下一个值
func (s *ReplaySubject) OnNext(value interface{}) {
	s.next(value, func() {
		s.buffer = append(s.buffer, value)
		if s.bufferSize > 0 && len(s.buffer) > s.bufferSize {
			s.buffer = s.buffer[len(s.buffer)-s.bufferSize:]
		}
	})
}

// OnComplete 发送完成信号
func (s *ReplaySubject) OnComplete() { s.terminate(CreateCompleteItem(), nil) }

// Values 当前缓冲的值
func (s *ReplaySubject) Values() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.buffer...)
}

// ============================================================================
// BehaviorSubject - 行为主题
// ============================================================================

// BehaviorSubject 行为主题，保存一个当前值，新订阅者立即收到当前值
type BehaviorSubject struct {
	*observableImpl
	*subjectCore
	value interface{}
}

// NewBehaviorSubject 创建新的行为主题，seed为初始的当前值
func NewBehaviorSubject(seed interface{}, options ...Option) *BehaviorSubject {
	s := &BehaviorSubject{subjectCore: newSubjectCore(), value: seed}
	s.observableImpl = newObservable(s.subscribe, newConfig(options))
	return s
}

func (s *BehaviorSubject) subscribe(ctx context.Context, observer Observer) Disposable {
	return s.subjectCore.subscribe(ctx, observer, func() []Item {
		if s.state != subjectActive {
			return []Item{s.terminal()}
		}
		return []Item{CreateItem(s.value)}
	})
}

// AsObserver 返回Observer函数
func (s *BehaviorSubject) AsObserver() Observer { return subjectObserver(s) }

// OnNext 更新当前值并发送
func (s *BehaviorSubject) OnNext(value interface{}) {
	s.next(value, func() { s.value = value })
}

// OnComplete 发送完成信号
func (s *BehaviorSubject) OnComplete() { s.terminate(CreateCompleteItem(), nil) }

// Value 当前值
func (s *BehaviorSubject) Value() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// ============================================================================
// AsyncSubject - 异步主题
// ============================================================================

// AsyncSubject 异步主题，只在完成时发送最后一个值和完成信号，出错时只发送错误
type AsyncSubject struct {
	*observableImpl
	*subjectCore
	last    interface{}
	hasLast bool
}

// NewAsyncSubject 创建新的异步主题
func NewAsyncSubject(options ...Option) *AsyncSubject {
	s := &AsyncSubject{subjectCore: newSubjectCore()}
	s.observableImpl = newObservable(s.subscribe, newConfig(options))
	return s
}

func (s *AsyncSubject) subscribe(ctx context.Context, observer Observer) Disposable {
	return s.subjectCore.subscribe(ctx, observer, func() []Item {
		switch s.state {
		case subjectCompleted:
			if s.hasLast {
				return []Item{CreateItem(s.last), s.terminal()}
			}
			return []Item{s.terminal()}
		case subjectErrored:
			return []Item{s.terminal()}
		}
		return nil
	})
}

// AsObserver 返回Observer函数
func (s *AsyncSubject) AsObserver() Observer { return subjectObserver(s) }

// OnNext 只记录最后一个值，不立即发送
func (s *AsyncSubject) OnNext(value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active() {
		return
	}
	s.last, s.hasLast = value, true
}

// OnComplete 向所有观察者发送最后一个值和完成信号
func (s *AsyncSubject) OnComplete() {
	s.terminate(CreateCompleteItem(), func() []Item {
		if !s.hasLast {
			return nil
		}
		return []Item{CreateItem(s.last)}
	})
}
