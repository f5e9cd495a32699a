// Virtual time scheduler for rxstream
// 虚拟时间调度器：手动推进时钟，按(到期时间, 入队顺序)确定性地执行任务
package rxstream

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"
)

// ============================================================================
// 任务队列
// ============================================================================

type virtualItem struct {
	due    time.Duration
	seq    uint64
	action *scheduledAction
}

// virtualQueue 按到期时间排序的最小堆，到期时间相同时先入队的先执行
type virtualQueue []*virtualItem

func (q virtualQueue) Len() int { return len(q) }

func (q virtualQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q virtualQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *virtualQueue) Push(x interface{}) { *q = append(*q, x.(*virtualItem)) }

func (q *virtualQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// ============================================================================
// VirtualTimeScheduler
// ============================================================================

// VirtualTimeScheduler 用于测试的调度器，时间只在Start/AdvanceBy/AdvanceTo中前进。
// 任务在调用者的goroutine中执行，执行前时钟被设置为任务的到期时间，
// 所以任务中调度的零延迟任务会在同一次推进中执行。
type VirtualTimeScheduler struct {
	mu      sync.Mutex
	epoch   time.Time
	clock   time.Duration
	queue   virtualQueue
	seq     uint64
	running bool
}

// NewVirtualTimeScheduler 创建虚拟时间调度器，时钟从0开始
func NewVirtualTimeScheduler() *VirtualTimeScheduler {
	return &VirtualTimeScheduler{epoch: time.Unix(0, 0).UTC()}
}

// Clock 从0开始计算的虚拟时钟
func (s *VirtualTimeScheduler) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Now 虚拟时钟对应的时间
func (s *VirtualTimeScheduler) Now() time.Time {
	return s.epoch.Add(s.Clock())
}

// Schedule 在当前虚拟时间调度任务
func (s *VirtualTimeScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithDelay(action, 0)
}

// ScheduleWithDelay 在当前虚拟时间加delay时调度任务
func (s *VirtualTimeScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueue(s.clock+delay, action)
}

// ScheduleAt 在绝对时间调度任务
func (s *VirtualTimeScheduler) ScheduleAt(due time.Time, action func()) Disposable {
	return s.ScheduleAbsolute(due.Sub(s.epoch), action)
}

// ScheduleAbsolute 在虚拟时钟到达at时执行任务，过去的时间按当前时间处理
func (s *VirtualTimeScheduler) ScheduleAbsolute(at time.Duration, action func()) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at < s.clock {
		at = s.clock
	}
	return s.enqueue(at, action)
}

// ScheduleWithContext 带上下文调度任务
func (s *VirtualTimeScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(withContext(ctx, action))
}

// enqueue 调用者持有锁
func (s *VirtualTimeScheduler) enqueue(due time.Duration, action func()) Disposable {
	s.seq++
	sa := newScheduledAction(action)
	heap.Push(&s.queue, &virtualItem{due: due, seq: s.seq, action: sa})
	return sa
}

// Pending 尚未执行且未取消的任务数
func (s *VirtualTimeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.queue {
		if !item.action.IsDisposed() {
			n++
		}
	}
	return n
}

// Start 执行队列中的所有任务直到队列为空或调用Stop。
// 无限的周期任务（例如未被取消的Interval）会让Start不返回。
func (s *VirtualTimeScheduler) Start() {
	s.run(0, false)
}

// AdvanceTo 执行所有到期时间不晚于at的任务，然后把时钟设置为at
func (s *VirtualTimeScheduler) AdvanceTo(at time.Duration) {
	s.run(at, true)
}

// AdvanceBy 把时钟向前推进d
func (s *VirtualTimeScheduler) AdvanceBy(d time.Duration) {
	s.AdvanceTo(s.Clock() + d)
}

// Stop 让正在进行的Start/AdvanceTo在当前任务结束后返回
func (s *VirtualTimeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *VirtualTimeScheduler) run(limit time.Duration, bounded bool) {
	s.mu.Lock()
	if s.running {
		// 任务内部的推进调用不嵌套执行
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		item := s.next()
		if item == nil || (bounded && item.due > limit) {
			if bounded && limit > s.clock {
				s.clock = limit
			}
			s.mu.Unlock()
			return
		}
		heap.Pop(&s.queue)
		if item.due > s.clock {
			s.clock = item.due
		}
		s.mu.Unlock()

		// 虚拟时间下任务的panic直接传播给测试
		if !item.action.IsDisposed() {
			item.action.action()
		}
	}
}

// next 丢弃已取消的任务并返回堆顶，调用者持有锁
func (s *VirtualTimeScheduler) next() *virtualItem {
	for len(s.queue) > 0 {
		item := s.queue[0]
		if !item.action.IsDisposed() {
			return item
		}
		heap.Pop(&s.queue)
	}
	return nil
}

// ============================================================================
// 测试辅助
// ============================================================================

// Infinite 表示订阅从未被释放
const Infinite = time.Duration(math.MaxInt64)

// Recorded 带虚拟时间戳的通知
type Recorded struct {
	Time time.Duration
	Item Item
}

// OnNextAt 在t时刻发射value
func OnNextAt(t time.Duration, value interface{}) Recorded {
	return Recorded{Time: t, Item: CreateItem(value)}
}

// OnErrorAt 在t时刻发射错误
func OnErrorAt(t time.Duration, err error) Recorded {
	return Recorded{Time: t, Item: CreateErrorItem(err)}
}

// OnCompletedAt 在t时刻完成
func OnCompletedAt(t time.Duration) Recorded {
	return Recorded{Time: t, Item: CreateCompleteItem()}
}

// SubscriptionRecord 订阅和取消订阅的虚拟时间，未取消时Unsubscribe为Infinite
type SubscriptionRecord struct {
	Subscribe   time.Duration
	Unsubscribe time.Duration
}

// TestableObservable 记录自身订阅历史的Observable
type TestableObservable struct {
	Observable
	mu            sync.Mutex
	subscriptions []SubscriptionRecord
}

// Subscriptions 订阅历史
func (t *TestableObservable) Subscriptions() []SubscriptionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SubscriptionRecord(nil), t.subscriptions...)
}

// track 记录一次订阅，返回的Disposable在释放时记录取消时间
func (t *TestableObservable) track(s *VirtualTimeScheduler) Disposable {
	t.mu.Lock()
	index := len(t.subscriptions)
	t.subscriptions = append(t.subscriptions, SubscriptionRecord{Subscribe: s.Clock(), Unsubscribe: Infinite})
	t.mu.Unlock()
	return NewBaseDisposable(func() {
		t.mu.Lock()
		t.subscriptions[index].Unsubscribe = s.Clock()
		t.mu.Unlock()
	})
}

// CreateColdObservable 每次订阅时从订阅时刻开始按相对时间重放messages
func (s *VirtualTimeScheduler) CreateColdObservable(messages ...Recorded) *TestableObservable {
	t := &TestableObservable{}
	t.Observable = NewObservable(func(ctx context.Context, observer Observer) Disposable {
		subs := NewCompositeDisposable(t.track(s))
		for _, m := range messages {
			item := m.Item
			subs.Add(s.ScheduleWithDelay(func() { observer(item) }, m.Time))
		}
		return subs
	})
	return t
}

// CreateHotObservable 在创建时按绝对时间调度messages，订阅者只能收到订阅之后的通知
func (s *VirtualTimeScheduler) CreateHotObservable(messages ...Recorded) *TestableObservable {
	subject := NewPublishSubject()
	for _, m := range messages {
		item := m.Item
		s.ScheduleAbsolute(m.Time, func() { subject.AsObserver()(item) })
	}
	t := &TestableObservable{}
	t.Observable = NewObservable(func(ctx context.Context, observer Observer) Disposable {
		return NewCompositeDisposable(t.track(s), subject.SubscribeContext(ctx, observer))
	})
	return t
}

// TestObserver 记录收到的每个通知及其虚拟时间
type TestObserver struct {
	scheduler *VirtualTimeScheduler
	mu        sync.Mutex
	messages  []Recorded
}

// NewTestObserver 创建记录观察者
func (s *VirtualTimeScheduler) NewTestObserver() *TestObserver {
	return &TestObserver{scheduler: s}
}

// On 记录一个通知，可以直接作为Observer传给Subscribe
func (o *TestObserver) On(item Item) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, Recorded{Time: o.scheduler.Clock(), Item: item})
}

// Messages 按收到顺序返回所有通知
func (o *TestObserver) Messages() []Recorded {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Recorded(nil), o.messages...)
}

// Values 所有普通值
func (o *TestObserver) Values() []interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	var values []interface{}
	for _, m := range o.messages {
		if m.Item.IsNext() {
			values = append(values, m.Item.Value)
		}
	}
	return values
}

// Err 收到的错误，没有时返回nil
func (o *TestObserver) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if m.Item.IsError() {
			return m.Item.Error
		}
	}
	return nil
}

// Completed 是否收到完成信号
func (o *TestObserver) Completed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if m.Item.IsCompleted() {
			return true
		}
	}
	return false
}

// Run 在subscribeAt时刻订阅create返回的Observable，在disposeAt时刻释放订阅，
// 然后执行调度器直到队列为空
func (s *VirtualTimeScheduler) Run(create func() Observable, subscribeAt, disposeAt time.Duration) *TestObserver {
	observer := s.NewTestObserver()
	subscription := NewSerialDisposable()
	s.ScheduleAbsolute(subscribeAt, func() {
		subscription.Set(create().Subscribe(observer.On))
	})
	s.ScheduleAbsolute(disposeAt, subscription.Dispose)
	s.Start()
	return observer
}
