// Scheduler implementations for rxstream
// 实时调度器：立即、当前线程（蹦床）、新goroutine、goroutine池
package rxstream

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// 调度动作
// ============================================================================

// scheduledAction 被调度的动作，执行前检查取消标志，不从队列中移除
type scheduledAction struct {
	cancelled int32
	action    func()
	stop      func() bool // 可选，停止底层计时器
}

func newScheduledAction(action func()) *scheduledAction {
	return &scheduledAction{action: action}
}

// run 未取消时执行动作，panic被记录而不是让工作goroutine崩溃
func (a *scheduledAction) run() {
	if atomic.LoadInt32(&a.cancelled) == 1 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger().Errorw("scheduled action panicked", "error", panicError(r))
		}
	}()
	a.action()
}

// Dispose 取消动作，已经开始执行的动作不受影响
func (a *scheduledAction) Dispose() {
	if atomic.CompareAndSwapInt32(&a.cancelled, 0, 1) && a.stop != nil {
		a.stop()
	}
}

// IsDisposed 检查是否已取消
func (a *scheduledAction) IsDisposed() bool {
	return atomic.LoadInt32(&a.cancelled) == 1
}

// withContext 包装动作，上下文取消后不再执行
func withContext(ctx context.Context, action func()) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		action()
	}
}

// after 通过time.AfterFunc在delay之后把动作交给dispatch
func after(delay time.Duration, action func(), dispatch func(*scheduledAction)) Disposable {
	sa := newScheduledAction(action)
	if delay <= 0 {
		dispatch(sa)
		return sa
	}
	timer := time.AfterFunc(delay, func() { dispatch(sa) })
	sa.stop = timer.Stop
	return sa
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 立即在当前goroutine中执行任务
type immediateScheduler struct{}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return &immediateScheduler{}
}

func (s *immediateScheduler) Now() time.Time { return time.Now() }

// Schedule 立即执行任务
func (s *immediateScheduler) Schedule(action func()) Disposable {
	sa := newScheduledAction(action)
	sa.run()
	return sa
}

// ScheduleWithDelay 延迟执行任务，延迟后在计时器goroutine中执行
func (s *immediateScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return after(delay, action, (*scheduledAction).run)
}

func (s *immediateScheduler) ScheduleAt(due time.Time, action func()) Disposable {
	return s.ScheduleWithDelay(action, time.Until(due))
}

// ScheduleWithContext 带上下文执行任务
func (s *immediateScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(withContext(ctx, action))
}

// ============================================================================
// 当前线程调度器 - Current Thread Scheduler
// ============================================================================

// currentThreadScheduler 蹦床调度器：第一个调度者在自己的goroutine中依次执行队列，
// 执行期间调度的任务排到队尾而不是递归执行
type currentThreadScheduler struct {
	mu         sync.Mutex
	queue      []*scheduledAction
	processing bool
}

// NewCurrentThreadScheduler 创建当前线程调度器
func NewCurrentThreadScheduler() Scheduler {
	return &currentThreadScheduler{}
}

func (s *currentThreadScheduler) Now() time.Time { return time.Now() }

// Schedule 在当前线程中调度任务
func (s *currentThreadScheduler) Schedule(action func()) Disposable {
	sa := newScheduledAction(action)
	s.enqueue(sa)
	return sa
}

func (s *currentThreadScheduler) enqueue(sa *scheduledAction) {
	s.mu.Lock()
	s.queue = append(s.queue, sa)
	if s.processing {
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.mu.Unlock()

	s.processQueue()
}

// processQueue 处理队列中的任务
func (s *currentThreadScheduler) processQueue() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}
		sa := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		sa.run()
	}
}

// ScheduleWithDelay 延迟调度任务
func (s *currentThreadScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return after(delay, action, s.enqueue)
}

func (s *currentThreadScheduler) ScheduleAt(due time.Time, action func()) Disposable {
	return s.ScheduleWithDelay(action, time.Until(due))
}

// ScheduleWithContext 带上下文调度任务
func (s *currentThreadScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(withContext(ctx, action))
}

// ============================================================================
// 新线程调度器 - New Thread Scheduler
// ============================================================================

// newThreadScheduler 为每个任务创建新的goroutine
type newThreadScheduler struct{}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler() Scheduler {
	return &newThreadScheduler{}
}

func (s *newThreadScheduler) Now() time.Time { return time.Now() }

// Schedule 在新goroutine中执行任务
func (s *newThreadScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithDelay(action, 0)
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *newThreadScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	return after(delay, action, func(sa *scheduledAction) {
		go sa.run()
	})
}

func (s *newThreadScheduler) ScheduleAt(due time.Time, action func()) Disposable {
	return s.ScheduleWithDelay(action, time.Until(due))
}

// ScheduleWithContext 带上下文在新goroutine中执行任务
func (s *newThreadScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(withContext(ctx, action))
}

// ============================================================================
// 线程池调度器 - Thread Pool Scheduler
// ============================================================================

// ThreadPoolScheduler 使用固定数量的goroutine执行任务。
// 任务队列不设上限，工作goroutine内部继续调度任务不会阻塞。
type ThreadPoolScheduler struct {
	workers  int
	mu       sync.Mutex
	ready    *sync.Cond
	queue    []*scheduledAction
	group    *errgroup.Group
	disposed int32
}

// NewThreadPoolScheduler 创建线程池调度器，workers<=0时使用CPU数量
func NewThreadPoolScheduler(workers int) *ThreadPoolScheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	s := &ThreadPoolScheduler{
		workers: workers,
		group:   new(errgroup.Group),
	}
	s.ready = sync.NewCond(&s.mu)

	for i := 0; i < workers; i++ {
		s.group.Go(s.worker)
	}

	return s
}

func (s *ThreadPoolScheduler) Now() time.Time { return time.Now() }

// Schedule 在线程池中执行任务
func (s *ThreadPoolScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithDelay(action, 0)
}

// ScheduleWithDelay 延迟在线程池中执行任务
func (s *ThreadPoolScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	if s.IsDisposed() {
		sa := newScheduledAction(action)
		sa.Dispose()
		return sa
	}
	return after(delay, action, s.dispatch)
}

// dispatch 入队并唤醒一个工作goroutine，释放之后的任务被丢弃
func (s *ThreadPoolScheduler) dispatch(sa *scheduledAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsDisposed() {
		return
	}
	s.queue = append(s.queue, sa)
	s.ready.Signal()
}

func (s *ThreadPoolScheduler) ScheduleAt(due time.Time, action func()) Disposable {
	return s.ScheduleWithDelay(action, time.Until(due))
}

// ScheduleWithContext 带上下文在线程池中执行任务
func (s *ThreadPoolScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(withContext(ctx, action))
}

// worker 工作goroutine
func (s *ThreadPoolScheduler) worker() error {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.IsDisposed() {
			s.ready.Wait()
		}
		if s.IsDisposed() {
			s.mu.Unlock()
			return nil
		}
		sa := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		sa.run()
	}
}

// Workers 工作goroutine数量
func (s *ThreadPoolScheduler) Workers() int {
	return s.workers
}

// Pending 排队等待执行的任务数量
func (s *ThreadPoolScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dispose 停止所有工作goroutine并等待退出，排队中的任务被丢弃
func (s *ThreadPoolScheduler) Dispose() {
	s.mu.Lock()
	if !atomic.CompareAndSwapInt32(&s.disposed, 0, 1) {
		s.mu.Unlock()
		return
	}
	s.queue = nil
	s.ready.Broadcast()
	s.mu.Unlock()
	s.group.Wait()
}

// IsDisposed 检查是否已释放
func (s *ThreadPoolScheduler) IsDisposed() bool {
	return atomic.LoadInt32(&s.disposed) == 1
}

// ============================================================================
// 默认调度器
// ============================================================================

var (
	// ImmediateScheduler 立即调度器实例
	ImmediateScheduler Scheduler = NewImmediateScheduler()

	// CurrentThreadScheduler 当前线程调度器实例
	CurrentThreadScheduler Scheduler = NewCurrentThreadScheduler()

	// NewThreadScheduler 新线程调度器实例
	NewThreadScheduler Scheduler = NewNewThreadScheduler()

	// DefaultScheduler 默认调度器
	DefaultScheduler = NewThreadScheduler
)

// ============================================================================
// 调度器辅助函数
// ============================================================================

// SchedulePeriodic 每隔period执行一次action，直到返回的Disposable被释放。
// 每次执行后才调度下一次，所以在虚拟时间调度器上同样适用。
func SchedulePeriodic(scheduler Scheduler, period time.Duration, action func()) Disposable {
	sd := NewSerialDisposable()
	var tick func()
	tick = func() {
		sd.Set(scheduler.ScheduleWithDelay(func() {
			action()
			if !sd.IsDisposed() {
				tick()
			}
		}, period))
	}
	tick()
	return sd
}
