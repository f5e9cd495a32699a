// Scheduler monitoring for rxstream
// 调度器监控：用prometheus记录任务状态和调度延迟
package rxstream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// 任务状态标签
const (
	taskScheduled = "scheduled"
	taskCompleted = "completed"
	taskFailed    = "failed"
	taskCancelled = "cancelled"
)

// schedulerCollectors 同一个Registerer上的所有被监控调度器共享指标，按scheduler标签区分
type schedulerCollectors struct {
	tasks   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newSchedulerCollectors(registerer prometheus.Registerer) (*schedulerCollectors, error) {
	c := &schedulerCollectors{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rxstream",
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Scheduled actions by final state.",
		}, []string{"scheduler", "state"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rxstream",
			Subsystem: "scheduler",
			Name:      "task_latency_seconds",
			Help:      "Delay between an action's due time and the moment it started running.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"scheduler"}),
	}
	if registerer == nil {
		return c, nil
	}

	var err error
	if c.tasks, err = registerOrExisting(registerer, c.tasks); err != nil {
		return nil, err
	}
	if c.latency, err = registerOrExisting(registerer, c.latency); err != nil {
		return nil, err
	}
	return c, nil
}

// registerOrExisting 注册collector，已注册过同名指标时复用已有的
func registerOrExisting[T prometheus.Collector](registerer prometheus.Registerer, collector T) (T, error) {
	if err := registerer.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return collector, errors.Wrap(err, "registering scheduler metrics")
	}
	return collector, nil
}

// MonitoredScheduler 带监控的调度器包装器
type MonitoredScheduler struct {
	scheduler Scheduler
	name      string

	scheduled prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	cancelled prometheus.Counter
	latency   prometheus.Observer
}

// NewMonitoredScheduler 创建带监控的调度器，指标注册到registerer上并带有scheduler=name标签。
// registerer为nil时不注册。
func NewMonitoredScheduler(scheduler Scheduler, registerer prometheus.Registerer, name string) (*MonitoredScheduler, error) {
	c, err := newSchedulerCollectors(registerer)
	if err != nil {
		return nil, err
	}
	return &MonitoredScheduler{
		scheduler: scheduler,
		name:      name,
		scheduled: c.tasks.WithLabelValues(name, taskScheduled),
		completed: c.tasks.WithLabelValues(name, taskCompleted),
		failed:    c.tasks.WithLabelValues(name, taskFailed),
		cancelled: c.tasks.WithLabelValues(name, taskCancelled),
		latency:   c.latency.WithLabelValues(name),
	}, nil
}

// Name 调度器标签
func (s *MonitoredScheduler) Name() string { return s.name }

// Now 底层调度器的时间
func (s *MonitoredScheduler) Now() time.Time { return s.scheduler.Now() }

// Schedule 调度任务并记录指标
func (s *MonitoredScheduler) Schedule(action func()) Disposable {
	return s.ScheduleWithDelay(action, 0)
}

// ScheduleWithDelay 延迟调度任务并记录指标
func (s *MonitoredScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	if delay < 0 {
		delay = 0
	}
	task := s.track(action, s.scheduler.Now().Add(delay))
	task.inner.Set(s.scheduler.ScheduleWithDelay(task.run, delay))
	return task
}

// ScheduleAt 在绝对时间调度任务并记录指标
func (s *MonitoredScheduler) ScheduleAt(due time.Time, action func()) Disposable {
	task := s.track(action, due)
	task.inner.Set(s.scheduler.ScheduleAt(due, task.run))
	return task
}

// ScheduleWithContext 带上下文调度任务并记录指标
func (s *MonitoredScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return s.Schedule(withContext(ctx, action))
}

func (s *MonitoredScheduler) track(action func(), due time.Time) *monitoredTask {
	s.scheduled.Inc()
	return &monitoredTask{
		owner:  s,
		action: action,
		due:    due,
		inner:  NewSerialDisposable(),
	}
}

const (
	taskPending int32 = iota
	taskStarted
	taskDropped
)

// monitoredTask 记录单个任务的结果，开始执行之前被释放的任务计为cancelled
type monitoredTask struct {
	owner  *MonitoredScheduler
	action func()
	due    time.Time
	state  int32
	inner  *SerialDisposable
}

func (t *monitoredTask) run() {
	if !atomic.CompareAndSwapInt32(&t.state, taskPending, taskStarted) {
		return
	}
	latency := t.owner.scheduler.Now().Sub(t.due)
	if latency < 0 {
		latency = 0
	}
	t.owner.latency.Observe(latency.Seconds())

	defer func() {
		if r := recover(); r != nil {
			t.owner.failed.Inc()
			panic(r)
		}
		t.owner.completed.Inc()
	}()
	t.action()
}

// Dispose 取消任务
func (t *monitoredTask) Dispose() {
	if atomic.CompareAndSwapInt32(&t.state, taskPending, taskDropped) {
		t.owner.cancelled.Inc()
	}
	t.inner.Dispose()
}

// IsDisposed 检查是否已取消
func (t *monitoredTask) IsDisposed() bool {
	return atomic.LoadInt32(&t.state) == taskDropped || t.inner.IsDisposed()
}
