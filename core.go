// Package rxstream provides reactive observable streams for Go
// 基于Go语言的响应式流引擎：Observable/Observer契约、操作符组合、Subject以及可测试的虚拟时间调度器
package rxstream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// 核心类型定义
// ============================================================================

// ItemKind 通知类型
type ItemKind int

const (
	// NextKind 普通值
	NextKind ItemKind = iota
	// ErrorKind 错误终止
	ErrorKind
	// CompleteKind 正常完成
	CompleteKind
)

func (k ItemKind) String() string {
	switch k {
	case NextKind:
		return "OnNext"
	case ErrorKind:
		return "OnError"
	case CompleteKind:
		return "OnCompleted"
	}
	return "Unknown"
}

// Item 表示流中的一个通知：值、错误或完成
type Item struct {
	Kind  ItemKind
	Value interface{} // 数据值
	Error error       // 错误信息
}

// IsNext 检查是否为普通值
func (item Item) IsNext() bool {
	return item.Kind == NextKind
}

// IsError 检查项目是否包含错误
func (item Item) IsError() bool {
	return item.Kind == ErrorKind
}

// IsCompleted 检查是否为完成信号
func (item Item) IsCompleted() bool {
	return item.Kind == CompleteKind
}

// IsTerminal 错误或完成都是终止通知
func (item Item) IsTerminal() bool {
	return item.Kind != NextKind
}

// GetValue 获取项目的值，如果不是普通值则返回nil
func (item Item) GetValue() interface{} {
	if !item.IsNext() {
		return nil
	}
	return item.Value
}

// ============================================================================
// 函数类型定义
// ============================================================================

// Observer 观察者函数类型，按顺序接收通知
type Observer func(item Item)

// OnNext 处理下一个值的函数
type OnNext func(value interface{})

// OnError 处理错误的函数
type OnError func(err error)

// OnComplete 处理完成的函数
type OnComplete func()

// Predicate 谓词函数，用于过滤
type Predicate func(value interface{}) bool

// Transformer 转换函数，用于映射
type Transformer func(value interface{}) (interface{}, error)

// Accumulator 累加函数，用于Scan和Aggregate
type Accumulator func(acc, value interface{}) (interface{}, error)

// KeySelector 分组键选择函数
type KeySelector func(value interface{}) interface{}

// Combiner 组合两个值的函数
type Combiner func(a, b interface{}) (interface{}, error)

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口，多次调用Dispose是安全的
type Disposable interface {
	// Dispose 释放资源
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现，action最多执行一次
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewBaseDisposable 创建基础可释放资源
func NewBaseDisposable(action func()) Disposable {
	return &baseDisposable{
		action: action,
	}
}

// EmptyDisposable 返回一个没有任何清理动作的Disposable
func EmptyDisposable() Disposable {
	return &baseDisposable{}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// CompositeDisposable 组合式资源管理器
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources []Disposable
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable(resources ...Disposable) *CompositeDisposable {
	cd := &CompositeDisposable{}
	for _, r := range resources {
		cd.Add(r)
	}
	return cd
}

// Add 添加可释放资源，已释放时立即释放新资源
func (cd *CompositeDisposable) Add(disposable Disposable) {
	if disposable == nil {
		return
	}
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		disposable.Dispose()
		return
	}
	cd.resources = append(cd.resources, disposable)
	cd.mu.Unlock()
}

// Remove 移除并释放指定资源
func (cd *CompositeDisposable) Remove(disposable Disposable) {
	cd.mu.Lock()
	found := false
	for i, r := range cd.resources {
		if r == disposable {
			cd.resources = append(cd.resources[:i], cd.resources[i+1:]...)
			found = true
			break
		}
	}
	cd.mu.Unlock()
	if found {
		disposable.Dispose()
	}
}

// Len 当前持有的资源数
func (cd *CompositeDisposable) Len() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.resources)
}

// Dispose 释放所有资源
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	cd.disposed = true
	resources := cd.resources
	cd.resources = nil
	cd.mu.Unlock()

	// 在锁外释放，避免释放回调重入
	for _, resource := range resources {
		resource.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// SerialDisposable 可替换内部资源的Disposable，替换时释放旧资源
type SerialDisposable struct {
	mu       sync.Mutex
	disposed bool
	current  Disposable
}

// NewSerialDisposable 创建串行资源管理器
func NewSerialDisposable() *SerialDisposable {
	return &SerialDisposable{}
}

// Set 设置新的内部资源并释放旧资源
func (sd *SerialDisposable) Set(disposable Disposable) {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		if disposable != nil {
			disposable.Dispose()
		}
		return
	}
	old := sd.current
	sd.current = disposable
	sd.mu.Unlock()

	if old != nil && old != disposable {
		old.Dispose()
	}
}

// Dispose 释放当前资源，之后Set的资源会被立即释放
func (sd *SerialDisposable) Dispose() {
	sd.mu.Lock()
	if sd.disposed {
		sd.mu.Unlock()
		return
	}
	sd.disposed = true
	current := sd.current
	sd.current = nil
	sd.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (sd *SerialDisposable) IsDisposed() bool {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.disposed
}

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，控制任务执行时机和方式
type Scheduler interface {
	// Now 调度器的当前时间
	Now() time.Time
	// Schedule 尽快调度一个任务
	Schedule(action func()) Disposable
	// ScheduleWithDelay 延迟调度一个任务
	ScheduleWithDelay(action func(), delay time.Duration) Disposable
	// ScheduleAt 在绝对时间调度一个任务
	ScheduleAt(due time.Time, action func()) Disposable
	// ScheduleWithContext 带上下文的调度，上下文取消后任务不再执行
	ScheduleWithContext(ctx context.Context, action func()) Disposable
}

// ============================================================================
// Observable 核心接口
// ============================================================================

// Observable 可观察序列的核心接口。Observable本身不持有运行状态，
// 每次Subscribe都会产生一个独立的执行。
type Observable interface {
	// Subscribe 订阅观察者，返回的Disposable用于取消订阅
	Subscribe(observer Observer) Disposable

	// SubscribeContext 订阅观察者，ctx取消后生产者停止发射
	SubscribeContext(ctx context.Context, observer Observer) Disposable

	// SubscribeWithCallbacks 使用回调函数订阅
	SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) Disposable

	// SubscribeOn 指定订阅时使用的调度器
	SubscribeOn(scheduler Scheduler) Observable

	// ObserveOn 指定观察时使用的调度器
	ObserveOn(scheduler Scheduler) Observable

	// 过滤与转换
	Map(transformer Transformer) Observable
	Select(transformer Transformer) Observable
	Filter(predicate Predicate) Observable
	Where(predicate Predicate) Observable
	Distinct() Observable
	DistinctUntilChanged() Observable
	Take(count int) Observable
	Skip(count int) Observable
	TakeUntil(other Observable) Observable
	Contains(value interface{}) Observable
	Any(predicate Predicate) Observable
	All(predicate Predicate) Observable
	Count() Observable

	// 窗口
	Buffer(count int) Observable
	BufferWithTime(timespan time.Duration, scheduler Scheduler) Observable
	BufferWithTimeOrCount(timespan time.Duration, count int, scheduler Scheduler) Observable
	Sample(interval time.Duration, scheduler Scheduler) Observable
	Throttle(duration time.Duration, scheduler Scheduler) Observable

	// 组合
	Concat(other Observable) Observable
	Merge(other Observable) Observable
	Amb(other Observable) Observable
	CombineLatest(other Observable, combiner Combiner) Observable
	Zip(other Observable, zipper Combiner) Observable
	And(other Observable) *Pattern
	SwitchOnNext() Observable
	GroupBy(keySelector KeySelector) Observable
	StartWith(values ...interface{}) Observable

	// 聚合
	Scan(seed interface{}, accumulator Accumulator) Observable
	Aggregate(seed interface{}, accumulator Accumulator) Observable
	Reduce(seed interface{}, accumulator Accumulator) Observable
	Average() Observable
	Sum() Observable
	ToSlice() Observable

	// 错误处理
	Catch(fallback Observable) Observable
	CatchWith(handler func(error) Observable) Observable
	Retry(maxAttempts int) Observable
	OnErrorReturn(value interface{}) Observable

	// 时间操作符
	Delay(duration time.Duration, scheduler Scheduler) Observable
	Timeout(duration time.Duration, scheduler Scheduler) Observable
	TimeInterval(scheduler Scheduler) Observable
	Timestamp(scheduler Scheduler) Observable

	// 副作用与元数据
	DoOnNext(action OnNext) Observable
	DoOnError(action OnError) Observable
	DoOnComplete(action OnComplete) Observable
	Finally(action func()) Observable
	Dump(name string) Observable
	Materialize() Observable
	Dematerialize() Observable

	// 多播
	Publish() ConnectableObservable

	// 转换为Go原生结构
	ToChannel(opts ...Option) <-chan Item
	BlockingSlice(ctx context.Context) ([]interface{}, error)
	BlockingFirst(ctx context.Context) (interface{}, error)
	BlockingLast(ctx context.Context) (interface{}, error)
}

// ConnectableObservable 可连接的Observable，Connect之前不会订阅源
type ConnectableObservable interface {
	Observable

	// Connect 订阅源并开始向所有订阅者多播
	Connect() Disposable

	// RefCount 返回一个在第一个订阅者出现时连接、最后一个离开时断开的Observable
	RefCount() Observable
}

// GroupedObservable GroupBy发射的分组句柄
type GroupedObservable struct {
	Key interface{}
	Observable
}

// ============================================================================
// Subject 主题接口
// ============================================================================

// Subject 既是Observable又是Observer的接口
type Subject interface {
	Observable

	// AsObserver 返回Observer函数
	AsObserver() Observer

	// OnNext 发送下一个值
	OnNext(value interface{})

	// OnError 发送错误
	OnError(err error)

	// OnComplete 发送完成信号
	OnComplete()

	// HasObservers 检查是否有观察者
	HasObservers() bool

	// ObserverCount 获取观察者数量
	ObserverCount() int
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// Config 配置结构
type Config struct {
	BufferSize int
	Scheduler  Scheduler
	Logger     *zap.SugaredLogger
	Context    context.Context
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 16,
		Context:    context.Background(),
	}
}

func newConfig(options []Option) *Config {
	config := DefaultConfig()
	for _, opt := range options {
		if opt != nil {
			opt.Apply(config)
		}
	}
	return config
}

// logger 返回配置的日志器，未配置时使用包级日志器
func (c *Config) logger() *zap.SugaredLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return Logger()
}

type optionFunc func(*Config)

func (f optionFunc) Apply(config *Config) { f(config) }

// WithBufferSize 设置ToChannel等操作使用的缓冲大小
func WithBufferSize(size int) Option {
	return optionFunc(func(c *Config) {
		if size >= 0 {
			c.BufferSize = size
		}
	})
}

// WithScheduler 让Just/Range/Generate/FromSlice等通过调度器发射
func WithScheduler(scheduler Scheduler) Option {
	return optionFunc(func(c *Config) {
		c.Scheduler = scheduler
	})
}

// WithLogger 为单个Observable指定日志器
func WithLogger(logger *zap.SugaredLogger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = logger
	})
}

// WithContext 上下文取消时释放订阅
func WithContext(ctx context.Context) Option {
	return optionFunc(func(c *Config) {
		if ctx != nil {
			c.Context = ctx
		}
	})
}

// ============================================================================
// 工具函数
// ============================================================================

// CreateItem 创建包含值的项目
func CreateItem(value interface{}) Item {
	return Item{Kind: NextKind, Value: value}
}

// CreateErrorItem 创建包含错误的项目
func CreateErrorItem(err error) Item {
	return Item{Kind: ErrorKind, Error: err}
}

// CreateCompleteItem 创建完成信号
func CreateCompleteItem() Item {
	return Item{Kind: CompleteKind}
}
