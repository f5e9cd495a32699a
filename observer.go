// Observer plumbing for rxstream
// 订阅契约：终止之后不再投递，释放后不再投递，终止时释放上游
package rxstream

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	sinkActive int32 = iota
	sinkTerminated
	sinkDisposed
)

// safeObserver 每次Subscribe创建一个，保护下游观察者
type safeObserver struct {
	observer Observer
	state    int32
	cancel   context.CancelFunc
	upstream *CompositeDisposable
	logger   *zap.SugaredLogger
}

func newSafeObserver(observer Observer, cancel context.CancelFunc, logger *zap.SugaredLogger) *safeObserver {
	return &safeObserver{
		observer: observer,
		cancel:   cancel,
		upstream: NewCompositeDisposable(),
		logger:   logger,
	}
}

// on 投递一个通知
func (s *safeObserver) on(item Item) {
	if !item.IsTerminal() {
		if atomic.LoadInt32(&s.state) != sinkActive {
			s.dropped(item)
			return
		}
		s.observer(item)
		return
	}

	if !atomic.CompareAndSwapInt32(&s.state, sinkActive, sinkTerminated) {
		s.dropped(item)
		return
	}
	s.cancel()
	s.observer(item)
	s.upstream.Dispose()
}

// dropped 终止后的通知属于SequenceError，只记录不转发
func (s *safeObserver) dropped(item Item) {
	if atomic.LoadInt32(&s.state) != sinkTerminated {
		return
	}
	s.logger.Debugw("dropping notification after terminal",
		"error", &SequenceError{Item: item})
}

func (s *safeObserver) stopped() bool {
	return atomic.LoadInt32(&s.state) != sinkActive
}

// Dispose 取消订阅
func (s *safeObserver) Dispose() {
	if atomic.CompareAndSwapInt32(&s.state, sinkActive, sinkDisposed) {
		s.cancel()
	}
	s.upstream.Dispose()
}

// IsDisposed 订阅已终止或已释放
func (s *safeObserver) IsDisposed() bool {
	return s.stopped()
}

// callbackObserver 把三个回调适配为Observer，onError为nil时记录未处理的错误
func callbackObserver(onNext OnNext, onError OnError, onComplete OnComplete, logger *zap.SugaredLogger) Observer {
	return func(item Item) {
		switch item.Kind {
		case NextKind:
			if onNext != nil {
				onNext(item.Value)
			}
		case ErrorKind:
			if onError != nil {
				onError(item.Error)
				return
			}
			logger.Errorw("unhandled error in observable sequence", "error", item.Error)
		case CompleteKind:
			if onComplete != nil {
				onComplete()
			}
		}
	}
}

// ============================================================================
// Emitter 供Create使用
// ============================================================================

// Emitter Create回调收到的发射器
type Emitter interface {
	OnNext(value interface{})
	OnError(err error)
	OnComplete()
	// IsDisposed 下游已终止或取消订阅，生产者应停止发射
	IsDisposed() bool
	// Context 订阅的上下文，取消订阅时被取消
	Context() context.Context
}

type emitter struct {
	ctx      context.Context
	observer Observer
}

func (e *emitter) OnNext(value interface{}) { e.observer(CreateItem(value)) }
func (e *emitter) OnError(err error)        { e.observer(CreateErrorItem(err)) }
func (e *emitter) OnComplete()              { e.observer(CreateCompleteItem()) }
func (e *emitter) IsDisposed() bool         { return e.ctx.Err() != nil }
func (e *emitter) Context() context.Context { return e.ctx }
