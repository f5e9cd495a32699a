// Side effect operators for rxstream
// 副作用操作符实现，包含DoOnNext, DoOnError, DoOnComplete, Finally, Dump
package rxstream

import (
	"context"
)

// ============================================================================
// 副作用操作符实现
// ============================================================================

// DoOnNext 每个值到达时执行副作用
func (o *observableImpl) DoOnNext(action OnNext) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if item.IsNext() {
				if err := tryCall("DoOnNext", func() error {
					action(item.Value)
					return nil
				}); err != nil {
					observer(CreateErrorItem(err))
					return
				}
			}
			observer(item)
		}
	})
}

// DoOnError 错误到达时执行副作用
func (o *observableImpl) DoOnError(action OnError) Observable {
	logger := o.config.logger()
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if item.IsError() {
				if err := tryCall("DoOnError", func() error {
					action(item.Error)
					return nil
				}); err != nil {
					logger.Warnw("side effect failed while handling error", "error", err, "source", item.Error)
					observer(CreateErrorItem(err))
					return
				}
			}
			observer(item)
		}
	})
}

// DoOnComplete 完成时执行副作用
func (o *observableImpl) DoOnComplete(action OnComplete) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if item.IsCompleted() {
				if err := tryCall("DoOnComplete", func() error {
					action()
					return nil
				}); err != nil {
					observer(CreateErrorItem(err))
					return
				}
			}
			observer(item)
		}
	})
}

// Finally 终止或取消订阅后执行一次
func (o *observableImpl) Finally(action func()) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		once := NewBaseDisposable(action)
		upstream := o.SubscribeContext(ctx, func(item Item) {
			observer(item)
			if item.IsTerminal() {
				once.Dispose()
			}
		})
		return NewCompositeDisposable(upstream, once)
	})
}

// Dump 用日志器记录每个通知，便于调试
func (o *observableImpl) Dump(name string) Observable {
	logger := o.config.logger().Named(name)
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				logger.Infow("OnNext", "value", item.Value)
			case ErrorKind:
				logger.Infow("OnError", "error", item.Error)
			case CompleteKind:
				logger.Info("OnCompleted")
			}
			observer(item)
		}
	})
}
