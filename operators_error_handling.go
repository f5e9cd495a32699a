// Error handling operators for rxstream
// 错误处理操作符实现，包含Catch, CatchWith, Retry, OnErrorReturn
package rxstream

import (
	"context"
	"sync"
)

// ============================================================================
// 错误恢复操作符
// ============================================================================

// Catch 源发生错误时取消订阅并切换到fallback，后续通知如同连续的序列
func (o *observableImpl) Catch(fallback Observable) Observable {
	return o.CatchWith(func(error) Observable {
		return fallback
	})
}

// CatchWith 源发生错误时用handler返回的Observable继续
func (o *observableImpl) CatchWith(handler func(error) Observable) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		subs := NewCompositeDisposable()
		subs.Add(o.SubscribeContext(ctx, func(item Item) {
			if !item.IsError() {
				observer(item)
				return
			}

			var next Observable
			if err := tryCall("Catch", func() error {
				next = handler(item.Error)
				return nil
			}); err != nil {
				observer(CreateErrorItem(err))
				return
			}
			if next == nil {
				observer(item)
				return
			}
			subs.Add(next.SubscribeContext(ctx, observer))
		}))
		return subs
	})
}

// Retry 源发生错误时重新订阅，总共最多订阅maxAttempts次，maxAttempts<=0表示不限次数。
// 所有尝试都失败时转发最后一个错误。同步失败的重新订阅在循环中进行，不会加深调用栈。
func (o *observableImpl) Retry(maxAttempts int) Observable {
	return o.derive(func(ctx context.Context, observer Observer) Disposable {
		current := NewSerialDisposable()
		var (
			mu       sync.Mutex
			attempts int
			// running 有一个循环正在订阅，again 该循环需要再订阅一次
			running bool
			again   bool
		)

		var loop func()
		loop = func() {
			for {
				mu.Lock()
				again = false
				attempts++
				attempt := attempts
				mu.Unlock()

				d := o.SubscribeContext(ctx, func(item Item) {
					if item.IsError() && ctx.Err() == nil &&
						(maxAttempts <= 0 || attempt < maxAttempts) {
						mu.Lock()
						if running {
							again = true
							mu.Unlock()
							return
						}
						running = true
						mu.Unlock()
						loop()
						return
					}
					observer(item)
				})
				current.Set(d)

				mu.Lock()
				if !again || ctx.Err() != nil {
					running = false
					mu.Unlock()
					return
				}
				mu.Unlock()
			}
		}

		running = true
		loop()
		return current
	})
}

// OnErrorReturn 发生错误时发射value然后正常完成
func (o *observableImpl) OnErrorReturn(value interface{}) Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if !item.IsError() {
				observer(item)
				return
			}
			observer(CreateItem(value))
			observer(CreateCompleteItem())
		}
	})
}
