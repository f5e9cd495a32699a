// Utility operators for rxstream
// 工具操作符实现，包含Materialize, Dematerialize, ToChannel
package rxstream

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ============================================================================
// 通知与值互相转换
// ============================================================================

// Materialize 把每个通知包装成Item值发射，最后完成
func (o *observableImpl) Materialize() Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			observer(CreateItem(item))
			if item.IsTerminal() {
				observer(CreateCompleteItem())
			}
		}
	})
}

// Dematerialize Materialize的逆操作
func (o *observableImpl) Dematerialize() Observable {
	return o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			inner, ok := item.Value.(Item)
			if !ok {
				observer(CreateErrorItem(newOperatorError("Dematerialize",
					errors.Errorf("value %T is not an Item", item.Value))))
				return
			}
			observer(inner)
		}
	})
}

// ============================================================================
// 转换为Go channel
// ============================================================================

// ToChannel 转换为Go channel，终止或上下文取消后关闭
func (o *observableImpl) ToChannel(opts ...Option) <-chan Item {
	config := newConfig(opts)
	ctx, cancel := context.WithCancel(config.Context)
	ch := make(chan Item, config.BufferSize)

	var (
		mu     sync.Mutex
		closed bool
	)
	closeOnce := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}

	go func() {
		sub := o.SubscribeContext(ctx, func(item Item) {
			mu.Lock()
			if closed {
				mu.Unlock()
				return
			}
			select {
			case ch <- item:
			case <-ctx.Done():
			}
			mu.Unlock()
			if item.IsTerminal() {
				cancel()
			}
		})
		<-ctx.Done()
		sub.Dispose()
		closeOnce()
	}()

	return ch
}
