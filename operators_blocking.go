// Blocking operators for rxstream
// 阻塞操作符实现，包含BlockingSlice, BlockingFirst, BlockingLast
package rxstream

import (
	"context"
	"sync"
)

// ============================================================================
// 阻塞操作符实现
// ============================================================================

// BlockingSlice 阻塞直到序列终止，返回全部值
func (o *observableImpl) BlockingSlice(ctx context.Context) ([]interface{}, error) {
	var (
		mu     sync.Mutex
		values []interface{}
		result error
	)
	done := make(chan struct{})

	sub := o.SubscribeContext(ctx, func(item Item) {
		switch item.Kind {
		case NextKind:
			mu.Lock()
			values = append(values, item.Value)
			mu.Unlock()
		case ErrorKind:
			mu.Lock()
			result = item.Error
			mu.Unlock()
			close(done)
		case CompleteKind:
			close(done)
		}
	})
	defer sub.Dispose()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return values, result
}

// BlockingFirst 阻塞直到收到第一个值，收到后取消订阅。
// 序列没有值就完成时返回ErrSequenceEmpty。
func (o *observableImpl) BlockingFirst(ctx context.Context) (interface{}, error) {
	values, err := o.Take(1).BlockingSlice(ctx)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrSequenceEmpty
	}
	return values[0], nil
}

// BlockingLast 阻塞直到序列完成，返回最后一个值
func (o *observableImpl) BlockingLast(ctx context.Context) (interface{}, error) {
	var (
		mu      sync.Mutex
		last    interface{}
		hasLast bool
	)
	_, err := o.lift(func(observer Observer) Observer {
		return func(item Item) {
			if item.IsNext() {
				mu.Lock()
				last, hasLast = item.Value, true
				mu.Unlock()
				return
			}
			observer(item)
		}
	}).BlockingSlice(ctx)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if !hasLast {
		return nil, ErrSequenceEmpty
	}
	return last, nil
}
