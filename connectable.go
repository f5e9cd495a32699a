// ConnectableObservable implementation for rxstream
// 实现ConnectableObservable：通过PublishSubject把冷Observable转换为热的多播序列
package rxstream

import (
	"context"
	"sync"
)

// ============================================================================
// ConnectableObservable 实现
// ============================================================================

// connectableObservableImpl 订阅者登记在subject上，Connect时才订阅源
type connectableObservableImpl struct {
	*observableImpl
	source     Observable
	subject    *PublishSubject
	mu         sync.Mutex
	connection Disposable
}

// Publish 返回可连接的Observable，所有订阅者共享同一次对源的订阅
func (o *observableImpl) Publish() ConnectableObservable {
	return newConnectable(o)
}

func newConnectable(source *observableImpl) *connectableObservableImpl {
	subject := NewPublishSubject(WithLogger(source.config.Logger))
	co := &connectableObservableImpl{
		source:  source,
		subject: subject,
	}
	co.observableImpl = source.derive(func(ctx context.Context, observer Observer) Disposable {
		return subject.SubscribeContext(ctx, observer)
	})
	return co
}

// Connect 订阅源并开始向所有订阅者多播，已连接时返回现有连接
func (co *connectableObservableImpl) Connect() Disposable {
	co.mu.Lock()
	if co.connection != nil {
		conn := co.connection
		co.mu.Unlock()
		return conn
	}

	upstream := NewSerialDisposable()
	var conn Disposable
	conn = NewBaseDisposable(func() {
		upstream.Dispose()
		co.mu.Lock()
		if co.connection == conn {
			co.connection = nil
		}
		co.mu.Unlock()
	})
	co.connection = conn
	co.mu.Unlock()

	upstream.Set(co.source.Subscribe(co.subject.AsObserver()))
	return conn
}

// IsConnected 检查是否已连接
func (co *connectableObservableImpl) IsConnected() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.connection != nil
}

// RefCount 第一个订阅者出现时连接，最后一个订阅者离开时断开
func (co *connectableObservableImpl) RefCount() Observable {
	var (
		mu         sync.Mutex
		count      int
		connection Disposable
	)
	return co.derive(func(ctx context.Context, observer Observer) Disposable {
		sub := co.SubscribeContext(ctx, observer)

		mu.Lock()
		count++
		first := count == 1
		mu.Unlock()

		if first {
			conn := co.Connect()
			mu.Lock()
			if count == 0 {
				mu.Unlock()
				conn.Dispose()
			} else {
				connection = conn
				mu.Unlock()
			}
		}

		return NewBaseDisposable(func() {
			sub.Dispose()
			mu.Lock()
			count--
			var conn Disposable
			if count == 0 {
				conn, connection = connection, nil
			}
			mu.Unlock()
			if conn != nil {
				conn.Dispose()
			}
		})
	})
}
