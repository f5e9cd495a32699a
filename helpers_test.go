// Test helpers for rxstream
// 测试辅助函数
package rxstream

import (
	"fmt"
	"time"
)

// result 同步订阅收集到的结果
type result struct {
	values    []interface{}
	err       error
	completed bool
}

// collect 同步订阅并收集所有通知，只适用于同步完成的序列
func collect(obs Observable) result {
	var r result
	obs.Subscribe(func(item Item) {
		switch item.Kind {
		case NextKind:
			r.values = append(r.values, item.Value)
		case ErrorKind:
			r.err = item.Error
		case CompleteKind:
			r.completed = true
		}
	})
	return r
}

// runVirtual 订阅后运行调度器直到没有任务
func runVirtual(s *VirtualTimeScheduler, obs Observable) *TestObserver {
	observer := s.NewTestObserver()
	obs.Subscribe(observer.On)
	s.Start()
	return observer
}

// secs 把秒数转换为Duration
func secs(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// createSeq 延迟delay后每隔interval发射prefix+序号，共limit个
func createSeq(s *VirtualTimeScheduler, delay, interval time.Duration, prefix string, limit int) Observable {
	return Interval(interval, s).
		Map(func(v interface{}) (interface{}, error) {
			return fmt.Sprintf("%s%d", prefix, v), nil
		}).
		Delay(delay, s).
		Take(limit)
}

// ints 构造[]interface{}，方便与收集结果比较
func ints(values ...int64) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
