// Error taxonomy for rxstream
// 错误分类：生产者错误、操作符错误、超时错误、序列协议错误
package rxstream

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrSequenceEmpty 序列在产生任何值之前就完成了
	ErrSequenceEmpty = errors.New("rxstream: sequence contains no elements")

	// ErrNotNumeric 数值聚合遇到了非数值
	ErrNotNumeric = errors.New("rxstream: value is not numeric")
)

// ProducerError 生产者代码（Create/Generate等的回调）中产生的错误或panic
type ProducerError struct {
	Cause error
}

func (e *ProducerError) Error() string {
	return "rxstream: producer failed: " + e.Cause.Error()
}

// Unwrap 返回原始错误
func (e *ProducerError) Unwrap() error { return e.Cause }

// OperatorError 用户提供的转换/谓词/选择器中产生的错误或panic
type OperatorError struct {
	Op    string
	Cause error
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("rxstream: %s: %v", e.Op, e.Cause)
}

// Unwrap 返回原始错误
func (e *OperatorError) Unwrap() error { return e.Cause }

// TimeoutError 超时错误
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rxstream: no notification within %v", e.Duration)
}

// IsTimeout 检查错误链中是否包含TimeoutError
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// SequenceError 终止之后仍收到通知，属于上游违反协议。
// 该错误不会向下游转发，只会被记录。
type SequenceError struct {
	Item Item
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("rxstream: %v received after terminal notification", e.Item.Kind)
}

// newOperatorError 包装操作符错误，保留调用栈
func newOperatorError(op string, cause error) error {
	var oe *OperatorError
	if errors.As(cause, &oe) {
		return cause
	}
	return &OperatorError{Op: op, Cause: errors.WithStack(cause)}
}

// newProducerError 包装生产者错误，保留调用栈
func newProducerError(cause error) error {
	var pe *ProducerError
	if errors.As(cause, &pe) {
		return cause
	}
	return &ProducerError{Cause: errors.WithStack(cause)}
}

// panicError 把recover()得到的值转换为error
func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "panic")
	}
	return errors.Errorf("panic: %v", r)
}

// tryCall 执行用户函数，panic转换为OperatorError
func tryCall(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newOperatorError(op, panicError(r))
		}
	}()
	if e := fn(); e != nil {
		return newOperatorError(op, e)
	}
	return nil
}

// tryProduce 执行生产者回调，panic或错误转换为ProducerError
func tryProduce(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newProducerError(panicError(r))
		}
	}()
	if e := fn(); e != nil {
		return newProducerError(e)
	}
	return nil
}

// errNonPositive 参数必须为正数
func errNonPositive(name string, value interface{}) error {
	return errors.Errorf("%s must be positive, got %v", name, value)
}
