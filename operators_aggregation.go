// Aggregation operators for rxstream
// 聚合操作符实现，包含Scan, Aggregate, Average, Sum, ToSlice
package rxstream

import (
	"math"

	"github.com/pkg/errors"
)

// ============================================================================
// 累加
// ============================================================================

// Scan 每收到一个值就发射一次累加结果，第一个结果是accumulator(seed, 第一个值)
func (o *observableImpl) Scan(seed interface{}, accumulator Accumulator) Observable {
	return o.lift(func(observer Observer) Observer {
		acc := seed
		return func(item Item) {
			if !item.IsNext() {
				observer(item)
				return
			}
			if err := tryCall("Scan", func() (err error) {
				acc, err = accumulator(acc, item.Value)
				return err
			}); err != nil {
				observer(CreateErrorItem(err))
				return
			}
			observer(CreateItem(acc))
		}
	})
}

// Aggregate 源完成时发射一次最终的累加结果，空序列发射seed
func (o *observableImpl) Aggregate(seed interface{}, accumulator Accumulator) Observable {
	return o.lift(func(observer Observer) Observer {
		acc := seed
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				if err := tryCall("Aggregate", func() (err error) {
					acc, err = accumulator(acc, item.Value)
					return err
				}); err != nil {
					observer(CreateErrorItem(err))
				}
			case ErrorKind:
				observer(item)
			case CompleteKind:
				observer(CreateItem(acc))
				observer(item)
			}
		}
	})
}

// Reduce Aggregate的别名
func (o *observableImpl) Reduce(seed interface{}, accumulator Accumulator) Observable {
	return o.Aggregate(seed, accumulator)
}

// ============================================================================
// 数值聚合
// ============================================================================

// Average 完成时发射所有值的算术平均数（float64），空序列以ErrSequenceEmpty终止
func (o *observableImpl) Average() Observable {
	return o.lift(func(observer Observer) Observer {
		var (
			sum   float64
			count int
		)
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				n, ok := toNumber(item.Value)
				if !ok {
					observer(CreateErrorItem(newOperatorError("Average",
						errors.Wrapf(ErrNotNumeric, "%T", item.Value))))
					return
				}
				sum += n.float()
				count++
			case ErrorKind:
				observer(item)
			case CompleteKind:
				if count == 0 {
					observer(CreateErrorItem(newOperatorError("Average", ErrSequenceEmpty)))
					return
				}
				observer(CreateItem(sum / float64(count)))
				observer(item)
			}
		}
	})
}

// Sum 完成时发射所有值的和。全部为整数时结果为int64，出现浮点数时为float64
func (o *observableImpl) Sum() Observable {
	return o.lift(func(observer Observer) Observer {
		var total number
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				n, ok := toNumber(item.Value)
				if !ok {
					observer(CreateErrorItem(newOperatorError("Sum",
						errors.Wrapf(ErrNotNumeric, "%T", item.Value))))
					return
				}
				total = total.add(n)
			case ErrorKind:
				observer(item)
			case CompleteKind:
				observer(CreateItem(total.value()))
				observer(item)
			}
		}
	})
}

// ToSlice 完成时把所有值作为一个[]interface{}发射
func (o *observableImpl) ToSlice() Observable {
	return o.lift(func(observer Observer) Observer {
		values := []interface{}{}
		return func(item Item) {
			switch item.Kind {
			case NextKind:
				values = append(values, item.Value)
			case ErrorKind:
				observer(item)
			case CompleteKind:
				observer(CreateItem(values))
				observer(item)
			}
		}
	})
}

// ============================================================================
// 辅助函数
// ============================================================================

// number 整数保持精确，遇到浮点数后切换为float64
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) add(other number) number {
	if !n.isFloat && !other.isFloat {
		return number{i: n.i + other.i}
	}
	return number{f: n.float() + other.float(), isFloat: true}
}

func (n number) value() interface{} {
	if n.isFloat {
		return n.f
	}
	return n.i
}

// fromUint64 超出int64范围的无符号值按浮点数累加
func fromUint64(x uint64) number {
	if x > math.MaxInt64 {
		return number{f: float64(x), isFloat: true}
	}
	return number{i: int64(x)}
}

// toNumber 把内置数值类型转换为number
func toNumber(v interface{}) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{i: int64(x)}, true
	case int8:
		return number{i: int64(x)}, true
	case int16:
		return number{i: int64(x)}, true
	case int32:
		return number{i: int64(x)}, true
	case int64:
		return number{i: x}, true
	case uint:
		return fromUint64(uint64(x)), true
	case uint8:
		return number{i: int64(x)}, true
	case uint16:
		return number{i: int64(x)}, true
	case uint32:
		return number{i: int64(x)}, true
	case uint64:
		return fromUint64(x), true
	case float32:
		return number{f: float64(x), isFloat: true}, true
	case float64:
		return number{f: x, isFloat: true}, true
	}
	return number{}, false
}
