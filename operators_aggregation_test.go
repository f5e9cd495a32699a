// Aggregation operator tests for rxstream
// 聚合操作符测试
package rxstream

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
)

func add(acc, value interface{}) (interface{}, error) {
	return acc.(int) + value.(int), nil
}

func TestScanAndAggregate(t *testing.T) {
	c := qt.New(t)

	scanned := collect(Range(0, 5).Scan(0, add))
	c.Assert(scanned.values, qt.CmpEquals(), []interface{}{0, 1, 3, 6, 10})

	aggregated := collect(Range(0, 5).Aggregate(0, add))
	c.Assert(aggregated.values, qt.CmpEquals(), []interface{}{10})
	c.Assert(aggregated.completed, qt.IsTrue)

	reduced := collect(Empty().Reduce(42, add))
	c.Assert(reduced.values, qt.CmpEquals(), []interface{}{42})
}

func TestAccumulatorError(t *testing.T) {
	c := qt.New(t)
	boom := errors.New("boom")

	got := collect(Range(0, 5).Scan(0, func(acc, value interface{}) (interface{}, error) {
		if value.(int) == 2 {
			return nil, boom
		}
		return add(acc, value)
	}))
	c.Assert(got.values, qt.CmpEquals(), []interface{}{0, 1})
	c.Assert(errors.Is(got.err, boom), qt.IsTrue)

	got = collect(Just(1).Aggregate(0, func(acc, value interface{}) (interface{}, error) {
		panic("accumulator exploded")
	}))
	c.Assert(got.err, qt.ErrorMatches, ".*accumulator exploded.*")
}

func TestSumAndAverage(t *testing.T) {
	tests := []struct {
		name    string
		obs     Observable
		want    []interface{}
		wantErr error
	}{
		{"Sum整数", Just(1, 2, 3).Sum(), []interface{}{int64(6)}, nil},
		{"Sum混合浮点", Just(1, 2.5).Sum(), []interface{}{3.5}, nil},
		{"Sum空序列", Empty().Sum(), []interface{}{int64(0)}, nil},
		{"Sum非数值", Just(1, "x").Sum(), nil, ErrNotNumeric},
		{"Average", Just(1, 2, 3, 4).Average(), []interface{}{2.5}, nil},
		{"Average空序列", Empty().Average(), nil, ErrSequenceEmpty},
		{"Average非数值", Just("x").Average(), nil, ErrNotNumeric},
		{"Sum无符号", Just(uint(1), uint64(2)).Sum(), []interface{}{int64(3)}, nil},
		{"Sum大无符号", Just(uint64(1<<63), uint64(1<<63)).Sum(), []interface{}{float64(1 << 64)}, nil},
		{"Average大无符号", Just(uint64(1<<63), uint64(1<<63)).Average(), []interface{}{float64(1 << 63)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(tt.obs)
			if diff := cmp.Diff(tt.want, got.values); diff != "" {
				t.Errorf("值不符 (-期望 +得到):\n%s", diff)
			}
			if !errors.Is(got.err, tt.wantErr) {
				t.Errorf("期望错误 %v, 得到 %v", tt.wantErr, got.err)
			}
		})
	}
}

func TestToSlice(t *testing.T) {
	c := qt.New(t)

	got := collect(Range(1, 3).ToSlice())
	c.Assert(got.values, qt.CmpEquals(), []interface{}{[]interface{}{1, 2, 3}})

	empty := collect(Empty().ToSlice())
	c.Assert(empty.values, qt.HasLen, 1)
	c.Assert(empty.values[0], qt.IsNotNil)
	c.Assert(empty.values[0], qt.HasLen, 0)
}
