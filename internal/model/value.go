package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type ValueKind uint8

const (
	KindNumber ValueKind = iota + 1
	KindString
)

// 文档注释：字段值（数值或字符串）
// 背景：数据集为开放模式，同名字段在不同端点可能类型不同；保留原始类型，读取方显式判断。
// 约束：零值 Value 视为缺失；Float 仅对有限数值返回 true。
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func String(s string) Value  { return Value{Kind: KindString, Str: s} }

// Float：取数值；字符串形式的数字不做隐式转换
func (v Value) Float() (float64, bool) {
	if v.Kind != KindNumber || math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
		return 0, false
	}
	return v.Num, true
}

func (v Value) IsZero() bool { return v.Kind == 0 }

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return v.Str
	}
	return ""
}

// ValueOf：从 JSON 解码后的任意值构建；布尔/对象/数组不属于字段值
func ValueOf(x any) (Value, bool) {
	switch t := x.(type) {
	case float64:
		return Number(t), true
	case float32:
		return Number(float64(t)), true
	case int:
		return Number(float64(t)), true
	case int64:
		return Number(float64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String()), true
		}
		return Number(f), true
	case string:
		return String(t), true
	}
	return Value{}, false
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var x any
	if err := json.Unmarshal(b, &x); err != nil {
		return err
	}
	if x == nil {
		*v = Value{}
		return nil
	}
	nv, ok := ValueOf(x)
	if !ok {
		return fmt.Errorf("unsupported field value %s", string(b))
	}
	*v = nv
	return nil
}
