package table

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "datetime"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// The zero Value is null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	t    time.Time
}

func Null() Value { return Value{} }

func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns null for NaN and infinities.
func Float(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Null()
	}
	return Value{kind: KindFloat, f: v}
}

func String(v string) Value { return Value{kind: KindString, s: v} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsBool() (bool, bool) { return v.i != 0, v.kind == KindBool }

func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

func FromAny(raw any) Value {
	switch typed := raw.(type) {
	case nil:
		return Null()
	case Value:
		return typed
	case bool:
		return Bool(typed)
	case int:
		return Int(int64(typed))
	case int8:
		return Int(int64(typed))
	case int16:
		return Int(int64(typed))
	case int32:
		return Int(int64(typed))
	case int64:
		return Int(typed)
	case uint8:
		return Int(int64(typed))
	case uint16:
		return Int(int64(typed))
	case uint32:
		return Int(int64(typed))
	case uint:
		if uint64(typed) > math.MaxInt64 {
			return Float(float64(typed))
		}
		return Int(int64(typed))
	case uint64:
		if typed > math.MaxInt64 {
			return Float(float64(typed))
		}
		return Int(int64(typed))
	case float32:
		return Float(float64(typed))
	case float64:
		return Float(typed)
	case string:
		return String(typed)
	case []byte:
		return String(string(typed))
	case time.Time:
		return Time(typed)
	case *time.Time:
		if typed == nil {
			return Null()
		}
		return Time(*typed)
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return Int(i)
		}
		if f, err := typed.Float64(); err == nil {
			return Float(f)
		}
		return String(typed.String())
	case *big.Int:
		if typed == nil {
			return Null()
		}
		if typed.IsInt64() {
			return Int(typed.Int64())
		}
		f, _ := new(big.Float).SetInt(typed).Float64()
		return Float(f)
	case interface{ Float64() float64 }:
		return Float(typed.Float64())
	case fmt.Stringer:
		return String(typed.String())
	default:
		return String(fmt.Sprint(typed))
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBool:
		return strconv.AppendBool(nil, v.i != 0), nil
	case KindTime:
		return json.Marshal(v.t)
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
	}
}

func (v Value) String() string { return Text(v) }

func Equal(a, b Value) bool {
	if isNumeric(a.kind) && isNumeric(b.kind) {
		if a.kind == KindInt && b.kind == KindInt {
			return a.i == b.i
		}
		af, _ := ToFloat(a)
		bf, _ := ToFloat(b)
		return af == bf
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.i == b.i
	case KindTime:
		return a.t.Equal(b.t)
	}
	return false
}

// Null sorts after every other value.
func Compare(a, b Value) int {
	if a.kind == KindNull || b.kind == KindNull {
		switch {
		case a.kind == b.kind:
			return 0
		case a.kind == KindNull:
			return 1
		default:
			return -1
		}
	}
	if isNumeric(a.kind) && isNumeric(b.kind) {
		if a.kind == KindInt && b.kind == KindInt {
			return cmp.Compare(a.i, b.i)
		}
		af, _ := ToFloat(a)
		bf, _ := ToFloat(b)
		return cmp.Compare(af, bf)
	}
	if a.kind != b.kind {
		return cmp.Compare(kindRank(a.kind), kindRank(b.kind))
	}
	switch a.kind {
	case KindString:
		return cmp.Compare(a.s, b.s)
	case KindBool:
		return cmp.Compare(a.i, b.i)
	case KindTime:
		return a.t.Compare(b.t)
	}
	return 0
}

func isNumeric(k Kind) bool { return k == KindInt || k == KindFloat }

func kindRank(k Kind) int {
	switch k {
	case KindInt, KindFloat:
		return 0
	case KindString:
		return 1
	case KindBool:
		return 2
	case KindTime:
		return 3
	default:
		return 4
	}
}
