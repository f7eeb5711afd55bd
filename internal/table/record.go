package table

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type Field struct {
	Name  string
	Value Value
}

type Record []Field

func (r Record) Get(name string) (Value, bool) {
	for _, field := range r {
		if field.Name == name {
			return field.Value, true
		}
	}
	return Null(), false
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := field.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Integral floats encode like ints so 1 and 1.0 land in the same group.
func Key(values ...Value) string {
	var b strings.Builder
	for _, v := range values {
		kind := v.kind
		text := Text(v)
		if kind == KindFloat {
			if i, ok := ToInt(v); ok && float64(i) == v.f {
				kind = KindInt
				text = Text(Int(i))
			}
		}
		if kind == KindTime {
			text = v.t.UTC().Format("2006-01-02T15:04:05.999999999")
		}
		b.WriteByte(byte('0' + kind))
		b.WriteString(strconv.Itoa(len(text)))
		b.WriteByte(':')
		b.WriteString(text)
	}
	return b.String()
}
