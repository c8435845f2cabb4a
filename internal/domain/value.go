package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// AsNumber returns v as a float64 when v holds a number. Strings are not
// numbers; NaN is treated as missing.
func AsNumber(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Normalize converts numeric values to float64 so that values from different
// sources compare equal.
func Normalize(v interface{}) interface{} {
	if f, ok := AsNumber(v); ok {
		return f
	}
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	return v
}

// Value reads fid from a row. The virtual count field reads as 1.
func Value(r Row, fid string) interface{} {
	v, ok := r[fid]
	if !ok && fid == CountFieldID {
		return float64(1)
	}
	return v
}

// ValueKey renders a value as a type-tagged string for grouping and set
// membership. Values that are equal after Normalize share a key.
func ValueKey(v interface{}) string {
	switch x := Normalize(v).(type) {
	case nil:
		return "n:"
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "?:"
		}
		return "j:" + string(b)
	}
}

// TupleKey joins the keys of several values.
func TupleKey(vals []interface{}) string {
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		sb.WriteString(ValueKey(v))
	}
	return sb.String()
}

// CompareValues orders two scalars: numbers before strings before booleans.
// Missing values are not handled here; callers place them last.
func CompareValues(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		fa, _ := AsNumber(a)
		fb, _ := AsNumber(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 1:
		return strings.Compare(a.(string), b.(string))
	case 2:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	}
	return strings.Compare(ValueKey(a), ValueKey(b))
}

func rank(v interface{}) int {
	if _, ok := AsNumber(v); ok {
		return 0
	}
	switch v.(type) {
	case string:
		return 1
	case bool:
		return 2
	}
	return 3
}
