package record

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// TimeLayout is the fixed-width ISO-8601 layout used for every stored timestamp.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. RFC 3339 input is accepted as well,
// since remote endpoints may return it.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Normalize converts a value into one of the record value types.
// Strings are NFC-normalised so text typed on different devices compares equal.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return norm.NFC.String(val)
	case []byte:
		return norm.NFC.String(string(val))
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return strconv.FormatUint(val, 10)
		}
		return int64(val)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return val.String()
	case bool:
		return val
	case time.Time:
		return FormatTime(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return FormatTime(*val)
	case fmt.Stringer:
		return norm.NFC.String(val.String())
	default:
		return v
	}
}

// normalizeFloat turns integral floats (as produced by JSON decoding) into int64.
func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Compare orders two record values. Numbers compare numerically, everything
// else by its string form. nil sorts first.
func Compare(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two values are equal after normalisation.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Row is a table row as a field map.
type Row map[string]any

// NewRow builds a normalised Row from an arbitrary map.
func NewRow(m map[string]any) Row {
	row := make(Row, len(m))
	for k, v := range m {
		row[k] = Normalize(v)
	}
	return row
}

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with fields applied on top.
func (r Row) Merge(fields Row) Row {
	out := r.Clone()
	for k, v := range fields {
		out[k] = Normalize(v)
	}
	return out
}

// Without returns a copy of r without the given keys.
func (r Row) Without(keys ...string) Row {
	out := r.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Has reports whether key is present (a nil value counts as present).
func (r Row) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the value at key as a string ("" when absent or nil).
func (r Row) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int64 returns the value at key as an int64 (0 when absent or not numeric).
func (r Row) Int64(key string) int64 {
	switch v := Normalize(r[key]).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// SortedKeys returns the row's keys in lexical order.
func (r Row) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
