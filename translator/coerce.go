package translator

import (
	"database/sql/driver"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/errors"
	"github.com/google/uuid"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/schema"
)

// CoercionError means a source value cannot be stored in its target column.
// It is never retryable: the same row fails the same way every time.
type CoercionError struct {
	Column string
	Type   schema.LogicalType
	Value  any
	Err    error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("column %s: cannot store %T as %s: %v", e.Column, e.Value, e.Type, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

var (
	ErrNull     = goerrors.New("null in a NOT NULL column")
	ErrTruncate = goerrors.New("value would be truncated")
	ErrRange    = goerrors.New("value out of range")
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// CoerceRow converts the driver values of row into the values expected by the
// columns of target. Columns the target does not have are rejected.
func (t *Translator) CoerceRow(target *schema.TableSpec, row connector.Row) (connector.Row, error) {
	out := make(connector.Row, len(row))
	for name, v := range row {
		col, ok := target.Column(name)
		if !ok {
			return nil, &CoercionError{Column: name, Value: v, Err: errors.Newf("column is missing on %s", target.QualifiedName())}
		}

		cv, err := t.coerce(col, v)
		if err != nil {
			return nil, &CoercionError{Column: col.Name, Type: col.Type, Value: v, Err: err}
		}
		out[col.Name] = cv
	}
	return out, nil
}

func (t *Translator) coerce(col schema.ColumnSpec, v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		var err error
		if v, err = valuer.Value(); err != nil {
			return nil, err
		}
	}
	if v == nil {
		if !col.Nullable {
			return nil, ErrNull
		}
		return nil, nil
	}

	switch col.Type.Family() {
	case schema.FamilyBoolean:
		return toBool(v)
	case schema.FamilyInteger:
		return toInt(v, col.Type.Kind)
	case schema.FamilyNumeric:
		if col.Type.Kind == schema.Decimal {
			return toDecimal(v)
		}
		return toFloat(v)
	case schema.FamilyString:
		return toString(v, col.Type)
	case schema.FamilyDate:
		ts, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	case schema.FamilyTime:
		return toTimeOfDay(v)
	case schema.FamilyDateTime:
		ts, err := toTime(v)
		if err != nil {
			return nil, err
		}
		if t.dialect.TimestampPolicy == config.TimestampPolicyUTC {
			return ts.UTC(), nil
		}
		return ts, nil
	case schema.FamilyBinary:
		return toBytes(v)
	case schema.FamilyJSON:
		return toJSON(v)
	case schema.FamilyUUID:
		return toUUID(v)
	}
	return nil, errors.Newf("unsupported column type %s", col.Type)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case []byte:
		return toBool(string(x))
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	n, err := toInt(v, schema.BigInt)
	if err != nil {
		return nil, err
	}
	switch n {
	case int64(0):
		return false, nil
	case int64(1):
		return true, nil
	}
	return nil, errors.Newf("%v is not a boolean", v)
}

func toInt(v any, kind schema.TypeKind) (any, error) {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int16:
		n = int64(x)
	case int8:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return nil, ErrRange
		}
		n = int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, ErrRange
		}
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint8:
		n = int64(x)
	case bool:
		if x {
			n = 1
		}
	case float64:
		if x != math.Trunc(x) || x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, errors.Newf("%v is not an integer", x)
		}
		n = int64(x)
	case float32:
		return toInt(float64(x), kind)
	case []byte:
		return toInt(string(x), kind)
	case string:
		var err error
		if n, err = strconv.ParseInt(strings.TrimSpace(x), 10, 64); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Newf("unexpected %T", v)
	}

	switch kind {
	case schema.SmallInt:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, ErrRange
		}
	case schema.Integer:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, ErrRange
		}
	}
	return n, nil
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case []byte:
		return toFloat(string(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	n, err := toInt(v, schema.BigInt)
	if err != nil {
		return nil, err
	}
	return float64(n.(int64)), nil
}

// decimalText is the literal grammar every supported engine accepts for NUMERIC.
var decimalText = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// toDecimal keeps decimals as text so no precision is lost on the way.
func toDecimal(v any) (any, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if !decimalText.MatchString(s) {
			return nil, errors.Newf("%q is not a number", x)
		}
		return s, nil
	case []byte:
		return toDecimal(string(x))
	case float64:
		return finiteDecimal(x, 64)
	case float32:
		return finiteDecimal(float64(x), 32)
	}

	n, err := toInt(v, schema.BigInt)
	if err != nil {
		return nil, err
	}
	return strconv.FormatInt(n.(int64), 10), nil
}

func finiteDecimal(f float64, bitSize int) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errors.Newf("%v is not a finite number", f)
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize), nil
}

func toString(v any, t schema.LogicalType) (any, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case time.Time:
		s = x.Format(time.RFC3339Nano)
	case [16]byte:
		s = uuid.UUID(x).String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		s = strconv.FormatBool(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		s = string(b)
	default:
		n, err := toInt(v, schema.BigInt)
		if err != nil {
			return nil, err
		}
		s = strconv.FormatInt(n.(int64), 10)
	}

	if (t.Kind == schema.Varchar || t.Kind == schema.Char) && t.Length > 0 && utf8.RuneCountInString(s) > t.Length {
		return nil, fmt.Errorf("%w: %d characters into %s", ErrTruncate, utf8.RuneCountInString(s), t)
	}
	return s, nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		return toTime(string(x))
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, errors.Newf("%q is not a timestamp", x)
	}
	return time.Time{}, errors.Newf("unexpected %T", v)
}

func toTimeOfDay(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.Format("15:04:05.999999"), nil
	case time.Duration:
		d := x
		h := d / time.Hour
		d -= h * time.Hour
		m := d / time.Minute
		d -= m * time.Minute
		return fmt.Sprintf("%02d:%02d:%09.6f", int64(h), int64(m), d.Seconds()), nil
	case []byte:
		return toTimeOfDay(string(x))
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{"15:04:05.999999999", "15:04"} {
			if _, err := time.Parse(layout, s); err == nil {
				return s, nil
			}
		}
		return nil, errors.Newf("%q is not a time of day", x)
	}
	return nil, errors.Newf("unexpected %T", v)
}

func toBytes(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out, nil
	case string:
		return []byte(x), nil
	case [16]byte:
		return x[:], nil
	}
	return nil, errors.Newf("unexpected %T", v)
}

func toJSON(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if !json.Valid([]byte(x)) {
			return nil, errors.New("invalid json document")
		}
		return x, nil
	case []byte:
		return toJSON(string(x))
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func toUUID(v any) (any, error) {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String(), nil
	case []byte:
		if len(x) == 16 {
			id, err := uuid.FromBytes(x)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		return toUUID(string(x))
	case string:
		id, err := uuid.Parse(strings.TrimSpace(x))
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	}
	return nil, errors.Newf("unexpected %T", v)
}
