package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/errors"
)

type WatermarkKind string

const (
	WatermarkNone WatermarkKind = ""
	WatermarkInt  WatermarkKind = "int"
	WatermarkTime WatermarkKind = "time"
	WatermarkText WatermarkKind = "text"
)

// Watermark is a typed watermark value. The zero value is the engine minimum:
// reads with a zero lower bound start at the beginning of the table.
type Watermark struct {
	Kind WatermarkKind
	Int  int64
	Time time.Time
	Text string
}

func IntWatermark(v int64) Watermark      { return Watermark{Kind: WatermarkInt, Int: v} }
func TimeWatermark(v time.Time) Watermark { return Watermark{Kind: WatermarkTime, Time: v.UTC()} }
func TextWatermark(v string) Watermark    { return Watermark{Kind: WatermarkText, Text: v} }

func (w Watermark) IsZero() bool {
	return w.Kind == WatermarkNone
}

// Value returns the watermark as a query argument.
func (w Watermark) Value() any {
	switch w.Kind {
	case WatermarkInt:
		return w.Int
	case WatermarkTime:
		return w.Time
	case WatermarkText:
		return w.Text
	}
	return nil
}

func (w Watermark) String() string {
	switch w.Kind {
	case WatermarkInt:
		return strconv.FormatInt(w.Int, 10)
	case WatermarkTime:
		return w.Time.Format(time.RFC3339Nano)
	case WatermarkText:
		return w.Text
	}
	return "<min>"
}

// Float is the numeric projection used for metrics. Text watermarks have none.
func (w Watermark) Float() float64 {
	switch w.Kind {
	case WatermarkInt:
		return float64(w.Int)
	case WatermarkTime:
		return float64(w.Time.UnixMilli()) / 1000
	}
	return 0
}

// Compare returns -1, 0 or 1. The zero watermark sorts before everything.
// Comparing two non-zero watermarks of different kinds is an error.
func (w Watermark) Compare(o Watermark) (int, error) {
	switch {
	case w.IsZero() && o.IsZero():
		return 0, nil
	case w.IsZero():
		return -1, nil
	case o.IsZero():
		return 1, nil
	case w.Kind != o.Kind:
		return 0, errors.Newf("cannot compare %s watermark with %s watermark", w.Kind, o.Kind)
	}

	switch w.Kind {
	case WatermarkInt:
		switch {
		case w.Int < o.Int:
			return -1, nil
		case w.Int > o.Int:
			return 1, nil
		}
		return 0, nil
	case WatermarkTime:
		return w.Time.Compare(o.Time), nil
	default:
		return strings.Compare(w.Text, o.Text), nil
	}
}

// WatermarkFrom converts a value scanned from a driver into a watermark.
func WatermarkFrom(v any) (Watermark, error) {
	switch t := v.(type) {
	case nil:
		return Watermark{}, errors.New("watermark value is NULL")
	case int64:
		return IntWatermark(t), nil
	case int32:
		return IntWatermark(int64(t)), nil
	case int16:
		return IntWatermark(int64(t)), nil
	case int8:
		return IntWatermark(int64(t)), nil
	case int:
		return IntWatermark(int64(t)), nil
	case uint8:
		return IntWatermark(int64(t)), nil
	case uint16:
		return IntWatermark(int64(t)), nil
	case uint32:
		return IntWatermark(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Watermark{}, errors.Newf("watermark %d overflows int64", t)
		}
		return IntWatermark(int64(t)), nil
	case time.Time:
		return TimeWatermark(t), nil
	case string:
		return TextWatermark(t), nil
	case []byte:
		return TextWatermark(string(t)), nil
	case [16]byte:
		return TextWatermark(fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])), nil
	}
	return Watermark{}, errors.Newf("unsupported watermark value type %T", v)
}

// WatermarkFor converts v using the column type, so that numeric text coming back
// from drivers that scan into []byte still yields an integer watermark.
func WatermarkFor(t LogicalType, v any) (Watermark, error) {
	if t.Family() == FamilyInteger {
		switch raw := v.(type) {
		case []byte:
			n, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return Watermark{}, errors.Wrap(err, "parse integer watermark")
			}
			return IntWatermark(n), nil
		case string:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return Watermark{}, errors.Wrap(err, "parse integer watermark")
			}
			return IntWatermark(n), nil
		}
	}
	return WatermarkFrom(v)
}

type watermarkJSON struct {
	Kind  WatermarkKind   `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (w Watermark) MarshalJSON() ([]byte, error) {
	out := watermarkJSON{Kind: w.Kind}

	var err error
	switch w.Kind {
	case WatermarkInt:
		out.Value, err = json.Marshal(w.Int)
	case WatermarkTime:
		out.Value, err = json.Marshal(w.Time.UTC().Format(time.RFC3339Nano))
	case WatermarkText:
		out.Value, err = json.Marshal(w.Text)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(out)
}

func (w *Watermark) UnmarshalJSON(data []byte) error {
	var in watermarkJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*w = Watermark{Kind: in.Kind}
	switch in.Kind {
	case WatermarkNone:
		return nil
	case WatermarkInt:
		return json.Unmarshal(in.Value, &w.Int)
	case WatermarkTime:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		w.Time = t.UTC()
		return nil
	case WatermarkText:
		return json.Unmarshal(in.Value, &w.Text)
	}
	return errors.Newf("unknown watermark kind %q", in.Kind)
}
