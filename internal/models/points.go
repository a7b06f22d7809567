package models

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Points is a whole number of championship points.
// The API sends points as strings ("25", "1.00") or numbers; both are
// parsed as floats and truncated.
type Points int

// ParsePoints coerces a raw API value to Points
func ParsePoints(v interface{}) (Points, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case Points:
		return checkPoints(float64(val))
	case int:
		return checkPoints(float64(val))
	case int64:
		return checkPoints(float64(val))
	case float64:
		return checkPoints(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid points value %q: %w", val, err)
		}
		return checkPoints(f)
	default:
		return 0, fmt.Errorf("unsupported points type %T", v)
	}
}

func checkPoints(f float64) (Points, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid points value %v", f)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative points value %v", f)
	}
	return Points(math.Trunc(f)), nil
}

// UnmarshalJSON accepts quoted and bare numbers
func (p *Points) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = 0
		return nil
	}

	var raw interface{}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("invalid points string %s: %w", data, err)
		}
		raw = s
	} else {
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid points number %s: %w", data, err)
		}
		raw = f
	}

	parsed, err := ParsePoints(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Int returns the points as an int
func (p Points) Int() int {
	return int(p)
}
