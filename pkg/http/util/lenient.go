package util

import (
	"encoding/json"
	"math"
)

// Count is a non-negative integer decoded leniently.
// Anything which is not a finite JSON number is treated as 0,
// fractional values are rounded up.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	*c = 0
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	*c = Count(math.Min(math.Ceil(f), math.MaxInt32))
	return nil
}

// Truthy is a boolean decoded from any JSON value.
// false, 0, "", null are false, everything else is true.
type Truthy bool

func (b *Truthy) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*b = false
	case bool:
		*b = Truthy(x)
	case float64:
		*b = Truthy(x != 0 && !math.IsNaN(x))
	case string:
		*b = Truthy(x != "")
	default:
		// objects and arrays
		*b = true
	}
	return nil
}
