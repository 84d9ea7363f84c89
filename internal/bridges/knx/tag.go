package knx

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tag is the value encoding declared by a binding.
type Tag string

// Supported encodings.
const (
	TagSwitch      Tag = "DPT1.001" // boolean
	TagPercent     Tag = "DPT5.001" // 0-100 %
	TagTemperature Tag = "DPT9.001" // 2-byte float, °C
)

// ParseTag normalises "DPT9.001", "9.001" and "DPT-9.001" spellings.
func ParseTag(s string) (Tag, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimPrefix(strings.TrimPrefix(norm, "DPT"), "-")
	switch tag := Tag("DPT" + norm); tag {
	case TagSwitch, TagPercent, TagTemperature:
		return tag, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTag, s)
	}
}

// Encode converts a decoded JSON value to the tag's wire bytes. A value
// whose shape does not fit the tag yields ErrEncodingFailed.
func (t Tag) Encode(value any) ([]byte, error) {
	switch t {
	case TagSwitch:
		b, err := asBool(value)
		if err != nil {
			return nil, err
		}
		return EncodeDPT1(b), nil
	case TagPercent:
		f, err := asNumber(value)
		if err != nil {
			return nil, err
		}
		return EncodeDPT5(f), nil
	case TagTemperature:
		f, err := asNumber(value)
		if err != nil {
			return nil, err
		}
		return EncodeDPT9(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, string(t))
	}
}

// Decode converts wire bytes to a bool (DPT1) or float64 (DPT5, DPT9).
func (t Tag) Decode(data []byte) (any, error) {
	switch t {
	case TagSwitch:
		return DecodeDPT1(data)
	case TagPercent:
		return DecodeDPT5(data)
	case TagTemperature:
		return DecodeDPT9(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, string(t))
	}
}

func asBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64, int, json.Number:
		f, err := asNumber(v)
		if err != nil {
			return false, err
		}
		if f == 0 || f == 1 {
			return f == 1, nil
		}
	}
	return false, fmt.Errorf("%w: %v (%T) is not a boolean", ErrEncodingFailed, value, value)
}

func asNumber(value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case json.Number:
		parsed, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrEncodingFailed, string(v))
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %v (%T) is not a number", ErrEncodingFailed, value, value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v is not finite", ErrEncodingFailed, f)
	}
	return f, nil
}
