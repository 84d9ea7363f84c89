package knx

import (
	"fmt"
	"math"
)

const (
	dpt5MaxRaw       = 255
	dpt9MaxExponent  = 15
	dpt9MantissaMask = 0x07FF
	dpt9Invalid      = 0x7FFF
	dpt9Min          = -671088.64
	dpt9Max          = 670760.96
)

// EncodeDPT1 encodes a switch value (DPT 1.001).
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a switch value. Only the least significant bit counts.
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0]&0x01 != 0, nil
}

// EncodeDPT5 scales a percentage (DPT 5.001) to one byte. Values outside
// 0-100 are clamped.
func EncodeDPT5(percent float64) []byte {
	percent = math.Max(0, math.Min(100, percent)) //nolint:mnd // percent range
	return []byte{uint8(math.Round(percent * dpt5MaxRaw / 100))}
}

// DecodeDPT5 scales one byte back to a percentage, rounded to a whole percent
// so that a value written and read back compares equal.
func DecodeDPT5(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return math.Round(float64(data[0]) * 100 / dpt5MaxRaw), nil
}

// EncodeDPT9 encodes a value as a KNX 2-byte float (DPT 9.xxx).
//
//	SEEEEMMM MMMMMMMM   value = 0.01 * M * 2^E
func EncodeDPT9(value float64) ([]byte, error) {
	if math.IsNaN(value) || value < dpt9Min || value > dpt9Max {
		return nil, fmt.Errorf("%w: DPT9 value %.2f out of range", ErrEncodingFailed, value)
	}

	mantissa := math.Round(value * 100)
	exp := 0
	for mantissa < -2048 || mantissa > 2047 {
		mantissa = math.Round(mantissa / 2)
		exp++
	}
	if exp > dpt9MaxExponent {
		return nil, fmt.Errorf("%w: DPT9 exponent overflow for %.2f", ErrEncodingFailed, value)
	}

	var sign uint16
	m := int(mantissa)
	if m < 0 {
		sign = 0x8000
		m += 2048
	}

	raw := sign | uint16(exp)<<11 | uint16(m)&dpt9MantissaMask //nolint:gosec // bounded above
	return []byte{byte(raw >> 8), byte(raw)}, nil
}

// DecodeDPT9 decodes a KNX 2-byte float. The raw value 0x7FFF marks an
// invalid reading and is reported as an error.
func DecodeDPT9(data []byte) (float64, error) {
	if len(data) < 2 { //nolint:mnd // two bytes
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == dpt9Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid value marker", ErrDecodingFailed)
	}

	exp := (raw >> 11) & 0x0F
	mantissa := int(raw & dpt9MantissaMask)
	if raw&0x8000 != 0 {
		mantissa -= 2048
	}

	value := float64(mantissa) * 0.01 * math.Pow(2, float64(exp))
	return math.Round(value*100) / 100, nil
}
