package knx

import (
	"bytes"
	"errors"
	"testing"
)

func TestDPT1(t *testing.T) {
	if got := EncodeDPT1(true); !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("EncodeDPT1(true) = %X", got)
	}
	if got := EncodeDPT1(false); !bytes.Equal(got, []byte{0x00}) {
		t.Errorf("EncodeDPT1(false) = %X", got)
	}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"zero", []byte{0x00}, false},
		{"one", []byte{0x01}, true},
		{"only lsb counts", []byte{0x80}, false},
		{"all bits", []byte{0xFF}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDPT1(tt.data)
			if err != nil {
				t.Fatalf("DecodeDPT1() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeDPT1(%X) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}

	if _, err := DecodeDPT1(nil); !errors.Is(err, ErrDecodingFailed) {
		t.Errorf("DecodeDPT1(nil) error = %v, want ErrDecodingFailed", err)
	}
}

func TestDPT5(t *testing.T) {
	tests := []struct {
		percent float64
		raw     byte
		back    float64
	}{
		{0, 0x00, 0},
		{50, 0x80, 50},
		{75, 0xBF, 75},
		{100, 0xFF, 100},
		{-10, 0x00, 0},
		{150, 0xFF, 100},
	}
	for _, tt := range tests {
		got := EncodeDPT5(tt.percent)
		if !bytes.Equal(got, []byte{tt.raw}) {
			t.Errorf("EncodeDPT5(%v) = %X, want %02X", tt.percent, got, tt.raw)
			continue
		}
		back, err := DecodeDPT5(got)
		if err != nil {
			t.Fatalf("DecodeDPT5() error = %v", err)
		}
		if back != tt.back {
			t.Errorf("DecodeDPT5(%X) = %v, want %v", got, back, tt.back)
		}
	}
}

func TestDPT9(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		raw   []byte
	}{
		{"zero", 0, []byte{0x00, 0x00}},
		{"room temperature", 21.5, []byte{0x0C, 0x33}},
		{"two decimals", 22.52, []byte{0x0C, 0x66}},
		{"negative", -1, []byte{0x87, 0x9C}},
		{"small", 0.5, []byte{0x00, 0x32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeDPT9(tt.value)
			if err != nil {
				t.Fatalf("EncodeDPT9(%v) error = %v", tt.value, err)
			}
			if !bytes.Equal(got, tt.raw) {
				t.Errorf("EncodeDPT9(%v) = %X, want %X", tt.value, got, tt.raw)
			}
			back, err := DecodeDPT9(tt.raw)
			if err != nil {
				t.Fatalf("DecodeDPT9(%X) error = %v", tt.raw, err)
			}
			if back != tt.value {
				t.Errorf("DecodeDPT9(%X) = %v, want %v", tt.raw, back, tt.value)
			}
		})
	}
}

func TestDPT9Errors(t *testing.T) {
	if _, err := EncodeDPT9(1e7); !errors.Is(err, ErrEncodingFailed) {
		t.Errorf("EncodeDPT9(1e7) error = %v, want ErrEncodingFailed", err)
	}
	if _, err := DecodeDPT9([]byte{0x7F, 0xFF}); !errors.Is(err, ErrDecodingFailed) {
		t.Errorf("DecodeDPT9(7FFF) error = %v, want ErrDecodingFailed", err)
	}
	if _, err := DecodeDPT9([]byte{0x0C}); !errors.Is(err, ErrDecodingFailed) {
		t.Errorf("DecodeDPT9(short) error = %v, want ErrDecodingFailed", err)
	}
}
