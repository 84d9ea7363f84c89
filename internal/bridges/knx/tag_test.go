package knx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		input   string
		want    Tag
		wantErr bool
	}{
		{"DPT1.001", TagSwitch, false},
		{"1.001", TagSwitch, false},
		{"dpt5.001", TagPercent, false},
		{"DPT-9.001", TagTemperature, false},
		{"DPT232.600", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTag(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownTag) {
				t.Errorf("ParseTag(%q) error = %v, want ErrUnknownTag", tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseTag(%q) = %q, %v, want %q", tt.input, got, err, tt.want)
		}
	}
}

func TestTagEncode(t *testing.T) {
	tests := []struct {
		name    string
		tag     Tag
		payload string
		want    []byte
		wantErr bool
	}{
		{"switch true", TagSwitch, `true`, []byte{0x01}, false},
		{"switch false", TagSwitch, `false`, []byte{0x00}, false},
		{"switch numeric one", TagSwitch, `1`, []byte{0x01}, false},
		{"switch numeric two", TagSwitch, `2`, nil, true},
		{"switch string", TagSwitch, `"on"`, nil, true},
		{"percent", TagPercent, `100`, []byte{0xFF}, false},
		{"percent bool", TagPercent, `true`, nil, true},
		{"temperature", TagTemperature, `21.5`, []byte{0x0C, 0x33}, false},
		{"temperature object", TagTemperature, `{"v":1}`, nil, true},
		{"temperature null", TagTemperature, `null`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var value any
			if err := json.Unmarshal([]byte(tt.payload), &value); err != nil {
				t.Fatalf("unmarshal payload: %v", err)
			}
			got, err := tt.tag.Encode(value)
			if tt.wantErr {
				if !errors.Is(err, ErrEncodingFailed) {
					t.Fatalf("Encode(%s) error = %v, want ErrEncodingFailed", tt.payload, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode(%s) error = %v", tt.payload, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode(%s) = %X, want %X", tt.payload, got, tt.want)
			}
		})
	}
}

func TestTagDecode(t *testing.T) {
	v, err := TagSwitch.Decode([]byte{0x01})
	if err != nil || v != true {
		t.Errorf("TagSwitch.Decode(01) = %v, %v", v, err)
	}
	v, err = TagPercent.Decode([]byte{0xFF})
	if err != nil || v != 100.0 {
		t.Errorf("TagPercent.Decode(FF) = %v, %v", v, err)
	}
	v, err = TagTemperature.Decode([]byte{0x0C, 0x33})
	if err != nil || v != 21.5 {
		t.Errorf("TagTemperature.Decode(0C33) = %v, %v", v, err)
	}
	if _, err := Tag("DPT2.001").Decode([]byte{0x00}); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("unknown tag error = %v", err)
	}
}
