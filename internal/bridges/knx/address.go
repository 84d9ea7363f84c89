package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a 3-level KNX group address (main/middle/sub).
//
// Ranges: main 0-31 (5 bits), middle 0-7 (3 bits), sub 0-255 (8 bits).
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

const (
	maxMain   = 31
	maxMiddle = 7
	maxSub    = 255

	gaMainMask   = 0x1F
	gaMiddleMask = 0x07
	gaSubMask    = 0xFF
)

// ParseGroupAddress parses a "main/middle/sub" string such as "1/2/3".
// Surrounding whitespace is ignored, anything else that does not fit the
// 3-level ranges yields ErrInvalidGroupAddress.
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 { //nolint:mnd // three levels
		return GroupAddress{}, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}

	limits := [3]uint64{maxMain, maxMiddle, maxSub}
	var levels [3]uint8
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil || v > limits[i] {
			return GroupAddress{}, fmt.Errorf("%w: level %d must be 0-%d, got %q", ErrInvalidGroupAddress, i+1, limits[i], part)
		}
		levels[i] = uint8(v)
	}

	return GroupAddress{Main: levels[0], Middle: levels[1], Sub: levels[2]}, nil
}

// String formats the address as "main/middle/sub".
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address into its 16-bit wire form (MMMMMSSS SSSSSSSS).
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a 16-bit wire address.
func GroupAddressFromUint16(value uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),  //nolint:gosec // masked to 5 bits
		Middle: uint8((value >> 8) & gaMiddleMask), //nolint:gosec // masked to 3 bits
		Sub:    uint8(value & gaSubMask),           //nolint:gosec // masked to 8 bits
	}
}
