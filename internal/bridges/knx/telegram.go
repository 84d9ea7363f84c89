package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd group socket message types.
const (
	// EIBOpenGroupCon opens a group socket able to send and receive on every
	// group address. Payload: reserved(1) write_only(1) reserved(1).
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries one group telegram in either direction.
	EIBGroupPacket uint16 = 0x0027
)

// APCI codes for group communication.
const (
	APCIRead     byte = 0x00
	APCIResponse byte = 0x40
	APCIWrite    byte = 0x80
)

const (
	knxdHeaderSize  = 4 // size(2) + type(2)
	groupPacketSize = 6 // src(2) + dest(2) + tpci(1) + apci(1)
	shortDataMask   = 0x3F
	apciMask        = 0xC0
)

// Telegram is one group telegram seen on, or sent to, the bus.
type Telegram struct {
	// Source is the sender's individual address ("1.1.5"); empty when outgoing.
	Source      string
	Destination GroupAddress
	APCI        byte
	Data        []byte
	Timestamp   time.Time
}

// CarriesValue reports whether the telegram transports a value (write or
// read response) rather than a read request.
func (t Telegram) CarriesValue() bool {
	return t.APCI == APCIWrite || t.APCI == APCIResponse
}

// Kind names the telegram's APCI for logs.
func (t Telegram) Kind() string {
	switch t.APCI {
	case APCIRead:
		return "read"
	case APCIResponse:
		return "response"
	case APCIWrite:
		return "write"
	default:
		return "unknown"
	}
}

// ParseTelegram decodes the payload of a received EIB_GROUP_PACKET.
//
// The receive layout carries a source prefix the send layout lacks:
//
//	src(2) dest(2) tpci(1) apci|short-data(1) [long-data...]
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < groupPacketSize {
		return Telegram{}, fmt.Errorf("%w: %d bytes, need %d", ErrInvalidTelegram, len(data), groupPacketSize)
	}

	t := Telegram{
		Source:      formatIndividualAddress(binary.BigEndian.Uint16(data[0:2])),
		Destination: GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4])),
		APCI:        data[5] & apciMask,
		Timestamp:   time.Now(),
	}

	switch {
	case len(data) > groupPacketSize:
		t.Data = append([]byte(nil), data[groupPacketSize:]...)
	case t.CarriesValue():
		t.Data = []byte{data[5] & shortDataMask}
	}
	return t, nil
}

func formatIndividualAddress(ia uint16) string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}

// Encode produces the send layout of an EIB_GROUP_PACKET payload:
//
//	dest(2) tpci(1) apci|short-data(1) [long-data...]
//
// A single byte of at most six bits travels inside the APCI byte.
func (t Telegram) Encode() []byte {
	short := len(t.Data) == 1 && t.Data[0] <= shortDataMask
	size := 4
	if !short {
		size += len(t.Data)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[3] = t.APCI
	if short {
		buf[3] |= t.Data[0]
	} else {
		copy(buf[4:], t.Data)
	}
	return buf
}

// NewWriteTelegram builds a group write to dest.
func NewWriteTelegram(dest GroupAddress, data []byte) Telegram {
	return Telegram{Destination: dest, APCI: APCIWrite, Data: data, Timestamp: time.Now()}
}

// NewReadTelegram builds a group read request to dest.
func NewReadTelegram(dest GroupAddress) Telegram {
	return Telegram{Destination: dest, APCI: APCIRead, Timestamp: time.Now()}
}

// EncodeKNXDMessage frames a payload for the knxd socket. The size field
// counts type and payload but not itself.
func EncodeKNXDMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // small frames
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseKNXDMessage splits a complete knxd frame into type and payload.
func ParseKNXDMessage(data []byte) (uint16, []byte, error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrInvalidTelegram, len(data))
	}
	if declared := int(binary.BigEndian.Uint16(data[0:2])); declared != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size field %d, frame carries %d", ErrInvalidTelegram, declared, len(data)-2)
	}

	var payload []byte
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return binary.BigEndian.Uint16(data[2:4]), payload, nil
}
