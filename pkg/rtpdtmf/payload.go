package rtpdtmf

import (
	"encoding/binary"
	"fmt"
)

// PayloadSize размер тела telephone-event
const PayloadSize = 4

// Payload тело пакета telephone-event (RFC 4733, раздел 2.3).
type Payload struct {
	Event    uint8
	End      bool
	Volume   uint8 // 0..63, в -dBm0
	Duration uint16
}

// Marshal сериализует тело в 4 байта.
func (p Payload) Marshal() []byte {
	b := make([]byte, PayloadSize)
	b[0] = p.Event
	b[1] = p.Volume & 0x3F
	if p.End {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], p.Duration)
	return b
}

// ParsePayload разбирает тело telephone-event. Бит R игнорируется.
func ParsePayload(b []byte) (Payload, error) {
	if len(b) < PayloadSize {
		return Payload{}, fmt.Errorf("некорректный размер telephone-event: %d", len(b))
	}
	return Payload{
		Event:    b[0],
		End:      b[1]&0x80 != 0,
		Volume:   b[1] & 0x3F,
		Duration: binary.BigEndian.Uint16(b[2:]),
	}, nil
}
