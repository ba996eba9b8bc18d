package rtpdtmf

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/callcontrol/pkg/dtmf"
)

const (
	// DefaultPayloadType динамический тип telephone-event
	DefaultPayloadType = 101
	// DefaultClockRate частота telephone-event/8000
	DefaultClockRate = 8000
	// DefaultDuration длительность одного нажатия
	DefaultDuration = 160 * time.Millisecond
	// DefaultVolume уровень сигнала в -dBm0
	DefaultVolume = 10
	// repeats число повторов стартовых и конечных пакетов
	repeats = 3
)

// SenderConfig параметры отправителя.
type SenderConfig struct {
	PayloadType uint8
	// SSRC источника. 0 означает случайный
	SSRC      uint32
	ClockRate uint32
	Duration  time.Duration
	Volume    uint8
	// Interval пауза между пакетами одного события. 0 отправляет без пауз
	Interval time.Duration
	Logger   *slog.Logger
}

// DefaultSenderConfig возвращает конфигурацию по умолчанию
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		PayloadType: DefaultPayloadType,
		ClockRate:   DefaultClockRate,
		Duration:    DefaultDuration,
		Volume:      DefaultVolume,
		Interval:    20 * time.Millisecond,
	}
}

// Validate проверяет конфигурацию
func (c SenderConfig) Validate() error {
	if c.PayloadType < 96 || c.PayloadType > 127 {
		return fmt.Errorf("payload type должен быть динамическим (96-127), получено %d", c.PayloadType)
	}
	if c.ClockRate == 0 {
		return fmt.Errorf("clock rate должен быть положительным")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("длительность DTMF должна быть положительной")
	}
	if samples(c.Duration, c.ClockRate) > 0xFFFF {
		return fmt.Errorf("длительность DTMF не помещается в 16 бит: %v", c.Duration)
	}
	if c.Volume > 63 {
		return fmt.Errorf("громкость должна быть 0-63, получено %d", c.Volume)
	}
	return nil
}

func samples(d time.Duration, rate uint32) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}

// Sender отправляет цифры DTMF событиями telephone-event.
// Одно событие: три стартовых пакета (маркер на первом) и три конечных
// с флагом E, все с общим timestamp.
type Sender struct {
	conn net.PacketConn
	cfg  SenderConfig
	log  *slog.Logger
	ssrc uint32

	mu        sync.Mutex
	remote    net.Addr
	seq       uint16
	timestamp uint32
	events    int
}

// NewSender создает отправителя поверх conn. Sender не владеет conn.
func NewSender(conn net.PacketConn, remote net.Addr, cfg SenderConfig) (*Sender, error) {
	if conn == nil {
		return nil, fmt.Errorf("rtpdtmf: nil conn")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ssrc := cfg.SSRC
	for ssrc == 0 {
		ssrc = rand.Uint32()
	}
	return &Sender{
		conn:      conn,
		cfg:       cfg,
		log:       log,
		ssrc:      ssrc,
		remote:    remote,
		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
	}, nil
}

// SSRC идентификатор источника пакетов.
func (s *Sender) SSRC() uint32 { return s.ssrc }

// SetRemote меняет адрес получателя, например после re-INVITE.
func (s *Sender) SetRemote(addr net.Addr) {
	s.mu.Lock()
	s.remote = addr
	s.mu.Unlock()
}

// Packets строит пакеты события для цифры d и продвигает счетчики.
func (s *Sender) Packets(d dtmf.Digit) ([]*rtp.Packet, error) {
	code, ok := d.Event()
	if !ok {
		return nil, fmt.Errorf("rtpdtmf: цифра %s не имеет кода telephone-event", d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetsLocked(code), nil
}

func (s *Sender) packetsLocked(code uint8) []*rtp.Packet {
	total := uint16(samples(s.cfg.Duration, s.cfg.ClockRate))
	packets := make([]*rtp.Packet, 0, 2*repeats)

	for i := 0; i < 2*repeats; i++ {
		end := i >= repeats
		duration := total
		if !end {
			duration = uint16(uint32(total) * uint32(i+1) / repeats)
		}
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    s.cfg.PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.timestamp,
				SSRC:           s.ssrc,
			},
			Payload: Payload{Event: code, End: end, Volume: s.cfg.Volume, Duration: duration}.Marshal(),
		})
		s.seq++
	}
	s.timestamp += uint32(total)
	return packets
}

// Send отправляет событие для цифры d. Пакеты одного события не
// перемешиваются с пакетами другого.
func (s *Sender) Send(ctx context.Context, d dtmf.Digit) error {
	code, ok := d.Event()
	if !ok {
		return fmt.Errorf("rtpdtmf: цифра %s не имеет кода telephone-event", d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return fmt.Errorf("rtpdtmf: адрес получателя не задан")
	}

	for i, pkt := range s.packetsLocked(code) {
		if i > 0 && s.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.Interval):
			}
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtpdtmf: marshal: %w", err)
		}
		if _, err := s.conn.WriteTo(raw, s.remote); err != nil {
			return fmt.Errorf("rtpdtmf: write to %s: %w", s.remote, err)
		}
	}
	s.events++

	s.log.Debug("Sender.Send",
		slog.String("digit", d.String()),
		slog.String("remote", s.remote.String()),
		slog.Int("events", s.events))
	return nil
}
