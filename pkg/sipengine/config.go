package sipengine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Version версия стека, попадает в свойство version и заголовок User-Agent.
const Version = "1.0.0"

// DTMFMode способ передачи цифр DTMF в установленном вызове.
type DTMFMode string

const (
	// DTMFInfo SIP INFO с телом application/dtmf-relay
	DTMFInfo DTMFMode = "info"
	// DTMFRFC4733 события telephone-event в RTP
	DTMFRFC4733 DTMFMode = "rfc4733"
)

// Config параметры SIP движка.
type Config struct {
	UserAgent string
	// Transport udp или tcp
	Transport  string
	ListenHost string
	LocalPort  int
	// RemotePort порт регистратора и удаленной стороны в P2P режиме
	RemotePort int
	// Registrar адрес host:port регистратора. Пустое значение включает поиск SRV по домену
	Registrar string
	// DNSServer адрес DNS сервера для SRV. Пустое значение берет /etc/resolv.conf
	DNSServer string

	Expires         time.Duration
	RegisterTimeout time.Duration
	RetryInterval   time.Duration
	// RefreshRatio доля срока регистрации, после которой она обновляется
	RefreshRatio float64

	// MediaPort локальный RTP порт. 0 выбирает свободный порт на каждый вызов
	MediaPort       int
	Codecs          []uint8
	DTMFMode        DTMFMode
	DTMFPayloadType uint8

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		UserAgent:       "callcontrol",
		Transport:       "udp",
		ListenHost:      "0.0.0.0",
		LocalPort:       5060,
		RemotePort:      5060,
		Expires:         time.Hour,
		RegisterTimeout: 10 * time.Second,
		RetryInterval:   30 * time.Second,
		RefreshRatio:    0.8,
		Codecs:          []uint8{0, 8},
		DTMFMode:        DTMFInfo,
		DTMFPayloadType: 101,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if err := validateTransport(c.Transport); err != nil {
		return err
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("некорректный локальный порт: %d", c.LocalPort)
	}
	if c.RemotePort <= 0 || c.RemotePort > 65535 {
		return fmt.Errorf("некорректный удаленный порт: %d", c.RemotePort)
	}
	if c.MediaPort < 0 || c.MediaPort > 65535 {
		return fmt.Errorf("некорректный медиа порт: %d", c.MediaPort)
	}
	if c.Expires < time.Second {
		return fmt.Errorf("срок регистрации слишком мал: %v", c.Expires)
	}
	if c.RegisterTimeout <= 0 || c.RetryInterval <= 0 {
		return fmt.Errorf("таймауты регистрации должны быть положительными")
	}
	if c.RefreshRatio <= 0 || c.RefreshRatio >= 1 {
		return fmt.Errorf("refresh ratio должен быть в (0, 1), получено %v", c.RefreshRatio)
	}
	if len(c.Codecs) == 0 {
		return fmt.Errorf("не задан ни один кодек")
	}
	switch c.DTMFMode {
	case DTMFInfo, DTMFRFC4733:
	default:
		return fmt.Errorf("неизвестный режим DTMF: %q", c.DTMFMode)
	}
	if c.DTMFPayloadType < 96 || c.DTMFPayloadType > 127 {
		return fmt.Errorf("payload type DTMF должен быть динамическим (96-127), получено %d", c.DTMFPayloadType)
	}
	return nil
}

func validateTransport(t string) error {
	switch strings.ToLower(t) {
	case "udp", "tcp":
		return nil
	default:
		return fmt.Errorf("неподдерживаемый транспорт: %q", t)
	}
}
