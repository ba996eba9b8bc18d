package ccapi

import (
	"context"
	"strings"

	"github.com/arzzra/callcontrol/pkg/dtmf"
)

// CallHandle непрозрачный идентификатор вызова, стабильный на всё время его жизни.
type CallHandle uint32

// CallInfo снимок состояния вызова на момент запроса.
// Снимок никогда не изменяется после выдачи.
type CallInfo struct {
	Handle             CallHandle
	State              CallState
	Capabilities       CapabilitySet
	CallingPartyName   string
	CallingPartyNumber string
	CalledPartyNumber  string
	VideoDirection     Direction
	// RemoteSDP тело SDP удаленной стороны, если оно уже известно
	RemoteSDP string
}

// HasCapability безопасен для nil снимка.
func (i *CallInfo) HasCapability(c Capability) bool {
	return i != nil && i.Capabilities.Has(c)
}

// Call вызов, принадлежащий устройству.
// Все операции неблокирующие относительно сети: движок отправляет запрос
// и сообщает о результате через EngineObserver.OnCallEvent.
type Call interface {
	Handle() CallHandle
	Info() *CallInfo

	Originate(ctx context.Context, dest string, video Direction) error
	OriginateP2P(ctx context.Context, dest, ip string, video Direction) error
	Answer(ctx context.Context, video Direction) error
	End(ctx context.Context) error
	Hold(ctx context.Context) error
	Resume(ctx context.Context, video Direction) error
	SendDigit(ctx context.Context, d dtmf.Digit) error
}

// DeviceInfo снимок устройства: регистрация и список вызовов в порядке создания.
type DeviceInfo struct {
	Name       string
	Registered bool
	Calls      []Call
}

// Device локальная зарегистрированная конечная точка.
type Device interface {
	Name() string
	Info() *DeviceInfo
	CreateCall() (Call, error)
}

// PropertyKey ключ конфигурации движка.
type PropertyKey int

const (
	PropertyLocalVoipPort PropertyKey = iota
	PropertyRemoteVoipPort
	PropertyTransport
	PropertyVersion
)

func (k PropertyKey) String() string {
	switch k {
	case PropertyLocalVoipPort:
		return "localvoipport"
	case PropertyRemoteVoipPort:
		return "remotevoipport"
	case PropertyTransport:
		return "transport"
	case PropertyVersion:
		return "version"
	default:
		return "unknown"
	}
}

// ParsePropertyKey ищет ключ без учета регистра.
func ParsePropertyKey(s string) (PropertyKey, bool) {
	switch strings.ToLower(s) {
	case "localvoipport":
		return PropertyLocalVoipPort, true
	case "remotevoipport":
		return PropertyRemoteVoipPort, true
	case "transport":
		return PropertyTransport, true
	case "version":
		return PropertyVersion, true
	default:
		return 0, false
	}
}

// Credentials параметры регистрации устройства.
type Credentials struct {
	Device   string
	User     string
	Password string
	Domain   string
}

// Engine внешний call-control движок (SIP стек).
type Engine interface {
	// SetObserver подключает наблюдателя. nil отключает его.
	SetObserver(o EngineObserver)
	SetLocalAddress(ip string)
	SetProperty(key PropertyKey, value string) error
	Property(key PropertyKey) string

	// Register запускает регистрацию. Результат приходит через OnConnectionStatusChange.
	Register(ctx context.Context, creds Credentials) error
	// StartP2P поднимает движок без регистратора.
	StartP2P(ctx context.Context, user string) error
	Disconnect(ctx context.Context) error

	ActiveDevice() Device
	ConnectionStatus() ConnectionStatus
	Close() error
}

// EngineFactory лениво создает движок.
type EngineFactory func() (Engine, error)
