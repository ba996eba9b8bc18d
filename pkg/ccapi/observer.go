package ccapi

// CallEventType причина уведомления о вызове.
type CallEventType int

const (
	CallEventStateChanged CallEventType = iota
	CallEventCapabilityChanged
	CallEventMediaChanged
	CallEventCallerIDChanged
)

func (e CallEventType) String() string {
	switch e {
	case CallEventStateChanged:
		return "state"
	case CallEventCapabilityChanged:
		return "capability"
	case CallEventMediaChanged:
		return "media"
	case CallEventCallerIDChanged:
		return "callerid"
	default:
		return "unknown"
	}
}

// DeviceEventType событие устройства.
type DeviceEventType int

const (
	DeviceEventStateChanged DeviceEventType = iota
	DeviceEventRegistered
	DeviceEventUnregistered
)

// FeatureEventType событие функции устройства (DND, переадресация и т.п.).
type FeatureEventType int

const (
	FeatureEventStateChanged FeatureEventType = iota
)

// LineEventType событие линии.
type LineEventType int

const (
	LineEventStateChanged LineEventType = iota
)

// PhoneEventType событие обнаружения телефона.
type PhoneEventType int

const (
	PhoneEventAvailable PhoneEventType = iota
	PhoneEventUnavailable
)

// AuthStatus результат аутентификации на регистраторе.
type AuthStatus int

const (
	AuthStatusOK AuthStatus = iota
	AuthStatusChallenged
	AuthStatusFailed
)

func (a AuthStatus) String() string {
	switch a {
	case AuthStatusOK:
		return "ok"
	case AuthStatusChallenged:
		return "challenged"
	case AuthStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EngineObserver получает уведомления движка. Методы вызываются
// на горутинах движка и не должны блокироваться надолго.
type EngineObserver interface {
	OnDeviceEvent(ev DeviceEventType, dev Device, info *DeviceInfo)
	OnFeatureEvent(ev FeatureEventType, dev Device, feature string)
	OnLineEvent(ev LineEventType, dev Device, line string)
	OnCallEvent(ev CallEventType, call Call, info *CallInfo)
	OnAvailablePhoneEvent(ev PhoneEventType, phone string)
	OnAuthenticationStatusChange(status AuthStatus)
	OnConnectionStatusChange(status ConnectionStatus)
}

// NopObserver пустая реализация EngineObserver для встраивания.
type NopObserver struct{}

func (NopObserver) OnDeviceEvent(DeviceEventType, Device, *DeviceInfo) {}
func (NopObserver) OnFeatureEvent(FeatureEventType, Device, string) {}
func (NopObserver) OnLineEvent(LineEventType, Device, string) {}
func (NopObserver) OnCallEvent(CallEventType, Call, *CallInfo) {}
func (NopObserver) OnAvailablePhoneEvent(PhoneEventType, string) {}
func (NopObserver) OnAuthenticationStatusChange(AuthStatus) {}
func (NopObserver) OnConnectionStatusChange(ConnectionStatus) {}
