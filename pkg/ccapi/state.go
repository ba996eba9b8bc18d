package ccapi

import "strings"

// CallState состояние вызова в терминах call-control движка.
type CallState int

const (
	StateOffHook CallState = iota
	StateOnHook
	StateRingOut
	StateRingIn
	StateProceed
	StateConnected
	StateHold
	StateRemHold
	StateResume
	StateBusy
	StateReorder
	StateConference
	StateDialing
	StateRemInUse
	StateHoldRevert
	StateWhisper
	StatePreservation
	StateWaitingForDigits
)

var callStateNames = [...]string{
	StateOffHook:          "OFFHOOK",
	StateOnHook:           "ONHOOK",
	StateRingOut:          "RINGOUT",
	StateRingIn:           "RINGIN",
	StateProceed:          "PROCEED",
	StateConnected:        "CONNECTED",
	StateHold:             "HOLD",
	StateRemHold:          "REMHOLD",
	StateResume:           "RESUME",
	StateBusy:             "BUSY",
	StateReorder:          "REORDER",
	StateConference:       "CONFERENCE",
	StateDialing:          "DIALING",
	StateRemInUse:         "REMINUSE",
	StateHoldRevert:       "HOLDREVERT",
	StateWhisper:          "WHISPER",
	StatePreservation:     "PRESERVATION",
	StateWaitingForDigits: "WAITINGFORDIGITS",
}

func (s CallState) String() string {
	if s < 0 || int(s) >= len(callStateNames) {
		return "UNKNOWN"
	}
	return callStateNames[s]
}

// ParseCallState возвращает состояние по имени без учета регистра.
func ParseCallState(name string) (CallState, bool) {
	name = strings.ToUpper(name)
	for i, n := range callStateNames {
		if n == name {
			return CallState(i), true
		}
	}
	return 0, false
}

// IsTerminal сообщает, что вызов завершен и будет удален из устройства.
func (s CallState) IsTerminal() bool {
	return s == StateOnHook
}

// ConnectionStatus состояние регистрации на сервере сигнализации.
//
//	Idle -> Registering -> Ready
//	Registering -> Failed
//	Ready|Failed -> Idle
type ConnectionStatus int

const (
	StatusIdle ConnectionStatus = iota
	StatusRegistering
	StatusReady
	StatusFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRegistering:
		return "registering"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Token возвращает строку события, которую получает наблюдатель.
func (s ConnectionStatus) Token() string {
	switch s {
	case StatusIdle:
		return "no-registrar"
	case StatusRegistering:
		return "registering"
	case StatusReady:
		return "registered"
	case StatusFailed:
		return "registration-failed"
	default:
		return "unknown"
	}
}

// Direction направление медиа потока (атрибут SDP).
type Direction int

const (
	DirectionSendRecv Direction = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

func (d Direction) String() string {
	switch d {
	case DirectionSendRecv:
		return "sendrecv"
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// ParseDirection разбирает имя направления. Для совместимости значения
// "true" и "false" означают sendrecv и inactive.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sendrecv", "true":
		return DirectionSendRecv, true
	case "sendonly":
		return DirectionSendOnly, true
	case "recvonly":
		return DirectionRecvOnly, true
	case "inactive", "false":
		return DirectionInactive, true
	default:
		return 0, false
	}
}
