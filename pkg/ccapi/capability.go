package ccapi

import "strings"

// Capability операция, которую вызов допускает в текущем состоянии.
type Capability uint8

const (
	CanAnswer Capability = iota
	CanEnd
	CanHold
	CanResume
	CanSendDigit
	CanUpdateVideo
)

func (c Capability) String() string {
	switch c {
	case CanAnswer:
		return "answer"
	case CanEnd:
		return "end"
	case CanHold:
		return "hold"
	case CanResume:
		return "resume"
	case CanSendDigit:
		return "send-digit"
	case CanUpdateVideo:
		return "update-video"
	default:
		return "unknown"
	}
}

// CapabilitySet битовая маска возможностей.
type CapabilitySet uint8

// NewCapabilitySet собирает маску из перечисленных возможностей.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s = s.With(c)
	}
	return s
}

// Has проверяет наличие возможности.
func (s CapabilitySet) Has(c Capability) bool {
	return s&(1<<c) != 0
}

// With возвращает маску с добавленной возможностью.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | 1<<c
}

// Empty сообщает, что ни одна операция не разрешена.
func (s CapabilitySet) Empty() bool {
	return s == 0
}

func (s CapabilitySet) String() string {
	var names []string
	for c := CanAnswer; c <= CanUpdateVideo; c++ {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

var stateCapabilities = map[CallState]CapabilitySet{
	StateOffHook:          NewCapabilitySet(CanEnd),
	StateDialing:          NewCapabilitySet(CanEnd, CanSendDigit),
	StateWaitingForDigits: NewCapabilitySet(CanEnd, CanSendDigit),
	StateRingOut:          NewCapabilitySet(CanEnd),
	StateProceed:          NewCapabilitySet(CanEnd),
	StateRingIn:           NewCapabilitySet(CanAnswer, CanEnd),
	StateConnected:        NewCapabilitySet(CanEnd, CanHold, CanSendDigit, CanUpdateVideo),
	StateResume:           NewCapabilitySet(CanEnd, CanHold, CanSendDigit, CanUpdateVideo),
	StateHold:             NewCapabilitySet(CanEnd, CanResume),
	StateRemHold:          NewCapabilitySet(CanEnd, CanHold),
	StateHoldRevert:       NewCapabilitySet(CanAnswer, CanEnd, CanResume),
	StateConference:       NewCapabilitySet(CanEnd, CanHold, CanSendDigit),
	StateBusy:             NewCapabilitySet(CanEnd),
	StateReorder:          NewCapabilitySet(CanEnd),
	StateWhisper:          NewCapabilitySet(CanEnd),
	StatePreservation:     NewCapabilitySet(CanEnd),
}

// CapabilitiesFor возвращает набор возможностей для состояния вызова.
// Для ONHOOK, REMINUSE и неизвестных состояний набор пуст.
func CapabilitiesFor(state CallState) CapabilitySet {
	return stateCapabilities[state]
}
