package session

import (
	"log/slog"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

// DefaultCallerName имя входящего абонента, если движок не сообщил ни имени, ни номера.
const DefaultCallerName = "Dummy"

// engineObserver переводит уведомления движка в события наблюдателя.
// Методы вызываются на горутинах движка.
type engineObserver struct {
	c *Controller
}

var _ ccapi.EngineObserver = (*engineObserver)(nil)

func (o *engineObserver) OnCallEvent(ev ccapi.CallEventType, call ccapi.Call, info *ccapi.CallInfo) {
	c := o.c
	if info == nil && call != nil {
		info = call.Info()
	}
	if info == nil {
		c.log.Debug("engineObserver.OnCallEvent without info", slog.String("event", ev.String()))
		return
	}
	if ev != ccapi.CallEventStateChanged {
		c.log.Debug("engineObserver.OnCallEvent",
			slog.String("event", ev.String()),
			slog.Any("handle", info.Handle),
			slog.String("state", info.State.String()))
		return
	}

	c.metrics.CallState(info.State)

	switch info.State {
	case ccapi.StateRingIn:
		name := callerName(info)
		c.log.Info("engineObserver.OnCallEvent RINGIN",
			slog.String("callingPartyName", name),
			slog.String("callingPartyNumber", info.CallingPartyNumber))
		c.mu.Lock()
		c.lastCaller = name
		c.mu.Unlock()
		c.emit(EventIncomingCall, "")
	case ccapi.StateOnHook:
		c.log.Debug("engineObserver.OnCallEvent ONHOOK", slog.Any("handle", info.Handle))
		c.mu.Lock()
		c.setCallInProgress(false)
		c.mu.Unlock()
		c.emit(EventCallTerminated, "")
	case ccapi.StateConnected:
		c.log.Debug("engineObserver.OnCallEvent CONNECTED", slog.Any("handle", info.Handle))
		c.emit(EventCallConnected, "")
	case ccapi.StateHold:
		c.log.Debug("engineObserver.OnCallEvent HOLD", slog.Any("handle", info.Handle))
		c.emit(EventCallHeld, "")
	case ccapi.StateResume:
		c.log.Debug("engineObserver.OnCallEvent RESUME", slog.Any("handle", info.Handle))
		c.emit(EventCallResumed, "")
	case ccapi.StateRingOut:
		c.log.Debug("engineObserver.OnCallEvent RINGOUT", slog.Any("handle", info.Handle))
	default:
		c.log.Debug("engineObserver.OnCallEvent",
			slog.Any("handle", info.Handle),
			slog.String("state", info.State.String()))
	}
}

func callerName(info *ccapi.CallInfo) string {
	switch {
	case info.CallingPartyName != "":
		return info.CallingPartyName
	case info.CallingPartyNumber != "":
		return info.CallingPartyNumber
	default:
		return DefaultCallerName
	}
}

func (o *engineObserver) OnConnectionStatusChange(status ccapi.ConnectionStatus) {
	c := o.c
	c.log.Info("engineObserver.OnConnectionStatusChange", slog.String("status", status.Token()))
	c.metrics.ConnectionStatus(status)

	c.mu.Lock()
	if c.sess != nil {
		c.sess.Registered = status == ccapi.StatusReady
	}
	c.mu.Unlock()

	c.emit(status.Token(), "")
}

func (o *engineObserver) OnDeviceEvent(ev ccapi.DeviceEventType, dev ccapi.Device, info *ccapi.DeviceInfo) {
	attrs := []any{slog.Int("event", int(ev))}
	if info != nil {
		attrs = append(attrs, slog.String("device", info.Name), slog.Int("calls", len(info.Calls)))
	}
	o.c.log.Debug("engineObserver.OnDeviceEvent", attrs...)
}

func (o *engineObserver) OnFeatureEvent(ev ccapi.FeatureEventType, _ ccapi.Device, feature string) {
	o.c.log.Debug("engineObserver.OnFeatureEvent", slog.Int("event", int(ev)), slog.String("feature", feature))
}

func (o *engineObserver) OnLineEvent(ev ccapi.LineEventType, _ ccapi.Device, line string) {
	o.c.log.Debug("engineObserver.OnLineEvent", slog.Int("event", int(ev)), slog.String("line", line))
}

func (o *engineObserver) OnAvailablePhoneEvent(ev ccapi.PhoneEventType, phone string) {
	o.c.log.Debug("engineObserver.OnAvailablePhoneEvent", slog.Int("event", int(ev)), slog.String("phone", phone))
}

func (o *engineObserver) OnAuthenticationStatusChange(status ccapi.AuthStatus) {
	o.c.log.Debug("engineObserver.OnAuthenticationStatusChange", slog.String("status", status.String()))
}
