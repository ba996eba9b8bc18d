package sipengine

import (
	"sync"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

// Device устройство запущенного стека. Вызовы хранятся в порядке создания.
type Device struct {
	engine *Engine
	name   string

	mu         sync.Mutex
	calls      []*Call
	nextHandle ccapi.CallHandle
}

var _ ccapi.Device = (*Device)(nil)

func newDevice(e *Engine, name string) *Device {
	return &Device{engine: e, name: name}
}

func (d *Device) Name() string { return d.name }

func (d *Device) Info() *ccapi.DeviceInfo {
	registered := d.engine.ConnectionStatus() == ccapi.StatusReady

	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]ccapi.Call, len(d.calls))
	for i, c := range d.calls {
		calls[i] = c
	}
	return &ccapi.DeviceInfo{Name: d.name, Registered: registered, Calls: calls}
}

// CreateCall создает исходящий вызов в состоянии OFFHOOK.
func (d *Device) CreateCall() (ccapi.Call, error) {
	if d.engine.currentStack() == nil {
		return nil, ErrNotStarted
	}
	return d.add(false), nil
}

func (d *Device) add(inbound bool) *Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	c := newCall(d, d.nextHandle, inbound)
	d.calls = append(d.calls, c)
	return c
}

func (d *Device) remove(c *Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.calls {
		if cur == c {
			d.calls = append(d.calls[:i], d.calls[i+1:]...)
			return
		}
	}
}

func (d *Device) snapshot() []*Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// byCallID ищет вызов по Call-ID диалога.
func (d *Device) byCallID(id string) *Call {
	for _, c := range d.snapshot() {
		if c.callID() == id {
			return c
		}
	}
	return nil
}
