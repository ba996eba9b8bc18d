package mockEngine

import (
	"context"
	"errors"
	"sync"

	"github.com/arzzra/callcontrol/pkg/ccapi"
	"github.com/arzzra/callcontrol/pkg/dtmf"
)

// Op операция, для которой можно задать ошибку через FailOn.
type Op string

const (
	OpRegister  Op = "register"
	OpStartP2P  Op = "p2p"
	OpCreate    Op = "create"
	OpOriginate Op = "originate"
	OpAnswer    Op = "answer"
	OpEnd       Op = "end"
	OpHold      Op = "hold"
	OpResume    Op = "resume"
	OpDigit     Op = "digit"
)

// ErrClosed возвращается операциями закрытого движка.
var ErrClosed = errors.New("mock engine закрыт")

// Engine in-memory реализация ccapi.Engine.
// Движок ничего не делает сам: тест управляет состояниями вызовов через
// SetCallState, AddIncomingCall и SetConnectionStatus, а уведомления
// наблюдателю отправляются синхронно на горутине теста.
type Engine struct {
	mu       sync.Mutex
	observer ccapi.EngineObserver
	device   *Device
	status   ccapi.ConnectionStatus
	props    map[ccapi.PropertyKey]string
	localIP  string
	failures map[Op]error
	closed   bool
	onReg    func()

	creds       ccapi.Credentials
	p2pUser     string
	nextHandle  ccapi.CallHandle
	builds      int
	registers   int
	p2pStarts   int
	disconnects int
	closes      int
}

// New создает движок с одним устройством.
func New() *Engine {
	e := &Engine{
		props: map[ccapi.PropertyKey]string{
			ccapi.PropertyVersion: "mock/1.0",
		},
		failures: make(map[Op]error),
	}
	e.device = &Device{engine: e, name: "mockDevice"}
	return e
}

// Factory возвращает фабрику, которая всегда отдает этот движок.
// Закрытый движок при повторной выдаче снова становится рабочим.
func (e *Engine) Factory() ccapi.EngineFactory {
	return func() (ccapi.Engine, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.builds++
		e.closed = false
		return e, nil
	}
}

// FailOn задает ошибку для операции. nil снимает ошибку.
func (e *Engine) FailOn(op Op, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

func (e *Engine) failure(op Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.failures[op]
}

func (e *Engine) SetObserver(o ccapi.EngineObserver) {
	e.mu.Lock()
	e.observer = o
	e.mu.Unlock()
}

// Observer возвращает подключенного наблюдателя.
func (e *Engine) Observer() ccapi.EngineObserver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observer
}

func (e *Engine) SetLocalAddress(ip string) {
	e.mu.Lock()
	e.localIP = ip
	e.mu.Unlock()
}

// LocalAddress возвращает адрес, переданный через SetLocalAddress.
func (e *Engine) LocalAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localIP
}

func (e *Engine) SetProperty(key ccapi.PropertyKey, value string) error {
	if key == ccapi.PropertyVersion {
		return errors.New("version только для чтения")
	}
	e.mu.Lock()
	e.props[key] = value
	e.mu.Unlock()
	return nil
}

func (e *Engine) Property(key ccapi.PropertyKey) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props[key]
}

func (e *Engine) Register(_ context.Context, creds ccapi.Credentials) error {
	if err := e.failure(OpRegister); err != nil {
		return err
	}
	e.mu.Lock()
	e.registers++
	e.creds = creds
	e.device.name = creds.Device
	hook := e.onReg
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// OnRegister задает функцию, которую Register вызывает перед возвратом.
func (e *Engine) OnRegister(fn func()) {
	e.mu.Lock()
	e.onReg = fn
	e.mu.Unlock()
}

func (e *Engine) StartP2P(_ context.Context, user string) error {
	if err := e.failure(OpStartP2P); err != nil {
		return err
	}
	e.mu.Lock()
	e.p2pStarts++
	e.p2pUser = user
	e.mu.Unlock()
	e.SetConnectionStatus(ccapi.StatusIdle)
	return nil
}

func (e *Engine) Disconnect(context.Context) error {
	e.mu.Lock()
	e.disconnects++
	e.mu.Unlock()
	return nil
}

func (e *Engine) ActiveDevice() ccapi.Device {
	return e.device
}

func (e *Engine) ConnectionStatus() ccapi.ConnectionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closes++
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Counts количество вызовов фабрики, Register, StartP2P, Disconnect и Close.
type Counts struct {
	Build      int
	Register   int
	StartP2P   int
	Disconnect int
	Close      int
}

func (e *Engine) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Counts{
		Build:      e.builds,
		Register:   e.registers,
		StartP2P:   e.p2pStarts,
		Disconnect: e.disconnects,
		Close:      e.closes,
	}
}

// Credentials последние параметры регистрации.
func (e *Engine) Credentials() ccapi.Credentials {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creds
}

// P2PUser пользователь, переданный в StartP2P.
func (e *Engine) P2PUser() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p2pUser
}

// Device возвращает устройство движка с доступом к тестовым методам.
func (e *Engine) Device() *Device {
	return e.device
}

// SetConnectionStatus меняет статус и уведомляет наблюдателя.
func (e *Engine) SetConnectionStatus(st ccapi.ConnectionStatus) {
	e.mu.Lock()
	e.status = st
	obs := e.observer
	e.mu.Unlock()
	if obs != nil {
		obs.OnConnectionStatusChange(st)
	}
}

// SetCallState переводит вызов в состояние и уведомляет наблюдателя.
// При переходе в ONHOOK вызов удаляется из устройства после уведомления.
func (e *Engine) SetCallState(c *Call, st ccapi.CallState) {
	c.setState(st)
	info := c.Info()
	e.mu.Lock()
	obs := e.observer
	e.mu.Unlock()
	if obs != nil {
		obs.OnCallEvent(ccapi.CallEventStateChanged, c, info)
	}
	if st.IsTerminal() {
		e.device.remove(c)
	}
}

// AddIncomingCall создает входящий вызов в состоянии RINGIN.
func (e *Engine) AddIncomingCall(name, number string) *Call {
	c := e.device.newCall()
	c.mu.Lock()
	c.callingName = name
	c.callingNumber = number
	c.mu.Unlock()
	e.SetCallState(c, ccapi.StateRingIn)
	return c
}

// Device in-memory устройство. Вызовы хранятся в порядке создания.
type Device struct {
	engine *Engine
	mu     sync.Mutex
	name   string
	calls  []*Call
}

func (d *Device) Name() string {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	return d.name
}

func (d *Device) Info() *ccapi.DeviceInfo {
	d.mu.Lock()
	calls := make([]ccapi.Call, 0, len(d.calls))
	for _, c := range d.calls {
		calls = append(calls, c)
	}
	d.mu.Unlock()
	return &ccapi.DeviceInfo{
		Name:       d.Name(),
		Registered: d.engine.ConnectionStatus() == ccapi.StatusReady,
		Calls:      calls,
	}
}

func (d *Device) CreateCall() (ccapi.Call, error) {
	if err := d.engine.failure(OpCreate); err != nil {
		return nil, err
	}
	return d.newCall(), nil
}

func (d *Device) newCall() *Call {
	d.engine.mu.Lock()
	d.engine.nextHandle++
	h := d.engine.nextHandle
	d.engine.mu.Unlock()

	c := &Call{engine: d.engine, handle: h, state: ccapi.StateOffHook}
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()
	return c
}

func (d *Device) remove(c *Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cc := range d.calls {
		if cc == c {
			d.calls = append(d.calls[:i], d.calls[i+1:]...)
			return
		}
	}
}

// Calls возвращает текущие вызовы устройства.
func (d *Device) Calls() []*Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Call(nil), d.calls...)
}

// Call in-memory вызов, записывающий все операции.
type Call struct {
	engine *Engine
	handle ccapi.CallHandle

	mu            sync.Mutex
	state         ccapi.CallState
	callingName   string
	callingNumber string
	dest          string
	p2pIP         string
	video         ccapi.Direction
	answers       int
	ends          int
	holds         int
	resumes       int
	digits        []dtmf.Digit
}

func (c *Call) Handle() ccapi.CallHandle { return c.handle }

func (c *Call) Info() *ccapi.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &ccapi.CallInfo{
		Handle:             c.handle,
		State:              c.state,
		Capabilities:       ccapi.CapabilitiesFor(c.state),
		CallingPartyName:   c.callingName,
		CallingPartyNumber: c.callingNumber,
		CalledPartyNumber:  c.dest,
		VideoDirection:     c.video,
	}
}

func (c *Call) setState(st ccapi.CallState) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *Call) Originate(_ context.Context, dest string, video ccapi.Direction) error {
	if err := c.engine.failure(OpOriginate); err != nil {
		return err
	}
	c.mu.Lock()
	c.dest = dest
	c.video = video
	c.state = ccapi.StateDialing
	c.mu.Unlock()
	return nil
}

func (c *Call) OriginateP2P(ctx context.Context, dest, ip string, video ccapi.Direction) error {
	if err := c.Originate(ctx, dest, video); err != nil {
		return err
	}
	c.mu.Lock()
	c.p2pIP = ip
	c.mu.Unlock()
	return nil
}

func (c *Call) Answer(_ context.Context, video ccapi.Direction) error {
	if err := c.engine.failure(OpAnswer); err != nil {
		return err
	}
	c.mu.Lock()
	c.answers++
	c.video = video
	c.mu.Unlock()
	return nil
}

func (c *Call) End(context.Context) error {
	if err := c.engine.failure(OpEnd); err != nil {
		return err
	}
	c.mu.Lock()
	c.ends++
	c.mu.Unlock()
	return nil
}

func (c *Call) Hold(context.Context) error {
	if err := c.engine.failure(OpHold); err != nil {
		return err
	}
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()
	return nil
}

func (c *Call) Resume(_ context.Context, video ccapi.Direction) error {
	if err := c.engine.failure(OpResume); err != nil {
		return err
	}
	c.mu.Lock()
	c.resumes++
	c.video = video
	c.mu.Unlock()
	return nil
}

func (c *Call) SendDigit(_ context.Context, d dtmf.Digit) error {
	if err := c.engine.failure(OpDigit); err != nil {
		return err
	}
	c.mu.Lock()
	c.digits = append(c.digits, d)
	c.mu.Unlock()
	return nil
}

// Stats счетчики операций вызова.
type Stats struct {
	Dest    string
	P2PIP   string
	Answers int
	Ends    int
	Holds   int
	Resumes int
	Digits  []dtmf.Digit
}

func (c *Call) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Dest:    c.dest,
		P2PIP:   c.p2pIP,
		Answers: c.answers,
		Ends:    c.ends,
		Holds:   c.holds,
		Resumes: c.resumes,
		Digits:  append([]dtmf.Digit(nil), c.digits...),
	}
}
