package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/arzzra/callcontrol/pkg/capability"
	"github.com/arzzra/callcontrol/pkg/ccapi"
	"github.com/arzzra/callcontrol/pkg/dispatch"
	"github.com/arzzra/callcontrol/pkg/dtmf"
	"github.com/arzzra/callcontrol/pkg/metrics"
)

// Имена событий для наблюдателя.
const (
	EventIncomingCall   = "incoming-call"
	EventCallConnected  = "call-connected"
	EventCallTerminated = "call-terminated"
	EventCallHeld       = "call-held"
	EventCallResumed    = "call-resumed"
	EventError          = "error"
)

// Registration параметры регистрации на сервере сигнализации.
type Registration struct {
	Device   string
	User     string
	Password string
	Domain   string
}

// Session снимок активной сессии.
type Session struct {
	Registration
	// P2P сессия без регистратора
	P2P        bool
	LocalIP    string
	LocalPort  string
	RemotePort string
	Transport  string
	Registered bool
}

// Option настраивает Controller.
type Option func(*Controller)

// WithDispatcher использует внешний диспетчер. Controller не закрывает его.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(c *Controller) { c.disp = d }
}

// WithLogger задает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics подключает сбор метрик.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLocalIP подменяет определение локального адреса.
func WithLocalIP(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.localIP = fn
		}
	}
}

// Controller слой управления сессией. Безопасен для конкурентного
// использования.
type Controller struct {
	factory  ccapi.EngineFactory
	disp     *dispatch.Dispatcher
	ownDisp  bool
	log      *slog.Logger
	metrics  *metrics.Collector
	localIP  func() string
	observer *engineObserver

	// buildMu сериализует ленивое создание движка
	buildMu sync.Mutex

	mu             sync.Mutex
	engine         ccapi.Engine
	sess           *Session
	callInProgress bool
	props          *properties
	lastCaller     string
	closed         bool
}

// New создает контроллер. Движок будет создан через factory при первой
// операции, которой он нужен.
func New(factory ccapi.EngineFactory, opts ...Option) (*Controller, error) {
	if factory == nil {
		return nil, errors.New("session: nil engine factory")
	}
	c := &Controller{
		factory: factory,
		log:     slog.Default(),
		localIP: LocalIP,
		props:   newProperties(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.disp == nil {
		d, err := dispatch.New(dispatch.WithLogger(c.log), dispatch.WithMetrics(c.metrics))
		if err != nil {
			return nil, errors.Wrap(err, "session: start dispatcher")
		}
		c.disp = d
		c.ownDisp = true
	}
	c.observer = &engineObserver{c: c}
	return c, nil
}

// SetObserver регистрирует наблюдателя событий. Допускается только один.
func (c *Controller) SetObserver(o dispatch.Observer) error {
	return c.disp.SetObserver(o)
}

// RemoveObserver снимает наблюдателя.
func (c *Controller) RemoveObserver() {
	c.disp.RemoveObserver()
}

// Dispatcher возвращает диспетчер событий контроллера.
func (c *Controller) Dispatcher() *dispatch.Dispatcher {
	return c.disp
}

func (c *Controller) emit(name, arg string) {
	if err := c.disp.Dispatch(name, arg); err != nil {
		c.log.Debug("Controller.emit dropped", slog.String("event", name), slog.Any("error", err))
	}
}

func (c *Controller) emitError(reason string) {
	c.emit(EventError, reason)
}

// setCallInProgress вызывается под mu.
func (c *Controller) setCallInProgress(v bool) {
	c.callInProgress = v
	c.metrics.CallInProgress(v)
}

// Session возвращает снимок активной сессии.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Session{}, false
	}
	return *c.sess, true
}

// CallInProgress сообщает, идет ли вызов.
func (c *Controller) CallInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callInProgress
}

// LastCaller имя последнего входящего абонента.
func (c *Controller) LastCaller() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCaller
}

func (c *Controller) currentEngine() ccapi.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// ensureEngine возвращает движок, создавая его при необходимости.
// Новый движок получает накопленные свойства и локальный адрес.
func (c *Controller) ensureEngine() (ccapi.Engine, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.engine != nil {
		eng := c.engine
		c.mu.Unlock()
		return eng, nil
	}
	buffered := c.props.engineValues()
	c.mu.Unlock()

	eng, err := c.factory()
	if err != nil {
		return nil, errors.Wrap(err, "session: build engine")
	}
	if eng == nil {
		return nil, errors.New("session: engine factory returned nil")
	}

	for key, value := range buffered {
		if err := eng.SetProperty(key, value); err != nil {
			c.log.Warn("Controller.ensureEngine property rejected",
				slog.String("key", key.String()),
				slog.String("value", value),
				slog.Any("error", err))
		}
	}
	eng.SetLocalAddress(c.localIP())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = eng.Close()
		return nil, ErrClosed
	}
	c.engine = eng
	c.mu.Unlock()

	c.log.Debug("Controller.ensureEngine engine created")
	return eng, nil
}

// Register регистрирует устройство на сервере сигнализации.
// Результат регистрации приходит событиями registering/registered/registration-failed.
func (c *Controller) Register(ctx context.Context, reg Registration) error {
	err := c.open(ctx, Session{Registration: reg}, func(eng ccapi.Engine) error {
		return eng.Register(ctx, ccapi.Credentials{
			Device:   reg.Device,
			User:     reg.User,
			Password: reg.Password,
			Domain:   reg.Domain,
		})
	})
	c.metrics.Operation("register", err)
	return err
}

// StartP2PMode поднимает движок без регистратора для прямых вызовов.
func (c *Controller) StartP2PMode(ctx context.Context, user string) error {
	err := c.open(ctx, Session{Registration: Registration{User: user}, P2P: true}, func(eng ccapi.Engine) error {
		return eng.StartP2P(ctx, user)
	})
	c.metrics.Operation("start_p2p", err)
	return err
}

func (c *Controller) open(ctx context.Context, s Session, start func(ccapi.Engine) error) error {
	localIP := c.localIP()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sess != nil {
		c.mu.Unlock()
		c.log.Debug("Controller.open rejected", slog.String("user", s.User))
		c.emitError(ReasonAlreadyRegistered)
		return ErrAlreadyRegistered
	}
	s.LocalIP = localIP
	s.LocalPort = c.props.get(keyLocalVoipPort)
	s.RemotePort = c.props.get(keyRemoteVoipPort)
	s.Transport = c.props.get(keyTransport)
	sp := &s
	c.sess = sp
	c.mu.Unlock()

	c.log.Debug("Controller.open",
		slog.String("device", s.Device),
		slog.String("user", s.User),
		slog.String("domain", s.Domain),
		slog.String("localIP", s.LocalIP),
		slog.Bool("p2p", s.P2P))

	eng, err := c.ensureEngine()
	if err != nil {
		c.clearSession(sp)
		return err
	}
	eng.SetLocalAddress(s.LocalIP)
	eng.SetObserver(c.observer)

	err = start(eng)

	// Unregister или Close, пришедшие во время запуска, уже сняли сессию.
	// Движок, который они не успели забрать, останавливается здесь.
	c.mu.Lock()
	if c.sess != sp {
		var stale ccapi.Engine
		if c.engine == eng {
			stale, c.engine = eng, nil
		}
		c.mu.Unlock()
		c.log.Warn("Controller.open session dropped while starting", slog.String("user", s.User))
		if terr := c.teardown(ctx, stale); terr != nil {
			c.log.Debug("Controller.open teardown", slog.Any("error", terr))
		}
		return ErrRegistrationAborted
	}
	c.mu.Unlock()

	if err != nil {
		c.clearSession(sp)
		c.log.Error("Controller.open engine start failed", slog.Any("error", err))
		return errors.Wrap(err, "session: start engine")
	}
	return nil
}

// clearSession снимает сессию sp, если она все еще текущая.
func (c *Controller) clearSession(sp *Session) {
	c.mu.Lock()
	if c.sess == sp {
		c.sess = nil
	}
	c.mu.Unlock()
}

// Unregister снимает регистрацию и уничтожает движок.
func (c *Controller) Unregister(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		c.emitError(ReasonNotRegistered)
		c.metrics.Operation("unregister", ErrNotRegistered)
		return ErrNotRegistered
	}
	eng := c.engine
	c.engine = nil
	c.sess = nil
	c.setCallInProgress(false)
	c.mu.Unlock()

	err := c.teardown(ctx, eng)
	c.metrics.Operation("unregister", err)
	return err
}

func (c *Controller) teardown(ctx context.Context, eng ccapi.Engine) error {
	if eng == nil {
		return nil
	}
	eng.SetObserver(nil)
	var firstErr error
	if err := eng.Disconnect(ctx); err != nil {
		c.log.Warn("Controller.teardown disconnect failed", slog.Any("error", err))
		firstErr = errors.Wrap(err, "session: disconnect")
	}
	if err := eng.Close(); err != nil {
		c.log.Warn("Controller.teardown close failed", slog.Any("error", err))
		if firstErr == nil {
			firstErr = errors.Wrap(err, "session: close engine")
		}
	}
	return firstErr
}

// PlaceCall создает исходящий вызов на dest.
func (c *Controller) PlaceCall(ctx context.Context, dest string) error {
	err := c.place(ctx, func(call ccapi.Call, video ccapi.Direction) error {
		return call.Originate(ctx, dest, video)
	})
	c.metrics.Operation("place_call", err)
	return err
}

// PlaceP2PCall звонит напрямую на sip:dest@ip без регистратора.
func (c *Controller) PlaceP2PCall(ctx context.Context, dest, ip string) error {
	err := c.place(ctx, func(call ccapi.Call, video ccapi.Direction) error {
		return call.OriginateP2P(ctx, dest, ip, video)
	})
	c.metrics.Operation("place_p2p_call", err)
	return err
}

func (c *Controller) place(_ context.Context, originate func(ccapi.Call, ccapi.Direction) error) error {
	c.mu.Lock()
	if c.callInProgress {
		c.mu.Unlock()
		c.emitError(ReasonCallInProgress)
		return ErrCallInProgress
	}
	c.setCallInProgress(true)
	video := c.props.video
	c.mu.Unlock()

	err := c.originate(video, originate)
	if err != nil {
		c.mu.Lock()
		c.setCallInProgress(false)
		c.mu.Unlock()
		c.log.Error("Controller.place failed", slog.Any("error", err))
	}
	return err
}

func (c *Controller) originate(video ccapi.Direction, originate func(ccapi.Call, ccapi.Direction) error) error {
	eng, err := c.ensureEngine()
	if err != nil {
		return err
	}
	dev := eng.ActiveDevice()
	if dev == nil {
		return ErrNoDevice
	}
	call, err := dev.CreateCall()
	if err != nil {
		return errors.Wrap(err, "session: create call")
	}
	if err := originate(call, video); err != nil {
		return errors.Wrap(err, "session: originate")
	}
	c.log.Debug("Controller.place originated", slog.Any("handle", call.Handle()))
	return nil
}

func (c *Controller) activeDevice() ccapi.Device {
	eng := c.currentEngine()
	if eng == nil {
		return nil
	}
	return eng.ActiveDevice()
}

// AnswerCall отвечает на первый вызов, допускающий ответ.
func (c *Controller) AnswerCall(ctx context.Context) error {
	call := capability.FirstWithCapability(c.activeDevice(), ccapi.CanAnswer)
	if call == nil {
		c.log.Debug("Controller.AnswerCall no call to answer")
		c.emitError(ReasonNoCallToAnswer)
		c.metrics.Operation("answer_call", ErrNoEligibleCall)
		return ErrNoEligibleCall
	}

	c.mu.Lock()
	video := c.props.video
	c.mu.Unlock()

	if err := call.Answer(ctx, video); err != nil {
		c.log.Error("Controller.AnswerCall failed", slog.Any("handle", call.Handle()), slog.Any("error", err))
		err = errors.Wrap(err, "session: answer")
		c.metrics.Operation("answer_call", err)
		return err
	}

	c.mu.Lock()
	c.setCallInProgress(true)
	c.mu.Unlock()
	c.metrics.Operation("answer_call", nil)
	return nil
}

// EndCall завершает первый вызов, допускающий завершение.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if !c.callInProgress {
		c.mu.Unlock()
		c.emitError(ReasonNoCallInProgress)
		c.metrics.Operation("end_call", ErrNoCallInProgress)
		return ErrNoCallInProgress
	}
	c.mu.Unlock()

	call := capability.FirstWithCapability(c.activeDevice(), ccapi.CanEnd)
	if call == nil {
		// вызов уже исчез, сбрасываем признак локально
		c.log.Debug("Controller.EndCall no endable call")
		c.mu.Lock()
		c.setCallInProgress(false)
		c.mu.Unlock()
		c.metrics.Operation("end_call", nil)
		return nil
	}

	if err := call.End(ctx); err != nil {
		c.log.Error("Controller.EndCall failed", slog.Any("handle", call.Handle()), slog.Any("error", err))
		err = errors.Wrap(err, "session: end")
		c.metrics.Operation("end_call", err)
		return err
	}
	c.metrics.Operation("end_call", nil)
	return nil
}

// HoldCall ставит на удержание первый вызов, допускающий удержание.
// Отсутствие такого вызова не является ошибкой.
func (c *Controller) HoldCall(ctx context.Context) error {
	call := capability.FirstWithCapability(c.activeDevice(), ccapi.CanHold)
	if call == nil {
		c.log.Debug("Controller.HoldCall no active call")
		return nil
	}
	if err := call.Hold(ctx); err != nil {
		c.log.Error("Controller.HoldCall failed", slog.Any("handle", call.Handle()), slog.Any("error", err))
		err = errors.Wrap(err, "session: hold")
		c.metrics.Operation("hold_call", err)
		return err
	}
	c.metrics.Operation("hold_call", nil)
	return nil
}

// ResumeCall снимает с удержания первый вызов, допускающий это.
// Отсутствие такого вызова не является ошибкой.
func (c *Controller) ResumeCall(ctx context.Context) error {
	call := capability.FirstWithCapability(c.activeDevice(), ccapi.CanResume)
	if call == nil {
		c.log.Debug("Controller.ResumeCall no held call")
		return nil
	}

	c.mu.Lock()
	video := c.props.video
	c.mu.Unlock()

	if err := call.Resume(ctx, video); err != nil {
		c.log.Error("Controller.ResumeCall failed", slog.Any("handle", call.Handle()), slog.Any("error", err))
		err = errors.Wrap(err, "session: resume")
		c.metrics.Operation("resume_call", err)
		return err
	}
	c.metrics.Operation("resume_call", nil)
	return nil
}

// SendDigits отправляет цифры DTMF по одной. Недопустимые символы
// пропускаются, ошибка отправки одной цифры не прерывает остальные.
// Возвращается первая ошибка движка.
func (c *Controller) SendDigits(ctx context.Context, text string) error {
	if c.currentEngine() == nil {
		c.log.Debug("Controller.SendDigits engine not created")
		return nil
	}

	var firstErr error
	for i := 0; i < len(text); i++ {
		d, ok := dtmf.FromASCII(text[i])
		if !ok {
			c.log.Debug("Controller.SendDigits non DTMF digit", slog.String("char", string(text[i])))
			continue
		}
		call := capability.FirstWithCapability(c.activeDevice(), ccapi.CanSendDigit)
		if call == nil {
			c.log.Debug("Controller.SendDigits no active call", slog.String("digit", d.String()))
			continue
		}
		if err := call.SendDigit(ctx, d); err != nil {
			c.log.Error("Controller.SendDigits failed",
				slog.String("digit", d.String()),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "session: send digit %s", d)
			}
		}
	}
	c.metrics.Operation("send_digits", firstErr)
	return firstErr
}

// Close уничтожает движок и диспетчер. Недоставленные события теряются.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	eng := c.engine
	c.engine = nil
	c.sess = nil
	c.setCallInProgress(false)
	c.mu.Unlock()

	err := c.teardown(context.Background(), eng)
	if c.ownDisp {
		if derr := c.disp.Close(); derr != nil && err == nil {
			err = errors.Wrap(derr, "session: close dispatcher")
		}
	}
	return err
}
