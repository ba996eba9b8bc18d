package sipengine

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

var (
	// ErrClosed движок закрыт
	ErrClosed = errors.New("sip engine закрыт")
	// ErrStarted Register или StartP2P уже выполнен
	ErrStarted = errors.New("sip engine уже запущен")
	// ErrNotStarted операция требует запущенного стека
	ErrNotStarted = errors.New("sip engine не запущен")
)

const (
	connIdle        = "idle"
	connRegistering = "registering"
	connReady       = "ready"
	connFailed      = "failed"
)

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задает логгер движка.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithResolver подменяет поиск SRV.
func WithResolver(r *Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// Engine SIP реализация ccapi.Engine поверх sipgo.
type Engine struct {
	cfg      Config
	log      *slog.Logger
	resolver *Resolver

	// conn автомат состояния регистрации. statusMu упорядочивает переходы
	// вместе с уведомлениями.
	conn     *fsm.FSM
	statusMu sync.Mutex

	mu       sync.Mutex
	observer ccapi.EngineObserver
	localIP  string
	props    map[ccapi.PropertyKey]string
	device   *Device
	stack    *stack
	reg      *registration
	closed   bool

	wg sync.WaitGroup
}

var _ ccapi.Engine = (*Engine)(nil)

// New создает движок. Сеть не используется до Register или StartP2P.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "sipengine: config")
	}
	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		localIP: "127.0.0.1",
		props: map[ccapi.PropertyKey]string{
			ccapi.PropertyLocalVoipPort:  strconv.Itoa(cfg.LocalPort),
			ccapi.PropertyRemoteVoipPort: strconv.Itoa(cfg.RemotePort),
			ccapi.PropertyTransport:      strings.ToLower(cfg.Transport),
			ccapi.PropertyVersion:        cfg.UserAgent + "/" + Version,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.resolver == nil {
		e.resolver = &Resolver{NameServer: cfg.DNSServer, Logger: e.log}
	}
	e.conn = fsm.NewFSM(
		connIdle,
		fsm.Events{
			{Name: "register", Src: []string{connIdle, connFailed}, Dst: connRegistering},
			{Name: "registered", Src: []string{connRegistering}, Dst: connReady},
			{Name: "fail", Src: []string{connRegistering, connReady}, Dst: connFailed},
			{Name: "reset", Src: []string{connRegistering, connReady, connFailed}, Dst: connIdle},
		},
		fsm.Callbacks{},
	)
	return e, nil
}

// Factory адаптирует New к ccapi.EngineFactory.
func Factory(cfg Config, opts ...Option) ccapi.EngineFactory {
	return func() (ccapi.Engine, error) {
		e, err := New(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

func (e *Engine) SetObserver(o ccapi.EngineObserver) {
	e.mu.Lock()
	e.observer = o
	e.mu.Unlock()
}

func (e *Engine) getObserver() ccapi.EngineObserver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observer
}

func (e *Engine) SetLocalAddress(ip string) {
	if ip == "" {
		return
	}
	e.mu.Lock()
	e.localIP = ip
	e.mu.Unlock()
}

// SetProperty меняет свойство. Порты и транспорт применяются при следующем запуске стека.
func (e *Engine) SetProperty(key ccapi.PropertyKey, value string) error {
	switch key {
	case ccapi.PropertyVersion:
		return errors.New("свойство version только для чтения")
	case ccapi.PropertyLocalVoipPort, ccapi.PropertyRemoteVoipPort:
		port, err := strconv.Atoi(value)
		if err != nil || port < 0 || port > 65535 {
			return errors.Errorf("некорректный порт %q для %s", value, key)
		}
	case ccapi.PropertyTransport:
		if err := validateTransport(value); err != nil {
			return err
		}
		value = strings.ToLower(value)
	default:
		return errors.Errorf("неизвестное свойство %d", key)
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

func (e *Engine) intProp(key ccapi.PropertyKey, def int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, err := strconv.Atoi(e.props[key]); err == nil {
		return v
	}
	return def
}

func (e *Engine) ActiveDevice() ccapi.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device == nil {
		return nil
	}
	return e.device
}

func (e *Engine) activeDevice() *Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

func (e *Engine) ConnectionStatus() ccapi.ConnectionStatus {
	switch e.conn.Current() {
	case connRegistering:
		return ccapi.StatusRegistering
	case connReady:
		return ccapi.StatusReady
	case connFailed:
		return ccapi.StatusFailed
	default:
		return ccapi.StatusIdle
	}
}

// connEvent выполняет переход автомата регистрации и уведомляет наблюдателя.
func (e *Engine) connEvent(event string) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if !e.conn.Can(event) {
		return
	}
	if err := e.conn.Event(context.Background(), event); err != nil {
		e.log.Debug("Engine.connEvent", slog.String("event", event), slog.Any("error", err))
		return
	}
	status := e.ConnectionStatus()
	e.log.Info("Статус регистрации", slog.String("status", status.String()))
	if o := e.getObserver(); o != nil {
		o.OnConnectionStatusChange(status)
	}
}

func (e *Engine) notifyAuth(status ccapi.AuthStatus) {
	if o := e.getObserver(); o != nil {
		o.OnAuthenticationStatusChange(status)
	}
}

func (e *Engine) notifyDevice(ev ccapi.DeviceEventType, d *Device) {
	if o := e.getObserver(); o != nil {
		o.OnDeviceEvent(ev, d, d.Info())
	}
}

// Register поднимает стек и запускает фоновую регистрацию.
func (e *Engine) Register(ctx context.Context, creds ccapi.Credentials) error {
	if creds.User == "" || creds.Domain == "" {
		return errors.New("sipengine: для регистрации нужны пользователь и домен")
	}
	name := creds.Device
	if name == "" {
		name = creds.User
	}
	regCtx, cancel := context.WithCancel(context.Background())
	r := &registration{
		creds:   creds,
		callID:  uuid.NewString(),
		fromTag: uuid.NewString()[:8],
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	st, dev, err := e.start(ctx, name, creds, r)
	if err != nil {
		cancel()
		return err
	}

	e.notifyDevice(ccapi.DeviceEventStateChanged, dev)
	go e.runRegistration(regCtx, st, r)
	return nil
}

// StartP2P поднимает стек без регистратора.
func (e *Engine) StartP2P(ctx context.Context, user string) error {
	if user == "" {
		return errors.New("sipengine: пустое имя пользователя")
	}
	_, dev, err := e.start(ctx, user, ccapi.Credentials{User: user, Device: user}, nil)
	if err != nil {
		return err
	}
	e.notifyDevice(ccapi.DeviceEventStateChanged, dev)
	return nil
}

func (e *Engine) start(ctx context.Context, name string, creds ccapi.Credentials, r *registration) (*stack, *Device, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if e.stack != nil {
		e.mu.Unlock()
		return nil, nil, ErrStarted
	}
	localIP := e.localIP
	transport := e.props[ccapi.PropertyTransport]
	e.mu.Unlock()

	st, err := newStack(e, stackParams{
		user:      creds.User,
		domain:    creds.Domain,
		password:  creds.Password,
		localIP:   localIP,
		transport: transport,
		port:      e.intProp(ccapi.PropertyLocalVoipPort, e.cfg.LocalPort),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "sipengine: start")
	}
	if creds.Domain != "" {
		st.registrar = e.cfg.Registrar
		if st.registrar == "" {
			st.registrar = e.resolver.Resolve(ctx, transport, creds.Domain, e.intProp(ccapi.PropertyRemoteVoipPort, e.cfg.RemotePort))
		}
	}

	dev := newDevice(e, name)
	e.mu.Lock()
	if e.closed || e.stack != nil {
		e.mu.Unlock()
		st.close()
		if e.closed {
			return nil, nil, ErrClosed
		}
		return nil, nil, ErrStarted
	}
	e.stack = st
	e.device = dev
	e.reg = r
	e.mu.Unlock()

	e.log.Info("SIP стек запущен",
		slog.String("device", name),
		slog.String("listen", st.listenAddr),
		slog.String("registrar", st.registrar))
	return st, dev, nil
}

func (e *Engine) currentStack() *stack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stack
}

// Disconnect завершает вызовы, снимает регистрацию и останавливает стек.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	st, r, dev := e.stack, e.reg, e.device
	e.stack, e.reg, e.device = nil, nil, nil
	e.mu.Unlock()
	if st == nil {
		return nil
	}

	if dev != nil {
		for _, c := range dev.snapshot() {
			c.terminate(ctx, st)
		}
	}

	wasReady := e.ConnectionStatus() == ccapi.StatusReady
	if r != nil {
		r.cancel()
		<-r.done
		if wasReady {
			if _, err := e.sendRegister(ctx, st, r, 0); err != nil {
				e.log.Warn("Не удалось снять регистрацию", slog.Any("error", err))
			}
		}
	}
	e.connEvent("reset")

	st.cancel()
	e.wg.Wait()
	st.close()
	if dev != nil {
		e.notifyDevice(ccapi.DeviceEventUnregistered, dev)
	}
	return nil
}

// Close останавливает стек. Повторный вызов безопасен.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.Disconnect(ctx)
}

// stackParams параметры запуска стека.
type stackParams struct {
	user      string
	domain    string
	password  string
	localIP   string
	transport string
	port      int
}

// stack sipgo UA, клиент и сервер одного запуска.
type stack struct {
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	params     stackParams
	contact    sip.Uri
	listenAddr string
	registrar  string

	udp    net.PacketConn
	tcp    net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	served chan struct{}
}

func newStack(e *Engine, p stackParams) (*stack, error) {
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(e.cfg.UserAgent+"/"+Version),
		sipgo.WithUserAgentHostname(p.localIP),
	)
	if err != nil {
		return nil, errors.Wrap(err, "ошибка создания User Agent")
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(p.localIP))
	if err != nil {
		ua.Close()
		return nil, errors.Wrap(err, "ошибка создания клиента")
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, errors.Wrap(err, "ошибка создания сервера")
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &stack{
		ua:     ua,
		client: client,
		server: server,
		params: p,
		ctx:    ctx,
		cancel: cancel,
		served: make(chan struct{}),
	}

	addr := net.JoinHostPort(e.cfg.ListenHost, strconv.Itoa(p.port))
	var port int
	if p.transport == "tcp" {
		st.tcp, err = net.Listen("tcp", addr)
		if err == nil {
			port = st.tcp.Addr().(*net.TCPAddr).Port
			st.listenAddr = st.tcp.Addr().String()
		}
	} else {
		st.udp, err = net.ListenPacket("udp", addr)
		if err == nil {
			port = st.udp.LocalAddr().(*net.UDPAddr).Port
			st.listenAddr = st.udp.LocalAddr().String()
		}
	}
	if err != nil {
		cancel()
		ua.Close()
		return nil, errors.Wrapf(err, "ошибка прослушивания %s", addr)
	}

	st.contact = sip.Uri{Scheme: "sip", User: p.user, Host: p.localIP, Port: port}
	if p.transport == "tcp" {
		st.contact.UriParams = sip.NewParams()
		st.contact.UriParams.Add("transport", "tcp")
	}

	e.registerHandlers(server)

	go func() {
		defer close(st.served)
		var err error
		if st.tcp != nil {
			err = server.ServeTCP(st.tcp)
		} else {
			err = server.ServeUDP(st.udp)
		}
		if err != nil && ctx.Err() == nil {
			e.log.Debug("stack.serve", slog.Any("error", err))
		}
	}()
	return st, nil
}

// uri строит адрес пользователя в домене стека.
func (st *stack) uri(user, host string, port int) sip.Uri {
	u := sip.Uri{Scheme: "sip", User: user, Host: host, Port: port}
	if st.params.transport == "tcp" {
		u.UriParams = sip.NewParams()
		u.UriParams.Add("transport", "tcp")
	}
	return u
}

func (st *stack) close() {
	st.cancel()
	if st.udp != nil {
		st.udp.Close()
	}
	if st.tcp != nil {
		st.tcp.Close()
	}
	st.client.Close()
	st.server.Close()
	st.ua.Close()
	select {
	case <-st.served:
	case <-time.After(time.Second):
	}
}
