package dispatch

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/arzzra/callcontrol/pkg/cpr"
	"github.com/arzzra/callcontrol/pkg/metrics"
)

const (
	// DefaultMaxNameLen максимальная длина имени события в байтах
	DefaultMaxNameLen = 128
	// DefaultMaxArgLen максимальная длина аргумента события в байтах
	DefaultMaxArgLen = 256
	// DefaultQueueDepth глубина очереди доставки. Сверх нее события ждут
	// в списке переполнения и не теряются.
	DefaultQueueDepth = 256
	// DefaultCloseTimeout ожидание завершения потока доставки в Close
	DefaultCloseTimeout = time.Second
)

var (
	// ErrObserverAlreadySet наблюдатель уже зарегистрирован
	ErrObserverAlreadySet = errors.New("dispatch: observer already set")
	// ErrNilObserver передан nil наблюдатель
	ErrNilObserver = errors.New("dispatch: nil observer")
	// ErrClosed диспетчер закрыт, событие отброшено
	ErrClosed = errors.New("dispatch: closed")
)

// Event событие для наблюдателя: имя и один короткий аргумент.
type Event struct {
	Name string
	Arg  string

	queued time.Time
}

// Observer единственный получатель событий. OnEvent всегда вызывается
// на потоке диспетчера.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc адаптер функции к Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithLimits задает предельные длины имени и аргумента. Значения <= 0 игнорируются.
func WithLimits(maxName, maxArg int) Option {
	return func(d *Dispatcher) {
		if maxName > 0 {
			d.maxName = maxName
		}
		if maxArg > 0 {
			d.maxArg = maxArg
		}
	}
}

// WithQueueDepth задает глубину очереди доставки.
func WithQueueDepth(depth int) Option {
	return func(d *Dispatcher) {
		if depth > 0 {
			d.depth = depth
		}
	}
}

// WithCloseTimeout задает ожидание потока доставки при закрытии.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.closeTimeout = timeout }
}

// WithLogger задает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics подключает сбор метрик.
func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher переносит события с потока движка на собственный поток и
// вызывает там наблюдателя. Порядок доставки совпадает с порядком Dispatch
// для каждого источника.
type Dispatcher struct {
	maxName      int
	maxArg       int
	depth        int
	closeTimeout time.Duration
	log          *slog.Logger
	metrics      *metrics.Collector

	thread *cpr.Thread
	closed atomic.Bool
	once   sync.Once

	obsMu    sync.RWMutex
	observer Observer

	// ovMu упорядочивает постановку в очередь; overflow хранит события,
	// не поместившиеся в очередь потока, в порядке Dispatch.
	ovMu     sync.Mutex
	overflow []Event
}

// New создает диспетчер и запускает поток доставки.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		maxName:      DefaultMaxNameLen,
		maxArg:       DefaultMaxArgLen,
		depth:        DefaultQueueDepth,
		closeTimeout: DefaultCloseTimeout,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	th, err := cpr.CreateThread("dispatch", d.run, nil, cpr.WithQueueDepth(d.depth))
	if err != nil {
		return nil, err
	}
	d.thread = th

	d.log.Debug("Dispatcher.New started",
		slog.Int64("threadID", th.OSThreadID()),
		slog.Int("queueDepth", d.depth))
	return d, nil
}

// SetObserver регистрирует наблюдателя. Допускается только один.
func (d *Dispatcher) SetObserver(o Observer) error {
	if o == nil {
		return ErrNilObserver
	}
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	if d.observer != nil {
		return ErrObserverAlreadySet
	}
	d.observer = o
	return nil
}

// RemoveObserver снимает наблюдателя. События без наблюдателя отбрасываются.
func (d *Dispatcher) RemoveObserver() {
	d.obsMu.Lock()
	d.observer = nil
	d.obsMu.Unlock()
}

func (d *Dispatcher) currentObserver() Observer {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	return d.observer
}

// Dispatch копирует имя и аргумент с усечением до заданных пределов и
// ставит событие в очередь. Вызов не блокируется: при заполненной очереди
// событие уходит в список переполнения и будет доставлено после уже
// стоящих в очереди.
func (d *Dispatcher) Dispatch(name, arg string) error {
	if d.closed.Load() {
		d.metrics.EventDropped("closed")
		return ErrClosed
	}

	ev := Event{
		Name:   truncate(name, d.maxName),
		Arg:    truncate(arg, d.maxArg),
		queued: time.Now(),
	}
	d.ovMu.Lock()
	err := d.enqueueLocked(ev)
	d.ovMu.Unlock()
	if err != nil {
		if errors.Is(err, cpr.ErrClosed) {
			err = ErrClosed
		}
		d.metrics.EventDropped(dropReason(err))
		d.log.Warn("Dispatcher.Dispatch dropped",
			slog.String("event", ev.Name),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (d *Dispatcher) enqueueLocked(ev Event) error {
	if len(d.overflow) == 0 {
		err := d.thread.Queue().Send(ev, nil)
		if !errors.Is(err, cpr.ErrQueueFull) {
			return err
		}
		d.log.Debug("Dispatcher.Dispatch queue full, overflowing",
			slog.String("event", ev.Name),
			slog.Int("queueDepth", d.depth))
	}
	d.overflow = append(d.overflow, ev)
	return nil
}

// refill переносит события из списка переполнения в освободившуюся очередь.
func (d *Dispatcher) refill(q *cpr.MsgQueue) {
	d.ovMu.Lock()
	defer d.ovMu.Unlock()
	n := 0
	for n < len(d.overflow) {
		if err := q.Send(d.overflow[n], nil); err != nil {
			break
		}
		n++
	}
	if n == len(d.overflow) {
		d.overflow = nil
		return
	}
	d.overflow = d.overflow[n:]
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

func (d *Dispatcher) run(t *cpr.Thread, _ any) {
	q := t.Queue()
	for {
		env, err := q.Receive(true)
		if err != nil {
			return
		}
		ev, ok := env.Msg.(Event)
		env.Release()
		d.refill(q)
		if !ok {
			continue
		}
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	obs := d.currentObserver()
	if obs == nil {
		d.metrics.EventDropped("no_observer")
		d.log.Debug("Dispatcher.deliver no observer", slog.String("event", ev.Name))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Dispatcher.deliver observer panic",
				slog.String("event", ev.Name),
				slog.Any("panic", r))
		}
	}()
	obs.OnEvent(ev)
	d.metrics.EventDispatched(ev.Name, time.Since(ev.queued))
}

// ThreadID идентификатор потока ОС, на котором вызывается наблюдатель.
func (d *Dispatcher) ThreadID() int64 {
	return d.thread.OSThreadID()
}

// Pending число событий, ожидающих доставки.
func (d *Dispatcher) Pending() int {
	d.ovMu.Lock()
	defer d.ovMu.Unlock()
	return d.thread.Queue().Len() + len(d.overflow)
}

// Close останавливает доставку. Недоставленные события отбрасываются.
// Вызов из самого наблюдателя не ждет завершения потока.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.closed.Store(true)
		d.ovMu.Lock()
		d.overflow = nil
		d.ovMu.Unlock()
		if dropped := d.thread.Queue().Len(); dropped > 0 {
			d.log.Debug("Dispatcher.Close dropping pending events", slog.Int("count", dropped))
		}

		timeout := d.closeTimeout
		if tid := d.thread.OSThreadID(); tid != 0 && tid == cpr.CurrentOSThreadID() {
			timeout = 0
		}
		err = d.thread.Destroy(timeout)
		if timeout == 0 && errors.Is(err, cpr.ErrTimeout) {
			err = nil
		}
	})
	return err
}

// truncate обрезает строку до limit байт, не разрывая UTF-8 последовательность.
// Результат всегда является собственной копией.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return strings.Clone(s)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.Clone(s[:cut])
}
