package cpr

import (
	"runtime"
	"sync/atomic"
	"time"
)

// StartupTimeout ограничивает ожидание готовности нового потока в CreateThread.
var StartupTimeout = 2 * time.Second

// Entry точка входа потока. Функция должна вернуться, когда очередь
// потока закрыта (Receive вернул ErrClosed).
type Entry func(t *Thread, data any)

// Thread горутина, закрепленная за потоком ОС, с собственной очередью сообщений.
type Thread struct {
	name   string
	queue  *MsgQueue
	exited chan struct{}
	osTID  atomic.Int64
}

// ThreadOption настраивает поток при создании.
type ThreadOption func(*threadConfig)

type threadConfig struct {
	depth int
}

// WithQueueDepth задает глубину очереди потока.
func WithQueueDepth(depth int) ThreadOption {
	return func(c *threadConfig) { c.depth = depth }
}

// CreateThread запускает поток и возвращается только после того, как поток
// подтвердил готовность принимать сообщения (или истек StartupTimeout).
// Это исключает гонку, при которой создатель отправляет сообщение в еще
// не существующую очередь.
func CreateThread(name string, entry Entry, data any, opts ...ThreadOption) (*Thread, error) {
	if entry == nil {
		return nil, ErrNilHandle
	}
	cfg := threadConfig{depth: DefaultQueueDepth}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Thread{
		name:   name,
		queue:  NewMsgQueue(name, cfg.depth),
		exited: make(chan struct{}),
	}
	if err := t.queue.SetThread(t); err != nil {
		return nil, err
	}

	startMu := NewMutex(name + ".start")
	startSig := NewSignal(name + ".start")
	ready := false

	if err := startMu.Lock(); err != nil {
		return nil, err
	}

	go func() {
		defer close(t.exited)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		t.osTID.Store(currentOSThreadID())

		if startMu.Lock() == nil {
			ready = true
			_ = startSig.Signal()
			_ = startMu.Unlock()
		}

		entry(t, data)
	}()

	deadline := time.Now().Add(StartupTimeout)
	for !ready {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := TimedWait(startMu, startSig, remaining); err != nil && err != ErrTimeout {
			break
		}
	}
	_ = startMu.Unlock()
	_ = startMu.Destroy()
	_ = startSig.Destroy()

	return t, nil
}

func (t *Thread) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// OSThreadID идентификатор потока ОС. 0 на платформах без поддержки.
func (t *Thread) OSThreadID() int64 {
	if t == nil {
		return 0
	}
	return t.osTID.Load()
}

// Queue очередь сообщений потока.
func (t *Thread) Queue() *MsgQueue {
	if t == nil {
		return nil
	}
	return t.queue
}

// Exited закрывается после возврата из Entry.
func (t *Thread) Exited() <-chan struct{} {
	return t.exited
}

// Destroy закрывает очередь потока и ждет его завершения не дольше timeout.
// Если поток уже завершился, возвращает nil сразу.
func (t *Thread) Destroy(timeout time.Duration) error {
	if t == nil {
		return ErrNilHandle
	}
	_ = t.queue.Close()

	select {
	case <-t.exited:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.exited:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// CurrentOSThreadID идентификатор потока ОС вызывающей горутины.
func CurrentOSThreadID() int64 {
	return currentOSThreadID()
}
