package cpr

import "sync"

// DefaultQueueDepth глубина очереди, если при создании передано значение <= 0.
const DefaultQueueDepth = 64

// Envelope транспортная обертка сообщения. Получатель извлекает Msg и Usr
// и обязан вернуть обертку через Release.
type Envelope struct {
	Msg any
	Usr any
}

var envelopePool = sync.Pool{
	New: func() any { return new(Envelope) },
}

// Release возвращает обертку в пул. После вызова обертку использовать нельзя.
func (e *Envelope) Release() {
	if e == nil {
		return
	}
	e.Msg = nil
	e.Usr = nil
	envelopePool.Put(e)
}

// MsgQueue ограниченная очередь сообщений к потоку.
// Send никогда не блокируется: переполнение возвращает ErrQueueFull.
type MsgQueue struct {
	name      string
	ch        chan *Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	thread *Thread
}

// NewMsgQueue создает очередь глубиной depth.
func NewMsgQueue(name string, depth int) *MsgQueue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &MsgQueue{
		name: name,
		ch:   make(chan *Envelope, depth),
		done: make(chan struct{}),
	}
}

func (q *MsgQueue) Name() string {
	if q == nil {
		return ""
	}
	return q.name
}

// SetThread связывает очередь с потоком-получателем.
func (q *MsgQueue) SetThread(t *Thread) error {
	if q == nil || t == nil {
		return ErrNilHandle
	}
	q.mu.Lock()
	q.thread = t
	q.mu.Unlock()
	return nil
}

// Thread возвращает связанный поток или nil.
func (q *MsgQueue) Thread() *Thread {
	if q == nil {
		return nil
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.thread
}

// Send ставит сообщение в очередь.
func (q *MsgQueue) Send(msg, usr any) error {
	if q == nil {
		return ErrNilHandle
	}
	if q.Thread() == nil {
		return ErrNoThread
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	env := envelopePool.Get().(*Envelope)
	env.Msg = msg
	env.Usr = usr
	select {
	case q.ch <- env:
		return nil
	default:
		env.Release()
		return ErrQueueFull
	}
}

// Receive извлекает сообщение. В неблокирующем режиме пустая очередь
// дает ErrEmpty. После Close возвращается ErrClosed, а оставшиеся
// сообщения отбрасываются.
func (q *MsgQueue) Receive(block bool) (*Envelope, error) {
	if q == nil {
		return nil, ErrNilHandle
	}
	select {
	case <-q.done:
		return nil, ErrClosed
	default:
	}

	if !block {
		select {
		case env := <-q.ch:
			return env, nil
		default:
			return nil, ErrEmpty
		}
	}

	select {
	case env := <-q.ch:
		return env, nil
	case <-q.done:
		return nil, ErrClosed
	}
}

// Len число сообщений в очереди.
func (q *MsgQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

// Done закрывается при закрытии очереди.
func (q *MsgQueue) Done() <-chan struct{} {
	return q.done
}

// Close останавливает очередь. Повторный вызов безопасен.
func (q *MsgQueue) Close() error {
	if q == nil {
		return ErrNilHandle
	}
	q.closeOnce.Do(func() {
		close(q.done)
	})
	return nil
}
