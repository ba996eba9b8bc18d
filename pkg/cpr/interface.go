package cpr

import "time"

// Locker мьютекс без таймаута.
type Locker interface {
	Name() string
	Lock() error
	Unlock() error
	Destroy() error
}

// Signaler условная переменная с одиночным пробуждением.
// Ожидание выполняется функцией TimedWait.
type Signaler interface {
	Name() string
	Signal() error
	Waiters() int
	Destroy() error
}

// Queue очередь сообщений, привязанная к потоку-получателю.
type Queue interface {
	Name() string
	SetThread(t *Thread) error
	Send(msg, usr any) error
	Receive(block bool) (*Envelope, error)
	Len() int
	Close() error
}

// Threader поток с собственной очередью сообщений.
type Threader interface {
	Name() string
	OSThreadID() int64
	Queue() *MsgQueue
	Destroy(timeout time.Duration) error
}

var (
	_ Locker   = (*Mutex)(nil)
	_ Signaler = (*Signal)(nil)
	_ Queue    = (*MsgQueue)(nil)
	_ Threader = (*Thread)(nil)
)
