package cpr

import "errors"

// Ошибки примитивов. Ни одна операция не паникует и не повторяется внутри:
// вызывающая сторона получает одну из этих ошибок и решает сама.
var (
	ErrNilHandle = errors.New("cpr: nil handle")
	ErrTimeout   = errors.New("cpr: timeout")
	ErrNotLocked = errors.New("cpr: mutex not locked")
	ErrLocked    = errors.New("cpr: mutex is locked")
	ErrBusy      = errors.New("cpr: signal has waiters")
	ErrDestroyed = errors.New("cpr: destroyed")
	ErrNoThread  = errors.New("cpr: queue has no associated thread")
	ErrQueueFull = errors.New("cpr: queue full")
	ErrEmpty     = errors.New("cpr: queue empty")
	ErrClosed    = errors.New("cpr: closed")
)
