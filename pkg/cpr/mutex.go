package cpr

import (
	"sync"
	"sync/atomic"
)

const (
	mutexUnlocked int32 = iota
	mutexLocked
	mutexDestroyed
)

// Mutex именованный мьютекс. В отличие от sync.Mutex, ошибочное
// использование (nil, повторный Unlock, работа после Destroy) возвращает
// ошибку, а не паникует.
type Mutex struct {
	name  string
	mu    sync.Mutex
	state atomic.Int32
}

// NewMutex создает мьютекс.
func NewMutex(name string) *Mutex {
	return &Mutex{name: name}
}

func (m *Mutex) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// Lock блокирует без таймаута. Для ограниченного ожидания используйте TimedWait.
func (m *Mutex) Lock() error {
	if m == nil {
		return ErrNilHandle
	}
	if m.state.Load() == mutexDestroyed {
		return ErrDestroyed
	}
	m.mu.Lock()
	if !m.state.CompareAndSwap(mutexUnlocked, mutexLocked) {
		// Destroy успел раньше
		m.mu.Unlock()
		return ErrDestroyed
	}
	return nil
}

func (m *Mutex) Unlock() error {
	if m == nil {
		return ErrNilHandle
	}
	switch m.state.Load() {
	case mutexDestroyed:
		return ErrDestroyed
	case mutexUnlocked:
		return ErrNotLocked
	}
	if !m.state.CompareAndSwap(mutexLocked, mutexUnlocked) {
		return ErrNotLocked
	}
	m.mu.Unlock()
	return nil
}

// Destroy освобождает мьютекс. Захваченный мьютекс уничтожить нельзя.
func (m *Mutex) Destroy() error {
	if m == nil {
		return ErrNilHandle
	}
	if m.state.CompareAndSwap(mutexUnlocked, mutexDestroyed) {
		return nil
	}
	if m.state.Load() == mutexDestroyed {
		return ErrDestroyed
	}
	return ErrLocked
}
