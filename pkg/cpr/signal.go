package cpr

import (
	"sync"
	"time"
)

// Signal условная переменная. Signal будит не более одного ожидающего
// и ничего не делает, если ожидающих нет: сигнал не запоминается.
type Signal struct {
	name      string
	mu        sync.Mutex
	waiters   []chan struct{}
	destroyed bool
}

// NewSignal создает условную переменную.
func NewSignal(name string) *Signal {
	return &Signal{name: name}
}

func (s *Signal) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Waiters возвращает число потоков, ожидающих в TimedWait.
func (s *Signal) Waiters() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Signal будит самого раннего ожидающего.
func (s *Signal) Signal() error {
	if s == nil {
		return ErrNilHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	if len(s.waiters) == 0 {
		return nil
	}
	ch := s.waiters[0]
	s.waiters[0] = nil
	s.waiters = s.waiters[1:]
	close(ch)
	return nil
}

// Destroy освобождает условную переменную. При наличии ожидающих возвращает ErrBusy.
func (s *Signal) Destroy() error {
	if s == nil {
		return ErrNilHandle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	if len(s.waiters) > 0 {
		return ErrBusy
	}
	s.destroyed = true
	return nil
}

func (s *Signal) enqueue() (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return ch, nil
}

// remove убирает ожидающего из очереди. false означает, что Signal
// уже забрал его, то есть пробуждение состоялось.
func (s *Signal) remove(ch chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// TimedWait атомарно отпускает m, ждет сигнала s не дольше timeout и
// снова захватывает m перед возвратом. m должен быть захвачен вызывающим.
//
// Возвращает nil при пробуждении и ErrTimeout по истечении времени.
// При timeout <= 0 ожидание не выполняется: если сигнала нет, сразу
// возвращается ErrTimeout.
func TimedWait(m *Mutex, s *Signal, timeout time.Duration) error {
	if m == nil || s == nil {
		return ErrNilHandle
	}

	// ожидающий регистрируется до освобождения мьютекса,
	// иначе сигнал между Unlock и ожиданием потеряется
	ch, err := s.enqueue()
	if err != nil {
		return err
	}
	if err := m.Unlock(); err != nil {
		s.remove(ch)
		return err
	}

	waitErr := ErrTimeout
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case <-ch:
			waitErr = nil
		case <-timer.C:
		}
		timer.Stop()
	} else {
		select {
		case <-ch:
			waitErr = nil
		default:
		}
	}

	if waitErr != nil && !s.remove(ch) {
		// Signal сработал одновременно с таймаутом
		waitErr = nil
	}

	if err := m.Lock(); err != nil {
		return err
	}
	return waitErr
}
