// Package cpr содержит минимальный набор примитивов синхронизации,
// на которых построена доставка событий из потока SIP движка в поток
// приложения.
//
// Примитивы:
//   - Mutex: захват без таймаута, ошибка вместо паники при неверном использовании
//   - Signal: условная переменная с одиночным пробуждением и счетчиком ожидающих
//   - MsgQueue: ограниченная неблокирующая очередь с транспортной оберткой Envelope
//   - Thread: горутина, закрепленная за потоком ОС, с очередью и синхронным стартом
//
// Каждый примитив описан интерфейсом (Locker, Signaler, Queue, Threader).
// Платформенная часть (идентификатор потока ОС) выбирается тегами сборки:
// osthread_linux.go, osthread_windows.go и osthread_other.go.
//
// Все методы безопасны для nil и возвращают ErrNilHandle. Примитивы ничего
// не повторяют сами.
//
// Пример ожидания с таймаутом:
//
//	m := cpr.NewMutex("state")
//	s := cpr.NewSignal("state")
//
//	_ = m.Lock()
//	for !ready {
//		if err := cpr.TimedWait(m, s, time.Second); errors.Is(err, cpr.ErrTimeout) {
//			break
//		}
//	}
//	_ = m.Unlock()
package cpr
