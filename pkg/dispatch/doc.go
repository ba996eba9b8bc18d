// Package dispatch доставляет события слоя управления сессией единственному
// наблюдателю на выделенном потоке приложения.
//
// Движок SIP сообщает о событиях на своих горутинах. Dispatcher копирует
// пару (имя, аргумент) с ограничением длины (128 и 256 байт по умолчанию,
// усечение вместо неограниченного роста) и ставит ее в очередь потока
// cpr.Thread. Поток по одной извлекает события и вызывает наблюдателя.
//
// Гарантии:
//   - наблюдатель вызывается только на потоке диспетчера (см. ThreadID)
//   - каждое событие доставляется ровно один раз, в порядке Dispatch
//   - после Close недоставленные события отбрасываются без ошибок
//   - зарегистрировать можно только одного наблюдателя
//
// Пример:
//
//	d, err := dispatch.New(dispatch.WithLimits(64, 128))
//	if err != nil {
//		return err
//	}
//	defer d.Close()
//
//	_ = d.SetObserver(dispatch.ObserverFunc(func(ev dispatch.Event) {
//		fmt.Println(ev.Name, ev.Arg)
//	}))
//	_ = d.Dispatch("registered", "")
package dispatch
