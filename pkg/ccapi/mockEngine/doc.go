// Package mockEngine предоставляет in-memory реализацию ccapi.Engine для тестов.
//
// Движок не выполняет никакой сигнализации. Тест сам двигает вызовы по
// состояниям и получает синхронные уведомления наблюдателя:
//
//	eng := mockEngine.New()
//	ctrl := session.New(eng.Factory())
//	// ...
//	call := eng.AddIncomingCall("Alice", "100")
//	eng.SetCallState(call, ccapi.StateConnected)
//
// Все операции вызова только записываются (см. Call.Stats), а ошибки
// можно подставить через Engine.FailOn.
package mockEngine
