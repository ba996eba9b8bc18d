// Package session реализует слой управления сессией софтфона.
//
// Controller хранит состояние регистрации и признак активного вызова,
// выбирает вызов для операции через пакет capability и передает события
// движка единственному наблюдателю через dispatch.Dispatcher.
//
// Движок создается лениво через ccapi.EngineFactory при первой операции,
// которой он нужен. Controller никогда не вызывает движок под своим
// мьютексом: движок может уведомить наблюдателя синхронно из самого вызова.
//
// События наблюдателю:
//
//	incoming-call, call-connected, call-terminated, call-held, call-resumed
//	no-registrar, registering, registered, registration-failed
//	error <причина>
package session
