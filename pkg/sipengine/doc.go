// Package sipengine реализует ccapi.Engine поверх sipgo.
//
// Движок поднимает SIP стек при Register или StartP2P и держит одно
// устройство. Регистрация идет в фоне: REGISTER с ответом на digest
// challenge и обновлением на RefreshRatio от выданного срока. Переходы
// Idle -> Registering -> Ready/Failed сообщаются через
// OnConnectionStatusChange.
//
// Вызов ведется автоматом looplab/fsm, состояния которого совпадают с
// ccapi.CallState:
//
//	OFFHOOK -> DIALING -> PROCEED -> RINGOUT -> CONNECTED
//	OFFHOOK -> RINGIN -> CONNECTED
//	CONNECTED <-> HOLD -> RESUME -> CONNECTED
//	CONNECTED -> REMHOLD -> CONNECTED
//	DIALING|PROCEED|RINGOUT -> BUSY|REORDER -> ONHOOK
//
// Любое состояние кроме ONHOOK может перейти в ONHOOK. Операции вызова не
// ждут ответа сети: результат приходит наблюдателю как смена состояния.
//
// Пример:
//
//	cfg := sipengine.DefaultConfig()
//	cfg.DTMFMode = sipengine.DTMFRFC4733
//	ctrl, err := session.New(sipengine.Factory(cfg))
package sipengine
