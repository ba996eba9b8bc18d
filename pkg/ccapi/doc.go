// Package ccapi описывает границу между слоем управления сессией и
// внешним call-control движком.
//
// Вниз слой вызывает Engine, Device и Call. Вверх движок сообщает о
// событиях через EngineObserver. Снимки CallInfo и DeviceInfo неизменяемы:
// движок выдает новый снимок при каждом запросе, поэтому читать их можно
// из любой горутины без блокировок.
//
// Набор возможностей вызова однозначно определяется его состоянием
// (см. CapabilitiesFor). Завершенный вызов (ONHOOK) не допускает ни одной
// операции.
package ccapi
