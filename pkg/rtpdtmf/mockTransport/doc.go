// Package mockTransport предоставляет in-memory net.PacketConn для тестов
// отправки RTP без сети.
//
// Соединения создаются через общий Registry и адресуются строками:
//
//	reg := mockTransport.NewRegistry()
//	a, _ := reg.Listen("caller:4000")
//	b, _ := reg.Listen("callee:5004")
//
//	_, err := a.WriteTo(pkt, b.LocalAddr())
//	n, from, err := b.ReadFrom(buf)
//
// Как и UDP, переполненный буфер получателя теряет пакет без ошибки.
package mockTransport
