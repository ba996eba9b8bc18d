// Package rtpdtmf отправляет цифры DTMF как RTP события telephone-event
// (RFC 4733) поверх произвольного net.PacketConn.
package rtpdtmf
