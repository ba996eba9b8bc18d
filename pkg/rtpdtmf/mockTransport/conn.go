package mockTransport

import (
	"net"
	"os"
	"sync"
	"time"
)

// Addr адрес in-memory соединения.
type Addr string

func (a Addr) Network() string { return "mock" }
func (a Addr) String() string  { return string(a) }

// PacketConn in-memory net.PacketConn.
type PacketConn struct {
	local    Addr
	registry *Registry
	incoming chan packet
	closed   chan struct{}
	once     sync.Once

	deadlineMu    sync.RWMutex
	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.PacketConn = (*PacketConn)(nil)

// ReadFrom ждет пакет, закрытия соединения или дедлайна чтения.
func (c *PacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.deadlineMu.RLock()
	deadline := c.readDeadline
	c.deadlineMu.RUnlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case pkt := <-c.incoming:
		return copy(b, pkt.data), pkt.from, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

// WriteTo отправляет пакет соединению с адресом addr.String().
func (c *PacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.deadlineMu.RLock()
	deadline := c.writeDeadline
	c.deadlineMu.RUnlock()
	if !deadline.IsZero() && time.Now().After(deadline) {
		return 0, os.ErrDeadlineExceeded
	}

	if err := c.registry.deliver(addr.String(), b, c.local); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close закрывает соединение и освобождает адрес. Повторный вызов безопасен.
func (c *PacketConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.registry.remove(string(c.local))
	})
	return nil
}

func (c *PacketConn) LocalAddr() net.Addr { return c.local }

func (c *PacketConn) SetDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.readDeadline = t
	c.writeDeadline = t
	c.deadlineMu.Unlock()
	return nil
}

func (c *PacketConn) SetReadDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.readDeadline = t
	c.deadlineMu.Unlock()
	return nil
}

func (c *PacketConn) SetWriteDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.writeDeadline = t
	c.deadlineMu.Unlock()
	return nil
}
