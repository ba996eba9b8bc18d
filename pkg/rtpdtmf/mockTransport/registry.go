package mockTransport

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
)

// DefaultBufferSize число пакетов, которые соединение держит непрочитанными
const DefaultBufferSize = 128

type packet struct {
	data []byte
	from net.Addr
}

// Registry маршрутизирует пакеты между соединениями по имени адреса.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*PacketConn
	bufferSize  int
	dropRate    float64
	delivered   int
	dropped     int
}

// NewRegistry создает пустой Registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*PacketConn),
		bufferSize:  DefaultBufferSize,
	}
}

// SetBufferSize задает размер буфера для новых соединений.
func (r *Registry) SetBufferSize(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if size > 0 {
		r.bufferSize = size
	}
}

// SetDropRate задает вероятность потери пакета, от 0 до 1.
func (r *Registry) SetDropRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropRate = min(max(rate, 0), 1)
}

// Listen создает соединение с адресом addr. Повторное использование
// занятого адреса возвращает ошибку.
func (r *Registry) Listen(addr string) (*PacketConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.connections[addr]; busy {
		return nil, fmt.Errorf("mockTransport: address in use: %s", addr)
	}
	conn := &PacketConn{
		local:    Addr(addr),
		registry: r,
		incoming: make(chan packet, r.bufferSize),
		closed:   make(chan struct{}),
	}
	r.connections[addr] = conn
	return conn, nil
}

func (r *Registry) remove(addr string) {
	r.mu.Lock()
	delete(r.connections, addr)
	r.mu.Unlock()
}

// deliver кладет копию пакета в буфер получателя. Переполненный буфер
// теряет пакет, как сеть UDP.
func (r *Registry) deliver(to string, data []byte, from net.Addr) error {
	r.mu.Lock()
	conn, ok := r.connections[to]
	drop := r.dropRate > 0 && rand.Float64() < r.dropRate
	if ok && drop {
		r.dropped++
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("mockTransport: no route to %s", to)
	}
	if drop {
		return nil
	}

	pkt := packet{data: append([]byte(nil), data...), from: from}
	select {
	case <-conn.closed:
		return nil
	case conn.incoming <- pkt:
		r.mu.Lock()
		r.delivered++
		r.mu.Unlock()
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
	return nil
}

// Stats число доставленных и потерянных пакетов.
func (r *Registry) Stats() (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.delivered, r.dropped
}

// CloseAll закрывает все соединения.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*PacketConn, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
