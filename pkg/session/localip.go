package session

import "net"

const (
	// probeAddr адрес, маршрут к которому определяет активный интерфейс.
	// UDP Dial не отправляет пакетов.
	probeAddr = "10.0.0.1:53"
	// FallbackIP используется, если активный интерфейс не найден
	FallbackIP = "127.0.0.1"
)

// LocalIP возвращает IPv4 адрес интерфейса, через который уходит трафик
// во внешнюю сеть, или FallbackIP.
func LocalIP() string {
	conn, err := net.Dial("udp4", probeAddr)
	if err != nil {
		return FallbackIP
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return FallbackIP
	}
	return addr.IP.String()
}
