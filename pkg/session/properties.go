package session

import (
	"log/slog"
	"strings"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

const (
	// NoneSet значение неизвестного или не заданного свойства
	NoneSet = "NONESET"
	// DefaultVoipPort порт SIP/медиа по умолчанию
	DefaultVoipPort = "5060"

	keyLocalVoipPort  = "localvoipport"
	keyRemoteVoipPort = "remotevoipport"
	keyTransport      = "transport"
	keyVideo          = "video"
)

// properties накопленные настройки. Доступ под Controller.mu.
type properties struct {
	values map[string]string
	video  ccapi.Direction
}

func newProperties() *properties {
	return &properties{
		values: map[string]string{
			keyLocalVoipPort:  DefaultVoipPort,
			keyRemoteVoipPort: DefaultVoipPort,
		},
		video: ccapi.DirectionSendRecv,
	}
}

func (p *properties) get(key string) string {
	return p.values[key]
}

// engineValues копия свойств, которые передаются движку при создании.
func (p *properties) engineValues() map[ccapi.PropertyKey]string {
	out := make(map[ccapi.PropertyKey]string, len(p.values))
	for name, value := range p.values {
		if value == "" {
			continue
		}
		if key, ok := ccapi.ParsePropertyKey(name); ok && key != ccapi.PropertyVersion {
			out[key] = value
		}
	}
	return out
}

// SetProperty задает свойство. Ключ не зависит от регистра.
// Неизвестные ключи и недопустимые значения игнорируются.
// До создания движка значения накапливаются и применяются при его создании.
func (c *Controller) SetProperty(key, value string) {
	name := strings.ToLower(key)
	c.log.Debug("Controller.SetProperty", slog.String("key", name), slog.String("value", value))

	if name == keyVideo {
		dir, ok := ccapi.ParseDirection(value)
		if !ok {
			c.log.Warn("Controller.SetProperty invalid video direction", slog.String("value", value))
			return
		}
		c.mu.Lock()
		c.props.video = dir
		c.mu.Unlock()
		return
	}

	pk, ok := ccapi.ParsePropertyKey(name)
	if !ok {
		c.log.Warn("Controller.SetProperty unknown key", slog.String("key", key))
		return
	}
	if pk == ccapi.PropertyVersion {
		c.log.Warn("Controller.SetProperty version is read-only")
		return
	}

	c.mu.Lock()
	c.props.values[name] = value
	eng := c.engine
	c.mu.Unlock()

	if eng == nil {
		return
	}
	if err := eng.SetProperty(pk, value); err != nil {
		c.log.Warn("Controller.SetProperty rejected by engine",
			slog.String("key", name),
			slog.Any("error", err))
	}
}

// Property возвращает значение свойства или NoneSet.
func (c *Controller) Property(key string) string {
	name := strings.ToLower(key)

	c.mu.Lock()
	if name == keyVideo {
		defer c.mu.Unlock()
		return c.props.video.String()
	}
	eng := c.engine
	buffered := c.props.get(name)
	c.mu.Unlock()

	pk, ok := ccapi.ParsePropertyKey(name)
	if !ok {
		return NoneSet
	}
	if eng != nil {
		if v := eng.Property(pk); v != "" {
			return v
		}
		return NoneSet
	}
	if buffered == "" {
		return NoneSet
	}
	return buffered
}
