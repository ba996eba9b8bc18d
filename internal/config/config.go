// Package config загружает конфигурацию softphone из YAML файла и
// переменных окружения SOFTPHONE_*.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/callcontrol/internal/logging"
	"github.com/arzzra/callcontrol/pkg/ccapi"
	"github.com/arzzra/callcontrol/pkg/sipengine"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "SOFTPHONE"

// SIPConfig сигнальная часть.
type SIPConfig struct {
	ListenHost      string        `mapstructure:"listen_host" yaml:"listen_host"`
	ListenPort      int           `mapstructure:"listen_port" yaml:"listen_port"`
	RemotePort      int           `mapstructure:"remote_port" yaml:"remote_port"`
	Transport       string        `mapstructure:"transport" yaml:"transport"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Registrar       string        `mapstructure:"registrar" yaml:"registrar"`
	DNSServer       string        `mapstructure:"dns_server" yaml:"dns_server"`
	Expires         time.Duration `mapstructure:"expires" yaml:"expires"`
	RegisterTimeout time.Duration `mapstructure:"register_timeout" yaml:"register_timeout"`
	RetryInterval   time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	DTMFMode        string        `mapstructure:"dtmf_mode" yaml:"dtmf_mode"`
	DTMFPayloadType uint8         `mapstructure:"dtmf_payload_type" yaml:"dtmf_payload_type"`
}

// AccountConfig учетная запись. P2P включает режим без регистратора.
type AccountConfig struct {
	Device   string `mapstructure:"device" yaml:"device"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Domain   string `mapstructure:"domain" yaml:"domain"`
	P2P      bool   `mapstructure:"p2p" yaml:"p2p"`
}

// MediaConfig RTP и видео.
type MediaConfig struct {
	RTPPort int     `mapstructure:"rtp_port" yaml:"rtp_port"`
	Codecs  []uint8 `mapstructure:"codecs" yaml:"codecs,flow"`
	// Video значение свойства video: true, false или имя направления
	Video string `mapstructure:"video" yaml:"video"`
}

// MetricsConfig HTTP endpoint Prometheus.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Config полная конфигурация процесса.
type Config struct {
	SIP     SIPConfig      `mapstructure:"sip" yaml:"sip"`
	Account AccountConfig  `mapstructure:"account" yaml:"account"`
	Media   MediaConfig    `mapstructure:"media" yaml:"media"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	eng := sipengine.DefaultConfig()
	return Config{
		SIP: SIPConfig{
			ListenHost:      eng.ListenHost,
			ListenPort:      eng.LocalPort,
			RemotePort:      eng.RemotePort,
			Transport:       eng.Transport,
			UserAgent:       eng.UserAgent,
			Expires:         eng.Expires,
			RegisterTimeout: eng.RegisterTimeout,
			RetryInterval:   eng.RetryInterval,
			DTMFMode:        string(eng.DTMFMode),
			DTMFPayloadType: eng.DTMFPayloadType,
		},
		Media: MediaConfig{
			Codecs: eng.Codecs,
			Video:  "false",
		},
		Log: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
	}
}

// Validate проверяет конфигурацию целиком.
func (c Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("sip: %w", err)
	}
	if c.Account.User == "" {
		return fmt.Errorf("account: не задан пользователь")
	}
	if !c.Account.P2P && c.Account.Domain == "" {
		return fmt.Errorf("account: для регистрации нужен домен")
	}
	if _, ok := ccapi.ParseDirection(c.Media.Video); !ok {
		return fmt.Errorf("media: некорректное значение video %q", c.Media.Video)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics: не задан адрес")
	}
	return nil
}

// Engine конфигурация SIP движка без логгера.
func (c Config) Engine() sipengine.Config {
	eng := sipengine.DefaultConfig()
	eng.UserAgent = c.SIP.UserAgent
	eng.Transport = c.SIP.Transport
	eng.ListenHost = c.SIP.ListenHost
	eng.LocalPort = c.SIP.ListenPort
	eng.RemotePort = c.SIP.RemotePort
	eng.Registrar = c.SIP.Registrar
	eng.DNSServer = c.SIP.DNSServer
	eng.Expires = c.SIP.Expires
	eng.RegisterTimeout = c.SIP.RegisterTimeout
	eng.RetryInterval = c.SIP.RetryInterval
	eng.DTMFMode = sipengine.DTMFMode(strings.ToLower(c.SIP.DTMFMode))
	eng.DTMFPayloadType = c.SIP.DTMFPayloadType
	eng.MediaPort = c.Media.RTPPort
	eng.Codecs = c.Media.Codecs
	return eng
}

// Credentials данные регистрации устройства.
func (c Config) Credentials() ccapi.Credentials {
	return ccapi.Credentials{
		Device:   c.Account.Device,
		User:     c.Account.User,
		Password: c.Account.Password,
		Domain:   c.Account.Domain,
	}
}

// Dump YAML представление конфигурации. Пароль скрывается.
func (c Config) Dump() ([]byte, error) {
	if c.Account.Password != "" {
		c.Account.Password = "***"
	}
	return yaml.Marshal(c)
}

// Load читает path (если задан), накладывает SOFTPHONE_* из окружения
// и значения по умолчанию. Результат не проверяется, см. Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации: %w", err)
	}
	return &cfg, nil
}

// setDefaults регистрирует все ключи, иначе AutomaticEnv не увидит их при Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"sip.listen_host":       d.SIP.ListenHost,
		"sip.listen_port":       d.SIP.ListenPort,
		"sip.remote_port":       d.SIP.RemotePort,
		"sip.transport":         d.SIP.Transport,
		"sip.user_agent":        d.SIP.UserAgent,
		"sip.registrar":         d.SIP.Registrar,
		"sip.dns_server":        d.SIP.DNSServer,
		"sip.expires":           d.SIP.Expires,
		"sip.register_timeout":  d.SIP.RegisterTimeout,
		"sip.retry_interval":    d.SIP.RetryInterval,
		"sip.dtmf_mode":         d.SIP.DTMFMode,
		"sip.dtmf_payload_type": d.SIP.DTMFPayloadType,

		"account.device":   d.Account.Device,
		"account.user":     d.Account.User,
		"account.password": d.Account.Password,
		"account.domain":   d.Account.Domain,
		"account.p2p":      d.Account.P2P,

		"media.rtp_port": d.Media.RTPPort,
		"media.codecs":   d.Media.Codecs,
		"media.video":    d.Media.Video,

		"log.level":            d.Log.Level,
		"log.format":           d.Log.Format,
		"log.add_source":       d.Log.AddSource,
		"log.file.filename":    d.Log.File.Filename,
		"log.file.max_size":    d.Log.File.MaxSize,
		"log.file.max_backups": d.Log.File.MaxBackups,
		"log.file.max_age":     d.Log.File.MaxAge,
		"log.file.compress":    d.Log.File.Compress,

		"metrics.enabled": d.Metrics.Enabled,
		"metrics.listen":  d.Metrics.Listen,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
