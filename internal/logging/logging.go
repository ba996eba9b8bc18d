// Package logging собирает логгер процесса softphone.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/golang-cz/devslog"
	console "github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

// форматы вывода
const (
	FormatConsole = "console"
	FormatDev     = "dev"
	FormatJSON    = "json"
)

// FileConfig ротация файла лога.
type FileConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Config параметры логгера.
type Config struct {
	Level     string     `mapstructure:"level" yaml:"level"`
	Format    string     `mapstructure:"format" yaml:"format"`
	AddSource bool       `mapstructure:"add_source" yaml:"add_source"`
	File      FileConfig `mapstructure:"file" yaml:"file"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatConsole,
		File: FileConfig{
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Validate проверяет уровень и формат.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case FormatConsole, FormatDev, FormatJSON:
		return nil
	default:
		return fmt.Errorf("неизвестный формат лога %q", c.Format)
	}
}

// ParseLevel переводит имя уровня в slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("неизвестный уровень лога %q", s)
	}
}

var formatter = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
	slogformatter.FormatByType(func(s ccapi.CallState) slog.Value {
		return slog.StringValue(s.String())
	}),
	slogformatter.FormatByType(func(s ccapi.ConnectionStatus) slog.Value {
		return slog.StringValue(s.Token())
	}),
)

// New строит логгер. Вывод идет в out (по умолчанию os.Stdout) и, если
// задан File.Filename, в файл с ротацией. Возвращенный io.Closer закрывает файл.
func New(cfg Config, out io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if cfg.File.Filename != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case FormatConsole, "":
		handler = console.NewHandler(out, &console.HandlerOptions{
			AddSource:  cfg.AddSource,
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		})
	case FormatDev:
		handler = devslog.NewHandler(out, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: cfg.AddSource,
				Level:     level,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		})
	case FormatJSON:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
			AddSource: cfg.AddSource,
			Level:     level,
		})
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("неизвестный формат лога %q", cfg.Format)
	}
	return slog.New(formatter(handler)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
