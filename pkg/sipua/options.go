package sipua

import (
	"log/slog"
	"time"

	"github.com/arzzra/webphone/pkg/devices"
)

// Option настройка агента.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	devices     devices.Opener
	listen      string
	stopTimeout time.Duration
	hostname    string
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		stopTimeout: 2 * time.Second,
	}
}

// WithLogger задает логгер агента.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDevices задает аудио устройства звонков.
// По умолчанию используется тишина на входе и сброс на выходе.
func WithDevices(d devices.Opener) Option {
	return func(o *options) { o.devices = d }
}

// WithListen дополнительно слушает адрес (udp/tcp) для входящих запросов
// при работе без WebSocket.
func WithListen(addr string) Option {
	return func(o *options) { o.listen = addr }
}

// WithStopTimeout ограничивает снятие регистрации при Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithContactHost задает хост в Contact и Via. По умолчанию
// случайное имя в зоне .invalid, как у браузерных клиентов.
func WithContactHost(host string) Option {
	return func(o *options) { o.hostname = host }
}
