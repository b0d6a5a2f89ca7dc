package sipua

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// TransportType определяет тип транспортного протокола
type TransportType string

const (
	// TransportUDP - UDP транспорт
	TransportUDP TransportType = "UDP"
	// TransportTCP - TCP транспорт
	TransportTCP TransportType = "TCP"
	// TransportTLS - TLS транспорт
	TransportTLS TransportType = "TLS"
	// TransportWS - WebSocket транспорт
	TransportWS TransportType = "WS"
	// TransportWSS - WebSocket Secure транспорт
	TransportWSS TransportType = "WSS"
)

// Param возвращает параметр transport для Contact и Via заголовков
func (t TransportType) Param() string {
	return strings.ToLower(string(t))
}

// Secure проверяет, является ли транспорт защищенным
func (t TransportType) Secure() bool {
	return t == TransportTLS || t == TransportWSS
}

// DefaultPort порт по умолчанию для транспорта
func (t TransportType) DefaultPort() int {
	switch t {
	case TransportWS:
		return 80
	case TransportWSS:
		return 443
	case TransportTLS:
		return 5061
	default:
		return 5060
	}
}

// endpoint куда отправляются все запросы агента.
type endpoint struct {
	Transport TransportType
	Host      string
	Port      int
	// WSPath путь WebSocket соединения, пустой для корня
	WSPath string
}

// ErrWSPathUnsupported транспорт sipgo подключается только к корню "/".
var ErrWSPathUnsupported = errors.New("websocket path is not supported, use a socket uri without path")

// validate проверяет, что адрес можно обслужить транспортом.
func (e endpoint) validate() error {
	if e.WSPath != "" && e.WSPath != "/" {
		return fmt.Errorf("%w: %q", ErrWSPathUnsupported, e.WSPath)
	}
	return nil
}

// Addr адрес host:port для SetDestination.
func (e endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e endpoint) String() string {
	return e.Transport.Param() + "://" + e.Addr() + e.WSPath
}

// route направляет запрос через выбранный транспорт и адрес.
func (e endpoint) route(req *sip.Request) {
	req.SetTransport(string(e.Transport))
	req.SetDestination(e.Addr())
}

// parseSocketURI разбирает адрес сигнализации: ws://, wss://, udp://, tcp://, tls://.
func parseSocketURI(raw string) (endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return endpoint{}, fmt.Errorf("parse socket uri %q: %w", raw, err)
	}
	var ep endpoint
	switch strings.ToLower(u.Scheme) {
	case "ws":
		ep.Transport = TransportWS
	case "wss":
		ep.Transport = TransportWSS
	case "udp":
		ep.Transport = TransportUDP
	case "tcp":
		ep.Transport = TransportTCP
	case "tls":
		ep.Transport = TransportTLS
	default:
		return endpoint{}, fmt.Errorf("неизвестная схема транспорта: %q", u.Scheme)
	}
	ep.Host = u.Hostname()
	if ep.Host == "" {
		return endpoint{}, fmt.Errorf("socket uri %q без хоста", raw)
	}
	ep.Port = ep.Transport.DefaultPort()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return endpoint{}, fmt.Errorf("некорректный порт %q", p)
		}
		ep.Port = port
	}
	if ep.Transport == TransportWS || ep.Transport == TransportWSS {
		ep.WSPath = u.EscapedPath()
		if u.RawQuery != "" {
			ep.WSPath += "?" + u.RawQuery
		}
	}
	return ep, nil
}

// parseProxy разбирает outbound proxy. Допускаются SIP URI
// (sip:host:port;transport=ws), URL сокета и просто host[:port].
// Транспорт по умолчанию берется из fallback.
func parseProxy(raw string, fallback TransportType) (endpoint, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		return parseSocketURI(raw)
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:") {
		var uri sip.Uri
		if err := sip.ParseUri(raw, &uri); err != nil {
			return endpoint{}, fmt.Errorf("parse outbound proxy %q: %w", raw, err)
		}
		ep := endpoint{Transport: fallback, Host: uri.Host, Port: uri.Port}
		if uri.UriParams != nil {
			if tp, ok := uri.UriParams.Get("transport"); ok && tp != "" {
				ep.Transport = TransportType(strings.ToUpper(tp))
			}
		}
		if ep.Port == 0 {
			ep.Port = ep.Transport.DefaultPort()
		}
		return ep, nil
	}

	host, port := raw, fallback.DefaultPort()
	if h, p, err := net.SplitHostPort(raw); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return endpoint{}, fmt.Errorf("некорректный порт %q", p)
		}
		host, port = h, n
	}
	if host == "" {
		return endpoint{}, fmt.Errorf("outbound proxy %q без хоста", raw)
	}
	return endpoint{Transport: fallback, Host: host, Port: port}, nil
}
