// Package settings описывает параметры подключения софтфона и их хранение.
//
// Запись сохраняется целиком под ключом StorageKey в формате JSON, совместимом
// с браузерным localStorage: все поля строковые, отсутствующие поля читаются
// как пустые строки.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// StorageKey ключ, под которым хранится запись настроек.
const StorageKey = "softphoneSettings"

// ErrNoSignalingTarget возвращается, когда не задан ни WSS URI, ни SIP сервер.
var ErrNoSignalingTarget = errors.New("settings: WSS URI or SIP server required")

// ConnectionSettings параметры подключения к SIP серверу.
// Запись загружается один раз при старте и перезаписывается целиком при сохранении.
type ConnectionSettings struct {
	SIPServer      string `json:"sipServer"`
	SIPPort        string `json:"sipPort"`
	SIPUsername    string `json:"sipUsername"`
	SIPPassword    string `json:"sipPassword"`
	SIPDisplayName string `json:"sipDisplayName"`
	OutboundProxy  string `json:"outboundProxy"`
	WSSURI         string `json:"wssUri"`

	STUNServer   string `json:"stunServer"`
	TURNServer   string `json:"turnServer"`
	TURNUsername string `json:"turnUsername"`
	TURNPassword string `json:"turnPassword"`

	SelectedAudioInputID  string `json:"selectedAudioInputId"`
	SelectedAudioOutputID string `json:"selectedAudioOutputId"`
}

// Normalize возвращает копию с обрезанными пробелами. Пароли не трогаются.
func (s ConnectionSettings) Normalize() ConnectionSettings {
	out := s
	out.SIPServer = strings.TrimSpace(s.SIPServer)
	out.SIPPort = strings.TrimSpace(s.SIPPort)
	out.SIPUsername = strings.TrimSpace(s.SIPUsername)
	out.SIPDisplayName = strings.TrimSpace(s.SIPDisplayName)
	out.OutboundProxy = strings.TrimSpace(s.OutboundProxy)
	out.WSSURI = strings.TrimSpace(s.WSSURI)
	out.STUNServer = strings.TrimSpace(s.STUNServer)
	out.TURNServer = strings.TrimSpace(s.TURNServer)
	out.TURNUsername = strings.TrimSpace(s.TURNUsername)
	return out
}

// CanRegister сообщает, достаточно ли настроек для регистрации:
// нужен username и либо WSS URI, либо адрес сервера.
func (s ConnectionSettings) CanRegister() bool {
	return strings.TrimSpace(s.SIPUsername) != "" &&
		(strings.TrimSpace(s.WSSURI) != "" || strings.TrimSpace(s.SIPServer) != "")
}

// Domain домен для квалификации номеров. Если сервер не задан,
// используется хост из WSS URI.
func (s ConnectionSettings) Domain() string {
	if server := strings.TrimSpace(s.SIPServer); server != "" {
		return server
	}
	raw := strings.TrimSpace(s.WSSURI)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// AOR адрес регистрации вида sip:user@server[:port].
func (s ConnectionSettings) AOR() string {
	host := s.Domain()
	if port := strings.TrimSpace(s.SIPPort); port != "" && strings.TrimSpace(s.SIPServer) != "" {
		host = net.JoinHostPort(host, port)
	}
	return "sip:" + strings.TrimSpace(s.SIPUsername) + "@" + host
}

// SocketURI адрес WebSocket сигнализации. Явный WSS URI имеет приоритет,
// иначе адрес собирается как wss://server[:port]. defaultPort подставляется
// только если он непустой.
func (s ConnectionSettings) SocketURI(defaultPort string) (string, error) {
	if raw := strings.TrimSpace(s.WSSURI); raw != "" {
		return raw, nil
	}
	server := strings.TrimSpace(s.SIPServer)
	if server == "" {
		return "", ErrNoSignalingTarget
	}
	if defaultPort = strings.TrimSpace(defaultPort); defaultPort != "" {
		return "wss://" + net.JoinHostPort(server, defaultPort), nil
	}
	return "wss://" + server, nil
}

// Encode сериализует запись в JSON.
func Encode(s ConnectionSettings) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return data, nil
}

// Decode разбирает JSON запись. Отсутствующие поля остаются пустыми.
func Decode(data []byte) (ConnectionSettings, error) {
	var s ConnectionSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return ConnectionSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
