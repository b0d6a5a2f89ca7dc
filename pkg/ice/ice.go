// Package ice строит список ICE серверов для звонка.
//
// Для адресатов в локальной сети STUN/TURN не используются: список пустой.
package ice

import (
	"regexp"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/arzzra/webphone/pkg/settings"
)

// localHost совпадает с приватными, loopback и .local адресами.
// Проверка текстовая, по префиксу хоста, без разрешения имени.
var localHost = regexp.MustCompile(`(?i)^(10\.|192\.168\.|172\.(1[6-9]|2[0-9]|3[01])\.|127\.)|\.local$|^localhost$`)

// hostDelimiters символы, на которых заканчивается хост в SIP адресе.
const hostDelimiters = ":;>/?& \t"

// IsLocalHost сообщает, относится ли хост к локальной сети.
func IsLocalHost(host string) bool {
	return localHost.MatchString(host)
}

// ExtractHost выделяет хост из адресата звонка.
//
//	"1002@10.0.0.5:5060"    -> "10.0.0.5"
//	"sip:bob@pbx.local;x=y" -> "pbx.local"
//	"192.168.1.20"          -> "192.168.1.20"
//	"1002"                  -> "", false
func ExtractHost(destination string) (string, bool) {
	d := strings.TrimSpace(destination)
	if d == "" {
		return "", false
	}

	if i := strings.LastIndex(d, "@"); i >= 0 {
		host := cutHost(d[i+1:])
		return host, host != ""
	}

	lower := strings.ToLower(d)
	for _, scheme := range []string{"sips:", "sip:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			d = d[len(scheme):]
			break
		}
	}
	host := cutHost(d)
	if host == "" {
		return "", false
	}
	if strings.Contains(host, ".") || strings.EqualFold(host, "localhost") {
		return host, true
	}
	return "", false
}

func cutHost(s string) string {
	if i := strings.IndexAny(s, hostDelimiters); i >= 0 {
		s = s[:i]
	}
	return s
}

// ServersConfig возвращает ICE серверы для звонка на destination.
// Пустой destination означает, что адресат неизвестен, и серверы возвращаются
// по настройкам. Результат никогда не nil.
func ServersConfig(s settings.ConnectionSettings, destination string) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{}

	if host, ok := ExtractHost(destination); ok && IsLocalHost(host) {
		return servers
	}

	if stun := strings.TrimSpace(s.STUNServer); stun != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{stun}})
	}
	if turn := strings.TrimSpace(s.TURNServer); turn != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turn},
			Username:   strings.TrimSpace(s.TURNUsername),
			Credential: s.TURNPassword,
		})
	}
	return servers
}
