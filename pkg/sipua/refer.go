package sipua

import (
	"bytes"
	"strconv"
	"strings"
)

// parseSipfrag извлекает статус из тела NOTIFY (message/sipfrag).
// Формат первой строки: "SIP/2.0 200 OK".
// Возвращает 0, если определить не удалось.
func parseSipfrag(body []byte) (code int, reason string) {
	if len(body) == 0 {
		return 0, ""
	}
	firstLine, _, _ := bytes.Cut(body, []byte("\n"))
	parts := strings.Fields(string(firstLine))
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "SIP/") {
		return 0, ""
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, ""
	}
	return code, strings.Join(parts[2:], " ")
}

// isReferEvent проверяет заголовок Event у NOTIFY: "refer" или "refer;id=N".
func isReferEvent(event string) bool {
	name, _, _ := strings.Cut(event, ";")
	return strings.EqualFold(strings.TrimSpace(name), "refer")
}
