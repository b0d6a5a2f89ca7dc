package phone

import "strings"

// QualifyTarget превращает введенный номер в SIP адрес.
// Адрес с '@' возвращается без изменений. Иначе номер дополняется доменом:
// "1002" -> "sip:1002@domain", "sips:1002" -> "sips:1002@domain".
func QualifyTarget(destination, domain string) string {
	d := strings.TrimSpace(destination)
	if d == "" || strings.Contains(d, "@") {
		return d
	}

	scheme := "sip:"
	lower := strings.ToLower(d)
	switch {
	case strings.HasPrefix(lower, "sips:"):
		scheme, d = "sips:", d[len("sips:"):]
	case strings.HasPrefix(lower, "sip:"):
		d = d[len("sip:"):]
	}

	if domain = strings.TrimSpace(domain); domain == "" {
		return scheme + d
	}
	return scheme + d + "@" + domain
}
