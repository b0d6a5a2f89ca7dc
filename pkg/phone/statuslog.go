package phone

import (
	"sync"
	"time"
)

// StatusLine строка журнала статуса.
type StatusLine struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// String формат [15:04:05] text
func (l StatusLine) String() string {
	return "[" + l.Time.Format("15:04:05") + "] " + l.Text
}

// statusLog ограниченный журнал: при переполнении вытесняются старые строки.
type statusLog struct {
	mu    sync.Mutex
	lines []StatusLine
	limit int
}

func newStatusLog(limit int) *statusLog {
	if limit <= 0 {
		limit = 500
	}
	return &statusLog{limit: limit}
}

func (l *statusLog) add(line StatusLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	if over := len(l.lines) - l.limit; over > 0 {
		l.lines = append(l.lines[:0], l.lines[over:]...)
	}
}

func (l *statusLog) snapshot() []StatusLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StatusLine(nil), l.lines...)
}
