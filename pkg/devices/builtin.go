package devices

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/zaf/g711"
)

// ErrClosed устройство уже закрыто
var ErrClosed = errors.New("devices: closed")

// ulawSilence код нуля в PCMU
const ulawSilence = 0xFF

// Silence источник тишины.
type Silence struct {
	mu     sync.Mutex
	closed bool
}

func NewSilence() *Silence { return &Silence{} }

func (s *Silence) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return SilenceFrame(), nil
}

func (s *Silence) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// SilenceFrame кадр тишины PCMU.
func SilenceFrame() []byte {
	frame := make([]byte, FrameSamples)
	for i := range frame {
		frame[i] = ulawSilence
	}
	return frame
}

// Tone генератор суммы синусов (например, 440+480 Гц для КПВ).
type Tone struct {
	mu     sync.Mutex
	freqs  []float64
	amp    float64
	pos    uint64
	closed bool
}

// NewTone создает генератор. Амплитуда делится между частотами поровну.
func NewTone(freqs ...float64) *Tone {
	return &Tone{freqs: freqs, amp: 0.3 * math.MaxInt16}
}

func (t *Tone) ReadFrame() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	pcm := make([]byte, FrameSamples*2)
	for i := 0; i < FrameSamples; i++ {
		n := float64(t.pos + uint64(i))
		var v float64
		for _, f := range t.freqs {
			v += math.Sin(2 * math.Pi * f * n / SampleRate)
		}
		if len(t.freqs) > 0 {
			v = v / float64(len(t.freqs)) * t.amp
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	t.pos += FrameSamples
	return g711.EncodeUlaw(pcm), nil
}

// Reset возвращает генератор к началу периода.
func (t *Tone) Reset() {
	t.mu.Lock()
	t.pos = 0
	t.mu.Unlock()
}

func (t *Tone) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

type discard struct{}

// Discard приемник, отбрасывающий кадры.
func Discard() Sink { return discard{} }

func (discard) WriteFrame([]byte) error { return nil }
func (discard) Close() error            { return nil }

// Memory приемник, копящий кадры в памяти. Используется в тестах и диагностике.
type Memory struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) WriteFrame(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.frames = append(m.frames, append([]byte(nil), frame...))
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Frames копия записанных кадров.
func (m *Memory) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
