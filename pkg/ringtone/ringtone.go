// Package ringtone проигрывает сигнал вызова на устройство вывода.
//
// Плеер один на приложение, запускает и останавливает его только контроллер
// звонков. Stop идемпотентен. Пока звук не разблокирован действием
// пользователя, Play возвращает ErrPlaybackBlocked.
package ringtone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/webphone/pkg/devices"
)

// ErrPlaybackBlocked воспроизведение требует разблокировки звука.
var ErrPlaybackBlocked = errors.New("ringtone: playback requires user interaction")

// Cadence каденция сигнала: тон On, пауза Off.
type Cadence struct {
	On          time.Duration
	Off         time.Duration
	Frequencies []float64
}

// DefaultCadence сигнал вызова 440+480 Гц, 2 с тон, 4 с пауза.
var DefaultCadence = Cadence{On: 2 * time.Second, Off: 4 * time.Second, Frequencies: []float64{440, 480}}

const frameInterval = 20 * time.Millisecond

// Player плеер сигнала вызова.
type Player struct {
	open    func() (devices.Sink, error)
	cadence Cadence
	log     *slog.Logger

	mu      sync.Mutex
	locked  bool
	cancel  context.CancelFunc
	done    chan struct{}
	started int
}

// Option настройка плеера
type Option func(*Player)

// WithLogger задает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.log = l }
}

// WithCadence задает каденцию.
func WithCadence(c Cadence) Option {
	return func(p *Player) { p.cadence = c }
}

// WithUnlockRequired блокирует воспроизведение до вызова Unlock.
func WithUnlockRequired(required bool) Option {
	return func(p *Player) { p.locked = required }
}

// New создает плеер. open открывает устройство вывода при каждом запуске.
func New(open func() (devices.Sink, error), opts ...Option) *Player {
	p := &Player{
		open:    open,
		cadence: DefaultCadence,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play запускает сигнал с начала. Если сигнал уже играет, он перезапускается.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.locked {
		return ErrPlaybackBlocked
	}
	p.stopLocked()

	sink, err := p.open()
	if err != nil {
		return fmt.Errorf("open ringtone output: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.started++

	go p.loop(ctx, sink, done)
	return nil
}

// Stop останавливает сигнал. Безопасно вызывать в любом состоянии.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// Unlock разрешает воспроизведение.
func (p *Player) Unlock() {
	p.mu.Lock()
	p.locked = false
	p.mu.Unlock()
}

// Playing сообщает, играет ли сигнал.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Locked сообщает, заблокировано ли воспроизведение.
func (p *Player) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// Starts число успешных запусков.
func (p *Player) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Player) loop(ctx context.Context, sink devices.Sink, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := sink.Close(); err != nil {
			p.log.Warn("ringtone output close failed", slog.Any("error", err))
		}
	}()

	tone := devices.NewTone(p.cadence.Frequencies...)
	defer tone.Close()
	silence := devices.SilenceFrame()

	period := p.cadence.On + p.cadence.Off
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		var frame []byte
		if period <= 0 || elapsed%period < p.cadence.On {
			f, err := tone.ReadFrame()
			if err != nil {
				return
			}
			frame = f
		} else {
			frame = silence
			tone.Reset()
		}

		if err := sink.WriteFrame(frame); err != nil {
			p.log.Warn("ringtone write failed", slog.Any("error", err))
			return
		}
		elapsed += frameInterval

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
