// Package devices аудио устройства софтфона.
//
// Устройство ввода отдает кадры PCMU по 20 мс (160 байт при 8 кГц),
// устройство вывода принимает такие же кадры. Реестр сопоставляет
// идентификаторы устройств из настроек с фабриками.
package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

const (
	// SampleRate частота дискретизации кадров
	SampleRate = 8000
	// FrameSamples число отсчетов в кадре 20 мс
	FrameSamples = 160
	// DefaultID устройство по умолчанию
	DefaultID = "default"
)

// Kind тип устройства, как в MediaDeviceInfo.kind
type Kind string

const (
	KindAudioInput  Kind = "audioinput"
	KindAudioOutput Kind = "audiooutput"
)

// ErrUnknownDevice устройство с таким идентификатором не зарегистрировано
var ErrUnknownDevice = errors.New("devices: unknown device")

// Device описание устройства для выбора в настройках.
type Device struct {
	ID    string `json:"deviceId"`
	Label string `json:"label"`
	Kind  Kind   `json:"kind"`
}

// Source источник кадров PCMU.
type Source interface {
	ReadFrame() ([]byte, error)
	io.Closer
}

// Sink приемник кадров PCMU.
type Sink interface {
	WriteFrame(frame []byte) error
	io.Closer
}

// Enumerator перечисляет доступные устройства.
type Enumerator interface {
	EnumerateDevices(ctx context.Context) ([]Device, error)
}

// Opener открывает устройства по идентификатору. Пустой id означает DefaultID.
type Opener interface {
	OpenInput(id string) (Source, error)
	OpenOutput(id string) (Sink, error)
}

type inputEntry struct {
	label string
	open  func() (Source, error)
}

type outputEntry struct {
	label string
	open  func() (Sink, error)
}

// Registry реестр устройств. Реализует Enumerator и Opener.
type Registry struct {
	mu      sync.RWMutex
	inputs  map[string]inputEntry
	outputs map[string]outputEntry
}

// NewRegistry создает реестр с устройствами по умолчанию: тишина на входе
// и отбрасывание на выходе.
func NewRegistry() *Registry {
	r := &Registry{
		inputs:  make(map[string]inputEntry),
		outputs: make(map[string]outputEntry),
	}
	r.AddInput(DefaultID, "Default (silence)", func() (Source, error) { return NewSilence(), nil })
	r.AddOutput(DefaultID, "Default (discard)", func() (Sink, error) { return Discard(), nil })
	return r
}

// AddInput регистрирует устройство ввода, заменяя существующее с тем же id.
func (r *Registry) AddInput(id, label string, open func() (Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[id] = inputEntry{label: label, open: open}
}

// AddOutput регистрирует устройство вывода, заменяя существующее с тем же id.
func (r *Registry) AddOutput(id, label string, open func() (Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[id] = outputEntry{label: label, open: open}
}

// EnumerateDevices возвращает устройства: сначала ввод, потом вывод,
// внутри группы по id.
func (r *Registry) EnumerateDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.inputs)+len(r.outputs))
	for id, e := range r.inputs {
		out = append(out, Device{ID: id, Label: e.label, Kind: KindAudioInput})
	}
	for id, e := range r.outputs {
		out = append(out, Device{ID: id, Label: e.label, Kind: KindAudioOutput})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindAudioInput
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Registry) OpenInput(id string) (Source, error) {
	if id == "" {
		id = DefaultID
	}
	r.mu.RLock()
	e, ok := r.inputs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input %q", ErrUnknownDevice, id)
	}
	return e.open()
}

func (r *Registry) OpenOutput(id string) (Sink, error) {
	if id == "" {
		id = DefaultID
	}
	r.mu.RLock()
	e, ok := r.outputs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output %q", ErrUnknownDevice, id)
	}
	return e.open()
}
