package devices

import (
	"fmt"
	"strings"
)

// Spec описание устройства в конфигурации.
type Spec struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	// Type silence, tone, file или discard
	Type string `yaml:"type"`
	// Path файл для type=file
	Path string `yaml:"path"`
	// Frequencies частоты для type=tone
	Frequencies []float64 `yaml:"frequencies"`
}

// NewRegistryFromSpecs создает реестр с устройствами по умолчанию и
// добавляет описанные в конфигурации.
func NewRegistryFromSpecs(inputs, outputs []Spec) (*Registry, error) {
	r := NewRegistry()

	for _, s := range inputs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		spec := s
		switch strings.ToLower(spec.Type) {
		case "silence":
			r.AddInput(spec.ID, spec.label(), func() (Source, error) { return NewSilence(), nil })
		case "tone":
			freqs := spec.Frequencies
			if len(freqs) == 0 {
				freqs = []float64{440}
			}
			r.AddInput(spec.ID, spec.label(), func() (Source, error) { return NewTone(freqs...), nil })
		case "file":
			if spec.Path == "" {
				return nil, fmt.Errorf("input %q: path is required", spec.ID)
			}
			r.AddInput(spec.ID, spec.label(), func() (Source, error) { return OpenFileSource(spec.Path) })
		default:
			return nil, fmt.Errorf("input %q: unsupported type %q", spec.ID, spec.Type)
		}
	}

	for _, s := range outputs {
		if err := s.validate(); err != nil {
			return nil, err
		}
		spec := s
		switch strings.ToLower(spec.Type) {
		case "discard":
			r.AddOutput(spec.ID, spec.label(), func() (Sink, error) { return Discard(), nil })
		case "file":
			if spec.Path == "" {
				return nil, fmt.Errorf("output %q: path is required", spec.ID)
			}
			r.AddOutput(spec.ID, spec.label(), func() (Sink, error) { return CreateFileSink(spec.Path) })
		default:
			return nil, fmt.Errorf("output %q: unsupported type %q", spec.ID, spec.Type)
		}
	}
	return r, nil
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("device id is required")
	}
	return nil
}

func (s Spec) label() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}
