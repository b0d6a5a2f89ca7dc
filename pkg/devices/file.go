package devices

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/zaf/g711"
)

// FileSource проигрывает файл по кругу. Поддерживаются сырые PCMU (.ulaw)
// и WAV 16 бит моно 8 кГц.
type FileSource struct {
	mu     sync.Mutex
	data   []byte
	pos    int
	closed bool
}

// OpenFileSource загружает файл целиком.
func OpenFileSource(path string) (*FileSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	data := raw
	if strings.HasSuffix(strings.ToLower(path), ".wav") {
		pcm, err := wavPCM(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		data = g711.EncodeUlaw(pcm)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: no audio data", path)
	}
	return &FileSource{data: data}, nil
}

func (f *FileSource) ReadFrame() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	frame := make([]byte, FrameSamples)
	for i := range frame {
		frame[i] = f.data[f.pos]
		f.pos = (f.pos + 1) % len(f.data)
	}
	return frame, nil
}

func (f *FileSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// wavPCM достает отсчеты из WAV файла 16 бит моно 8 кГц.
func wavPCM(raw []byte) ([]byte, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a valid WAVE file")
	}

	var (
		format, channels, bits uint16
		rate                   uint32
	)
	r := bytes.NewReader(raw[12:])
	for {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("data chunk not found in WAV file")
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("failed to read chunk size: %w", err)
		}

		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("chunk %q size %d exceeds remaining %d bytes", id[:], size, r.Len())
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("failed to read chunk %q: %w", id[:], err)
		}

		switch string(id[:]) {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, fmt.Errorf("short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(chunk[0:])
			channels = binary.LittleEndian.Uint16(chunk[2:])
			rate = binary.LittleEndian.Uint32(chunk[4:])
			bits = binary.LittleEndian.Uint16(chunk[14:])
		case "data":
			if format != 1 || channels != 1 || bits != 16 || rate != SampleRate {
				return nil, fmt.Errorf("unsupported WAV format: fmt=%d channels=%d bits=%d rate=%d",
					format, channels, bits, rate)
			}
			return chunk, nil
		}
		// чанки выравнены по четной границе
		if size%2 == 1 {
			_, _ = r.ReadByte()
		}
	}
}

// FileSink пишет кадры PCMU в файл.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// CreateFileSink создает (или обрезает) файл.
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &FileSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) WriteFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	_, err := s.w.Write(frame)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	s.f = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
