package devices_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/webphone/pkg/devices"
)

func TestRegistryDefaults(t *testing.T) {
	r := devices.NewRegistry()

	list, err := r.EnumerateDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, devices.KindAudioInput, list[0].Kind)
	assert.Equal(t, devices.KindAudioOutput, list[1].Kind)

	src, err := r.OpenInput("")
	require.NoError(t, err)
	frame, err := src.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, devices.SilenceFrame(), frame)
	require.NoError(t, src.Close())
	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, devices.ErrClosed)

	_, err = r.OpenOutput("missing")
	assert.ErrorIs(t, err, devices.ErrUnknownDevice)
}

func TestEnumerateRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := devices.NewRegistry().EnumerateDevices(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToneFrames(t *testing.T) {
	tone := devices.NewTone(440, 480)
	first, err := tone.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, first, devices.FrameSamples)
	assert.NotEqual(t, devices.SilenceFrame(), first)

	second, err := tone.ReadFrame()
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "генератор должен продолжать фазу")

	tone.Reset()
	again, err := tone.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func writeWAV(t *testing.T, path string, samples []int16) {
	t.Helper()
	var buf bytes.Buffer
	data := new(bytes.Buffer)
	for _, s := range samples {
		require.NoError(t, binary.Write(data, binary.LittleEndian, s))
	}
	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len())))
	buf.WriteString("WAVEfmt ")
	for _, v := range []any{uint32(16), uint16(1), uint16(1), uint32(8000), uint32(16000), uint16(2), uint16(16)} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	buf.WriteString("data")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(data.Len())))
	buf.Write(data.Bytes())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestFileSourceLoops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.ulaw")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o600))

	src, err := devices.OpenFileSource(path)
	require.NoError(t, err)
	frame, err := src.ReadFrame()
	require.NoError(t, err)
	require.Len(t, frame, devices.FrameSamples)
	assert.Equal(t, []byte{1, 2, 3, 1, 2, 3}, frame[:6])
}

func TestFileSourceWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.wav")
	writeWAV(t, path, make([]int16, 320))

	src, err := devices.OpenFileSource(path)
	require.NoError(t, err)
	frame, err := src.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, devices.SilenceFrame(), frame)
}

func TestFileSourceWAVOversizedChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(20)))
	buf.WriteString("WAVEdata")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFF0)))
	buf.Write([]byte{0, 0, 0, 0})
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	_, err := devices.OpenFileSource(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds remaining 4 bytes")
}

func TestRegistryFromSpecs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "speaker.ulaw")

	r, err := devices.NewRegistryFromSpecs(
		[]devices.Spec{{ID: "tone", Label: "Test tone", Type: "tone", Frequencies: []float64{1000}}},
		[]devices.Spec{{ID: "rec", Type: "file", Path: out}},
	)
	require.NoError(t, err)

	list, err := r.EnumerateDevices(context.Background())
	require.NoError(t, err)
	assert.Contains(t, list, devices.Device{ID: "tone", Label: "Test tone", Kind: devices.KindAudioInput})
	assert.Contains(t, list, devices.Device{ID: "rec", Label: "rec", Kind: devices.KindAudioOutput})

	sink, err := r.OpenOutput("rec")
	require.NoError(t, err)
	require.NoError(t, sink.WriteFrame(devices.SilenceFrame()))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, data, devices.FrameSamples)

	_, err = devices.NewRegistryFromSpecs([]devices.Spec{{ID: "x", Type: "usb"}}, nil)
	assert.Error(t, err)
	_, err = devices.NewRegistryFromSpecs(nil, []devices.Spec{{Type: "discard"}})
	assert.Error(t, err)
}
