package ringtone_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/webphone/pkg/devices"
	"github.com/arzzra/webphone/pkg/ringtone"
)

func TestPlayWritesFramesUntilStopped(t *testing.T) {
	sink := devices.NewMemory()
	p := ringtone.New(func() (devices.Sink, error) { return sink, nil })

	require.NoError(t, p.Play())
	assert.True(t, p.Playing())

	require.Eventually(t, func() bool { return len(sink.Frames()) >= 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.Playing())
	assert.True(t, sink.Closed())

	frames := sink.Frames()
	require.NotEmpty(t, frames)
	assert.Len(t, frames[0], devices.FrameSamples)
	assert.NotEqual(t, devices.SilenceFrame(), frames[0])
}

func TestStopIsIdempotent(t *testing.T) {
	p := ringtone.New(func() (devices.Sink, error) { return devices.NewMemory(), nil })

	p.Stop()
	require.NoError(t, p.Play())
	p.Stop()
	p.Stop()
	assert.False(t, p.Playing())
}

func TestPlayRestarts(t *testing.T) {
	var sinks []*devices.Memory
	p := ringtone.New(func() (devices.Sink, error) {
		m := devices.NewMemory()
		sinks = append(sinks, m)
		return m, nil
	})

	require.NoError(t, p.Play())
	require.NoError(t, p.Play())
	defer p.Stop()

	require.Len(t, sinks, 2)
	assert.True(t, sinks[0].Closed(), "предыдущий вывод должен быть закрыт")
	assert.Equal(t, 2, p.Starts())
}

func TestPlaybackBlockedUntilUnlock(t *testing.T) {
	p := ringtone.New(func() (devices.Sink, error) { return devices.NewMemory(), nil },
		ringtone.WithUnlockRequired(true))

	err := p.Play()
	assert.ErrorIs(t, err, ringtone.ErrPlaybackBlocked)
	assert.False(t, p.Playing())
	assert.True(t, p.Locked())

	p.Unlock()
	require.NoError(t, p.Play())
	p.Stop()
}

func TestOutputOpenError(t *testing.T) {
	p := ringtone.New(func() (devices.Sink, error) { return nil, errors.New("no device") })
	assert.Error(t, p.Play())
	assert.False(t, p.Playing())
}

func TestCadencePause(t *testing.T) {
	sink := devices.NewMemory()
	p := ringtone.New(func() (devices.Sink, error) { return sink, nil },
		ringtone.WithCadence(ringtone.Cadence{On: 20 * time.Millisecond, Off: 20 * time.Millisecond, Frequencies: []float64{440}}))

	require.NoError(t, p.Play())
	require.Eventually(t, func() bool { return len(sink.Frames()) >= 2 }, time.Second, 5*time.Millisecond)
	p.Stop()

	frames := sink.Frames()
	assert.NotEqual(t, devices.SilenceFrame(), frames[0])
	assert.Equal(t, devices.SilenceFrame(), frames[1])
}
