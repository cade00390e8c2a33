// Package capture provides audio sources for dictation sessions.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Microphone captures signed 16-bit audio from the default input device.
// Blocks are delivered at the device rate; the session resamples them.
type Microphone struct {
	cfg config.AudioConfig
	log *slog.Logger

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool
}

func NewMicrophone(cfg config.AudioConfig, logger *slog.Logger) *Microphone {
	return &Microphone{cfg: cfg, log: logger.With(slog.String("component", "capture"))}
}

func (m *Microphone) Start(ctx context.Context, deliver func(block []float32, sampleRate int)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return errors.New("microphone already started")
	}
	if m.mctx == nil {
		mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("init audio context: %w", err)
		}
		m.mctx = mctx
	}

	channels := max(m.cfg.DeviceChannels, 1)
	rate := m.cfg.DeviceSampleRate
	if rate <= 0 {
		rate = m.cfg.SampleRate
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(rate)
	if m.cfg.BlockFrames > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(m.cfg.BlockFrames)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if !m.running.Load() {
				return
			}
			samples, err := audio.DecodePCM16(input)
			if err != nil {
				return
			}
			deliver(audio.Downmix(samples, channels), rate)
		},
	}

	device, err := malgo.InitDevice(m.mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	m.running.Store(true)
	if err := device.Start(); err != nil {
		m.running.Store(false)
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}
	m.device = device
	m.log.Info("microphone started", slog.Int("sample_rate", rate), slog.Int("channels", channels))
	return nil
}

func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running.Store(false)
	if m.device == nil {
		return nil
	}
	err := m.device.Stop()
	m.device.Uninit()
	m.device = nil
	return err
}

// Close releases the audio context. The microphone cannot be restarted.
func (m *Microphone) Close() error {
	if err := m.Stop(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mctx == nil {
		return nil
	}
	err := m.mctx.Uninit()
	m.mctx.Free()
	m.mctx = nil
	return err
}
