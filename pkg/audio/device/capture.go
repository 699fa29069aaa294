package device

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Capture is an input device delivering interleaved float32 frames.
type Capture struct {
	dev    *malgo.Device
	format audio.Format
	name   string
}

// OpenCapture initialises (but does not start) an input device. onFrame is
// invoked on the audio thread for every buffer the device delivers. The frame
// Data is only valid for the duration of the call.
//
// The channel count and sample rate the device actually negotiated are read
// once here and stay fixed for the lifetime of the Capture.
func OpenCapture(c *Context, cfg Config, onFrame func(audio.AudioFrame)) (*Capture, error) {
	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatF32
	dc.Capture.Channels = uint32(cfg.Channels)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Alsa.NoMMap = 1

	name := "default"
	info, ok, err := c.lookup(malgo.Capture, cfg.Device)
	if err != nil {
		return nil, err
	}
	if ok {
		dc.Capture.DeviceID = info.ID.Pointer()
		name = info.Name()
	}

	cp := &Capture{name: name}
	start := time.Now()
	cb := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) == 0 {
				return
			}
			onFrame(audio.AudioFrame{
				Data:       in,
				SampleRate: cp.format.SampleRate,
				Channels:   cp.format.Channels,
				Encoding:   cp.format.Encoding,
				Timestamp:  time.Since(start),
			})
		},
	}

	dev, err := malgo.InitDevice(c.mctx.Context, dc, cb)
	if err != nil {
		return nil, fmt.Errorf("device: init capture %q: %w", name, err)
	}
	enc, err := encodingOf(dev.CaptureFormat())
	if err != nil {
		dev.Uninit()
		return nil, err
	}
	cp.dev = dev
	cp.format = audio.Format{
		SampleRate: int(dev.SampleRate()),
		Channels:   int(dev.CaptureChannels()),
		Encoding:   enc,
	}
	slog.Info("capture device ready", "device", name, "format", cp.format)
	return cp, nil
}

// Format returns the negotiated capture format.
func (c *Capture) Format() audio.Format { return c.format }

// Name returns the human-readable device name.
func (c *Capture) Name() string { return c.name }

// Start begins delivering frames.
func (c *Capture) Start() error {
	if err := c.dev.Start(); err != nil {
		return fmt.Errorf("device: start capture: %w", err)
	}
	return nil
}

// Stop halts frame delivery. After Stop returns no further callbacks run.
func (c *Capture) Stop() error {
	if err := c.dev.Stop(); err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

// Close stops and releases the device.
func (c *Capture) Close() error {
	c.dev.Uninit()
	return nil
}
