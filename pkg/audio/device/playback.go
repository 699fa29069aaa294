package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// drainPoll is how often Wait checks whether the playback relay has emptied.
const drainPoll = 10 * time.Millisecond

var _ audio.Sink = (*Playback)(nil)

// Playback is an output device fed through an [audio.Relay]. Write blocks
// under backpressure while the device callback pulls from the relay without
// ever waiting; missing data is played as silence.
type Playback struct {
	dev    *malgo.Device
	relay  *audio.Relay
	format audio.Format
	name   string
}

// OpenPlayback initialises and starts an output device. format.Encoding
// selects the device sample format; an empty encoding selects S16.
// bufferBytes sizes the relay between writers and the device (<= 0 selects
// [audio.DefaultRelayCapacity]).
func OpenPlayback(c *Context, cfg Config, enc audio.Encoding, bufferBytes int) (*Playback, error) {
	if enc == "" {
		enc = audio.EncodingS16LE
	}
	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.Playback.Format = formatOf(enc)
	dc.Playback.Channels = uint32(cfg.Channels)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Alsa.NoMMap = 1

	name := "default"
	info, ok, err := c.lookup(malgo.Playback, cfg.Device)
	if err != nil {
		return nil, err
	}
	if ok {
		dc.Playback.DeviceID = info.ID.Pointer()
		name = info.Name()
	}

	relay := audio.NewRelay(bufferBytes)
	cb := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := relay.TryRead(out)
			clear(out[n:])
		},
	}

	dev, err := malgo.InitDevice(c.mctx.Context, dc, cb)
	if err != nil {
		return nil, fmt.Errorf("device: init playback %q: %w", name, err)
	}
	got, err := encodingOf(dev.PlaybackFormat())
	if err != nil {
		dev.Uninit()
		return nil, err
	}
	p := &Playback{
		dev:   dev,
		relay: relay,
		name:  name,
		format: audio.Format{
			SampleRate: int(dev.SampleRate()),
			Channels:   int(dev.PlaybackChannels()),
			Encoding:   got,
		},
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start playback %q: %w", name, err)
	}
	slog.Info("playback device ready", "device", name, "format", p.format)
	return p, nil
}

// Write queues PCM in the device format. It blocks while the relay is full.
func (p *Playback) Write(b []byte) (int, error) { return p.relay.Write(b) }

// Wait blocks until every queued byte has been handed to the device or ctx is
// done.
func (p *Playback) Wait(ctx context.Context) error {
	t := time.NewTicker(drainPoll)
	defer t.Stop()
	for p.relay.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Format returns the negotiated output format.
func (p *Playback) Format() audio.Format { return p.format }

// Name returns the human-readable device name.
func (p *Playback) Name() string { return p.name }

// Close stops the device and unblocks pending writers.
func (p *Playback) Close() error {
	_ = p.relay.Close()
	p.dev.Uninit()
	return nil
}
