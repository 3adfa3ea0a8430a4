package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 2
	defaultBitDepth   = 2
	maxBufferSize     = 17640 // 100ms at 44100Hz stereo 16-bit
)

// otoOutput is a PCM sink backed by oto/v2. There is no visualization
// tap here; the GUI owns any spectrum rendering.
type otoOutput struct {
	context    *oto.Context
	player     oto.Player
	sampleRate int
	channels   int
	mu         sync.Mutex
	cond       *sync.Cond
	buffer     *bytes.Buffer
	volume     float64
	duckVolume float64 // set to 1.0 at construction and not read; ducking keeps its pre-duck level in Backend.preDuckVol
	paused     bool
	closed     bool
}

func newOtoOutput() (*otoOutput, error) {
	ctx, ready, err := oto.NewContext(defaultSampleRate, defaultChannels, defaultBitDepth)
	if err != nil {
		return nil, fmt.Errorf("create oto context: %w", err)
	}
	<-ready

	o := &otoOutput{
		context:    ctx,
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
		buffer:     &bytes.Buffer{},
		volume:     1.0,
		duckVolume: 1.0,
	}
	o.cond = sync.NewCond(&o.mu)
	o.player = ctx.NewPlayer(o)
	return o, nil
}

func (o *otoOutput) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.paused && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		return 0, io.EOF
	}
	if o.buffer.Len() == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n, err := o.buffer.Read(p)
	if err != nil {
		return n, err
	}
	if o.volume < 1.0 && n > 0 {
		applyVolume(p[:n], o.volume)
	}
	return n, nil
}

func applyVolume(data []byte, vol float64) {
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * vol)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

func (o *otoOutput) Write(data []byte) (int, error) {
	for {
		o.mu.Lock()
		if o.buffer.Len() < maxBufferSize {
			break
		}
		o.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	defer o.mu.Unlock()

	n, err := o.buffer.Write(data)
	if err != nil {
		return n, err
	}
	if o.player != nil && !o.player.IsPlaying() && !o.paused {
		o.player.Play()
	}
	return n, nil
}

func (o *otoOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.volume = v
}

func (o *otoOutput) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

func (o *otoOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	if o.player != nil && o.player.IsPlaying() {
		o.player.Pause()
	}
}

func (o *otoOutput) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.cond.Broadcast()
	if o.player != nil && !o.player.IsPlaying() {
		o.player.Play()
	}
}

func (o *otoOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	if o.player != nil {
		o.player.Pause()
	}
	o.buffer.Reset()
}

func (o *otoOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.player != nil && o.player.IsPlaying()
}

func (o *otoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.cond.Broadcast()
	if o.player != nil {
		return o.player.Close()
	}
	return nil
}

func (o *otoOutput) SampleRate() int { return o.sampleRate }
func (o *otoOutput) Channels() int   { return o.channels }

var _ io.Reader = (*otoOutput)(nil)
