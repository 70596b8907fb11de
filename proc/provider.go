package proc

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var OpusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceDuration is the trailing silence sent after the last frame so the
// receiving side does not interpolate over the end of the clip.
const SilenceDuration = 1 * time.Second

// StreamProvider feeds encoded frames to the voice connection.
type StreamProvider struct {
	frames        chan []byte
	ctx           context.Context
	OnFirstFrame  func()
	OnFinish      func()
	startOnce     sync.Once
	finishOnce    sync.Once
	frameCount    atomic.Int64
	draining      bool
	silenceFrames int
}

func NewStreamProvider(ctx context.Context) *StreamProvider {
	return &StreamProvider{
		frames: make(chan []byte, 100),
		ctx:    ctx,
	}
}

func (p *StreamProvider) Close() {
	p.finishOnce.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

// PushFrame queues one frame. A nil frame marks the end of the stream.
func (p *StreamProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

// Played is the audio handed to the connection so far.
func (p *StreamProvider) Played() time.Duration {
	return time.Duration(p.frameCount.Load()) * RampInterval
}

func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	if p.draining {
		target := int(SilenceDuration / RampInterval)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		p.startOnce.Do(func() {
			if p.OnFirstFrame != nil {
				p.OnFirstFrame()
			}
		})
		p.frameCount.Add(1)
		return f, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return OpusSilence, nil
	}
}
