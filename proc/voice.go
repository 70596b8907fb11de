package proc

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
)

// VoiceTransport opens disgo voice connections for one guild.
type VoiceTransport struct {
	client     *bot.Client
	guildID    snowflake.ID
	transcoder *Transcoder
	// Receiver, when set, gets the incoming audio of every connection.
	Receiver voice.OpusFrameReceiver
}

func NewVoiceTransport(client *bot.Client, guildID snowflake.ID, t *Transcoder) *VoiceTransport {
	return &VoiceTransport{client: client, guildID: guildID, transcoder: t}
}

func (t *VoiceTransport) Join(ctx context.Context, channelID snowflake.ID) (Connection, error) {
	conn := t.client.VoiceManager.CreateConn(t.guildID)
	if err := conn.Open(ctx, channelID, false, false); err != nil {
		conn.Close(context.Background())
		return nil, err
	}
	if t.Receiver != nil {
		conn.SetOpusFrameReceiver(t.Receiver)
	}

	cctx, cancel := context.WithCancel(context.Background())
	return &voiceConnection{
		conn:       conn,
		guildID:    t.guildID,
		channelID:  channelID,
		transcoder: t.transcoder,
		ctx:        cctx,
		cancel:     cancel,
	}, nil
}

type voiceConnection struct {
	conn       voice.Conn
	guildID    snowflake.ID
	channelID  snowflake.ID
	transcoder *Transcoder
	ctx        context.Context
	cancel     context.CancelFunc

	mu      sync.Mutex
	current *voicePlayback
}

func (c *voiceConnection) ChannelID() snowflake.ID { return c.channelID }

func (c *voiceConnection) Play(spec *PipelineSpec, volume float64, notify func(PipelineEvent)) (Playback, error) {
	if c.ctx.Err() != nil {
		return nil, ErrNotConnected
	}

	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	proc, err := c.transcoder.Start(ctx, spec)
	if err != nil {
		cancel()
		return nil, err
	}
	enc, err := NewOpusEncoder()
	if err != nil {
		cancel()
		_ = proc.Wait()
		return nil, err
	}

	pb := &voicePlayback{cancel: cancel, notify: notify, done: make(chan struct{})}
	pb.SetVolume(volume)
	p := NewStreamProvider(ctx)
	pb.provider = p
	finished := make(chan struct{})
	p.OnFirstFrame = func() { notify(PipelineEvent{Kind: EventStarted}) }
	p.OnFinish = func() { close(finished) }

	c.mu.Lock()
	c.current = pb
	c.mu.Unlock()

	c.setOpusFrameProviderSafe(p)
	c.setSpeakingSafe(voice.SpeakingFlagMicrophone)

	go c.run(ctx, pb, proc, enc, finished)
	return pb, nil
}

// run pumps PCM from ffmpeg through the encoder into the provider and
// reports exactly one terminal event.
func (c *voiceConnection) run(ctx context.Context, pb *voicePlayback, proc *Process, enc *OpusEncoder, finished <-chan struct{}) {
	defer close(pb.done)
	defer enc.Close()
	defer func() {
		if r := recover(); r != nil {
			sys.LogTranscoder(sys.MsgTranscoderPanic, r)
			pb.cancel()
			_ = proc.Wait()
			pb.notify(PipelineEvent{Kind: EventError, Err: errors.New("transcoder panic")})
		}
	}()

	frames := 0
	buf := make([]byte, FrameBytes)
	var encErr error
	for {
		n, err := io.ReadFull(proc.Stdout, buf)
		if n == 0 || (err != nil && !errors.Is(err, io.ErrUnexpectedEOF)) {
			break
		}
		clear(buf[n:])
		ScalePCM(buf, pb.Volume())
		if encErr = enc.Encode(buf, pb.provider.PushFrame); encErr != nil {
			sys.LogTranscoder(sys.MsgTranscoderEncodeFail, encErr)
			pb.cancel()
			break
		}
		frames++
		if err != nil {
			break
		}
	}
	if encErr == nil {
		enc.Flush(pb.provider.PushFrame)
	}
	waitErr := proc.Wait()
	pb.provider.PushFrame(nil)

	select {
	case <-finished:
	case <-ctx.Done():
	}
	pb.cancel()
	c.clearProvider(pb)

	switch {
	case pb.stopped.Load():
		sys.LogVoice(sys.MsgVoicePlaybackStopped, c.channelID)
		pb.notify(PipelineEvent{Kind: EventEnded, Reason: EndStopped})
	case encErr != nil:
		pb.notify(PipelineEvent{Kind: EventError, Err: encErr})
	case frames == 0 && waitErr != nil:
		pb.notify(PipelineEvent{Kind: EventError, Err: waitErr})
	default:
		sys.LogVoice(sys.MsgVoicePlaybackFinished, c.channelID)
		pb.notify(PipelineEvent{Kind: EventEnded, Reason: EndFinished})
	}
}

func (c *voiceConnection) clearProvider(pb *voicePlayback) {
	c.mu.Lock()
	mine := c.current == pb
	if mine {
		c.current = nil
	}
	c.mu.Unlock()
	if mine {
		c.setOpusFrameProviderSafe(nil)
		c.setSpeakingSafe(0)
	}
}

// ResetSink detaches the frame provider so the next pipeline starts on a
// fresh one.
func (c *voiceConnection) ResetSink() {
	c.mu.Lock()
	busy := c.current != nil
	c.mu.Unlock()
	if busy {
		return
	}
	c.setOpusFrameProviderSafe(nil)
	c.setSpeakingSafe(0)
}

func (c *voiceConnection) Close(ctx context.Context) error {
	c.mu.Lock()
	pb := c.current
	c.mu.Unlock()
	if pb != nil {
		pb.Stop()
		select {
		case <-pb.done:
		case <-ctx.Done():
		}
	}
	c.cancel()
	c.conn.Close(ctx)
	return nil
}

// setOpusFrameProviderSafe retries because the connection may be mid
// reconnect and panic on a nil UDP conn.
func (c *voiceConnection) setOpusFrameProviderSafe(provider voice.OpusFrameProvider) {
	for i := range 3 {
		if c.trySetOpusFrameProvider(provider) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-c.ctx.Done():
				return
			}
		}
	}
	sys.LogVoice(sys.MsgVoiceProviderRetries, c.guildID)
}

func (c *voiceConnection) trySetOpusFrameProvider(provider voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	c.conn.SetOpusFrameProvider(provider)
	return true
}

func (c *voiceConnection) setSpeakingSafe(flags voice.SpeakingFlags) {
	for i := range 3 {
		if c.trySetSpeaking(flags) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-c.ctx.Done():
				return
			}
		}
	}
	sys.LogVoice(sys.MsgVoiceSpeakingRetries, c.guildID)
}

func (c *voiceConnection) trySetSpeaking(flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	return c.conn.SetSpeaking(ctx, flags) == nil
}

type voicePlayback struct {
	cancel   context.CancelFunc
	notify   func(PipelineEvent)
	provider *StreamProvider
	volume   atomic.Uint64
	stopped  atomic.Bool
	done     chan struct{}
}

func (p *voicePlayback) Elapsed() time.Duration { return p.provider.Played() }

func (p *voicePlayback) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

func (p *voicePlayback) SetVolume(v float64) {
	p.volume.Store(math.Float64bits(v))
}

func (p *voicePlayback) Stop() {
	p.stopped.Store(true)
	p.cancel()
}
