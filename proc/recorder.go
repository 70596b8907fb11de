package proc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// RecordingStore persists finished recordings.
type RecordingStore interface {
	AddRecording(ctx context.Context, rec sys.Recording, gap time.Duration) (int64, error)
}

// opusPayloadType is the dynamic RTP payload type voice servers use for opus.
const opusPayloadType = 120

// Recorder writes the incoming audio of each speaker to its own ogg file.
// A file is closed once the speaker has been silent for the silence gap.
type Recorder struct {
	dir        string
	silenceGap time.Duration
	sessionGap time.Duration
	store      RecordingStore
	clock      clock.Clock

	mu       sync.Mutex
	channel  snowflake.ID
	active   map[snowflake.ID]*userTrack
	shutdown bool
	wg       sync.WaitGroup
}

type userTrack struct {
	w     *oggwriter.OggWriter
	path  string
	start time.Time
	last  time.Time
	timer *clock.Timer
}

func NewRecorder(dir string, silenceGap, sessionGap time.Duration, store RecordingStore, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		dir:        dir,
		silenceGap: silenceGap,
		sessionGap: sessionGap,
		store:      store,
		clock:      clk,
		active:     make(map[snowflake.ID]*userTrack),
	}
}

// SetChannel points the recorder at a channel. Zero pauses recording and
// closes every open file.
func (r *Recorder) SetChannel(channelID snowflake.ID) {
	r.mu.Lock()
	same := r.channel == channelID
	r.mu.Unlock()
	if !same {
		r.finishAll()
	}
	r.mu.Lock()
	r.channel = channelID
	r.mu.Unlock()
	if channelID != 0 && !same {
		sys.LogRecorder(sys.MsgRecorderStarted, channelID)
	}
}

func (r *Recorder) ReceiveOpusFrame(userID snowflake.ID, packet *voice.Packet) error {
	if packet == nil || len(packet.Opus) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown || r.channel == 0 {
		return nil
	}

	t, ok := r.active[userID]
	if !ok {
		var err error
		if t, err = r.open(userID); err != nil {
			return err
		}
		r.active[userID] = t
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: packet.Sequence,
			Timestamp:      packet.Timestamp,
			SSRC:           packet.SSRC,
		},
		Payload: packet.Opus,
	}
	if err := t.w.WriteRTP(pkt); err != nil {
		sys.LogRecorder(sys.MsgRecorderWriteFail, userID, err)
		return nil
	}

	t.last = r.clock.Now()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = r.clock.AfterFunc(r.silenceGap, func() { r.finish(userID, t) })
	return nil
}

// open must be called with r.mu held.
func (r *Recorder) open(userID snowflake.ID) (*userTrack, error) {
	now := r.clock.Now()
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%d-%s.ogg", now.UnixMilli(), userID))
	w, err := oggwriter.New(path, LiveSampleRate, LiveChannels)
	if err != nil {
		return nil, err
	}
	sys.LogRecorder(sys.MsgRecorderFileOpen, path, userID)
	return &userTrack{w: w, path: path, start: now, last: now}, nil
}

func (r *Recorder) CleanupUser(userID snowflake.ID) {
	r.mu.Lock()
	t := r.active[userID]
	r.mu.Unlock()
	if t != nil {
		r.finish(userID, t)
	}
}

// Close finishes every open file. The recorder stays usable.
func (r *Recorder) Close() {
	r.finishAll()
}

// Shutdown finishes every open file and stops accepting audio.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
	r.finishAll()
	r.wg.Wait()
	sys.LogRecorder(sys.MsgRecorderStopped)
}

func (r *Recorder) finishAll() {
	r.mu.Lock()
	tracks := make(map[snowflake.ID]*userTrack, len(r.active))
	for id, t := range r.active {
		tracks[id] = t
	}
	r.mu.Unlock()
	for id, t := range tracks {
		r.finish(id, t)
	}
}

func (r *Recorder) finish(userID snowflake.ID, t *userTrack) {
	r.mu.Lock()
	if r.active[userID] != t {
		r.mu.Unlock()
		return
	}
	delete(r.active, userID)
	channel := r.channel
	if t.timer != nil {
		t.timer.Stop()
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	if err := t.w.Close(); err != nil {
		sys.LogRecorder(sys.MsgRecorderWriteFail, userID, err)
	}
	end := t.last.Add(RampInterval)
	sys.LogRecorder(sys.MsgRecorderFileClosed, t.path, end.Sub(t.start))

	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := sys.Recording{Path: t.path, UserID: userID, ChannelID: channel, Start: t.start, End: end}
	if _, err := r.store.AddRecording(ctx, rec, r.sessionGap); err != nil {
		sys.LogRecorder(sys.MsgRecorderRegisterErr, t.path, err)
	}
}

// Active is the number of speakers currently being written.
func (r *Recorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
