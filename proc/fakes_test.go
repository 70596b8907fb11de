package proc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
)

type fakePlayback struct {
	mu      sync.Mutex
	spec    *PipelineSpec
	volume  float64
	elapsed time.Duration
	stopped bool
	notify  func(PipelineEvent)
}

func (p *fakePlayback) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elapsed
}

func (p *fakePlayback) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *fakePlayback) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Stop behaves like a real pipeline: the ended event follows.
func (p *fakePlayback) Stop() {
	p.mu.Lock()
	already := p.stopped
	p.stopped = true
	p.mu.Unlock()
	if !already {
		p.notify(PipelineEvent{Kind: EventEnded, Reason: EndStopped})
	}
}

func (p *fakePlayback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *fakePlayback) start() { p.notify(PipelineEvent{Kind: EventStarted}) }
func (p *fakePlayback) finish() {
	p.notify(PipelineEvent{Kind: EventEnded, Reason: EndFinished})
}
func (p *fakePlayback) crash(err error) {
	p.notify(PipelineEvent{Kind: EventError, Err: err})
}

func (p *fakePlayback) setElapsed(d time.Duration) {
	p.mu.Lock()
	p.elapsed = d
	p.mu.Unlock()
}

type fakeConn struct {
	channel snowflake.ID

	mu      sync.Mutex
	plays   []*fakePlayback
	playErr error
	closed  bool
	resets  int
}

func (c *fakeConn) ChannelID() snowflake.ID { return c.channel }

func (c *fakeConn) Play(spec *PipelineSpec, volume float64, notify func(PipelineEvent)) (Playback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playErr != nil {
		return nil, c.playErr
	}
	pb := &fakePlayback{spec: spec, volume: volume, notify: notify}
	c.plays = append(c.plays, pb)
	return pb, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) ResetSink() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

func (c *fakeConn) playCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.plays)
}

func (c *fakeConn) last() *fakePlayback {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.plays) == 0 {
		return nil
	}
	return c.plays[len(c.plays)-1]
}

type fakeTransport struct {
	mu       sync.Mutex
	joins    []snowflake.ID
	conns    []*fakeConn
	err      error
	joinedCh chan snowflake.ID
}

func (t *fakeTransport) Join(_ context.Context, channel snowflake.ID) (Connection, error) {
	t.mu.Lock()
	t.joins = append(t.joins, channel)
	err := t.err
	ch := t.joinedCh
	t.mu.Unlock()
	if ch != nil {
		ch <- channel
	}
	if err != nil {
		return nil, err
	}
	c := &fakeConn{channel: channel}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) joinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.joins)
}

func (t *fakeTransport) joined() []snowflake.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]snowflake.ID(nil), t.joins...)
}

type fakeStore struct {
	mu       sync.Mutex
	volumes  map[snowflake.ID]int
	stats    []sys.StatEvent
	searches []*sys.RecordingSearch
}

func (s *fakeStore) ApplyStats(_ context.Context, events []sys.StatEvent) error {
	s.mu.Lock()
	s.stats = append(s.stats, events...)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) UserVolume(_ context.Context, id snowflake.ID, def int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.volumes[id]; ok {
		return v, nil
	}
	return def, nil
}

// MakeRecordingFileList hands out the queued searches in order.
func (s *fakeStore) MakeRecordingFileList(context.Context, time.Time, sys.SearchMode, time.Duration, []snowflake.ID) (*sys.RecordingSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.searches) == 0 {
		return nil, nil
	}
	next := s.searches[0]
	s.searches = s.searches[1:]
	return next, nil
}

func (s *fakeStore) statCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stats)
}

type resolverFunc func(ctx context.Context, ref string) (*StreamInfo, error)

func (f resolverFunc) Resolve(ctx context.Context, ref string) (*StreamInfo, error) {
	return f(ctx, ref)
}

// blockingResolver never answers before ctx is done.
var blockingResolver = resolverFunc(func(ctx context.Context, _ string) (*StreamInfo, error) {
	<-ctx.Done()
	return nil, ctx.Err()
})

type fakeExporter struct {
	mu    sync.Mutex
	specs []*PipelineSpec
}

func (e *fakeExporter) Export(spec *PipelineSpec, _ Requester, _ string) {
	e.mu.Lock()
	e.specs = append(e.specs, spec)
	e.mu.Unlock()
}

func (e *fakeExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.specs)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(_ snowflake.ID, text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

var errBoom = errors.New("boom")
