package proc

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	s        *Scheduler
	clk      *clock.Mock
	tr       *fakeTransport
	joins    *JoinCoordinator
	store    *fakeStore
	notifier *fakeNotifier
	exporter *fakeExporter
	kills    atomic.Int32
}

type harnessOpt func(*SchedulerConfig, *SchedulerDeps)

func withResolver(r StreamResolver) harnessOpt {
	return func(_ *SchedulerConfig, d *SchedulerDeps) { d.Resolver = r }
}

func withGap(gap time.Duration) harnessOpt {
	return func(c *SchedulerConfig, _ *SchedulerDeps) { c.PlaybackGap = gap }
}

func newHarness(t *testing.T, connect bool, opts ...harnessOpt) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewMock(),
		tr:       &fakeTransport{},
		store:    &fakeStore{},
		notifier: &fakeNotifier{},
		exporter: &fakeExporter{},
	}
	h.clk.Add(time.Hour)
	h.joins = NewJoinCoordinator(h.tr, h.clk, time.Second, 5*time.Second)

	cfg := SchedulerConfig{
		Clock:                   h.clk,
		SoundsDir:               "sounds",
		SettleDelay:             time.Second,
		StreamTimeout:           8 * time.Second,
		EnablePausingLongSounds: true,
		LongSoundDuration:       60 * time.Second,
		HistorySize:             5,
		VolumeGlobal:            100,
		DefaultVolume:           50,
	}
	deps := SchedulerDeps{
		Joins:    h.joins,
		Builder:  testBuilder(),
		Store:    h.store,
		Exporter: h.exporter,
		Notifier: h.notifier,
		Kill: func() int {
			h.kills.Add(1)
			return 0
		},
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	h.s = NewScheduler(cfg, deps)
	t.Cleanup(func() { _ = h.s.Close(context.Background()) })

	if connect {
		_, err := h.joins.Connect(context.Background(), 10)
		require.NoError(t, err)
	}
	return h
}

func (h *harness) conn() *fakeConn {
	h.tr.mu.Lock()
	defer h.tr.mu.Unlock()
	return h.tr.conns[len(h.tr.conns)-1]
}

func (h *harness) snap(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.s.Snapshot()
	require.NoError(t, err)
	return snap
}

func (h *harness) enqueue(t *testing.T, item PlaybackItem, mode EnqueueMode) int {
	t.Helper()
	pos, err := h.s.Enqueue(item, mode)
	require.NoError(t, err)
	return pos
}

func (c *fakeConn) resetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func titles(items []PlaybackItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title()
	}
	return out
}

func TestScheduler_playsQueueInOrder(t *testing.T) {
	h := newHarness(t, true)
	h.store.volumes = map[snowflake.ID]int{1: 20}

	assert.Equal(t, 0, h.enqueue(t, fileItem("a.mp3", 2*time.Second), EnqueueAppend))
	assert.Equal(t, 1, h.enqueue(t, fileItem("b.mp3", 2*time.Second), EnqueueAppend))

	conn := h.conn()
	require.Equal(t, 1, conn.playCount())
	first := conn.last()
	assert.Equal(t, filepath.Join("sounds", "a.mp3"), first.spec.Inputs[0].Path)
	assert.InDelta(t, 0.2, first.Volume(), 1e-9)

	snap := h.snap(t)
	assert.Equal(t, PhasePreparing, snap.State.Phase)
	assert.True(t, snap.Connected)

	first.start()
	snap = h.snap(t)
	assert.Equal(t, PhasePlaying, snap.State.Phase)
	assert.Equal(t, "a.mp3", snap.State.Current.Title())
	assert.Equal(t, []string{"b.mp3"}, titles(snap.Pending))

	first.finish()
	snap = h.snap(t)
	assert.Equal(t, PhasePreparing, snap.State.Phase)
	assert.Equal(t, "b.mp3", snap.State.Current.Title())
	assert.Empty(t, snap.Pending)
	assert.Equal(t, []string{"b.mp3", "a.mp3"}, titles(snap.History))
	assert.Equal(t, 2, conn.playCount())
}

func TestScheduler_waitsForConnection(t *testing.T) {
	h := newHarness(t, false)

	assert.Equal(t, 1, h.enqueue(t, fileItem("a.mp3", time.Second), EnqueueAppend))
	snap := h.snap(t)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.False(t, snap.Connected)
	assert.Len(t, snap.Pending, 1)

	_, err := h.joins.Connect(context.Background(), 10)
	require.NoError(t, err)
	h.s.Advance()

	snap = h.snap(t)
	assert.Equal(t, PhasePreparing, snap.State.Phase)
	assert.Equal(t, 1, h.conn().playCount())
}

func TestScheduler_playbackGap(t *testing.T) {
	h := newHarness(t, true, withGap(2*time.Second))

	h.enqueue(t, fileItem("a.mp3", time.Second), EnqueueAppend)
	h.enqueue(t, fileItem("b.mp3", time.Second), EnqueueAppend)
	h.conn().last().finish()

	snap := h.snap(t)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.Len(t, snap.Pending, 1)

	h.clk.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		return h.snap(t).State.Phase == PhasePreparing
	}, time.Second, time.Millisecond)
	assert.Equal(t, filepath.Join("sounds", "b.mp3"), h.conn().last().spec.Inputs[0].Path)
}

func TestScheduler_interruptRequeuesLongFile(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("long.mp3", 5*time.Minute), EnqueueAppend)
	long := h.conn().last()
	long.start()
	long.setElapsed(30 * time.Second)

	assert.Equal(t, 1, h.enqueue(t, fileItem("short.mp3", 3*time.Second), EnqueueNow))
	assert.True(t, long.Stopped())

	snap := h.snap(t)
	assert.Equal(t, "short.mp3", snap.State.Current.Title())
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, 30*time.Second, snap.Pending[0].Base().PlayedOffset)
	assert.Positive(t, h.kills.Load())

	h.conn().last().finish()
	h.snap(t)
	resumed := h.conn().last()
	assert.Equal(t, filepath.Join("sounds", "long.mp3"), resumed.spec.Inputs[0].Path)
	assert.Equal(t, 30*time.Second, resumed.spec.Seek)
}

func TestScheduler_interruptDropsShortFile(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("a.mp3", 10*time.Second), EnqueueAppend)
	h.conn().last().start()
	h.enqueue(t, fileItem("b.mp3", 3*time.Second), EnqueueNow)

	snap := h.snap(t)
	assert.Equal(t, "b.mp3", snap.State.Current.Title())
	assert.Empty(t, snap.Pending)
}

func TestScheduler_nowDuringStreamPreparation(t *testing.T) {
	h := newHarness(t, true, withResolver(blockingResolver))

	h.enqueue(t, NewStreamItem(Requester{ID: 4}, Flags{}, "slow"), EnqueueAppend)
	require.Equal(t, PhasePreparing, h.snap(t).State.Phase)

	assert.Equal(t, 1, h.enqueue(t, fileItem("airhorn.mp3", 3*time.Second), EnqueueNow))

	snap := h.snap(t)
	assert.Equal(t, PhasePreparing, snap.State.Phase)
	assert.Equal(t, "airhorn.mp3", snap.State.Current.Title())
	assert.Empty(t, snap.Pending)
	assert.Equal(t, 1, h.conn().playCount())

	h.clk.Add(8 * time.Second)
	assert.Equal(t, "airhorn.mp3", h.snap(t).State.Current.Title(), "stale stream timeout is ignored")
	assert.Empty(t, h.notifier.messages())
}

func TestScheduler_nowDuringStreamPreparationKeepsOrder(t *testing.T) {
	h := newHarness(t, true, withResolver(blockingResolver))

	h.enqueue(t, NewStreamItem(Requester{ID: 4}, Flags{}, "slow"), EnqueueAppend)
	h.enqueue(t, fileItem("next.mp3", time.Second), EnqueueAppend)
	h.enqueue(t, fileItem("airhorn.mp3", 3*time.Second), EnqueueNow)

	snap := h.snap(t)
	assert.Equal(t, "airhorn.mp3", snap.State.Current.Title())
	assert.Equal(t, []string{"next.mp3"}, titles(snap.Pending))
}

func TestScheduler_nowDuringStreamPreparationWaitsForGap(t *testing.T) {
	h := newHarness(t, true, withResolver(blockingResolver), withGap(time.Second))

	h.enqueue(t, NewStreamItem(Requester{ID: 4}, Flags{}, "slow"), EnqueueAppend)
	h.enqueue(t, fileItem("airhorn.mp3", 3*time.Second), EnqueueNow)

	snap := h.snap(t)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.Equal(t, []string{"airhorn.mp3"}, titles(snap.Pending))

	h.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return h.conn().playCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "airhorn.mp3", h.snap(t).State.Current.Title())
}

func TestScheduler_requestEndsPause(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("long.mp3", 5*time.Minute), EnqueueAppend)
	pb := h.conn().last()
	pb.start()
	pb.setElapsed(20 * time.Second)
	_, err := h.s.Pause()
	require.NoError(t, err)
	require.Equal(t, PhasePaused, h.snap(t).State.Phase)

	h.enqueue(t, fileItem("airhorn.mp3", 3*time.Second), EnqueueNow)

	snap := h.snap(t)
	assert.Equal(t, PhasePreparing, snap.State.Phase)
	assert.Equal(t, "airhorn.mp3", snap.State.Current.Title())
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, 20*time.Second, snap.Pending[0].Base().PlayedOffset)
	assert.Equal(t, 2, h.conn().playCount())

	h.conn().last().finish()
	assert.Equal(t, "long.mp3", h.snap(t).State.Current.Title())
	assert.Equal(t, 20*time.Second, h.conn().last().spec.Seek)
}

func TestScheduler_appendEndsPause(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("long.mp3", 5*time.Minute), EnqueueAppend)
	h.conn().last().start()
	_, err := h.s.Pause()
	require.NoError(t, err)

	assert.Equal(t, 1, h.enqueue(t, fileItem("b.mp3", time.Second), EnqueueAppend))

	snap := h.snap(t)
	assert.Equal(t, "long.mp3", snap.State.Current.Title())
	assert.Equal(t, []string{"b.mp3"}, titles(snap.Pending))
}

func TestScheduler_pauseAndResume(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("a.mp3", 5*time.Minute), EnqueueAppend)
	pb := h.conn().last()
	pb.start()
	pb.setElapsed(10 * time.Second)

	paused, err := h.s.Pause()
	require.NoError(t, err)
	assert.True(t, paused)

	snap := h.snap(t)
	assert.Equal(t, PhasePaused, snap.State.Phase)
	assert.Nil(t, snap.State.Current)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, 10*time.Second, snap.Pending[0].Base().PlayedOffset)

	paused, err = h.s.Pause()
	require.NoError(t, err)
	assert.False(t, paused, "nothing playing")

	resumed, err := h.s.Resume()
	require.NoError(t, err)
	assert.True(t, resumed)

	snap = h.snap(t)
	assert.Equal(t, PhasePreparing, snap.State.Phase)
	assert.Equal(t, 10*time.Second, h.conn().last().spec.Seek)
}

func TestScheduler_stopClearsQueue(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("a.mp3", 2*time.Second), EnqueueAppend)
	h.enqueue(t, fileItem("b.mp3", 2*time.Second), EnqueueAppend)
	h.enqueue(t, fileItem("c.mp3", 3*time.Second), EnqueueAppend)
	pb := h.conn().last()
	pb.start()

	cleared, dur, err := h.s.Stop()
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)
	assert.Equal(t, 5*time.Second, dur)
	assert.True(t, pb.Stopped())

	snap := h.snap(t)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.Nil(t, snap.State.Current)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, 1, h.conn().playCount())
}

func TestScheduler_skipAdvances(t *testing.T) {
	h := newHarness(t, true)

	skipped, err := h.s.Skip()
	require.NoError(t, err)
	assert.False(t, skipped)

	h.enqueue(t, fileItem("a.mp3", 2*time.Second), EnqueueAppend)
	h.enqueue(t, fileItem("b.mp3", 2*time.Second), EnqueueAppend)
	skipped, err = h.s.Skip()
	require.NoError(t, err)
	assert.True(t, skipped)

	assert.Equal(t, "b.mp3", h.snap(t).State.Current.Title())
}

func TestScheduler_streamTimeout(t *testing.T) {
	h := newHarness(t, true, withResolver(blockingResolver))

	h.enqueue(t, NewStreamItem(Requester{ID: 4}, Flags{}, "https://example.com/watch"), EnqueueAppend)
	assert.Equal(t, PhasePreparing, h.snap(t).State.Phase)

	h.clk.Add(8 * time.Second)
	require.Eventually(t, func() bool {
		return h.snap(t).State.Phase == PhaseIdle
	}, time.Second, time.Millisecond)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "https://example.com/watch")
	assert.Zero(t, h.conn().playCount())
}

func TestScheduler_streamResolved(t *testing.T) {
	resolver := resolverFunc(func(context.Context, string) (*StreamInfo, error) {
		return &StreamInfo{URL: "https://cdn.example/a", Title: "Song", Duration: 3 * time.Minute}, nil
	})
	h := newHarness(t, true, withResolver(resolver))

	h.enqueue(t, NewStreamItem(Requester{ID: 4}, Flags{}, "song"), EnqueueAppend)
	require.Eventually(t, func() bool { return h.conn().playCount() == 1 }, time.Second, time.Millisecond)

	spec := h.conn().last().spec
	assert.Equal(t, "https://cdn.example/a", spec.Inputs[0].Path)
	assert.True(t, spec.Inputs[0].Remote)

	cur := h.snap(t).State.Current
	require.NotNil(t, cur)
	assert.Equal(t, "Song", cur.Title())
	assert.Equal(t, 3*time.Minute, cur.Length())
}

func TestScheduler_streamFailureMovesOn(t *testing.T) {
	resolver := resolverFunc(func(context.Context, string) (*StreamInfo, error) {
		return nil, errBoom
	})
	h := newHarness(t, true, withResolver(resolver))

	h.enqueue(t, NewStreamItem(Requester{ID: 4}, Flags{}, "bad"), EnqueueAppend)
	h.enqueue(t, fileItem("next.mp3", time.Second), EnqueueAppend)

	require.Eventually(t, func() bool { return h.conn().playCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "next.mp3", h.snap(t).State.Current.Title())
	assert.Len(t, h.notifier.messages(), 1)
}

func TestScheduler_exportNeedsNoConnection(t *testing.T) {
	h := newHarness(t, false)

	item := NewFileItem(Requester{ID: 1}, Flags{Target: "clip"}, "a.mp3", time.Second)
	h.enqueue(t, item, EnqueueAppend)

	require.Equal(t, 1, h.exporter.count())
	h.exporter.mu.Lock()
	assert.True(t, h.exporter.specs[0].IsExport())
	h.exporter.mu.Unlock()

	snap := h.snap(t)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.Pending)
}

func TestScheduler_repeat(t *testing.T) {
	h := newHarness(t, true)

	_, err := h.s.Repeat(1, Requester{ID: 2}, Flags{})
	assert.ErrorIs(t, err, ErrHistoryEmpty)

	h.enqueue(t, fileItem("a.mp3", time.Second), EnqueueAppend)
	h.conn().last().finish()

	item, err := h.s.Repeat(1, Requester{ID: 2, Name: "other"}, Flags{})
	require.NoError(t, err)
	assert.Equal(t, "a.mp3", item.Title())
	assert.EqualValues(t, 2, item.Base().Requester.ID)

	snap := h.snap(t)
	assert.Equal(t, "a.mp3", snap.State.Current.Title())
	require.Len(t, snap.History, 1)
	assert.EqualValues(t, 2, snap.History[0].Base().Requester.ID)
	assert.Equal(t, 2, h.conn().playCount())
}

func TestScheduler_setVolumeRamps(t *testing.T) {
	h := newHarness(t, true)

	prev, ramped, err := h.s.SetVolume(80)
	require.NoError(t, err)
	assert.Equal(t, 50, prev)
	assert.False(t, ramped, "nothing playing")

	h.enqueue(t, fileItem("a.mp3", time.Minute), EnqueueAppend)
	pb := h.conn().last()
	pb.start()

	prev, ramped, err = h.s.SetVolume(100)
	require.NoError(t, err)
	assert.Equal(t, 50, prev)
	assert.True(t, ramped)

	require.Eventually(t, func() bool {
		h.clk.Add(RampInterval)
		return pb.Volume() == 1.0
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, h.snap(t).State.Volume)
}

func TestScheduler_pipelineErrorNotifiesAndAdvances(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("a.mp3", time.Second), EnqueueAppend)
	h.enqueue(t, fileItem("b.mp3", time.Second), EnqueueAppend)
	h.conn().last().crash(errBoom)

	snap := h.snap(t)
	assert.Equal(t, "b.mp3", snap.State.Current.Title())
	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "a.mp3")
	assert.Positive(t, h.kills.Load())
}

func TestScheduler_playErrorDropsItem(t *testing.T) {
	h := newHarness(t, true)
	h.conn().playErr = errBoom

	h.enqueue(t, fileItem("a.mp3", time.Second), EnqueueAppend)

	snap := h.snap(t)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.Empty(t, snap.Pending)
	assert.Len(t, h.notifier.messages(), 1)
}

func TestScheduler_settleResetsSinkAndFlushes(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("a.mp3", time.Second), EnqueueAppend)
	h.conn().last().finish()
	assert.Equal(t, PhaseIdle, h.snap(t).State.Phase)

	h.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return h.conn().resetCount() == 1 && h.store.statCount() == 2
	}, time.Second, time.Millisecond)
}

func TestScheduler_closeFlushesAndRejects(t *testing.T) {
	h := newHarness(t, true)

	h.enqueue(t, fileItem("a.mp3", time.Second), EnqueueAppend)
	pb := h.conn().last()
	pb.start()

	require.NoError(t, h.s.Close(context.Background()))
	assert.True(t, pb.Stopped())
	assert.Equal(t, 2, h.store.statCount())

	_, err := h.s.Enqueue(fileItem("b.mp3", time.Second), EnqueueAppend)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	_, err = h.s.Snapshot()
	assert.ErrorIs(t, err, ErrSchedulerClosed)
	assert.NoError(t, h.s.Close(context.Background()))
}

func recordingChunk(start time.Time, path string) *sys.RecordingSearch {
	return &sys.RecordingSearch{
		Inputs: []sys.RecordingInput{{Path: path, UserID: 1}},
		Method: sys.MethodConcat,
		Start:  start,
		End:    start.Add(3 * time.Minute),
	}
}

func chunkedRecording(start time.Time) *RecordingItem {
	mode := sys.SearchMode{Kind: sys.SearchSequence, Duration: 3 * time.Minute}
	item := NewRecordingItem(Requester{ID: 1}, Flags{}, recordingChunk(start, "r1.ogg"), mode, nil)
	item.ChunkIndex = 1
	item.TotalChunks = 3
	return item
}

func TestScheduler_recordingChunkContinuation(t *testing.T) {
	h := newHarness(t, true)
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	second := start.Add(3 * time.Minute)
	h.store.searches = []*sys.RecordingSearch{recordingChunk(second, "r2.ogg")}

	h.enqueue(t, chunkedRecording(start), EnqueueAppend)

	snap := h.snap(t)
	require.Len(t, snap.Pending, 1)
	next, ok := snap.Pending[0].(*RecordingItem)
	require.True(t, ok)
	assert.Equal(t, 2, next.ChunkIndex)
	assert.True(t, next.Limits.Start.Equal(second))
	assert.Equal(t, 3*time.Minute, next.Duration)
	assert.Contains(t, next.Title(), second.Format("2 Jan 2006 15:04"))
	assert.Contains(t, next.Title(), "(2/3)")
	assert.NotEqual(t, snap.State.Current.Base().ID, next.ID)

	h.conn().last().finish()
	snap = h.snap(t)
	cur, ok := snap.State.Current.(*RecordingItem)
	require.True(t, ok)
	assert.Equal(t, 2, cur.ChunkIndex)
	assert.Equal(t, "r2.ogg", h.conn().last().spec.Inputs[0].Path)
	assert.Empty(t, snap.Pending, "no third chunk was found")
}

func TestScheduler_interruptDiscardsNextChunk(t *testing.T) {
	h := newHarness(t, true)
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	h.store.searches = []*sys.RecordingSearch{recordingChunk(start.Add(3*time.Minute), "r2.ogg")}

	h.enqueue(t, chunkedRecording(start), EnqueueAppend)
	h.conn().last().start()
	require.Len(t, h.snap(t).Pending, 1)

	h.enqueue(t, fileItem("airhorn.mp3", 3*time.Second), EnqueueNow)

	snap := h.snap(t)
	assert.Equal(t, "airhorn.mp3", snap.State.Current.Title())
	assert.Empty(t, snap.Pending)
}
