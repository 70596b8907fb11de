package proc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/leeineian/voxbox/sys"
)

// Store is the persistence the scheduler reads during dispatch.
type Store interface {
	StatsWriter
	UserVolume(ctx context.Context, id snowflake.ID, def int) (int, error)
	MakeRecordingFileList(ctx context.Context, at time.Time, mode sys.SearchMode, window time.Duration, users []snowflake.ID) (*sys.RecordingSearch, error)
}

// StreamInfo is the playable form of a network source.
type StreamInfo struct {
	URL      string
	Title    string
	Duration time.Duration
}

type StreamResolver interface {
	Resolve(ctx context.Context, ref string) (*StreamInfo, error)
}

// Exporter runs file-sink pipelines in the background.
type Exporter interface {
	Export(spec *PipelineSpec, owner Requester, title string)
}

// Notifier delivers short messages to a user.
type Notifier interface {
	Notify(userID snowflake.ID, text string)
}

type EnqueueMode int

const (
	EnqueueAppend EnqueueMode = iota
	EnqueuePrepend
	// EnqueueNow interrupts the current item.
	EnqueueNow
)

type SchedulerConfig struct {
	Clock clock.Clock

	SoundsDir               string
	PlaybackGap             time.Duration
	SettleDelay             time.Duration
	StreamTimeout           time.Duration
	StreamResumeLimit       time.Duration
	EnablePausingLongSounds bool
	LongSoundDuration       time.Duration
	HistorySize             int
	VolumeGlobal            int
	DefaultVolume           int
	SearchWindow            time.Duration
	// VolumeRamp is the duration of a live volume change.
	VolumeRamp time.Duration
}

// SchedulerDeps are the collaborators of a Scheduler. Exporter, Notifier,
// Metrics and Kill may be nil.
type SchedulerDeps struct {
	Joins    *JoinCoordinator
	Builder  *PipelineBuilder
	Store    Store
	Resolver StreamResolver
	Exporter Exporter
	Notifier Notifier
	Metrics  *Metrics
	// Kill terminates stray transcoder processes.
	Kill func() int
}

// Scheduler owns the session state, the queue and the history. Every
// trigger is posted to a mailbox and handled by a single worker goroutine,
// so none of the owned state is shared.
type Scheduler struct {
	cfg   SchedulerConfig
	deps  SchedulerDeps
	clock clock.Clock
	stats *StatsBuffer

	mailbox chan func()
	quit    chan struct{}
	done    chan struct{}

	// Worker-owned state below.
	state    SessionState
	queue    Queue
	history  *HistoryRing
	playback Playback
	gen      uint64
	pausing  bool
	closed   bool

	cancelPrepare context.CancelFunc
	prepareTimer  *clock.Timer
	gapTimer      *clock.Timer
	settleTimer   *clock.Timer
	ramp          *VolumeRamp
}

func NewScheduler(cfg SchedulerConfig, deps SchedulerDeps) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.VolumeRamp == 0 {
		cfg.VolumeRamp = time.Second
	}
	s := &Scheduler{
		cfg:     cfg,
		deps:    deps,
		clock:   cfg.Clock,
		stats:   NewStatsBuffer(deps.Store),
		mailbox: make(chan func(), 256),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		history: NewHistoryRing(cfg.HistorySize),
	}
	s.state.Volume = EffectiveVolume(cfg.DefaultVolume, cfg.VolumeGlobal)
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.mailbox:
			s.exec(fn)
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			sys.LogError(sys.MsgQueuePanicRecovered, r)
			if s.state.Phase == PhasePreparing && s.playback == nil {
				s.resetIdle()
			}
		}
		s.deps.Metrics.ObserveSession(s.state.Phase, s.queue.Len())
	}()
	fn()
}

// post hands fn to the worker. It returns false once the scheduler closed.
func (s *Scheduler) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.mailbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the worker and waits for it.
func (s *Scheduler) call(fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrSchedulerClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrSchedulerClosed
		}
	}
}

// --- Public API ---

// Enqueue adds item to the queue and starts playback when idle. Append and
// Now requests end a pause. For Append the position is the queue length
// afterwards, zero when the item started right away.
func (s *Scheduler) Enqueue(item PlaybackItem, mode EnqueueMode) (position int, err error) {
	err = s.call(func() {
		position = s.enqueue(item, mode)
	})
	return position, err
}

// Advance asks the worker to start the next item if it is idle.
func (s *Scheduler) Advance() {
	s.post(s.advance)
}

// Pause stops the current item and keeps it at the head of the queue with
// its played offset. It reports whether anything was playing.
func (s *Scheduler) Pause() (paused bool, err error) {
	err = s.call(func() { paused = s.pause() })
	return paused, err
}

// Resume leaves the paused phase and advances the queue. It reports whether
// there is anything to play.
func (s *Scheduler) Resume() (resumed bool, err error) {
	err = s.call(func() {
		if s.pausing {
			s.pausing = false
			resumed = true
			return
		}
		if s.state.Phase == PhasePaused {
			s.state.Phase = PhaseIdle
		}
		resumed = s.queue.Len() > 0 || s.state.Phase != PhaseIdle
		s.advance()
	})
	return resumed, err
}

// Skip ends the current item. The queue then advances.
func (s *Scheduler) Skip() (skipped bool, err error) {
	err = s.call(func() {
		skipped = s.state.Current != nil
		s.stopCurrent(false, nil)
		s.advance()
	})
	return skipped, err
}

// Stop ends the current item and clears the queue. Calling it while idle
// only clears the queue.
func (s *Scheduler) Stop() (cleared int, clearedDuration time.Duration, err error) {
	err = s.call(func() {
		cleared, clearedDuration = s.queue.Clear()
		s.pausing = false
		if s.state.Phase == PhasePaused {
			s.state.Phase = PhaseIdle
		}
		s.stopCurrent(false, nil)
	})
	return cleared, clearedDuration, err
}

// Repeat re-enqueues the n-th most recent history item at the head.
func (s *Scheduler) Repeat(n int, req Requester, flags Flags) (item PlaybackItem, err error) {
	callErr := s.call(func() {
		prev, ok := s.history.Take(n)
		if !ok {
			err = ErrHistoryEmpty
			return
		}
		item = withRequest(prev, req, flags)
		s.enqueue(item, EnqueueNow)
	})
	if callErr != nil {
		return nil, callErr
	}
	return item, err
}

// SetVolume ramps the live volume to percent when something is playing.
// It returns the previous live volume as a percentage.
func (s *Scheduler) SetVolume(percent int) (previous int, ramped bool, err error) {
	err = s.call(func() {
		previous = s.livePercent()
		if s.state.Phase != PhasePlaying || s.playback == nil {
			return
		}
		target := EffectiveVolume(percent, s.cfg.VolumeGlobal)
		from := s.state.Volume
		pb := s.playback
		s.ramp.Cancel()
		s.ramp = StartRamp(s.clock, from, target, s.cfg.VolumeRamp, pb.SetVolume)
		s.state.Volume = target
		ramped = true
	})
	return previous, ramped, err
}

func (s *Scheduler) livePercent() int {
	if s.cfg.VolumeGlobal <= 0 {
		return 0
	}
	return int(math.Round(s.state.Volume * 100 / (float64(s.cfg.VolumeGlobal) / 100)))
}

// Snapshot returns a copy of the state, the queue and the history.
func (s *Scheduler) Snapshot() (snap Snapshot, err error) {
	err = s.call(func() {
		snap.State = s.state
		if s.playback != nil {
			snap.State.Elapsed = s.playback.Elapsed()
		}
		snap.Pending = s.queue.Snapshot()
		snap.History = s.history.Snapshot()
		snap.PendingDuration = s.queue.Duration()
		snap.Connected = s.deps.Joins != nil && s.deps.Joins.Current() != nil
	})
	return snap, err
}

// Close stops playback, kills transcoders, flushes statistics and stops the
// worker. Pending items are dropped.
func (s *Scheduler) Close(ctx context.Context) error {
	err := s.call(func() {
		s.closed = true
		s.stopTimers()
		if s.cancelPrepare != nil {
			s.cancelPrepare()
			s.cancelPrepare = nil
		}
		if s.playback != nil {
			s.playback.Stop()
			s.playback = nil
		}
		s.kill()
		s.ramp.Cancel()
		s.flushStats(ctx)
		close(s.quit)
	})
	if errors.Is(err, ErrSchedulerClosed) {
		return nil
	}
	<-s.done
	return err
}

// --- Worker ---

func (s *Scheduler) enqueue(item PlaybackItem, mode EnqueueMode) int {
	// A new request overrides a pause. The paused item stays at the head.
	stopping := s.pausing
	if mode != EnqueuePrepend {
		s.pausing = false
		if s.state.Phase == PhasePaused {
			s.state.Phase = PhaseIdle
		}
	}

	switch mode {
	case EnqueueAppend:
		s.queue.Append(item)
		s.advance()
		return s.queue.Len()
	case EnqueuePrepend:
		s.queue.Prepend(item)
		s.advance()
		return 1
	}

	// A pipeline already stopping for a pause ends on its own.
	if !stopping && (s.state.Phase == PhasePlaying || s.state.Phase == PhasePreparing) {
		s.stopCurrent(true, item)
	}
	s.queue.Prepend(item)
	s.advance()
	return 1
}

func (s *Scheduler) advance() {
	if s.closed || s.state.Phase != PhaseIdle || s.queue.Len() == 0 {
		return
	}
	// Exports write a file and need no connection.
	head, _ := s.queue.Peek()
	var conn Connection
	if s.deps.Joins != nil {
		conn = s.deps.Joins.Current()
	}
	if conn == nil && head.Base().Flags.Target == "" {
		sys.LogQueue(sys.MsgQueueNoConnection)
		return
	}

	if wait := s.cfg.PlaybackGap - s.clock.Since(s.state.LastActivity); wait > 0 {
		if s.gapTimer == nil {
			s.gapTimer = s.clock.AfterFunc(wait, func() {
				s.post(func() {
					s.gapTimer = nil
					s.advance()
				})
			})
		}
		return
	}

	item, _ := s.queue.Dequeue()
	s.gen++
	s.state.Phase = PhasePreparing
	s.state.Current = item
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	if item.Base().Flags.Target == "" {
		s.history.Push(item)
	}
	s.deps.Metrics.ItemDispatched(item.Kind())
	sys.LogQueue(sys.MsgQueueDispatch, item.Title(), s.queue.Len())

	switch it := item.(type) {
	case *FileItem:
		s.dispatchFile(conn, it)
	case *RecordingItem:
		s.dispatchRecording(conn, it)
	case *StreamItem:
		s.dispatchStream(conn, it)
	}
}

func (s *Scheduler) dispatchFile(conn Connection, it *FileItem) {
	inputs := []Input{{Path: filepath.Join(s.cfg.SoundsDir, it.Filename)}}
	spec, err := s.deps.Builder.Build(inputs, MixConcat, it.Flags, it.PlayedOffset)
	if err != nil {
		s.fail(it, err)
		return
	}
	s.start(conn, it, spec)
}

func (s *Scheduler) dispatchRecording(conn Connection, it *RecordingItem) {
	if it.Chunked() && s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		next, err := s.deps.Store.MakeRecordingFileList(ctx, it.Search.End, it.Mode, s.cfg.SearchWindow, it.Users)
		cancel()
		switch {
		case err != nil:
			sys.LogQueue(sys.MsgQueueError, it.Title(), err)
		case next != nil:
			c := *it
			c.ItemBase.ID = uuid.New()
			c.ItemBase.PlayedOffset = 0
			c.Search = next
			c.Limits = RecordingLimits{Start: next.Start, End: next.End}
			c.Duration = next.Duration()
			c.ChunkIndex++
			s.queue.Prepend(&c)
		}
		sys.LogQueue(sys.MsgQueueChunk, it.ChunkIndex, it.TotalChunks)
	}

	inputs := make([]Input, 0, len(it.Search.Inputs))
	for _, in := range it.Search.Inputs {
		inputs = append(inputs, Input{Path: in.Path, Offset: in.Offset})
	}
	mix := MixConcat
	if it.Search.Method == sys.MethodMix {
		mix = MixChannelMap
	}
	spec, err := s.deps.Builder.Build(inputs, mix, it.Flags, it.PlayedOffset)
	if err != nil {
		s.fail(it, err)
		return
	}
	s.start(conn, it, spec)
}

func (s *Scheduler) dispatchStream(conn Connection, it *StreamItem) {
	if s.deps.Resolver == nil {
		s.fail(it, errors.New("no stream resolver"))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelPrepare = cancel
	gen := s.gen

	s.prepareTimer = s.clock.AfterFunc(s.cfg.StreamTimeout, func() {
		s.post(func() { s.onStreamTimeout(gen, it) })
	})

	go func() {
		info, err := s.deps.Resolver.Resolve(ctx, it.SourceRef)
		s.post(func() { s.onStreamResolved(gen, conn, it, info, err) })
	}()
}

func (s *Scheduler) onStreamResolved(gen uint64, conn Connection, it *StreamItem, info *StreamInfo, err error) {
	if gen != s.gen || s.state.Phase != PhasePreparing {
		return
	}
	s.clearPrepare()
	if err != nil {
		sys.LogQueue(sys.MsgQueueStreamFailed, it.SourceRef, err)
		s.fail(it, err)
		return
	}

	c := *it
	c.Name = info.Title
	c.Duration = info.Duration
	if s.cfg.StreamResumeLimit > 0 && c.PlayedOffset > s.cfg.StreamResumeLimit {
		c.PlayedOffset = s.cfg.StreamResumeLimit
	}
	s.state.Current = &c

	spec, err := s.deps.Builder.Build([]Input{{Path: info.URL, Remote: true}}, MixConcat, c.Flags, c.PlayedOffset)
	if err != nil {
		s.fail(&c, err)
		return
	}
	s.start(conn, &c, spec)
}

func (s *Scheduler) onStreamTimeout(gen uint64, it *StreamItem) {
	if gen != s.gen || s.state.Phase != PhasePreparing {
		return
	}
	s.clearPrepare()
	sys.LogQueue(sys.MsgQueueStreamTimeout, it.SourceRef, s.cfg.StreamTimeout)
	s.fail(it, ErrStreamTimeout)
}

func (s *Scheduler) clearPrepare() {
	if s.prepareTimer != nil {
		s.prepareTimer.Stop()
		s.prepareTimer = nil
	}
	if s.cancelPrepare != nil {
		s.cancelPrepare()
		s.cancelPrepare = nil
	}
}

func (s *Scheduler) start(conn Connection, item PlaybackItem, spec *PipelineSpec) {
	if spec.IsExport() {
		if s.deps.Exporter == nil {
			s.fail(item, errors.New("exports are disabled"))
			return
		}
		sys.LogQueue(sys.MsgQueueExportStarted, item.Title(), spec.Sink.FinalName)
		s.deps.Exporter.Export(spec, item.Base().Requester, item.Title())
		s.resetIdle()
		s.advance()
		return
	}

	s.stats.Add(statsFor(item)...)
	vol := s.volumeFor(item)
	s.ramp.Cancel()
	s.ramp = nil
	s.state.Volume = vol

	gen := s.gen
	pb, err := conn.Play(spec, vol, func(ev PipelineEvent) {
		s.post(func() { s.onPipelineEvent(gen, ev) })
	})
	if err != nil {
		s.fail(item, fmt.Errorf("%w: %v", ErrTranscodeFailed, err))
		return
	}
	s.playback = pb
}

func (s *Scheduler) volumeFor(item PlaybackItem) float64 {
	b := item.Base()
	if b.Flags.Volume != nil {
		return EffectiveVolume(*b.Flags.Volume, s.cfg.VolumeGlobal)
	}
	personal := s.cfg.DefaultVolume
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		v, err := s.deps.Store.UserVolume(ctx, b.Requester.ID, s.cfg.DefaultVolume)
		cancel()
		if err != nil {
			sys.LogQueue(sys.MsgQueueVolumeLookupErr, b.Requester.ID, err)
		} else {
			personal = v
		}
	}
	return EffectiveVolume(personal, s.cfg.VolumeGlobal)
}

func (s *Scheduler) onPipelineEvent(gen uint64, ev PipelineEvent) {
	if gen != s.gen {
		return
	}
	switch ev.Kind {
	case EventStarted:
		if s.state.Phase == PhasePreparing {
			s.state.Phase = PhasePlaying
			sys.LogQueue(sys.MsgQueueStarted, s.state.Current.Title())
		}
	case EventEnded:
		s.finish(ev.Reason)
	case EventError:
		s.playback = nil
		s.fail(s.state.Current, fmt.Errorf("%w: %v", ErrTranscodeFailed, ev.Err))
	}
}

// finish handles the end of the current pipeline.
func (s *Scheduler) finish(reason EndReason) {
	if s.state.Current != nil {
		sys.LogQueue(sys.MsgQueueEnded, s.state.Current.Title(), reason)
	}
	s.playback = nil
	s.gen++
	s.state.Current = nil
	s.state.LastActivity = s.clock.Now()
	if s.pausing {
		s.pausing = false
		s.state.Phase = PhasePaused
	} else {
		s.state.Phase = PhaseIdle
	}
	s.scheduleSettle()
	s.advance()
}

// fail drops item after a pipeline error. The failed item is not retried.
func (s *Scheduler) fail(item PlaybackItem, err error) {
	title := ""
	if item != nil {
		title = item.Title()
		if s.deps.Notifier != nil {
			s.deps.Notifier.Notify(item.Base().Requester.ID, fmt.Sprintf(sys.MsgStreamFailedNotice, title, err))
		}
	}
	sys.LogQueue(sys.MsgQueueError, title, err)
	s.deps.Metrics.PipelineError()
	if s.playback != nil {
		s.playback.Stop()
		s.playback = nil
	}
	s.kill()
	s.resetIdle()
	s.scheduleSettle()
	s.advance()
}

func (s *Scheduler) resetIdle() {
	s.gen++
	s.clearPrepare()
	s.state.Phase = PhaseIdle
	s.state.Current = nil
	s.state.LastActivity = s.clock.Now()
}

// scheduleSettle resets the sink and flushes statistics after the settle
// delay, unless a new item was dispatched in between.
func (s *Scheduler) scheduleSettle() {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	gen := s.gen
	s.settleTimer = s.clock.AfterFunc(s.cfg.SettleDelay, func() {
		s.post(func() {
			if gen != s.gen || s.state.Phase == PhasePreparing || s.state.Phase == PhasePlaying {
				return
			}
			s.settleTimer = nil
			s.resetSink()
			s.flushStats(context.Background())
		})
	})
}

func (s *Scheduler) resetSink() {
	if s.deps.Joins == nil {
		return
	}
	if r, ok := s.deps.Joins.Current().(interface{ ResetSink() }); ok {
		r.ResetSink()
		sys.LogQueue(sys.MsgQueueSinkReset)
	}
}

func (s *Scheduler) flushStats(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.stats.Flush(ctx); err != nil {
		sys.LogQueue(sys.MsgQueueStatsFlushFail, err)
	}
}

// stopCurrent ends the current item. forPause with an incoming item may
// requeue a long file so it resumes after the interruption.
func (s *Scheduler) stopCurrent(forPause bool, incoming PlaybackItem) {
	cur := s.state.Current
	if cur == nil {
		return
	}

	if s.playback == nil {
		// Still resolving a stream; nothing is running yet. The caller
		// advances.
		s.resetIdle()
		return
	}

	if forPause && incoming != nil {
		elapsed := s.playback.Elapsed()
		if file, ok := cur.(*FileItem); ok && s.cfg.EnablePausingLongSounds &&
			remaining(file, elapsed) >= s.cfg.LongSoundDuration &&
			incoming.Length() > 0 && incoming.Length() < s.cfg.LongSoundDuration {
			played := file.PlayedOffset + elapsed
			s.queue.Prepend(withPlayed(file, played))
			sys.LogQueue(sys.MsgQueueRequeued, file.Title(), played)
		}
		if rec, ok := cur.(*RecordingItem); ok && rec.Chunked() {
			if head, ok := s.queue.Peek(); ok {
				if next, ok := head.(*RecordingItem); ok && next.ChunkIndex == rec.ChunkIndex+1 && next.TotalChunks == rec.TotalChunks {
					s.queue.Dequeue()
				}
			}
		}
	}

	s.playback.Stop()
	s.kill()
	sys.LogVoice(sys.MsgVoicePlaybackStopped, cur.Title())
}

func (s *Scheduler) pause() bool {
	cur := s.state.Current
	if cur == nil || s.pausing {
		return false
	}
	if s.playback == nil {
		s.queue.Prepend(cur)
		s.resetIdle()
		s.state.Phase = PhasePaused
		return true
	}
	played := cur.Base().PlayedOffset + s.playback.Elapsed()
	s.queue.Prepend(withPlayed(cur, played))
	s.pausing = true
	s.stopCurrent(false, nil)
	return true
}

func (s *Scheduler) kill() {
	if s.deps.Kill != nil {
		if n := s.deps.Kill(); n > 0 {
			sys.LogTranscoder(sys.MsgTranscoderKilled, n)
		}
	}
}

func (s *Scheduler) stopTimers() {
	for _, t := range []*clock.Timer{s.prepareTimer, s.gapTimer, s.settleTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.prepareTimer, s.gapTimer, s.settleTimer = nil, nil, nil
}
