package proc

import (
	"context"
	"fmt"
	"sync"

	"github.com/leeineian/voxbox/sys"
)

// StatsWriter persists a batch of statistics in one transaction.
type StatsWriter interface {
	ApplyStats(ctx context.Context, events []sys.StatEvent) error
}

// StatsBuffer defers statistics writes until the session goes idle.
type StatsBuffer struct {
	mu      sync.Mutex
	pending []sys.StatEvent
	writer  StatsWriter
}

func NewStatsBuffer(w StatsWriter) *StatsBuffer {
	return &StatsBuffer{writer: w}
}

func (b *StatsBuffer) Add(events ...sys.StatEvent) {
	b.mu.Lock()
	b.pending = append(b.pending, events...)
	b.mu.Unlock()
}

func (b *StatsBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes everything buffered. Failed batches are dropped; losing
// statistics never blocks playback.
func (b *StatsBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 || b.writer == nil {
		return nil
	}
	if err := b.writer.ApplyStats(ctx, batch); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	return nil
}

// statsFor returns the events recorded when item is dispatched.
func statsFor(item PlaybackItem) []sys.StatEvent {
	user := item.Base().Requester.ID
	switch it := item.(type) {
	case *FileItem:
		return []sys.StatEvent{
			{Kind: sys.StatUserPlayedSound, UserID: user},
			{Kind: sys.StatSoundPlayed, Sound: it.Filename},
		}
	case *RecordingItem:
		return []sys.StatEvent{{Kind: sys.StatUserPlayedRecording, UserID: user}}
	case *StreamItem:
		return []sys.StatEvent{{Kind: sys.StatUserPlayedStream, UserID: user}}
	}
	return nil
}
