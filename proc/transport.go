package proc

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type EventKind int

const (
	EventStarted EventKind = iota
	EventEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// EndReason explains why a pipeline ended.
type EndReason string

const (
	EndFinished EndReason = "finished"
	EndStopped  EndReason = "stopped"
)

// PipelineEvent is one lifecycle signal of a running pipeline.
type PipelineEvent struct {
	Kind   EventKind
	Reason EndReason
	Err    error
}

// Playback is a running pipeline on a connection.
type Playback interface {
	// Elapsed is the audio time sent to the channel so far.
	Elapsed() time.Duration
	SetVolume(v float64)
	// Stop ends the pipeline. An ended event follows.
	Stop()
}

// Connection is a live voice connection.
type Connection interface {
	ChannelID() snowflake.ID
	// Play starts spec on the connection. notify receives the lifecycle
	// events and must not block.
	Play(spec *PipelineSpec, volume float64, notify func(PipelineEvent)) (Playback, error)
	Close(ctx context.Context) error
}

// Transport opens voice connections.
type Transport interface {
	Join(ctx context.Context, channelID snowflake.ID) (Connection, error)
}
