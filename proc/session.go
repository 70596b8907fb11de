package proc

import "time"

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhasePlaying
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// SessionState is what is happening on the voice connection right now.
type SessionState struct {
	Phase        Phase
	Current      PlaybackItem
	Volume       float64
	LastActivity time.Time
	// Elapsed is the playback position of Current when the state was read.
	Elapsed time.Duration
}

// Snapshot is a consistent copy of the scheduler state for display.
type Snapshot struct {
	State   SessionState
	Pending []PlaybackItem
	History []PlaybackItem
	// PendingDuration is the known duration left in the queue.
	PendingDuration time.Duration
	Connected       bool
}
