package proc

import "errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrJoinFailed       = errors.New("join failed")
	ErrTranscodeFailed  = errors.New("transcode failed")
	ErrStreamTimeout    = errors.New("stream metadata timed out")
	ErrStorageFailed    = errors.New("storage failed")

	ErrNotConnected    = errors.New("not connected to a voice channel")
	ErrEmptyPipeline   = errors.New("pipeline has no inputs")
	ErrHistoryEmpty    = errors.New("history is empty")
	ErrSchedulerClosed = errors.New("scheduler is closed")
)
