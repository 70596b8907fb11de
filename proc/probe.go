package proc

import (
	"errors"
	"os"
	"time"

	"github.com/asticode/go-astiav"
)

// MediaInfo describes an audio file on disk.
type MediaInfo struct {
	Duration time.Duration
	Size     int64
	Bitrate  int64
}

// Probe reads the container header of path.
func Probe(path string) (MediaInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return MediaInfo{}, err
	}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return MediaInfo{}, errors.New("failed to alloc ctx")
	}
	defer fc.Free()

	if err := fc.OpenInput(path, nil, nil); err != nil {
		return MediaInfo{}, err
	}
	defer fc.CloseInput()

	if err := fc.FindStreamInfo(nil); err != nil {
		return MediaInfo{}, err
	}

	hasAudio := false
	for _, s := range fc.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return MediaInfo{}, errors.New("no audio")
	}

	return MediaInfo{
		// Container durations are in AV_TIME_BASE (microseconds).
		Duration: time.Duration(fc.Duration()) * time.Microsecond,
		Size:     st.Size(),
		Bitrate:  fc.BitRate(),
	}, nil
}
