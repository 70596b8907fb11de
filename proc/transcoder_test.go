package proc

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailBuffer_keepsLastLines(t *testing.T) {
	b := &tailBuffer{max: 2}
	_, _ = b.Write([]byte("one\ntwo\nthr"))
	_, _ = b.Write([]byte("ee\n"))
	assert.Equal(t, "two; three", b.String())

	_, _ = b.Write([]byte("partial"))
	assert.Equal(t, "two; three; partial", b.String())
}

func TestProcessRegistry_empty(t *testing.T) {
	r := NewProcessRegistry()
	assert.Zero(t, r.Len())
	assert.Zero(t, r.KillAll())
}

func pcm(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestScalePCM(t *testing.T) {
	data := pcm(1000, -1000, 30000, -30000)
	ScalePCM(data, 0.5)
	assert.Equal(t, pcm(500, -500, 15000, -15000), data)

	data = pcm(30000, -30000)
	ScalePCM(data, 2)
	assert.Equal(t, pcm(math.MaxInt16, math.MinInt16), data, "clamped")

	data = pcm(123)
	ScalePCM(data, 1)
	assert.Equal(t, pcm(123), data)
}

func TestParseYtdlpPrint(t *testing.T) {
	out := "WARNING junk\nSong Title\t212.5\thttps://cdn.example/audio\n"
	info, err := parseYtdlpPrint(out)
	require.NoError(t, err)
	assert.Equal(t, "Song Title", info.Title)
	assert.Equal(t, "https://cdn.example/audio", info.URL)
	assert.Equal(t, 212500*time.Millisecond, info.Duration)

	info, err = parseYtdlpPrint("Live\tNA\thttps://cdn.example/live")
	require.NoError(t, err)
	assert.Zero(t, info.Duration)

	_, err = parseYtdlpPrint("nothing useful")
	assert.Error(t, err)
}

func TestTranscoder_missingBinary(t *testing.T) {
	tr := NewTranscoder(fmt.Sprintf("/nonexistent/ffmpeg-%d", time.Now().UnixNano()), 10*time.Millisecond, NewProcessRegistry())
	spec := &PipelineSpec{Inputs: []Input{{Path: "a.mp3"}}}
	_, err := tr.Start(t.Context(), spec)
	assert.ErrorIs(t, err, ErrTranscodeFailed)
	assert.Zero(t, tr.Registry.Len())
}
