package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MixMode int

const (
	MixConcat MixMode = iota
	MixChannelMap
)

func (m MixMode) String() string {
	if m == MixChannelMap {
		return "mix"
	}
	return "concat"
}

// Input is one source of a pipeline.
type Input struct {
	Path string
	// Offset delays the input inside a mix.
	Offset time.Duration
	// Remote inputs are network URLs and get reconnect options.
	Remote bool
}

type SinkKind int

const (
	SinkLive SinkKind = iota
	SinkFile
)

// Sink is where the pipeline output goes.
type Sink struct {
	Kind SinkKind
	// File sinks only.
	Path      string
	FinalName string
	Codec     string
	Bitrate   string
}

// PipelineSpec describes one transcoder job.
type PipelineSpec struct {
	Inputs   []Input
	Mix      MixMode
	Effects  []string
	Seek     time.Duration
	Duration time.Duration
	Sink     Sink
}

// IsExport reports whether the job writes a file instead of playing.
func (p *PipelineSpec) IsExport() bool {
	return p.Sink.Kind == SinkFile
}

// Live output format expected by the opus encoder.
const (
	LiveSampleRate = 48000
	LiveChannels   = 2
)

var effectPresets = map[string]string{
	"echo":    "aecho=0.8:0.9:500:0.3",
	"bass":    "bass=g=15",
	"loud":    "volume=3",
	"quiet":   "volume=0.4",
	"fast":    "atempo=1.5",
	"slow":    "atempo=0.75",
	"high":    "asetrate=48000*1.25,aresample=48000",
	"low":     "asetrate=48000*0.8,aresample=48000",
	"reverse": "areverse",
	"vibrato": "vibrato=f=7:d=0.6",
	"phone":   "highpass=f=300,lowpass=f=3400",
}

var rawFilterName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// effectFilter maps a named effect to its filter. Unknown names that look
// like a bare filter are passed through.
func effectFilter(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if f, ok := effectPresets[name]; ok {
		return f, true
	}
	if rawFilterName.MatchString(name) {
		return name, true
	}
	return "", false
}

// ExportSettings configures file sinks.
type ExportSettings struct {
	Codec     string
	Bitrate   string
	Container string
	TempDir   string
	SoundsDir string
}

// PipelineBuilder turns item data into a PipelineSpec.
type PipelineBuilder struct {
	MaxInputs int
	Export    ExportSettings
	// exists reports whether a file is present; os.Stat when nil.
	exists func(path string) bool
	newID  func() string
}

func NewPipelineBuilder(maxInputs int, export ExportSettings) *PipelineBuilder {
	return &PipelineBuilder{MaxInputs: maxInputs, Export: export, newID: uuid.NewString}
}

func (b *PipelineBuilder) fileExists(path string) bool {
	if b.exists != nil {
		return b.exists(path)
	}
	_, err := os.Stat(path)
	return err == nil
}

// Build assembles a pipeline for inputs. played is the resume offset of a
// requeued item and is added to the seek.
func (b *PipelineBuilder) Build(inputs []Input, mix MixMode, flags Flags, played time.Duration) (*PipelineSpec, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyPipeline
	}
	if b.MaxInputs > 0 && len(inputs) > b.MaxInputs {
		inputs = inputs[:b.MaxInputs]
	}

	spec := &PipelineSpec{
		Inputs: inputs,
		Mix:    mix,
		Seek:   flags.Start + played,
	}

	switch {
	case flags.Duration > 0:
		spec.Duration = flags.Duration
	case flags.End > 0 && flags.End-flags.Start > 0:
		spec.Duration = flags.End - flags.Start
	}
	if spec.Duration > 0 && played > 0 {
		spec.Duration -= played
		if spec.Duration <= 0 {
			return nil, ErrEmptyPipeline
		}
	}

	for _, e := range flags.Effects {
		if f, ok := effectFilter(e); ok {
			spec.Effects = append(spec.Effects, f)
		}
	}

	if flags.Target != "" {
		name := SanitizeTarget(flags.Target)
		if name == "" {
			return nil, fmt.Errorf("invalid export name %q", flags.Target)
		}
		final := IncrementFilename(name+"."+b.Export.Container, b.Export.SoundsDir, b.fileExists)
		id := final
		if b.newID != nil {
			id = b.newID() + filepath.Ext(final)
		}
		spec.Sink = Sink{
			Kind:      SinkFile,
			Path:      filepath.Join(b.Export.TempDir, id),
			FinalName: final,
			Codec:     b.Export.Codec,
			Bitrate:   b.Export.Bitrate,
		}
	}
	return spec, nil
}

// Args renders the ffmpeg argument list.
func (p *PipelineSpec) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	single := len(p.Inputs) == 1
	for _, in := range p.Inputs {
		if in.Remote {
			args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
		}
		if single && p.Seek > 0 {
			args = append(args, "-ss", formatSeconds(p.Seek))
		}
		args = append(args, "-i", in.Path)
	}

	if graph := p.filterGraph(); graph != "" {
		args = append(args, "-filter_complex", graph, "-map", "[out]")
	}

	if !single && p.Seek > 0 {
		args = append(args, "-ss", formatSeconds(p.Seek))
	}
	if p.Duration > 0 {
		args = append(args, "-t", formatSeconds(p.Duration))
	}

	// Exports keep the live layout.
	args = append(args, "-ar", strconv.Itoa(LiveSampleRate), "-ac", strconv.Itoa(LiveChannels))
	if p.Sink.Kind == SinkFile {
		args = append(args, "-c:a", p.Sink.Codec, "-b:a", p.Sink.Bitrate, "-y", p.Sink.Path)
	} else {
		args = append(args, "-f", "s16le", "pipe:1")
	}
	return args
}

func (p *PipelineSpec) filterGraph() string {
	effects := strings.Join(p.Effects, ",")

	if len(p.Inputs) == 1 {
		if effects == "" {
			return ""
		}
		return "[0:a]" + effects + "[out]"
	}

	var b strings.Builder
	n := len(p.Inputs)
	if p.Mix == MixChannelMap {
		for i, in := range p.Inputs {
			ms := in.Offset.Milliseconds()
			fmt.Fprintf(&b, "[%d:a]adelay=%d|%d[d%d];", i, ms, ms, i)
		}
		for i := range p.Inputs {
			fmt.Fprintf(&b, "[d%d]", i)
		}
		fmt.Fprintf(&b, "amix=inputs=%d:duration=longest:dropout_transition=0", n)
	} else {
		for i := range p.Inputs {
			fmt.Fprintf(&b, "[%d:a]", i)
		}
		fmt.Fprintf(&b, "concat=n=%d:v=0:a=1", n)
	}
	if effects != "" {
		b.WriteString("," + effects)
	}
	b.WriteString("[out]")
	return b.String()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

var unsafeTargetChars = regexp.MustCompile(`[/\\?%*:|"<> ]`)

// SanitizeTarget strips a leading command slash and characters that are
// unsafe in file names.
func SanitizeTarget(target string) string {
	target = strings.TrimPrefix(strings.TrimSpace(target), "/")
	return strings.ToLower(unsafeTargetChars.ReplaceAllString(target, ""))
}

// IncrementFilename appends a counter to the base name until it no longer
// collides with a file in dir.
func IncrementFilename(name, dir string, exists func(string) bool) string {
	if !exists(filepath.Join(dir, name)) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := base + strconv.Itoa(i) + ext
		if !exists(filepath.Join(dir, candidate)) {
			return candidate
		}
	}
}
