package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/voxbox/sys"
)

// ProcessRegistry tracks running transcoder processes so they can be killed
// together on stop and shutdown.
type ProcessRegistry struct {
	mu    sync.Mutex
	procs map[*exec.Cmd]struct{}
}

func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{procs: make(map[*exec.Cmd]struct{})}
}

func (r *ProcessRegistry) add(cmd *exec.Cmd) {
	r.mu.Lock()
	r.procs[cmd] = struct{}{}
	r.mu.Unlock()
}

func (r *ProcessRegistry) remove(cmd *exec.Cmd) {
	r.mu.Lock()
	delete(r.procs, cmd)
	r.mu.Unlock()
}

func (r *ProcessRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// KillAll kills every registered process and returns how many there were.
func (r *ProcessRegistry) KillAll() int {
	r.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(r.procs))
	for cmd := range r.procs {
		cmds = append(cmds, cmd)
	}
	clear(r.procs)
	r.mu.Unlock()

	for _, cmd := range cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return len(cmds)
}

// Transcoder runs ffmpeg for pipeline specs.
type Transcoder struct {
	Binary    string
	KillGrace time.Duration
	Registry  *ProcessRegistry
}

func NewTranscoder(binary string, killGrace time.Duration, reg *ProcessRegistry) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if reg == nil {
		reg = NewProcessRegistry()
	}
	return &Transcoder{Binary: binary, KillGrace: killGrace, Registry: reg}
}

// Process is a running ffmpeg whose stdout carries raw PCM.
type Process struct {
	cmd      *exec.Cmd
	reg      *ProcessRegistry
	Stdout   io.ReadCloser
	stderr   *tailBuffer
	waitOnce sync.Once
	waitErr  error
}

func (t *Transcoder) command(ctx context.Context, spec *PipelineSpec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, t.Binary, spec.Args()...)
	// Interrupt first so ffmpeg can finalize its output, then kill after
	// the grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = t.KillGrace
	return cmd
}

// Start launches a live pipeline. The caller reads Stdout and calls Wait.
func (t *Transcoder) Start(ctx context.Context, spec *PipelineSpec) (*Process, error) {
	if spec.IsExport() {
		return nil, errors.New("file sink passed to live transcoder")
	}
	cmd := t.command(ctx, spec)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	p := &Process{cmd: cmd, reg: t.Registry, Stdout: stdout, stderr: &tailBuffer{max: 20}}
	cmd.Stderr = p.stderr

	sys.LogTranscoder(sys.MsgTranscoderStart, strings.Join(cmd.Args[1:], " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	t.Registry.add(cmd)
	return p, nil
}

// Wait waits for the process to exit. It is safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.reg.remove(p.cmd)
		if err != nil {
			sys.LogTranscoder(sys.MsgTranscoderExit, err, p.stderr.String())
			p.waitErr = fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
		}
	})
	return p.waitErr
}

// Run executes a file-sink pipeline to completion.
func (t *Transcoder) Run(ctx context.Context, spec *PipelineSpec) error {
	cmd := t.command(ctx, spec)
	stderr := &tailBuffer{max: 20}
	cmd.Stderr = stderr

	sys.LogTranscoder(sys.MsgTranscoderStart, strings.Join(cmd.Args[1:], " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	t.Registry.add(cmd)
	defer t.Registry.remove(cmd)

	if err := cmd.Wait(); err != nil {
		sys.LogTranscoder(sys.MsgTranscoderExit, err, stderr.String())
		return fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	return nil
}

// tailBuffer keeps the last max lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial string
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := bufio.NewScanner(strings.NewReader(b.partial + string(p)))
	b.partial = ""
	complete := strings.HasSuffix(string(p), "\n")
	var last string
	for sc.Scan() {
		if last != "" {
			b.push(last)
		}
		last = sc.Text()
	}
	if last != "" {
		if complete {
			b.push(last)
		} else {
			b.partial = last
		}
	}
	return len(p), nil
}

func (b *tailBuffer) push(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := strings.Join(b.lines, "; ")
	if b.partial != "" {
		if out != "" {
			out += "; "
		}
		out += b.partial
	}
	return out
}
