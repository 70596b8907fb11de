package proc

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
)

// SoundRegistrar records finished exports in the library.
type SoundRegistrar interface {
	RegisterUpload(ctx context.Context, snd sys.Sound) error
}

// FileExporter runs file-sink pipelines in the background, moves the result
// into the sounds directory and registers it.
type FileExporter struct {
	transcoder *Transcoder
	store      SoundRegistrar
	notifier   Notifier
	soundsDir  string
	timeout    time.Duration
	probe      func(string) (MediaInfo, error)
	done       func()
}

func NewFileExporter(t *Transcoder, store SoundRegistrar, n Notifier, soundsDir string) *FileExporter {
	return &FileExporter{
		transcoder: t,
		store:      store,
		notifier:   n,
		soundsDir:  soundsDir,
		timeout:    10 * time.Minute,
		probe:      Probe,
	}
}

func (e *FileExporter) Export(spec *PipelineSpec, owner Requester, title string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sys.LogError(sys.MsgTranscoderPanic, r)
			}
			if e.done != nil {
				e.done()
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.export(ctx, spec, owner); err != nil {
			sys.LogQueue(sys.MsgQueueExportFailed, spec.Sink.FinalName, err)
			e.notify(owner.ID, fmt.Sprintf(sys.MsgStreamFailedNotice, title, err))
		}
	}()
}

func (e *FileExporter) export(ctx context.Context, spec *PipelineSpec, owner Requester) error {
	if err := os.MkdirAll(filepath.Dir(spec.Sink.Path), 0755); err != nil {
		return err
	}
	defer os.Remove(spec.Sink.Path)

	if err := e.transcoder.Run(ctx, spec); err != nil {
		return err
	}

	final := filepath.Join(e.soundsDir, spec.Sink.FinalName)
	if err := moveFile(spec.Sink.Path, final); err != nil {
		return err
	}

	info, err := e.probe(final)
	if err != nil {
		sys.LogLibrary(sys.MsgLibraryProbeFail, final, err)
	}
	snd := sys.Sound{
		Filename: spec.Sink.FinalName,
		Duration: info.Duration,
		Size:     info.Size,
		Bitrate:  info.Bitrate,
		OwnerID:  owner.ID,
	}
	if err := e.store.RegisterUpload(ctx, snd); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}

	sys.LogQueue(sys.MsgQueueExportDone, snd.Filename, snd.Duration, snd.Size)
	e.notify(owner.ID, fmt.Sprintf(sys.MsgExportedNotice, snd.Filename, snd.Duration.Round(time.Millisecond)))
	return nil
}

func (e *FileExporter) notify(user snowflake.ID, text string) {
	if e.notifier != nil {
		e.notifier.Notify(user, text)
	}
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
