package proc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leeineian/voxbox/sys"
)

// LibraryStore is the sound table the library keeps in sync with disk.
type LibraryStore interface {
	ListSounds(ctx context.Context) ([]sys.Sound, error)
	RegisterSound(ctx context.Context, snd sys.Sound) error
	RenameSound(ctx context.Context, from, to string) error
	DeleteSound(ctx context.Context, filename string) error
}

var audioExts = map[string]bool{
	".mp3": true, ".ogg": true, ".opus": true, ".wav": true,
	".flac": true, ".m4a": true, ".webm": true, ".aac": true,
}

func isAudioFile(name string) bool {
	return audioExts[strings.ToLower(filepath.Ext(name))]
}

// Library mirrors the sounds directory into the store.
type Library struct {
	dir     string
	store   LibraryStore
	probe   func(string) (MediaInfo, error)
	watcher *fsnotify.Watcher
}

func NewLibrary(dir string, store LibraryStore) *Library {
	return &Library{dir: dir, store: store, probe: Probe}
}

func (l *Library) Dir() string { return l.dir }

// Sync registers files missing from the store and drops rows whose file is
// gone.
func (l *Library) Sync(ctx context.Context) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}
	known, err := l.store.ListSounds(ctx)
	if err != nil {
		return err
	}

	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isAudioFile(e.Name()) {
			continue
		}
		onDisk[e.Name()] = true
	}
	registered := make(map[string]bool, len(known))
	for _, snd := range known {
		registered[snd.Filename] = true
		if !onDisk[snd.Filename] {
			if err := l.store.DeleteSound(ctx, snd.Filename); err != nil {
				return err
			}
			sys.LogLibrary(sys.MsgLibraryRemoved, snd.Filename)
		}
	}
	for name := range onDisk {
		if !registered[name] {
			l.register(ctx, name)
		}
	}
	return nil
}

func (l *Library) register(ctx context.Context, name string) {
	info, err := l.probe(filepath.Join(l.dir, name))
	if err != nil {
		sys.LogLibrary(sys.MsgLibraryProbeFail, name, err)
		return
	}
	snd := sys.Sound{Filename: name, Duration: info.Duration, Size: info.Size, Bitrate: info.Bitrate}
	if err := l.store.RegisterSound(ctx, snd); err != nil {
		sys.LogLibrary(sys.MsgLibraryProbeFail, name, err)
		return
	}
	sys.LogLibrary(sys.MsgLibraryRegistered, name, info.Duration)
}

// Watch keeps the store in sync until ctx is done.
func (l *Library) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return err
	}
	l.watcher = w
	sys.LogLibrary(sys.MsgLibraryWatching, l.dir)

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				l.handle(ctx, event)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				sys.LogLibrary(sys.MsgLibraryWatchFail, err)
			}
		}
	}()
	return nil
}

func (l *Library) handle(ctx context.Context, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !isAudioFile(name) {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		l.register(opCtx, name)
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if err := l.store.DeleteSound(opCtx, name); err != nil {
			sys.LogLibrary(sys.MsgLibraryWatchFail, err)
			return
		}
		sys.LogLibrary(sys.MsgLibraryRemoved, name)
	}
}

// Rename renames a sound in the store and on disk. The new name keeps the
// old extension.
func (l *Library) Rename(ctx context.Context, from, to string) (string, error) {
	to = SanitizeTarget(strings.TrimSuffix(to, filepath.Ext(to)))
	if to == "" {
		return "", fmt.Errorf("invalid name")
	}
	to += filepath.Ext(from)

	if err := l.store.RenameSound(ctx, from, to); err != nil {
		return "", err
	}
	if err := os.Rename(filepath.Join(l.dir, from), filepath.Join(l.dir, to)); err != nil {
		if rerr := l.store.RenameSound(ctx, to, from); rerr != nil && !errors.Is(rerr, sql.ErrNoRows) {
			sys.LogLibrary(sys.MsgLibraryWatchFail, rerr)
		}
		return "", err
	}
	return to, nil
}

// Delete removes a sound from disk and from the store.
func (l *Library) Delete(ctx context.Context, filename string) error {
	if err := os.Remove(filepath.Join(l.dir, filename)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return l.store.DeleteSound(ctx, filename)
}
