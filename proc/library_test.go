package proc

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leeineian/voxbox/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLibraryStore struct {
	mu     sync.Mutex
	sounds map[string]sys.Sound
}

func newFakeLibraryStore(names ...string) *fakeLibraryStore {
	s := &fakeLibraryStore{sounds: make(map[string]sys.Sound)}
	for _, n := range names {
		s.sounds[n] = sys.Sound{Filename: n}
	}
	return s
}

func (s *fakeLibraryStore) ListSounds(ctx context.Context) ([]sys.Sound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sys.Sound, 0, len(s.sounds))
	for _, snd := range s.sounds {
		out = append(out, snd)
	}
	return out, nil
}

func (s *fakeLibraryStore) RegisterSound(ctx context.Context, snd sys.Sound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sounds[snd.Filename] = snd
	return nil
}

func (s *fakeLibraryStore) RenameSound(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snd, ok := s.sounds[from]
	if !ok {
		return sql.ErrNoRows
	}
	if _, taken := s.sounds[to]; taken {
		return sys.ErrSoundExists
	}
	delete(s.sounds, from)
	snd.Filename = to
	s.sounds[to] = snd
	return nil
}

func (s *fakeLibraryStore) DeleteSound(ctx context.Context, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sounds, filename)
	return nil
}

func (s *fakeLibraryStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for n := range s.sounds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func newTestLibrary(t *testing.T, store *fakeLibraryStore, files ...string) *Library {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644))
	}
	l := NewLibrary(dir, store)
	l.probe = func(path string) (MediaInfo, error) {
		if filepath.Base(path) == "broken.mp3" {
			return MediaInfo{}, errors.New("no audio")
		}
		return MediaInfo{Duration: 2 * time.Second, Size: 1}, nil
	}
	return l
}

func TestLibrary_sync(t *testing.T) {
	store := newFakeLibraryStore("gone.mp3", "kept.ogg")
	l := newTestLibrary(t, store, "new.mp3", "kept.ogg", "notes.txt", "broken.mp3")
	require.NoError(t, os.Mkdir(filepath.Join(l.Dir(), "sub.mp3"), 0755))

	require.NoError(t, l.Sync(context.Background()))
	assert.Equal(t, []string{"kept.ogg", "new.mp3"}, store.names())
	assert.Equal(t, 2*time.Second, store.sounds["new.mp3"].Duration)
}

func TestLibrary_syncCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sounds")
	l := NewLibrary(dir, newFakeLibraryStore())
	require.NoError(t, l.Sync(context.Background()))
	assert.DirExists(t, dir)
}

func TestLibrary_rename(t *testing.T) {
	store := newFakeLibraryStore("old.mp3", "taken.mp3")
	l := newTestLibrary(t, store, "old.mp3", "taken.mp3")
	ctx := context.Background()

	got, err := l.Rename(ctx, "old.mp3", "/Fresh Name.wav")
	require.NoError(t, err)
	assert.Equal(t, "freshname.mp3", got)
	assert.FileExists(t, filepath.Join(l.Dir(), "freshname.mp3"))
	assert.NoFileExists(t, filepath.Join(l.Dir(), "old.mp3"))
	assert.Equal(t, []string{"freshname.mp3", "taken.mp3"}, store.names())

	_, err = l.Rename(ctx, "freshname.mp3", "taken")
	assert.ErrorIs(t, err, sys.ErrSoundExists)
	assert.FileExists(t, filepath.Join(l.Dir(), "freshname.mp3"))

	_, err = l.Rename(ctx, "freshname.mp3", " / ")
	assert.Error(t, err)
}

func TestLibrary_renameRollsBackWhenFileMissing(t *testing.T) {
	store := newFakeLibraryStore("ghost.mp3")
	l := newTestLibrary(t, store)

	_, err := l.Rename(context.Background(), "ghost.mp3", "spirit")
	assert.Error(t, err)
	assert.Equal(t, []string{"ghost.mp3"}, store.names())
}

func TestLibrary_delete(t *testing.T) {
	store := newFakeLibraryStore("a.mp3", "b.mp3")
	l := newTestLibrary(t, store, "a.mp3")
	ctx := context.Background()

	require.NoError(t, l.Delete(ctx, "a.mp3"))
	assert.NoFileExists(t, filepath.Join(l.Dir(), "a.mp3"))

	require.NoError(t, l.Delete(ctx, "b.mp3"), "a missing file still drops the row")
	assert.Empty(t, store.names())
}

func TestIsAudioFile(t *testing.T) {
	assert.True(t, isAudioFile("a.MP3"))
	assert.True(t, isAudioFile("clip.opus"))
	assert.False(t, isAudioFile("readme.txt"))
	assert.False(t, isAudioFile("noext"))
}
