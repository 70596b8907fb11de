package proc

import (
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/leeineian/voxbox/sys"
)

type ItemKind int

const (
	KindFile ItemKind = iota
	KindRecording
	KindStream
)

func (k ItemKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindRecording:
		return "recording"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Requester identifies who asked for an item.
type Requester struct {
	ID   snowflake.ID
	Name string
}

// Flags are the per-request modifiers.
type Flags struct {
	Effects []string
	// Target makes the item an export job writing to this sound name.
	Target string
	// Volume overrides the requester's stored volume, in percent.
	Volume   *int
	Start    time.Duration
	End      time.Duration
	Duration time.Duration
}

// Merge overlays the non-zero fields of o onto f.
func (f Flags) Merge(o Flags) Flags {
	if len(o.Effects) > 0 {
		f.Effects = o.Effects
	}
	if o.Target != "" {
		f.Target = o.Target
	}
	if o.Volume != nil {
		f.Volume = o.Volume
	}
	if o.Start > 0 {
		f.Start = o.Start
	}
	if o.End > 0 {
		f.End = o.End
	}
	if o.Duration > 0 {
		f.Duration = o.Duration
	}
	return f
}

// ItemBase carries the fields shared by every playback item.
type ItemBase struct {
	ID        uuid.UUID
	Requester Requester
	Flags     Flags
	// PlayedOffset is set when the item is requeued after partial playback.
	PlayedOffset time.Duration
}

func newBase(req Requester, flags Flags) ItemBase {
	return ItemBase{ID: uuid.New(), Requester: req, Flags: flags}
}

// PlaybackItem is one of *FileItem, *RecordingItem or *StreamItem.
type PlaybackItem interface {
	Kind() ItemKind
	Base() ItemBase
	Title() string
	// Length is the known duration, zero when unknown.
	Length() time.Duration
	playbackItem()
}

type FileItem struct {
	ItemBase
	Filename string
	Duration time.Duration
}

func NewFileItem(req Requester, flags Flags, filename string, d time.Duration) *FileItem {
	return &FileItem{ItemBase: newBase(req, flags), Filename: filename, Duration: d}
}

func (i *FileItem) Kind() ItemKind        { return KindFile }
func (i *FileItem) Base() ItemBase        { return i.ItemBase }
func (i *FileItem) Title() string         { return i.Filename }
func (i *FileItem) Length() time.Duration { return i.Duration }
func (*FileItem) playbackItem()           {}

type RecordingLimits struct {
	Start time.Time
	End   time.Time
}

type RecordingItem struct {
	ItemBase
	Search      *sys.RecordingSearch
	Users       []snowflake.ID
	Mode        sys.SearchMode
	ChunkIndex  int
	TotalChunks int
	Limits      RecordingLimits
	Duration    time.Duration
}

func NewRecordingItem(req Requester, flags Flags, search *sys.RecordingSearch, mode sys.SearchMode, users []snowflake.ID) *RecordingItem {
	return &RecordingItem{
		ItemBase: newBase(req, flags),
		Search:   search,
		Users:    users,
		Mode:     mode,
		Limits:   RecordingLimits{Start: search.Start, End: search.End},
		Duration: search.Duration(),
	}
}

// Chunked reports whether more chunks follow this one.
func (i *RecordingItem) Chunked() bool {
	return i.TotalChunks > 0 && i.ChunkIndex < i.TotalChunks
}

func (i *RecordingItem) Kind() ItemKind { return KindRecording }
func (i *RecordingItem) Base() ItemBase { return i.ItemBase }
func (i *RecordingItem) Title() string {
	if i.Mode.Kind == sys.SearchPhrase {
		return fmt.Sprintf("quote at %s", i.Limits.Start.Format("2 Jan 2006 15:04"))
	}
	title := fmt.Sprintf("recording %s - %s", i.Limits.Start.Format("2 Jan 2006 15:04"), i.Limits.End.Format("15:04"))
	if i.TotalChunks > 1 {
		title += fmt.Sprintf(" (%d/%d)", i.ChunkIndex, i.TotalChunks)
	}
	return title
}
func (i *RecordingItem) Length() time.Duration { return i.Search.Duration() }
func (*RecordingItem) playbackItem()           {}

type StreamItem struct {
	ItemBase
	SourceRef string
	Name      string
	Duration  time.Duration
}

func NewStreamItem(req Requester, flags Flags, ref string) *StreamItem {
	return &StreamItem{ItemBase: newBase(req, flags), SourceRef: ref}
}

func (i *StreamItem) Kind() ItemKind { return KindStream }
func (i *StreamItem) Base() ItemBase { return i.ItemBase }
func (i *StreamItem) Title() string {
	if i.Name != "" {
		return i.Name
	}
	return i.SourceRef
}
func (i *StreamItem) Length() time.Duration { return i.Duration }
func (*StreamItem) playbackItem()           {}

// withPlayed returns a copy of item carrying a new played offset.
func withPlayed(item PlaybackItem, offset time.Duration) PlaybackItem {
	switch it := item.(type) {
	case *FileItem:
		c := *it
		c.PlayedOffset = offset
		return &c
	case *RecordingItem:
		c := *it
		c.PlayedOffset = offset
		return &c
	case *StreamItem:
		c := *it
		c.PlayedOffset = offset
		return &c
	}
	panic(fmt.Sprintf("unhandled playback item %T", item))
}

// withRequest returns a fresh copy of item for a new requester and flags.
func withRequest(item PlaybackItem, req Requester, flags Flags) PlaybackItem {
	base := func(b ItemBase) ItemBase {
		return ItemBase{ID: uuid.New(), Requester: req, Flags: b.Flags.Merge(flags)}
	}
	switch it := item.(type) {
	case *FileItem:
		c := *it
		c.ItemBase = base(it.ItemBase)
		return &c
	case *RecordingItem:
		c := *it
		c.ItemBase = base(it.ItemBase)
		return &c
	case *StreamItem:
		c := *it
		c.ItemBase = base(it.ItemBase)
		return &c
	}
	panic(fmt.Sprintf("unhandled playback item %T", item))
}

// remaining is the known duration left after the played offset.
func remaining(item PlaybackItem, elapsed time.Duration) time.Duration {
	left := item.Length() - item.Base().PlayedOffset - elapsed
	if left < 0 {
		return 0
	}
	return left
}
