package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/mattn/go-sqlite3"
)

// Store is the sqlite-backed persistence layer for users, sounds,
// recordings, talk sessions, presence and play statistics.
type Store struct {
	db *sql.DB
}

type Sound struct {
	Filename string
	Duration time.Duration
	Size     int64
	Bitrate  int64
	OwnerID  snowflake.ID
	Played   int
}

// SoundMatch is the result of a sound lookup. Match is the best candidate
// when Count > 0.
type SoundMatch struct {
	Count int
	Match *Sound
}

type Recording struct {
	ID        int64
	Path      string
	UserID    snowflake.ID
	ChannelID snowflake.ID
	Start     time.Time
	End       time.Time
}

type TalkSession struct {
	ID        int64
	ChannelID snowflake.ID
	Start     time.Time
	End       time.Time
}

func (t TalkSession) Duration() time.Duration { return t.End.Sub(t.Start) }

type Presence struct {
	Present bool
	Joined  time.Time
	Left    time.Time
}

type SearchKind string

const (
	SearchSequence SearchKind = "sequence"
	SearchPhrase   SearchKind = "phrase"
)

// SearchMode controls how recordings are gathered into one playback.
type SearchMode struct {
	Kind SearchKind
	// Sequence: wanted span. Phrase: minimum accumulated speech.
	Duration time.Duration
	// Sequence only: stop when two recordings are further apart than this.
	GapToStop time.Duration
	// Phrase only: largest gap allowed between joined phrases.
	AllowedGap time.Duration
	// Zero means unlimited.
	EndLimit time.Time
}

const (
	MethodConcat = "concat"
	MethodMix    = "mix"
)

type RecordingInput struct {
	Path   string
	UserID snowflake.ID
	Offset time.Duration
}

// RecordingSearch is a ready-to-play slice of recorded audio.
type RecordingSearch struct {
	Inputs   []RecordingInput
	Method   string
	Channels int
	Start    time.Time
	End      time.Time
}

func (r *RecordingSearch) Duration() time.Duration {
	if r == nil {
		return 0
	}
	return r.End.Sub(r.Start)
}

type StatKind int

const (
	StatSoundPlayed StatKind = iota
	StatUserPlayedSound
	StatUserPlayedRecording
	StatUserPlayedStream
	StatUserUploaded
)

type StatEvent struct {
	Kind   StatKind
	UserID snowflake.ID
	Sound  string
}

var ErrSoundExists = errors.New("sound already exists")

// OpenStore opens the database, applies pragmas and creates the schema.
func OpenStore(ctx context.Context, dataSourceName string) (*Store, error) {
	_ = sqlite3.SQLiteDriver{}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := db.ExecContext(initCtx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := db.BeginTx(initCtx, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			volume INTEGER NOT NULL,
			played_sounds INTEGER DEFAULT 0,
			played_recordings INTEGER DEFAULT 0,
			played_streams INTEGER DEFAULT 0,
			uploaded_sounds INTEGER DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sounds (
			filename TEXT PRIMARY KEY,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			bitrate INTEGER NOT NULL DEFAULT 0,
			owner_id TEXT NOT NULL DEFAULT '0',
			played INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS talk_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			session_id INTEGER,
			hidden INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_start ON recordings(start_ms)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS presence (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			joined_ms INTEGER NOT NULL,
			left_ms INTEGER
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports the round trip to the database.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.db.PingContext(ctx)
	return time.Since(start), err
}

// --- Bot config ---

// BotConfig returns a stored key, or "" when absent.
func (s *Store) BotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *Store) SetBotConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// --- Users ---

// EnsureUser inserts a user with the default volume, refreshing the name
// of an existing row.
func (s *Store) EnsureUser(ctx context.Context, id snowflake.ID, name string, defaultVolume int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, volume) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP
	`, id.String(), name, defaultVolume)
	return err
}

// UserVolume returns the stored personal volume, or def for unknown users.
func (s *Store) UserVolume(ctx context.Context, id snowflake.ID, def int) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT volume FROM users WHERE id = ?", id.String()).Scan(&v)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v, nil
}

func (s *Store) SetUserVolume(ctx context.Context, id snowflake.ID, volume int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, volume) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET volume = excluded.volume, updated_at = CURRENT_TIMESTAMP
	`, id.String(), volume)
	return err
}

// --- Sounds ---

func scanSound(row interface{ Scan(...any) error }) (*Sound, error) {
	var (
		snd   Sound
		durMs int64
		owner string
	)
	if err := row.Scan(&snd.Filename, &durMs, &snd.Size, &snd.Bitrate, &owner, &snd.Played); err != nil {
		return nil, err
	}
	snd.Duration = time.Duration(durMs) * time.Millisecond
	snd.OwnerID, _ = snowflake.Parse(owner)
	return &snd, nil
}

const soundColumns = "filename, duration_ms, size, bitrate, owner_id, played"

// FindSound matches query against sound filenames. An exact name (with or
// without extension) wins, then the shortest prefix match, then any
// substring match.
func (s *Store) FindSound(ctx context.Context, query string) (SoundMatch, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return SoundMatch{}, nil
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+soundColumns+` FROM sounds
		WHERE lower(filename) LIKE ? ESCAPE '\'
		ORDER BY length(filename), filename
	`, "%"+escaped+"%")
	if err != nil {
		return SoundMatch{}, err
	}
	defer rows.Close()

	var all []*Sound
	for rows.Next() {
		snd, err := scanSound(rows)
		if err != nil {
			return SoundMatch{}, err
		}
		all = append(all, snd)
	}
	if err := rows.Err(); err != nil {
		return SoundMatch{}, err
	}
	if len(all) == 0 {
		return SoundMatch{}, nil
	}

	for _, snd := range all {
		name := strings.ToLower(snd.Filename)
		if name == q || strings.TrimSuffix(name, extOf(name)) == q {
			return SoundMatch{Count: 1, Match: snd}, nil
		}
	}
	for _, snd := range all {
		if strings.HasPrefix(strings.ToLower(snd.Filename), q) {
			return SoundMatch{Count: len(all), Match: snd}, nil
		}
	}
	return SoundMatch{Count: len(all), Match: all[0]}, nil
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}

func (s *Store) Sound(ctx context.Context, filename string) (*Sound, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+soundColumns+" FROM sounds WHERE filename = ?", filename)
	snd, err := scanSound(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snd, err
}

func (s *Store) ListSounds(ctx context.Context) ([]Sound, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+soundColumns+" FROM sounds ORDER BY filename")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sound
	for rows.Next() {
		snd, err := scanSound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snd)
	}
	return out, rows.Err()
}

func upsertSound(ctx context.Context, ex interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, snd Sound) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sounds (filename, duration_ms, size, bitrate, owner_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			duration_ms = excluded.duration_ms,
			size = excluded.size,
			bitrate = excluded.bitrate
	`, snd.Filename, snd.Duration.Milliseconds(), snd.Size, snd.Bitrate, snd.OwnerID.String())
	return err
}

// RegisterSound records a sound found on disk without touching its owner.
func (s *Store) RegisterSound(ctx context.Context, snd Sound) error {
	return upsertSound(ctx, s.db, snd)
}

// RegisterUpload records a new sound and bumps the owner's upload counter
// in one transaction.
func (s *Store) RegisterUpload(ctx context.Context, snd Sound) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertSound(ctx, tx, snd); err != nil {
		return err
	}
	if err := applyStat(ctx, tx, StatEvent{Kind: StatUserUploaded, UserID: snd.OwnerID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RenameSound(ctx context.Context, from, to string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sounds SET filename = ? WHERE filename = ?", to, from)
	if err != nil {
		if isConstraint(err) {
			return ErrSoundExists
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteSound(ctx context.Context, filename string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sounds WHERE filename = ?", filename)
	return err
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// --- Statistics ---

func applyStat(ctx context.Context, tx *sql.Tx, ev StatEvent) error {
	var (
		q    string
		args []any
	)
	switch ev.Kind {
	case StatSoundPlayed:
		q, args = "UPDATE sounds SET played = played + 1 WHERE filename = ?", []any{ev.Sound}
	case StatUserPlayedSound:
		q = "UPDATE users SET played_sounds = played_sounds + 1 WHERE id = ?"
	case StatUserPlayedRecording:
		q = "UPDATE users SET played_recordings = played_recordings + 1 WHERE id = ?"
	case StatUserPlayedStream:
		q = "UPDATE users SET played_streams = played_streams + 1 WHERE id = ?"
	case StatUserUploaded:
		q = "UPDATE users SET uploaded_sounds = uploaded_sounds + 1 WHERE id = ?"
	default:
		return fmt.Errorf("unknown stat kind %d", ev.Kind)
	}
	if args == nil {
		args = []any{ev.UserID.String()}
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// ApplyStats writes a batch of statistics increments in one transaction.
func (s *Store) ApplyStats(ctx context.Context, events []StatEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range events {
		if err := applyStat(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	LogDatabase(MsgDatabaseStatsFlush, len(events))
	return nil
}

// UserStats returns the play counters for a user.
func (s *Store) UserStats(ctx context.Context, id snowflake.ID) (sounds, recordings, streams, uploads int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT played_sounds, played_recordings, played_streams, uploaded_sounds FROM users WHERE id = ?
	`, id.String()).Scan(&sounds, &recordings, &streams, &uploads)
	if err == sql.ErrNoRows {
		err = nil
	}
	return
}

// --- Recordings & talk sessions ---

// AddRecording stores a finished recording and attaches it to a talk
// session, opening a new session when the previous one ended more than gap
// before this recording started.
func (s *Store) AddRecording(ctx context.Context, rec Recording, gap time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	startMs, endMs := rec.Start.UnixMilli(), rec.End.UnixMilli()

	var (
		sessionID    int64
		sessionEndMs int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, end_ms FROM talk_sessions WHERE channel_id = ? ORDER BY end_ms DESC LIMIT 1
	`, rec.ChannelID.String()).Scan(&sessionID, &sessionEndMs)
	switch {
	case err == sql.ErrNoRows || (err == nil && startMs-sessionEndMs > gap.Milliseconds()):
		res, err := tx.ExecContext(ctx, "INSERT INTO talk_sessions (channel_id, start_ms, end_ms) VALUES (?, ?, ?)",
			rec.ChannelID.String(), startMs, endMs)
		if err != nil {
			return 0, err
		}
		if sessionID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if endMs > sessionEndMs {
			if _, err := tx.ExecContext(ctx, "UPDATE talk_sessions SET end_ms = ? WHERE id = ?", endMs, sessionID); err != nil {
				return 0, err
			}
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO recordings (path, user_id, channel_id, start_ms, end_ms, session_id) VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Path, rec.UserID.String(), rec.ChannelID.String(), startMs, endMs, sessionID)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (s *Store) TalkSession(ctx context.Context, id int64) (*TalkSession, error) {
	var (
		ts             TalkSession
		channel        string
		startMs, endMs int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, channel_id, start_ms, end_ms FROM talk_sessions WHERE id = ?", id).
		Scan(&ts.ID, &channel, &startMs, &endMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts.ChannelID, _ = snowflake.Parse(channel)
	ts.Start = time.UnixMilli(startMs)
	ts.End = time.UnixMilli(endMs)
	return &ts, nil
}

// SetRecordingsHidden hides or reveals every recording of a user.
func (s *Store) SetRecordingsHidden(ctx context.Context, userID snowflake.ID, hidden bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE recordings SET hidden = ? WHERE user_id = ?", hidden, userID.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func userFilter(users []snowflake.ID) (string, []any) {
	if len(users) == 0 {
		return "", nil
	}
	marks := make([]string, len(users))
	args := make([]any, len(users))
	for i, u := range users {
		marks[i] = "?"
		args[i] = u.String()
	}
	return " AND user_id IN (" + strings.Join(marks, ",") + ")", args
}

func (s *Store) queryRecordings(ctx context.Context, where string, args []any, order string, limit int) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, user_id, channel_id, start_ms, end_ms FROM recordings
		WHERE hidden = 0`+where+` ORDER BY `+order+fmt.Sprintf(" LIMIT %d", limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var (
			r              Recording
			user, channel  string
			startMs, endMs int64
		)
		if err := rows.Scan(&r.ID, &r.Path, &user, &channel, &startMs, &endMs); err != nil {
			return nil, err
		}
		r.UserID, _ = snowflake.Parse(user)
		r.ChannelID, _ = snowflake.Parse(channel)
		r.Start = time.UnixMilli(startMs)
		r.End = time.UnixMilli(endMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MakeRecordingFileList gathers recordings after at (within window) into a
// playable search result. A zero at picks a random phrase. Returns nil when
// nothing matches.
func (s *Store) MakeRecordingFileList(ctx context.Context, at time.Time, mode SearchMode, window time.Duration, users []snowflake.ID) (*RecordingSearch, error) {
	filter, filterArgs := userFilter(users)

	if mode.Kind == SearchPhrase && at.IsZero() {
		anchor, err := s.queryRecordings(ctx, filter, filterArgs, "RANDOM()", 1)
		if err != nil || len(anchor) == 0 {
			return nil, err
		}
		at = anchor[0].Start.Add(-time.Millisecond)
	}

	args := append([]any{at.UnixMilli(), at.Add(window).UnixMilli()}, filterArgs...)
	recs, err := s.queryRecordings(ctx, " AND start_ms > ? AND start_ms < ?"+filter, args, "start_ms", 500)
	if err != nil || len(recs) == 0 {
		return nil, err
	}

	if mode.Kind == SearchPhrase {
		return buildPhrase(recs, mode), nil
	}
	return buildSequence(recs, mode), nil
}

func buildSequence(recs []Recording, mode SearchMode) *RecordingSearch {
	first := recs[0]
	res := &RecordingSearch{Method: MethodMix, Start: first.Start, End: first.End}
	speakers := map[snowflake.ID]struct{}{}
	for _, r := range recs {
		if len(res.Inputs) > 0 {
			if mode.GapToStop > 0 && r.Start.Sub(res.End) > mode.GapToStop {
				break
			}
			if mode.Duration > 0 && r.Start.Sub(res.Start) >= mode.Duration {
				break
			}
		}
		if !mode.EndLimit.IsZero() && !r.Start.Before(mode.EndLimit) {
			break
		}
		res.Inputs = append(res.Inputs, RecordingInput{Path: r.Path, UserID: r.UserID, Offset: r.Start.Sub(res.Start)})
		speakers[r.UserID] = struct{}{}
		if r.End.After(res.End) {
			res.End = r.End
		}
	}
	if !mode.EndLimit.IsZero() && res.End.After(mode.EndLimit) {
		res.End = mode.EndLimit
	}
	res.Channels = len(speakers)
	return res
}

func buildPhrase(recs []Recording, mode SearchMode) *RecordingSearch {
	first := recs[0]
	res := &RecordingSearch{Method: MethodConcat, Channels: 1, Start: first.Start, End: first.End}
	var spoken time.Duration
	for _, r := range recs {
		if r.UserID != first.UserID {
			continue
		}
		if len(res.Inputs) > 0 {
			if mode.AllowedGap > 0 && r.Start.Sub(res.End) > mode.AllowedGap {
				break
			}
			if spoken >= mode.Duration {
				break
			}
		}
		res.Inputs = append(res.Inputs, RecordingInput{Path: r.Path, UserID: r.UserID})
		spoken += r.End.Sub(r.Start)
		if r.End.After(res.End) {
			res.End = r.End
		}
	}
	return res
}

// --- Presence ---

// RecordPresence opens an interval on join and closes the open one on leave.
func (s *Store) RecordPresence(ctx context.Context, userID, channelID snowflake.ID, joined bool, at time.Time) error {
	if joined {
		_, err := s.db.ExecContext(ctx, "INSERT INTO presence (user_id, channel_id, joined_ms) VALUES (?, ?, ?)",
			userID.String(), channelID.String(), at.UnixMilli())
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE presence SET left_ms = ? WHERE user_id = ? AND left_ms IS NULL
	`, at.UnixMilli(), userID.String())
	return err
}

// UserPresence reports whether the user was in a recorded channel at the given time.
func (s *Store) UserPresence(ctx context.Context, userID snowflake.ID, at time.Time) (Presence, error) {
	var (
		joinedMs int64
		leftMs   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT joined_ms, left_ms FROM presence
		WHERE user_id = ? AND joined_ms <= ? AND (left_ms IS NULL OR left_ms >= ?)
		ORDER BY joined_ms DESC LIMIT 1
	`, userID.String(), at.UnixMilli(), at.UnixMilli()).Scan(&joinedMs, &leftMs)
	if err == sql.ErrNoRows {
		return Presence{}, nil
	}
	if err != nil {
		return Presence{}, err
	}
	p := Presence{Present: true, Joined: time.UnixMilli(joinedMs)}
	if leftMs.Valid {
		p.Left = time.UnixMilli(leftMs.Int64)
	}
	return p, nil
}
