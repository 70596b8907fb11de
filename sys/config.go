package sys

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
)

type Config struct {
	Token           string `env:"DISCORD_TOKEN"`
	GuildID         string `env:"GUILD_ID"`
	ReportChannelID string `env:"REPORT_CHANNEL_ID"`
	DatabasePath    string `env:"DATABASE_PATH" envDefault:"./voxbox.db"`
	Silent          bool   `env:"SILENT"`
	MetricsAddr     string `env:"METRICS_ADDR"`

	SoundsDir     string `env:"SOUNDS_DIR" envDefault:"./sounds"`
	TempDir       string `env:"TEMP_DIR" envDefault:"./temp"`
	RecordingsDir string `env:"RECORDINGS_DIR" envDefault:"./recordings"`
	FFmpegPath    string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	YoutubeProxy  string `env:"YOUTUBE_PROXY"`

	JoinCooldown      time.Duration `env:"JOIN_COOLDOWN" envDefault:"1s"`
	JoinTimeout       time.Duration `env:"JOIN_TIMEOUT" envDefault:"15s"`
	PlaybackGap       time.Duration `env:"PLAYBACK_GAP" envDefault:"50ms"`
	SettleDelay       time.Duration `env:"SETTLE_DELAY" envDefault:"1s"`
	StreamTimeout     time.Duration `env:"STREAM_TIMEOUT" envDefault:"8s"`
	StreamResumeLimit time.Duration `env:"STREAM_RESUME_LIMIT" envDefault:"2h"`
	KillGrace         time.Duration `env:"KILL_GRACE" envDefault:"100ms"`

	EnablePausingLongSounds bool          `env:"ENABLE_PAUSING_LONG_SOUNDS" envDefault:"true"`
	LongSoundDuration       time.Duration `env:"LONG_SOUND_DURATION" envDefault:"60s"`
	HistorySize             int           `env:"HISTORY_SIZE" envDefault:"10"`
	VolumeGlobal            int           `env:"VOLUME_GLOBAL" envDefault:"50"`
	DefaultVolume           int           `env:"DEFAULT_VOLUME" envDefault:"20"`
	MaxMixInputs            int           `env:"MAX_MIX_INPUTS" envDefault:"32"`

	ExportCodec     string `env:"EXPORT_CODEC" envDefault:"libmp3lame"`
	ExportBitrate   string `env:"EXPORT_BITRATE" envDefault:"128k"`
	ExportContainer string `env:"EXPORT_CONTAINER" envDefault:"mp3"`

	EnableRecording        bool          `env:"ENABLE_RECORDING"`
	RecordingSilenceGap    time.Duration `env:"RECORDING_SILENCE_GAP" envDefault:"2s"`
	TalkSessionGap         time.Duration `env:"TALK_SESSION_GAP" envDefault:"15m"`
	RecordingChunkDuration time.Duration `env:"RECORDING_CHUNK_DURATION" envDefault:"3m"`
	SearchWindow           time.Duration `env:"SEARCH_WINDOW" envDefault:"5000h"`
	PhraseDuration         time.Duration `env:"PHRASE_DURATION" envDefault:"4s"`
	PhraseGap              time.Duration `env:"PHRASE_GAP" envDefault:"700ms"`
	SequenceDuration       time.Duration `env:"SEQUENCE_DURATION" envDefault:"60s"`

	CommandRate  float64 `env:"COMMAND_RATE" envDefault:"2"`
	CommandBurst int     `env:"COMMAND_BURST" envDefault:"5"`

	Permissions PermissionConfig
}

// PermissionConfig holds the raw access tables. Each PERM_* flag grants one
// capability to actors that pass the policy check.
type PermissionConfig struct {
	AdminIDs     []string `env:"ADMIN_IDS" envSeparator:","`
	BlacklistIDs []string `env:"BLACKLIST_IDS" envSeparator:","`
	Policy       int      `env:"PERMISSIONS_POLICY" envDefault:"0"`
	Roles        []string `env:"PERMISSIONS_ROLES" envSeparator:","`

	Summon                  bool `env:"PERM_SUMMON" envDefault:"true"`
	Dismiss                 bool `env:"PERM_DISMISS" envDefault:"true"`
	PlayFile                bool `env:"PERM_PLAY_FILE" envDefault:"true"`
	PlayStream              bool `env:"PERM_PLAY_STREAM" envDefault:"true"`
	Upload                  bool `env:"PERM_UPLOAD" envDefault:"false"`
	DeleteAny               bool `env:"PERM_DELETE_ANY" envDefault:"false"`
	List                    bool `env:"PERM_LIST" envDefault:"true"`
	PlaybackControl         bool `env:"PERM_PLAYBACK_CONTROL" envDefault:"true"`
	Rejoin                  bool `env:"PERM_REJOIN" envDefault:"true"`
	Stop                    bool `env:"PERM_STOP" envDefault:"true"`
	RenameAny               bool `env:"PERM_RENAME_ANY" envDefault:"false"`
	VolumeAboveMax          bool `env:"PERM_VOLUME_ABOVE_MAX" envDefault:"false"`
	HideOwnRecords          bool `env:"PERM_HIDE_OWN_RECORDS" envDefault:"true"`
	PlayPresenceRecordings  bool `env:"PERM_PLAY_PRESENCE_RECORDINGS" envDefault:"true"`
	PlayAnyRecording        bool `env:"PERM_PLAY_ANY_RECORDING" envDefault:"false"`
	PlayRandomQuote         bool `env:"PERM_PLAY_RANDOM_QUOTE" envDefault:"true"`
	Repeat                  bool `env:"PERM_REPEAT" envDefault:"true"`
	DeleteOwn               bool `env:"PERM_DELETE_OWN" envDefault:"true"`
	RenameOwn               bool `env:"PERM_RENAME_OWN" envDefault:"true"`
}

// Flags returns the capability flags in bit order.
func (p PermissionConfig) Flags() []bool {
	return []bool{
		p.Summon, p.Dismiss, p.PlayFile, p.PlayStream, p.Upload,
		p.DeleteAny, p.List, p.PlaybackControl, p.Rejoin, p.Stop,
		p.RenameAny, p.VolumeAboveMax, p.HideOwnRecords, p.PlayPresenceRecordings,
		p.PlayAnyRecording, p.PlayRandomQuote, p.Repeat, p.DeleteOwn, p.RenameOwn,
	}
}

var GlobalConfig *Config

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.Permissions.AdminIDs = trimAll(cfg.Permissions.AdminIDs)
	cfg.Permissions.BlacklistIDs = trimAll(cfg.Permissions.BlacklistIDs)
	cfg.Permissions.Roles = trimAll(cfg.Permissions.Roles)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	if c.Permissions.Policy != 0 && c.Permissions.Policy != 1 {
		return fmt.Errorf(MsgConfigInvalidPolicy)
	}
	timings := map[string]time.Duration{
		"JOIN_TIMEOUT":             c.JoinTimeout,
		"STREAM_TIMEOUT":           c.StreamTimeout,
		"RECORDING_CHUNK_DURATION": c.RecordingChunkDuration,
		"SEARCH_WINDOW":            c.SearchWindow,
	}
	for name, d := range timings {
		if d <= 0 {
			return fmt.Errorf(MsgConfigInvalidTiming, name)
		}
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf(MsgConfigInvalidTiming, "HISTORY_SIZE")
	}
	if c.MaxMixInputs <= 0 {
		return fmt.Errorf(MsgConfigInvalidTiming, "MAX_MIX_INPUTS")
	}
	return nil
}

// DatabaseDSN returns the sqlite DSN with WAL enabled.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000", c.DatabasePath)
}

// ParseIDs converts a list of snowflake strings, skipping blanks.
func ParseIDs(raw []string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, 0, len(raw))
	for _, r := range raw {
		if r == "" {
			continue
		}
		id, err := snowflake.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("invalid snowflake %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
