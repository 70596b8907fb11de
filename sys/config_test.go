package sys

import (
	"bytes"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_defaultsAndTrimming(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("ADMIN_IDS", " 111 , ,222")
	t.Setenv("PERM_UPLOAD", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222"}, cfg.Permissions.AdminIDs)
	assert.Equal(t, 50*time.Millisecond, cfg.PlaybackGap)
	assert.Equal(t, 10, cfg.HistorySize)
	assert.True(t, cfg.Permissions.Upload)
	assert.Len(t, cfg.Permissions.Flags(), 19)
	assert.Same(t, cfg, GlobalConfig)
}

func validConfig() *Config {
	return &Config{
		Token:                  "token",
		JoinTimeout:            time.Second,
		StreamTimeout:          time.Second,
		RecordingChunkDuration: time.Minute,
		SearchWindow:           time.Hour,
		HistorySize:            5,
		MaxMixInputs:           8,
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(*Config){
		"missing token":   func(c *Config) { c.Token = "" },
		"short guild id":  func(c *Config) { c.GuildID = "123" },
		"bad policy":      func(c *Config) { c.Permissions.Policy = 2 },
		"zero timeout":    func(c *Config) { c.StreamTimeout = 0 },
		"zero history":    func(c *Config) { c.HistorySize = 0 },
		"zero mix inputs": func(c *Config) { c.MaxMixInputs = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs([]string{"1", "", "42"})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{1, 42}, ids)

	_, err = ParseIDs([]string{"nope"})
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	c := &Config{DatabasePath: "/data/x.db"}
	assert.Equal(t, "/data/x.db?_journal_mode=WAL&_timeout=5000", c.DatabaseDSN())
}

func TestCalculateCommandHash(t *testing.T) {
	a := []discord.ApplicationCommandCreate{discord.SlashCommandCreate{Name: "play", Description: "Play"}}
	b := []discord.ApplicationCommandCreate{discord.SlashCommandCreate{Name: "stop", Description: "Stop"}}

	assert.Len(t, calculateCommandHash(a), 64)
	assert.Equal(t, calculateCommandHash(a), calculateCommandHash(a))
	assert.NotEqual(t, calculateCommandHash(a), calculateCommandHash(b))
}

func TestStripANSIWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewStripANSIWriter(&buf)
	in := []byte("\x1b[31mred\x1b[0m plain")
	n, err := w.Write(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, "red plain", buf.String())
}
