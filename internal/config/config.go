package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/tunez/guildradio/internal/guild"
)

// Config holds guildradio runtime configuration loaded from TOML.
type Config struct {
	Discord    DiscordConfig    `toml:"discord"`
	Storage    StorageConfig    `toml:"storage"`
	Playback   PlaybackConfig   `toml:"playback"`
	Autofill   AutofillConfig   `toml:"autofill"`
	QueueLimit QueueLimitConfig `toml:"queue_limit"`
	Audio      AudioConfig      `toml:"audio"`
	Providers  ProvidersConfig  `toml:"providers"`
	HTTP       HTTPConfig       `toml:"http"`
	Logging    LoggingConfig    `toml:"logging"`
	Guilds     []GuildConfig    `toml:"guilds"`
}

type DiscordConfig struct {
	// Token usually comes from DISCORD_TOKEN.
	Token string `toml:"token"`
	// GuildIDs registers commands per guild (instant); empty registers globally.
	GuildIDs     []string `toml:"guild_ids"`
	AdminRoleIDs []string `toml:"admin_role_ids"`
}

type StorageConfig struct {
	Driver string `toml:"driver"` // sqlite, postgres
	DSN    string `toml:"dsn"`
}

type PlaybackConfig struct {
	DefaultVolume       int  `toml:"default_volume"`
	FadeIn              bool `toml:"fade_in"`
	FadeInMs            int  `toml:"fade_in_ms"`
	FadeOutMs           int  `toml:"fade_out_ms"`
	FadeSteps           int  `toml:"fade_steps"`
	PrebufferMs         int  `toml:"prebuffer_ms"`
	OpenTimeoutSecs     int  `toml:"open_timeout_secs"`
	NowPlayingRetention int  `toml:"now_playing_retention"`
	ResolveWorkers      int  `toml:"resolve_workers"`
	ResolveTimeoutSecs  int  `toml:"resolve_timeout_secs"`
	// CardDeletesPerSec paces deletion of stale now-playing cards.
	CardDeletesPerSec float64 `toml:"card_deletes_per_sec"`
}

type AutofillConfig struct {
	// Enabled is the global feature switch; missing means on.
	Enabled         *bool  `toml:"enabled"`
	DelaySecs       int    `toml:"delay_secs"`
	MaxPull         int    `toml:"max_pull"`
	PerListener     int    `toml:"per_listener"`
	Workers         int    `toml:"workers"`
	FillTimeoutSecs int    `toml:"fill_timeout_secs"`
	DefaultURL      string `toml:"default_url"`
	DefaultCSV      string `toml:"default_csv"`
}

type QueueLimitConfig struct {
	Enabled    *bool `toml:"enabled"`
	MaxPerAdd  int   `toml:"max_per_add"`
	MaxPerUser int   `toml:"max_per_user"`
}

type AudioConfig struct {
	Mode      string   `toml:"mode"` // discord, local
	MPVPath   string   `toml:"mpv_path"`
	IPCDir    string   `toml:"ipc_dir"`
	Bitrate   int      `toml:"bitrate"`
	ExtraArgs []string `toml:"extra_args"`
}

type ProvidersConfig struct {
	MusicRoots  []string `toml:"music_roots"`
	YtDLPPath   string   `toml:"ytdlp_path"`
	YtDLPFormat string   `toml:"ytdlp_format"`
	FFprobePath string   `toml:"ffprobe_path"`
}

type HTTPConfig struct {
	// Addr enables the status API when set.
	Addr  string `toml:"addr"`
	Token string `toml:"token"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // text, json
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Stderr     bool   `toml:"stderr"`
}

// GuildConfig overrides defaults for one guild until the guild changes them
// with commands; saved settings win after that.
type GuildConfig struct {
	ID              string `toml:"id"`
	NotifyChannelID string `toml:"notify_channel_id"`
	Volume          int    `toml:"volume"`
	AutofillEnabled *bool  `toml:"autofill_enabled"`
	AutofillURL     string `toml:"autofill_url"`
	AutofillCSV     string `toml:"autofill_csv"`
	QueueLimit      *bool  `toml:"queue_limit"`
	MaxPerAdd       int    `toml:"max_per_add"`
	MaxPerUser      int    `toml:"max_per_user"`
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used and a missing file means all defaults. A .env file next to
// the config or in the working directory is loaded first.
func Load(path string) (*Config, string, error) {
	explicit := path != ""
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}
	loadDotEnv(filepath.Join(filepath.Dir(cfgPath), ".env"), ".env")

	var cfg Config
	data, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// loadDotEnv loads the first .env that exists. Variables already set win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("GUILDRADIO_DATABASE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("GUILDRADIO_DATABASE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("GUILDRADIO_HTTP_TOKEN"); v != "" {
		cfg.HTTP.Token = v
	}
	if v := os.Getenv("GUILDRADIO_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("GUILDRADIO_AUDIO_MODE"); v != "" {
		cfg.Audio.Mode = v
	}
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "guildradio"
	if runtime.GOOS == "windows" {
		name = "GuildRadio"
	}
	base := filepath.Join(dir, name)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

// StateDir is where the database, logs and IPC sockets live by default.
func StateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "guildradio", "state"), nil
}

func boolPtr(b bool) *bool { return &b }

func applyDefaults(cfg *Config) {
	state, err := StateDir()
	if err != nil {
		state = filepath.Join(os.TempDir(), "guildradio")
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = filepath.Join(state, "guildradio.db")
	}

	if cfg.Playback.DefaultVolume == 0 {
		cfg.Playback.DefaultVolume = 100
	}
	if cfg.Playback.FadeInMs == 0 {
		cfg.Playback.FadeInMs = 1500
	}
	if cfg.Playback.FadeOutMs == 0 {
		cfg.Playback.FadeOutMs = 1500
	}
	if cfg.Playback.FadeSteps == 0 {
		cfg.Playback.FadeSteps = 20
	}
	if cfg.Playback.OpenTimeoutSecs == 0 {
		cfg.Playback.OpenTimeoutSecs = 20
	}
	if cfg.Playback.NowPlayingRetention == 0 {
		cfg.Playback.NowPlayingRetention = 3
	}
	if cfg.Playback.ResolveWorkers == 0 {
		cfg.Playback.ResolveWorkers = 4
	}
	if cfg.Playback.ResolveTimeoutSecs == 0 {
		cfg.Playback.ResolveTimeoutSecs = 30
	}
	if cfg.Playback.CardDeletesPerSec == 0 {
		cfg.Playback.CardDeletesPerSec = 1
	}

	if cfg.Autofill.Enabled == nil {
		cfg.Autofill.Enabled = boolPtr(true)
	}
	if cfg.Autofill.DelaySecs == 0 {
		cfg.Autofill.DelaySecs = 30
	}
	if cfg.Autofill.MaxPull == 0 {
		cfg.Autofill.MaxPull = 25
	}
	if cfg.Autofill.PerListener == 0 {
		cfg.Autofill.PerListener = 10
	}
	if cfg.Autofill.Workers == 0 {
		cfg.Autofill.Workers = 6
	}
	if cfg.Autofill.FillTimeoutSecs == 0 {
		cfg.Autofill.FillTimeoutSecs = 120
	}

	if cfg.QueueLimit.Enabled == nil {
		cfg.QueueLimit.Enabled = boolPtr(true)
	}
	if cfg.QueueLimit.MaxPerAdd == 0 {
		cfg.QueueLimit.MaxPerAdd = 10
	}
	if cfg.QueueLimit.MaxPerUser == 0 {
		cfg.QueueLimit.MaxPerUser = 3
	}

	if cfg.Audio.Mode == "" {
		cfg.Audio.Mode = "discord"
	}
	if cfg.Audio.MPVPath == "" {
		cfg.Audio.MPVPath = "mpv"
	}
	if cfg.Audio.IPCDir == "" {
		cfg.Audio.IPCDir = filepath.Join(state, "ipc")
	}
	if cfg.Audio.Bitrate == 0 {
		cfg.Audio.Bitrate = 96000
	}

	if cfg.Providers.FFprobePath == "" {
		cfg.Providers.FFprobePath = "ffprobe"
	}
	if cfg.Providers.YtDLPFormat == "" {
		cfg.Providers.YtDLPFormat = "bestaudio/best"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(state, "guildradio.log")
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 20
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}

// Validate performs semantic validation of a defaulted config.
func Validate(cfg Config) error {
	switch cfg.Audio.Mode {
	case "discord":
		if cfg.Discord.Token == "" {
			return errors.New("discord.token (or DISCORD_TOKEN) is required in discord mode")
		}
	case "local":
	default:
		return fmt.Errorf("audio.mode must be discord or local, got %q", cfg.Audio.Mode)
	}
	switch cfg.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN == "" {
		return errors.New("storage.dsn is required")
	}
	if cfg.Playback.DefaultVolume < 0 || cfg.Playback.DefaultVolume > 200 {
		return errors.New("playback.default_volume must be 0-200")
	}
	if cfg.QueueLimit.MaxPerAdd < 1 || cfg.QueueLimit.MaxPerUser < 1 {
		return errors.New("queue_limit.max_per_add and max_per_user must be at least 1")
	}
	if cfg.Autofill.DelaySecs < 0 {
		return errors.New("autofill.delay_secs must not be negative")
	}
	if cfg.Autofill.DefaultURL != "" && cfg.Autofill.DefaultCSV != "" {
		return errors.New("set only one of autofill.default_url and autofill.default_csv")
	}
	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	if _, err := os.Stat(cfg.Audio.MPVPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, lookErr := execLookPath(cfg.Audio.MPVPath); lookErr != nil {
				return fmt.Errorf("mpv not found (%s): %w", cfg.Audio.MPVPath, lookErr)
			}
		}
	}
	for _, root := range cfg.Providers.MusicRoots {
		if _, err := os.Stat(root); err != nil {
			return fmt.Errorf("music root %s: %w", root, err)
		}
	}

	seen := make(map[string]bool, len(cfg.Guilds))
	for _, g := range cfg.Guilds {
		if g.ID == "" {
			return errors.New("guilds entry without id")
		}
		if seen[g.ID] {
			return fmt.Errorf("guild %s configured twice", g.ID)
		}
		seen[g.ID] = true
		if g.Volume < 0 || g.Volume > 200 {
			return fmt.Errorf("guild %s: volume must be 0-200", g.ID)
		}
		if g.AutofillURL != "" && g.AutofillCSV != "" {
			return fmt.Errorf("guild %s: set only one of autofill_url and autofill_csv", g.ID)
		}
	}
	return nil
}

// LogLevel is the configured slog level.
func (c Config) LogLevel() slog.Level {
	l, _ := parseLevel(c.Logging.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}

// GuildByID returns the override block and true when found.
func (c Config) GuildByID(id string) (GuildConfig, bool) {
	for _, g := range c.Guilds {
		if g.ID == id {
			return g, true
		}
	}
	return GuildConfig{}, false
}

// GuildSettings builds the starting settings of a guild with no saved state.
func (c Config) GuildSettings(id string) guild.Settings {
	s := guild.Settings{
		Volume: c.Playback.DefaultVolume,
		RateLimit: guild.RateLimit{
			Enabled:    c.QueueLimit.Enabled == nil || *c.QueueLimit.Enabled,
			MaxPerAdd:  c.QueueLimit.MaxPerAdd,
			MaxPerUser: c.QueueLimit.MaxPerUser,
		},
		Autofill: guild.Autofill{Enabled: c.AutofillFeature(), SourceKind: guild.SourceNone},
	}
	setSource(&s.Autofill, c.Autofill.DefaultURL, c.Autofill.DefaultCSV)

	g, ok := c.GuildByID(id)
	if !ok {
		return s
	}
	s.NotifyChannelID = g.NotifyChannelID
	if g.Volume > 0 {
		s.Volume = g.Volume
	}
	if g.AutofillEnabled != nil {
		s.Autofill.Enabled = *g.AutofillEnabled && c.AutofillFeature()
	}
	setSource(&s.Autofill, g.AutofillURL, g.AutofillCSV)
	if g.QueueLimit != nil {
		s.RateLimit.Enabled = *g.QueueLimit
	}
	if g.MaxPerAdd > 0 {
		s.RateLimit.MaxPerAdd = g.MaxPerAdd
	}
	if g.MaxPerUser > 0 {
		s.RateLimit.MaxPerUser = g.MaxPerUser
	}
	return s
}

func setSource(a *guild.Autofill, url, csv string) {
	switch {
	case url != "":
		a.SourceKind, a.SourceValue = guild.SourceURL, url
	case csv != "":
		a.SourceKind, a.SourceValue = guild.SourceCSV, csv
	}
}

// NotifyChannel is the configured card channel of a guild, or "".
func (c Config) NotifyChannel(id string) string {
	g, _ := c.GuildByID(id)
	return g.NotifyChannelID
}

func (c Config) AutofillFeature() bool {
	return c.Autofill.Enabled == nil || *c.Autofill.Enabled
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (c Config) AutofillDelay() time.Duration   { return secs(c.Autofill.DelaySecs) }
func (c Config) FillTimeout() time.Duration     { return secs(c.Autofill.FillTimeoutSecs) }
func (c Config) OpenTimeout() time.Duration     { return secs(c.Playback.OpenTimeoutSecs) }
func (c Config) ResolveTimeout() time.Duration  { return secs(c.Playback.ResolveTimeoutSecs) }
func (c Config) FadeInDuration() time.Duration  { return millis(c.Playback.FadeInMs) }
func (c Config) FadeOutDuration() time.Duration { return millis(c.Playback.FadeOutMs) }
func (c Config) Prebuffer() time.Duration       { return millis(c.Playback.PrebufferMs) }

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}
