package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/tunez/guildradio/internal/guild"
)

func fakeMPV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mpv")
	if err := os.WriteFile(path, nil, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"DISCORD_TOKEN", "GUILDRADIO_DATABASE_DRIVER", "GUILDRADIO_DATABASE_DSN", "GUILDRADIO_HTTP_TOKEN", "GUILDRADIO_HTTP_ADDR", "GUILDRADIO_AUDIO_MODE"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	mpv := fakeMPV(t)
	path := writeConfig(t, dir, `
[audio]
mpv_path = "`+mpv+`"

[storage]
dsn = "`+filepath.Join(dir, "radio.db")+`"
`)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DISCORD_TOKEN=from-dotenv\nGUILDRADIO_HTTP_TOKEN=api-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("DISCORD_TOKEN")
		os.Unsetenv("GUILDRADIO_HTTP_TOKEN")
	})
	os.Unsetenv("DISCORD_TOKEN")
	os.Unsetenv("GUILDRADIO_HTTP_TOKEN")

	cfg, got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != path {
		t.Errorf("path = %s", got)
	}
	if cfg.Discord.Token != "from-dotenv" || cfg.HTTP.Token != "api-secret" {
		t.Errorf("dotenv not applied: %+v %+v", cfg.Discord, cfg.HTTP)
	}
	if cfg.Audio.Mode != "discord" || cfg.Storage.Driver != "sqlite" {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Audio, cfg.Storage)
	}
	if cfg.AutofillDelay().Seconds() != 30 || cfg.Autofill.MaxPull != 25 || cfg.Autofill.Workers != 6 {
		t.Errorf("autofill defaults: %+v", cfg.Autofill)
	}
	if !*cfg.QueueLimit.Enabled || cfg.QueueLimit.MaxPerAdd != 10 || cfg.QueueLimit.MaxPerUser != 3 {
		t.Errorf("queue limit defaults: %+v", cfg.QueueLimit)
	}
	if cfg.Playback.DefaultVolume != 100 || cfg.Playback.ResolveWorkers != 4 {
		t.Errorf("playback defaults: %+v", cfg.Playback)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("level = %v", cfg.LogLevel())
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	mpv := fakeMPV(t)
	base := func() Config {
		var c Config
		c.Discord.Token = "tok"
		c.Audio.MPVPath = mpv
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"local mode needs no token", func(c *Config) { c.Audio.Mode = "local"; c.Discord.Token = "" }, false},
		{"discord mode needs token", func(c *Config) { c.Discord.Token = "" }, true},
		{"unknown mode", func(c *Config) { c.Audio.Mode = "speaker" }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"volume range", func(c *Config) { c.Playback.DefaultVolume = 250 }, true},
		{"two default sources", func(c *Config) { c.Autofill.DefaultURL = "https://x"; c.Autofill.DefaultCSV = "/a.csv" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"invalid mpv path", func(c *Config) { c.Audio.MPVPath = "/invalid/mpv/path" }, true},
		{"duplicate guild", func(c *Config) { c.Guilds = []GuildConfig{{ID: "1"}, {ID: "1"}} }, true},
		{"guild without id", func(c *Config) { c.Guilds = []GuildConfig{{}} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := Validate(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGuildSettings(t *testing.T) {
	off := false
	var c Config
	c.Autofill.DefaultURL = "https://example.com/@radio"
	c.Guilds = []GuildConfig{{
		ID:              "g2",
		NotifyChannelID: "chan",
		Volume:          60,
		AutofillCSV:     "/seeds/g2.csv",
		QueueLimit:      &off,
		MaxPerUser:      5,
	}}
	applyDefaults(&c)

	def := c.GuildSettings("g1")
	want := guild.Settings{
		Volume:    100,
		RateLimit: guild.RateLimit{Enabled: true, MaxPerAdd: 10, MaxPerUser: 3},
		Autofill:  guild.Autofill{Enabled: true, SourceKind: guild.SourceURL, SourceValue: "https://example.com/@radio"},
	}
	if def != want {
		t.Errorf("defaults = %+v\nwant %+v", def, want)
	}

	g2 := c.GuildSettings("g2")
	if g2.Volume != 60 || g2.NotifyChannelID != "chan" || c.NotifyChannel("g2") != "chan" {
		t.Errorf("g2 = %+v", g2)
	}
	if g2.RateLimit.Enabled || g2.RateLimit.MaxPerUser != 5 || g2.RateLimit.MaxPerAdd != 10 {
		t.Errorf("g2 rate limit = %+v", g2.RateLimit)
	}
	if g2.Autofill.SourceKind != guild.SourceCSV || g2.Autofill.SourceValue != "/seeds/g2.csv" {
		t.Errorf("g2 autofill = %+v", g2.Autofill)
	}

	c.Autofill.Enabled = &off
	if c.GuildSettings("g1").Autofill.Enabled {
		t.Error("the global switch must disable guild autofill")
	}
}
