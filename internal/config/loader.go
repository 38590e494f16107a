package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from a settings file and environment variables.
// Tests can override Lookup and ReadFile to inject deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load merges defaults, the settings file named by TALKBACK_CONFIG_FILE, the
// JSON payload in TALKBACK_CONFIG and single-value overrides, then validates.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Config{
		ListenAddr:     DefaultListenAddr,
		IngestAddr:     DefaultIngestAddr,
		CacheMaxSizeMB: DefaultCacheMaxSizeMB,
	}

	if path, ok := l.Lookup("TALKBACK_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		data, err := l.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return Config{}, fmt.Errorf("config: read settings file: %w", err)
		}
		var p payload
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Config{}, fmt.Errorf("config: decode settings file: %w", err)
		}
		if err := p.apply(&cfg); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := l.Lookup("TALKBACK_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		var p payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return Config{}, fmt.Errorf("config: decode TALKBACK_CONFIG: %w", err)
		}
		if err := p.apply(&cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, "TALKBACK_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "TALKBACK_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "TALKBACK_SERVER_URL", &cfg.ServerURL)
	overrideString(l.Lookup, "TALKBACK_SYNTH_ADDR", &cfg.SynthAddr)
	overrideString(l.Lookup, "TALKBACK_KOKORO_URL", &cfg.KokoroURL)
	if err := overrideBool(l.Lookup, "TALKBACK_USE_STUB_SYNTHESIZER", &cfg.UseStub); err != nil {
		return Config{}, err
	}

	if dataDir, ok := l.Lookup("TALKBACK_DATA_DIR"); ok && strings.TrimSpace(dataDir) != "" {
		dataDir = strings.TrimSpace(dataDir)
		if cfg.CacheDir == "" {
			cfg.CacheDir = filepath.Join(dataDir, "cache")
		}
		if cfg.StorePath == "" {
			cfg.StorePath = filepath.Join(dataDir, "talkback.db")
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// payload is the shape of both the settings file and TALKBACK_CONFIG.
// Durations use time.ParseDuration syntax.
type payload struct {
	ListenAddr        string   `json:"listen_addr" yaml:"listen_addr"`
	IngestAddr        string   `json:"ingest_addr" yaml:"ingest_addr"`
	LogLevel          string   `json:"log_level" yaml:"log_level"`
	ServerURL         string   `json:"server_url" yaml:"server_url"`
	Model             string   `json:"model" yaml:"model"`
	Agent             string   `json:"agent" yaml:"agent"`
	VoiceID           string   `json:"voice_id" yaml:"voice_id"`
	VoiceSpeed        *float64 `json:"voice_speed" yaml:"voice_speed"`
	SynthAddr         string   `json:"synth_addr" yaml:"synth_addr"`
	KokoroURL         string   `json:"kokoro_url" yaml:"kokoro_url"`
	UseStub           *bool    `json:"use_stub_synthesizer" yaml:"use_stub_synthesizer"`
	CacheDir          string   `json:"cache_dir" yaml:"cache_dir"`
	CacheMaxSizeMB    *int     `json:"cache_max_size_mb" yaml:"cache_max_size_mb"`
	AudioOutput       string   `json:"audio_output" yaml:"audio_output"`
	ConfirmShell      *bool    `json:"confirm_shell_commands" yaml:"confirm_shell_commands"`
	ConfirmGit        *bool    `json:"confirm_git_operations" yaml:"confirm_git_operations"`
	ConfirmFileWrites *bool    `json:"confirm_file_writes" yaml:"confirm_file_writes"`
	ConfirmTimeout    string   `json:"confirm_timeout" yaml:"confirm_timeout"`
	IdleTimeout       string   `json:"idle_timeout" yaml:"idle_timeout"`
	MinSentenceLength *int     `json:"min_sentence_length" yaml:"min_sentence_length"`
	StorePath         string   `json:"store_path" yaml:"store_path"`
}

func (p payload) apply(cfg *Config) error {
	setString(&cfg.ListenAddr, p.ListenAddr)
	setString(&cfg.IngestAddr, p.IngestAddr)
	setString(&cfg.LogLevel, p.LogLevel)
	setString(&cfg.ServerURL, p.ServerURL)
	setString(&cfg.Model, p.Model)
	setString(&cfg.Agent, p.Agent)
	setString(&cfg.VoiceID, p.VoiceID)
	setString(&cfg.SynthAddr, p.SynthAddr)
	setString(&cfg.KokoroURL, p.KokoroURL)
	setString(&cfg.CacheDir, p.CacheDir)
	setString(&cfg.AudioOutput, p.AudioOutput)
	setString(&cfg.StorePath, p.StorePath)

	if p.VoiceSpeed != nil {
		cfg.VoiceSpeed = *p.VoiceSpeed
	}
	if p.UseStub != nil {
		cfg.UseStub = *p.UseStub
	}
	if p.CacheMaxSizeMB != nil {
		cfg.CacheMaxSizeMB = *p.CacheMaxSizeMB
	}
	if p.MinSentenceLength != nil {
		cfg.MinSentenceLength = *p.MinSentenceLength
	}
	if p.ConfirmShell != nil {
		assignBoolPtr(&cfg.ConfirmShell, *p.ConfirmShell)
	}
	if p.ConfirmGit != nil {
		assignBoolPtr(&cfg.ConfirmGit, *p.ConfirmGit)
	}
	if p.ConfirmFileWrites != nil {
		assignBoolPtr(&cfg.ConfirmFileWrites, *p.ConfirmFileWrites)
	}
	if err := setDuration(&cfg.IdleTimeout, "idle_timeout", p.IdleTimeout); err != nil {
		return err
	}
	return setDuration(&cfg.ConfirmTimeout, "confirm_timeout", p.ConfirmTimeout)
}

func setString(target *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", name, err)
	}
	*target = d
	return nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*target = b
	return nil
}

func assignBoolPtr(target **bool, value bool) {
	v := value
	*target = &v
}
