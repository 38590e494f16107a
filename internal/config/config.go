package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/nupi-ai/voice-talkback/internal/risk"
)

const (
	// DefaultListenAddr is where the gRPC health and synthesis services bind.
	DefaultListenAddr        = "127.0.0.1:50051"
	DefaultIngestAddr        = "127.0.0.1:7891"
	DefaultServerURL         = "http://localhost:4096"
	DefaultModel             = "anthropic/claude-sonnet-4-20250514"
	DefaultAgent             = "default"
	DefaultVoiceID           = "af_heart"
	DefaultVoiceSpeed        = 1.0
	DefaultLogLevel          = "info"
	DefaultIdleTimeout       = 500 * time.Millisecond
	DefaultMinSentenceLength = 10
	DefaultConfirmTimeout    = 30 * time.Second
	DefaultCacheMaxSizeMB    = 100
)

// Config captures the runtime settings merged from the settings file, the
// JSON payload in TALKBACK_CONFIG and single-value environment overrides.
type Config struct {
	ListenAddr string
	IngestAddr string
	LogLevel   string

	// Assistant backend
	ServerURL string
	Model     string
	Agent     string

	// Speech
	VoiceID        string
	VoiceSpeed     float64
	SynthAddr      string
	KokoroURL      string
	UseStub        bool
	CacheDir       string
	CacheMaxSizeMB int
	AudioOutput    string

	// Confirmation toggles. Nil means enabled.
	ConfirmShell      *bool
	ConfirmGit        *bool
	ConfirmFileWrites *bool
	ConfirmTimeout    time.Duration

	IdleTimeout       time.Duration
	MinSentenceLength int
	StorePath         string
}

// Toggles returns the risk categories that require confirmation.
func (c Config) Toggles() risk.Toggles {
	return risk.Toggles{
		Shell:     enabled(c.ConfirmShell),
		Git:       enabled(c.ConfirmGit),
		FileWrite: enabled(c.ConfirmFileWrites),
	}
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// Validate applies defaults and raises an error when a field is unusable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: server_url must be an http(s) URL, got %q", c.ServerURL)
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Agent == "" {
		c.Agent = DefaultAgent
	}
	if c.VoiceID == "" {
		c.VoiceID = DefaultVoiceID
	}
	if c.VoiceSpeed == 0 {
		c.VoiceSpeed = DefaultVoiceSpeed
	}
	if c.VoiceSpeed < 0.5 || c.VoiceSpeed > 2.0 {
		return fmt.Errorf("config: voice_speed must be between 0.5 and 2.0, got %g", c.VoiceSpeed)
	}
	if !c.UseStub && c.SynthAddr == "" && c.KokoroURL == "" {
		return fmt.Errorf("config: synth_addr or kokoro_url is required unless use_stub_synthesizer is set")
	}
	if c.KokoroURL != "" {
		k, err := url.Parse(c.KokoroURL)
		if err != nil || (k.Scheme != "http" && k.Scheme != "https") || k.Host == "" {
			return fmt.Errorf("config: kokoro_url must be an http(s) URL, got %q", c.KokoroURL)
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("config: idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.ConfirmTimeout < 0 {
		return fmt.Errorf("config: confirm_timeout must be positive, got %s", c.ConfirmTimeout)
	}
	if c.MinSentenceLength == 0 {
		c.MinSentenceLength = DefaultMinSentenceLength
	}
	if c.MinSentenceLength < 0 {
		return fmt.Errorf("config: min_sentence_length must not be negative, got %d", c.MinSentenceLength)
	}
	if c.CacheMaxSizeMB < 0 {
		return fmt.Errorf("config: cache_max_size_mb must not be negative, got %d", c.CacheMaxSizeMB)
	}
	return nil
}
