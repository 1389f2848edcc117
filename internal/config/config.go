// Package config loads Agentdesk settings and platform credentials.
//
// Settings live in the Agentdesk data directory as settings.yaml (or a
// legacy settings.json); credentials.json is written there by the platform
// login flow and is only ever read by the console.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jobdam/agentdesk/internal/appdir"
	"github.com/jobdam/agentdesk/internal/fileutil"
)

// DedupConfig tunes the inbound message deduplicator.
type DedupConfig struct {
	// WindowMillis is the trailing suppression window. An event whose
	// fingerprint was seen within this window is dropped. Default: 5000.
	WindowMillis int `yaml:"window_millis" json:"window_millis"`
	// RetentionMinutes is how long fingerprints are kept before the sweep
	// deletes them. Default: 5.
	RetentionMinutes int `yaml:"retention_minutes" json:"retention_minutes"`
	// SweepMinutes is the interval between retention sweeps. Default: 5.
	SweepMinutes int `yaml:"sweep_minutes" json:"sweep_minutes"`
}

// SendConfig tunes the outbound chat rate limiter.
type SendConfig struct {
	// PerSecond is the sustained send rate. Default: 5.
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	// Burst is the maximum burst size. Default: 10.
	Burst int `yaml:"burst" json:"burst"`
}

// Settings represents the persisted Agentdesk configuration.
type Settings struct {
	// BrokerURL is the WebSocket endpoint of the platform message broker
	// (e.g. "wss://api.example.com/ws").
	BrokerURL string `yaml:"broker_url" json:"broker_url"`
	// APIBaseURL is the REST base URL used to seed the pending queue.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`
	// AgentRole is the role tag attached to outbound chat messages. Inbound
	// messages carrying this role are rendered as the agent's own lines.
	AgentRole string `yaml:"agent_role" json:"agent_role"`
	// CredentialKeys is the fallback order of keys probed in
	// credentials.json for the bearer token.
	CredentialKeys []string `yaml:"credential_keys" json:"credential_keys"`
	// DisconnectPhrases are substrings of free-text system messages that
	// indicate the user left the room. The upstream server emits these in
	// its own wording, so they are configurable.
	DisconnectPhrases []string `yaml:"disconnect_phrases" json:"disconnect_phrases"`
	// TriageRules is a list of CEL expressions over
	// {roomId, userName, userNickname}; a hand-off request matching any
	// rule is dropped before it reaches the queue.
	TriageRules []string `yaml:"triage_rules" json:"triage_rules"`
	// Dedup tunes the message deduplicator.
	Dedup DedupConfig `yaml:"dedup" json:"dedup"`
	// Send tunes the outbound rate limiter.
	Send SendConfig `yaml:"send" json:"send"`
}

// Default returns the built-in settings, pointing at a local dev platform.
func Default() *Settings {
	return &Settings{
		BrokerURL:         "ws://localhost:8080/ws",
		APIBaseURL:        "http://localhost:8080",
		AgentRole:         "ADMIN",
		CredentialKeys:    []string{"adminAccessToken", "accessToken", "token"},
		DisconnectPhrases: []string{"disconnected", "connection closed", "left the chat"},
		Dedup: DedupConfig{
			WindowMillis:     5000,
			RetentionMinutes: 5,
			SweepMinutes:     5,
		},
		Send: SendConfig{
			PerSecond: 5,
			Burst:     10,
		},
	}
}

// applyDefaults fills zero-valued fields from the defaults.
func (s *Settings) applyDefaults() {
	def := Default()
	if s.BrokerURL == "" {
		s.BrokerURL = def.BrokerURL
	}
	if s.APIBaseURL == "" {
		s.APIBaseURL = def.APIBaseURL
	}
	if s.AgentRole == "" {
		s.AgentRole = def.AgentRole
	}
	if len(s.CredentialKeys) == 0 {
		s.CredentialKeys = def.CredentialKeys
	}
	if len(s.DisconnectPhrases) == 0 {
		s.DisconnectPhrases = def.DisconnectPhrases
	}
	if s.Dedup.WindowMillis <= 0 {
		s.Dedup.WindowMillis = def.Dedup.WindowMillis
	}
	if s.Dedup.RetentionMinutes <= 0 {
		s.Dedup.RetentionMinutes = def.Dedup.RetentionMinutes
	}
	if s.Dedup.SweepMinutes <= 0 {
		s.Dedup.SweepMinutes = def.Dedup.SweepMinutes
	}
	if s.Send.PerSecond <= 0 {
		s.Send.PerSecond = def.Send.PerSecond
	}
	if s.Send.Burst <= 0 {
		s.Send.Burst = def.Send.Burst
	}
}

// Validate checks the loaded settings for obvious misconfiguration.
func (s *Settings) Validate() error {
	if !strings.HasPrefix(s.BrokerURL, "ws://") && !strings.HasPrefix(s.BrokerURL, "wss://") {
		return fmt.Errorf("broker_url must be a ws:// or wss:// URL, got %q", s.BrokerURL)
	}
	if !strings.HasPrefix(s.APIBaseURL, "http://") && !strings.HasPrefix(s.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be an http(s) URL, got %q", s.APIBaseURL)
	}
	return nil
}

// Load reads settings from an explicit path (YAML or JSON by extension).
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	var s Settings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := fileutil.ReadJSON(path, &s); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFromAppDir loads settings using the lookup hierarchy:
//  1. settings.yaml in the Agentdesk directory
//  2. settings.json in the Agentdesk directory
//  3. built-in defaults
func LoadFromAppDir() (*Settings, error) {
	yamlPath, err := appdir.SettingsPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(yamlPath); err == nil {
		return Load(yamlPath)
	}

	jsonPath, err := appdir.SettingsJSONPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(jsonPath); err == nil {
		return Load(jsonPath)
	}

	return Default(), nil
}
