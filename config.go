package voicewire

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/voicewire/voicewire/audio"
)

// Turn detection modes the service understands.
const (
	TurnDetectionServerVAD = "server_vad"
	TurnDetectionNone      = "none"
)

// TurnDetection configures how the end of a user turn is detected.
type TurnDetection struct {
	Mode      string  `json:"mode"`
	Threshold float64 `json:"threshold"`
	SilenceMs int     `json:"silence_ms"`
}

// SessionConfig is the negotiated session configuration. It is
// authoritative only after the remote side acknowledges it with a
// session-updated event.
type SessionConfig struct {
	Model           string        `json:"model"`
	Voice           string        `json:"voice"`
	Instructions    string        `json:"instructions"`
	SampleRate      int           `json:"sample_rate"`
	TurnDetection   TurnDetection `json:"turn_detection"`
	Temperature     float64       `json:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens"`
}

func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Model:      "gpt-realtime",
		Voice:      "alloy",
		SampleRate: audio.SampleRate,
		TurnDetection: TurnDetection{
			Mode:      TurnDetectionServerVAD,
			Threshold: 0.5,
			SilenceMs: 500,
		},
		Temperature: 0.8,
	}
}

// LoadSessionConfig reads a YAML config file. Fields left empty fall
// back to defaults before validation.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := new(SessionConfig)
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.UseJSONUnmarshaler()); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SessionConfig) applyDefaults() {
	def := DefaultSessionConfig()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Voice == "" {
		c.Voice = def.Voice
	}
	if c.SampleRate == 0 {
		c.SampleRate = def.SampleRate
	}
	if c.TurnDetection.Mode == "" {
		c.TurnDetection = def.TurnDetection
	}
	if c.Temperature == 0 {
		c.Temperature = def.Temperature
	}
}

func (c *SessionConfig) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.SampleRate != audio.SampleRate {
		return fmt.Errorf("sample rate must be %d, got %d", audio.SampleRate, c.SampleRate)
	}
	switch c.TurnDetection.Mode {
	case TurnDetectionServerVAD:
		if c.TurnDetection.Threshold < 0 || c.TurnDetection.Threshold > 1 {
			return fmt.Errorf("turn detection threshold must be in [0, 1], got %g", c.TurnDetection.Threshold)
		}
		if c.TurnDetection.SilenceMs <= 0 {
			return fmt.Errorf("turn detection silence must be positive, got %dms", c.TurnDetection.SilenceMs)
		}
	case TurnDetectionNone:
	default:
		return fmt.Errorf("unknown turn detection mode %q", c.TurnDetection.Mode)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must not be negative, got %g", c.Temperature)
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("max output tokens must not be negative, got %d", c.MaxOutputTokens)
	}
	return nil
}

// wireSession builds the session.update body.
func (c *SessionConfig) wireSession() map[string]any {
	session := map[string]any{
		"voice":               c.Voice,
		"instructions":        c.Instructions,
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"temperature":         c.Temperature,
	}
	switch c.TurnDetection.Mode {
	case TurnDetectionServerVAD:
		session["turn_detection"] = map[string]any{
			"type":                TurnDetectionServerVAD,
			"threshold":           c.TurnDetection.Threshold,
			"silence_duration_ms": c.TurnDetection.SilenceMs,
		}
	case TurnDetectionNone:
		session["turn_detection"] = nil
	}
	if c.MaxOutputTokens > 0 {
		session["max_response_output_tokens"] = c.MaxOutputTokens
	}
	return session
}
