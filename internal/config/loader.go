package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/nvollmar/backchannel/pkg/audio"
)

// ValidClassifierNames lists the known classifier backend names. Used
// by [Validate] to warn about unrecognised names without rejecting
// them, since backends may be registered at runtime.
var ValidClassifierNames = []string{"openai", "anyllm"}

// validAnyLLMProviders lists the providers any-llm-go can route to.
var validAnyLLMProviders = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"}

// Load reads the YAML configuration file at path and returns a
// validated [Config]. It is a convenience wrapper around
// [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Recognizer
	if cfg.Recognizer.ModelPath == "" {
		slog.Warn("recognizer.model_path is empty; sessions will be refused until a model is configured")
	}
	if cfg.Recognizer.RMSThreshold < 0 {
		errs = append(errs, fmt.Errorf("recognizer.rms_threshold %.1f must not be negative", cfg.Recognizer.RMSThreshold))
	}
	if cfg.Recognizer.Workers < 0 {
		errs = append(errs, fmt.Errorf("recognizer.workers %d must not be negative", cfg.Recognizer.Workers))
	}
	for name, d := range map[string]Duration{
		"recognizer.silence":          cfg.Recognizer.Silence,
		"recognizer.max_buffer":       cfg.Recognizer.MaxBuffer,
		"recognizer.partial_interval": cfg.Recognizer.PartialInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	// Classifier
	if cfg.Classifier.Name == "" {
		slog.Warn("classifier.name is empty; every utterance will use the fallback reaction")
	} else {
		if !slices.Contains(ValidClassifierNames, cfg.Classifier.Name) {
			slog.Warn("unknown classifier backend — may be a typo or a runtime-registered backend",
				"name", cfg.Classifier.Name,
				"known", ValidClassifierNames,
			)
		}
		if cfg.Classifier.Model == "" {
			errs = append(errs, fmt.Errorf("classifier.model is required when classifier.name is %q", cfg.Classifier.Name))
		}
	}
	if cfg.Classifier.Name == "anyllm" {
		if cfg.Classifier.Provider == "" {
			errs = append(errs, errors.New("classifier.provider is required when classifier.name is anyllm"))
		} else if !slices.Contains(validAnyLLMProviders, cfg.Classifier.Provider) {
			errs = append(errs, fmt.Errorf("classifier.provider %q is invalid; valid values: %v", cfg.Classifier.Provider, validAnyLLMProviders))
		}
	}
	if cfg.Classifier.Timeout <= 0 {
		errs = append(errs, errors.New("classifier.timeout must be positive"))
	}

	// Session
	if cfg.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if cfg.Session.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("session.heartbeat_interval must be positive"))
	}
	if cfg.Session.HeartbeatInterval >= cfg.Session.IdleTimeout {
		slog.Warn("session.heartbeat_interval is not shorter than session.idle_timeout",
			"heartbeat_interval", cfg.Session.HeartbeatInterval.Std(),
			"idle_timeout", cfg.Session.IdleTimeout.Std(),
		)
	}
	if _, err := audio.ParseCodec(cfg.Session.Codec); err != nil {
		errs = append(errs, fmt.Errorf("session.codec %q is invalid; valid values: pcm16, opus", cfg.Session.Codec))
	}

	// Token
	if (cfg.Token.APIKey == "") != (cfg.Token.APISecret == "") {
		errs = append(errs, errors.New("token.api_key and token.api_secret must be set together"))
	}
	if cfg.Token.Enabled() {
		if cfg.Token.ServerURL == "" {
			errs = append(errs, errors.New("token.server_url is required when token credentials are set"))
		}
		if cfg.Token.TTL <= 0 {
			errs = append(errs, errors.New("token.ttl must be positive"))
		}
	}

	return errors.Join(errs...)
}
