package config_test

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvollmar/backchannel/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}

	invalid := []config.LogLevel{"", "trace", "INFO", "verbose"}
	for _, l := range invalid {
		if l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = true, want false", l)
		}
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		yaml    string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", yaml: `"30s"`, want: 30 * time.Second},
		{name: "compound", yaml: `"1m30s"`, want: 90 * time.Second},
		{name: "milliseconds", yaml: `"500ms"`, want: 500 * time.Millisecond},
		{name: "zero", yaml: `"0s"`, want: 0},
		{name: "not a duration", yaml: `"soon"`, wantErr: true},
		{name: "missing unit", yaml: `"30"`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var d config.Duration
			err := yaml.Unmarshal([]byte(tc.yaml), &d)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) = %v, want error", tc.yaml, d.Std())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s): %v", tc.yaml, err)
			}
			if d.Std() != tc.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tc.yaml, d.Std(), tc.want)
			}
		})
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	t.Parallel()

	in := config.Duration(90 * time.Second)
	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "1m30s" {
		t.Errorf("Marshal = %q, want 1m30s", got)
	}

	var out config.Duration
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %v, want %v", out.Std(), in.Std())
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Recognizer.Language != "en" {
		t.Errorf("language = %q", cfg.Recognizer.Language)
	}
	if cfg.Session.IdleTimeout.Std() != 30*time.Second {
		t.Errorf("idle_timeout = %v", cfg.Session.IdleTimeout.Std())
	}
	if cfg.Session.HeartbeatInterval.Std() != 10*time.Second {
		t.Errorf("heartbeat_interval = %v", cfg.Session.HeartbeatInterval.Std())
	}
	if cfg.Session.Codec != "pcm16" {
		t.Errorf("codec = %q", cfg.Session.Codec)
	}
	if cfg.Classifier.Timeout.Std() != 10*time.Second {
		t.Errorf("classifier timeout = %v", cfg.Classifier.Timeout.Std())
	}
	if cfg.Token.TTL.Std() != 5*time.Minute {
		t.Errorf("token ttl = %v", cfg.Token.TTL.Std())
	}

	// The defaults themselves must validate.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate(Default()) = %v", err)
	}
}

func TestTokenConfig_Enabled(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key, secret string
		want        bool
	}{
		{"", "", false},
		{"k", "", false},
		{"", "s", false},
		{"k", "s", true},
	}
	for _, tc := range cases {
		got := config.TokenConfig{APIKey: tc.key, APISecret: tc.secret}.Enabled()
		if got != tc.want {
			t.Errorf("Enabled(key=%q, secret=%q) = %v, want %v", tc.key, tc.secret, got, tc.want)
		}
	}
}
