package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithProfile_ActiveProfileInheritsFromDefault(t *testing.T) {
	cfg, err := LoadWithProfile(createTempConfig(t, validConfig), "")
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}

	if cfg.Profile != "guitar" || cfg.ProfileName != "Guitar" {
		t.Errorf("Expected guitar profile, got %s (%s)", cfg.Profile, cfg.ProfileName)
	}
	// Selection: only the profile's channels are recorded.
	if len(cfg.Channels) != 1 || cfg.Channels[0].Name != "room" {
		t.Errorf("Expected only the room channel, got %+v", cfg.Channels)
	}
	// Fallback from the default profile.
	if cfg.Session.DefaultTitle != "Daily practice" {
		t.Errorf("Expected inherited default title, got %q", cfg.Session.DefaultTitle)
	}
	if cfg.Session.DiscardThreshold != 45*time.Second {
		t.Errorf("Expected inherited discard threshold 45s, got %s", cfg.Session.DiscardThreshold)
	}
	if cfg.Output.Directory != "/tmp/practice" {
		t.Errorf("Expected inherited output directory, got %s", cfg.Output.Directory)
	}
	// Profile-specific value.
	if cfg.Session.Countdown != 5*time.Minute {
		t.Errorf("Expected countdown 5m, got %s", cfg.Session.Countdown)
	}
	// Built-in defaults fill the rest.
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("Expected built-in sample rate 48000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Session.TickInterval != time.Second/60 {
		t.Errorf("Expected built-in tick interval, got %s", cfg.Session.TickInterval)
	}
}

func TestLoadWithProfile_ExplicitProfileOverridesActive(t *testing.T) {
	cfg, err := LoadWithProfile(createTempConfig(t, validConfig), "default")
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}
	if cfg.Profile != "default" || cfg.ProfileName != "Everyday" {
		t.Errorf("Expected default profile, got %s (%s)", cfg.Profile, cfg.ProfileName)
	}
	if cfg.Channels[0].Name != "mic" || cfg.Channels[0].AudioMode != "mono" {
		t.Errorf("Expected mono mic channel, got %+v", cfg.Channels[0])
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	if _, err := LoadWithProfile(createTempConfig(t, validConfig), "drums"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestLoadWithProfile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithProfile(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got: %v", err)
	}
	if cfg.Session.SnapshotInterval != 2*time.Second {
		t.Errorf("Expected default snapshot interval, got %s", cfg.Session.SnapshotInterval)
	}
}

func TestLoadWithProfile_RejectsBadFormat(t *testing.T) {
	content := `
configs:
  default:
    output:
      format: ogg
`
	if _, err := LoadWithProfile(createTempConfig(t, content), ""); err == nil {
		t.Error("Expected error for unsupported output format")
	}
}

func TestOutputCodec(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"flac", "flac"},
		{"wav", "pcm_s16le"},
		{"mp3", "libmp3lame"},
		{"ogg", ""},
	}
	for _, tt := range tests {
		if got := (OutputConfig{Format: tt.format}).Codec(); got != tt.want {
			t.Errorf("Codec() for %s = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestLoadWithProfile_GlobalStateDirectory(t *testing.T) {
	content := `
globals:
  state_directory: /var/tmp/practice-state
configs:
  default:
    profile_name: Main
`
	cfg, err := LoadWithProfile(createTempConfig(t, content), "")
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}
	if cfg.SnapshotPath() != "/var/tmp/practice-state/ongoing-session.yaml" {
		t.Errorf("Unexpected snapshot path: %s", cfg.SnapshotPath())
	}
	if cfg.DatabasePath() != "/var/tmp/practice-state/practicelog.db" {
		t.Errorf("Unexpected database path: %s", cfg.DatabasePath())
	}
}

func TestMergeConfigs_ProfileOnly(t *testing.T) {
	profile := &Config{ProfileName: "Solo"}
	result := mergeConfigs(nil, profile)
	if result != profile {
		t.Error("Expected profile to be returned unchanged when base is nil")
	}
}

func TestMergeConfigs_ChannelsAreSelectedNotMerged(t *testing.T) {
	base := &Config{Channels: []Channel{{Name: "a", Sources: []string{"x:1"}}, {Name: "b", Sources: []string{"x:2"}}}}
	profile := &Config{Channels: []Channel{{Name: "c", Sources: []string{"y:1"}}}}

	result := mergeConfigs(base, profile)
	if len(result.Channels) != 1 || result.Channels[0].Name != "c" {
		t.Errorf("Expected only profile channel c, got %+v", result.Channels)
	}
	if result.Channels[0].AudioMode != "mono" {
		t.Errorf("Expected audioMode to default to mono, got %q", result.Channels[0].AudioMode)
	}
}

func TestCaptureSourcesSkipsDisabled(t *testing.T) {
	cfg := &Config{Channels: []Channel{
		{Name: "a", Sources: []string{"dev:1", "disabled"}},
		{Name: "b", Sources: []string{""}},
		{Name: "c", Sources: []string{"dev:2"}},
	}}
	got := cfg.CaptureSources()
	if len(got) != 2 || got[0] != "dev:1" || got[1] != "dev:2" {
		t.Errorf("Unexpected capture sources: %v", got)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()
	tests := []struct {
		input    string
		expected string
	}{
		{"~/Audio/Practice", filepath.Join(homeDir, "Audio/Practice")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}
	for _, test := range tests {
		if result := expandPath(test.input); result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}
