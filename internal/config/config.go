package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DefinitionsConfig struct {
	Channels []ChannelDefinition `mapstructure:"channels" yaml:"channels"`
}

// ChannelDefinition describes a capture input the recorder can use.
type ChannelDefinition struct {
	ID        string   `mapstructure:"id" yaml:"id"`
	Name      string   `mapstructure:"name" yaml:"name"`
	Sources   []string `mapstructure:"sources" yaml:"sources"`
	AudioMode string   `mapstructure:"audioMode" yaml:"audioMode"`
}

type ChannelReference struct {
	Ref string `mapstructure:"ref" yaml:"ref"`
}

type GlobalsConfig struct {
	StateDirectory string `mapstructure:"state_directory" yaml:"state_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Audio        *AudioConfig              `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// ConfigProfile is one practice profile (an instrument, a band, a student).
type ConfigProfile struct {
	ProfileName string             `mapstructure:"profile_name" yaml:"profile_name"`
	Audio       AudioConfig        `mapstructure:"audio" yaml:"audio"`
	Channels    []ChannelReference `mapstructure:"channels" yaml:"channels"`
	Output      OutputConfig       `mapstructure:"output" yaml:"output"`
	Session     SessionConfig      `mapstructure:"session" yaml:"session"`
}

type AudioConfig struct {
	SampleRate      int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	PlaybackSink    string        `mapstructure:"playback_sink" yaml:"playback_sink"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
}

type Channel struct {
	Name      string   `mapstructure:"name" yaml:"name"`
	Sources   []string `mapstructure:"sources" yaml:"sources"`
	AudioMode string   `mapstructure:"audioMode" yaml:"audioMode"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Format    string `mapstructure:"format" yaml:"format"`
}

type SessionConfig struct {
	DefaultTitle     string        `mapstructure:"default_title" yaml:"default_title"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
	TickInterval     time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	DiscardThreshold time.Duration `mapstructure:"discard_threshold" yaml:"discard_threshold"`
	Countdown        time.Duration `mapstructure:"countdown" yaml:"countdown"`
}

// Config is a fully resolved profile.
type Config struct {
	Profile        string        `yaml:"profile"`
	ProfileName    string        `yaml:"profile_name"`
	StateDirectory string        `yaml:"state_directory"`
	Audio          AudioConfig   `yaml:"audio"`
	Channels       []Channel     `yaml:"channels"`
	Output         OutputConfig  `yaml:"output"`
	Session        SessionConfig `yaml:"session"`
}

// formatCodecs maps an output container to the ffmpeg audio encoder
// that writes it.
var formatCodecs = map[string]string{
	"flac": "flac",
	"wav":  "pcm_s16le",
	"mp3":  "libmp3lame",
}

// Codec returns the ffmpeg encoder for the output format.
func (o OutputConfig) Codec() string {
	return formatCodecs[o.Format]
}

var defaultConfig = Config{
	Profile:        "default",
	ProfileName:    "Practice",
	StateDirectory: filepath.Join(os.Getenv("HOME"), ".local", "state", "practicelog"),
	Audio: AudioConfig{
		SampleRate:      48000,
		MonitorInterval: 500 * time.Millisecond,
	},
	Channels: []Channel{
		{Name: "mic", Sources: []string{"system:capture_1"}, AudioMode: "mono"},
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "Practice"),
		Format:    "flac",
	},
	Session: SessionConfig{
		DefaultTitle:     "Practice session",
		SnapshotInterval: 2 * time.Second,
		TickInterval:     time.Second / 60,
		DiscardThreshold: time.Minute,
		Countdown:        10 * time.Minute,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	cfg.Channels = append([]Channel(nil), defaultConfig.Channels...)
	return &cfg
}

// LoadWithProfile resolves the named profile (or the file's active_config)
// on top of the default profile and the built-in defaults. A missing file
// yields the built-in configuration.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}
	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if profile != "" && profile != cfg.Profile {
			return nil, fmt.Errorf("configuration profile '%s' not found: %s does not exist", profile, configFile)
		}
		return cfg, nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selected, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	// Root level audio settings sit between the profile and the built-in defaults.
	if rootConfig.Audio != nil {
		selected.Audio = mergeAudio(*rootConfig.Audio, selected.Audio)
	}

	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok {
			base, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			selected = mergeConfigs(base, selected)
		}
	}
	selected = mergeConfigs(Default(), selected)
	selected.Profile = configName

	if rootConfig.Globals != nil && rootConfig.Globals.StateDirectory != "" {
		selected.StateDirectory = rootConfig.Globals.StateDirectory
	}
	selected.StateDirectory = expandPath(selected.StateDirectory)
	selected.Output.Directory = expandPath(selected.Output.Directory)

	if err := selected.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return selected, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	configs := v.GetStringMap("configs")
	if _, ok := configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// SnapshotPath is the single-slot crash recovery file.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.StateDirectory, "ongoing-session.yaml")
}

// DatabasePath is the SQLite file holding saved sessions.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDirectory, "practicelog.db")
}

// SegmentDirectory holds in-progress recording segments.
func (c *Config) SegmentDirectory() string {
	return filepath.Join(c.StateDirectory, "segments")
}

// CaptureSources returns all enabled sources in channel order.
func (c *Config) CaptureSources() []string {
	var sources []string
	for _, ch := range c.Channels {
		for _, s := range ch.Sources {
			if s != "" && s != "disabled" {
				sources = append(sources, s)
			}
		}
	}
	return sources
}

// Validate checks a resolved configuration.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got %d", c.Audio.SampleRate)
	}
	if _, ok := formatCodecs[c.Output.Format]; !ok {
		return fmt.Errorf("output.format must be one of flac, wav, mp3, got: %s", c.Output.Format)
	}
	if c.Session.SnapshotInterval <= 0 {
		return fmt.Errorf("session.snapshot_interval must be > 0, got %s", c.Session.SnapshotInterval)
	}
	if c.Session.TickInterval <= 0 {
		return fmt.Errorf("session.tick_interval must be > 0, got %s", c.Session.TickInterval)
	}
	if c.Session.DiscardThreshold < 0 {
		return fmt.Errorf("session.discard_threshold must be >= 0, got %s", c.Session.DiscardThreshold)
	}
	if c.Session.Countdown <= 0 {
		return fmt.Errorf("session.countdown must be > 0, got %s", c.Session.Countdown)
	}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel[%d] must have a name", i)
		}
		if err := validateSources(ch.Sources, ch.AudioMode, fmt.Sprintf("channel[%d] '%s'", i, ch.Name)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConfigurationFormat reads and validates the raw configuration file.
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("PRACTICELOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	// active_config is the one key routinely overridden from the environment.
	if active := v.GetString("active_config"); active != "" {
		rootConfig.ActiveConfig = active
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section must define at least one profile")
	}
	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
		if err := validateChannelReferences(profile.Channels, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}
	return &rootConfig, nil
}

func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	cfg := &Config{
		ProfileName: profile.ProfileName,
		Audio:       profile.Audio,
		Output:      profile.Output,
		Session:     profile.Session,
	}
	for i, ref := range profile.Channels {
		def := findDefinition(definitions, ref.Ref)
		if def == nil {
			return nil, fmt.Errorf("channel[%d]: reference '%s' not found in definitions", i, ref.Ref)
		}
		cfg.Channels = append(cfg.Channels, Channel{
			Name:      def.Name,
			Sources:   def.Sources,
			AudioMode: def.AudioMode,
		})
	}
	return cfg, nil
}

// mergeConfigs fills every field the profile leaves unset from base.
// Channels are selected, not merged: a profile listing channels records only those.
func mergeConfigs(base, profile *Config) *Config {
	if base == nil {
		return profile
	}
	if profile == nil {
		out := *base
		return &out
	}

	result := *profile
	if result.ProfileName == "" {
		result.ProfileName = base.ProfileName
	}
	if result.StateDirectory == "" {
		result.StateDirectory = base.StateDirectory
	}
	result.Audio = mergeAudio(base.Audio, profile.Audio)
	if len(result.Channels) == 0 {
		result.Channels = base.Channels
	}
	if result.Output.Directory == "" {
		result.Output.Directory = base.Output.Directory
	}
	if result.Output.Format == "" {
		result.Output.Format = base.Output.Format
	}
	if result.Session.DefaultTitle == "" {
		result.Session.DefaultTitle = base.Session.DefaultTitle
	}
	if result.Session.SnapshotInterval == 0 {
		result.Session.SnapshotInterval = base.Session.SnapshotInterval
	}
	if result.Session.TickInterval == 0 {
		result.Session.TickInterval = base.Session.TickInterval
	}
	if result.Session.DiscardThreshold == 0 {
		result.Session.DiscardThreshold = base.Session.DiscardThreshold
	}
	if result.Session.Countdown == 0 {
		result.Session.Countdown = base.Session.Countdown
	}
	for i := range result.Channels {
		if result.Channels[i].AudioMode == "" {
			result.Channels[i].AudioMode = "mono"
		}
	}
	return &result
}

func mergeAudio(base, profile AudioConfig) AudioConfig {
	out := profile
	if out.SampleRate == 0 {
		out.SampleRate = base.SampleRate
	}
	if out.PlaybackSink == "" {
		out.PlaybackSink = base.PlaybackSink
	}
	if out.MonitorInterval == 0 {
		out.MonitorInterval = base.MonitorInterval
	}
	return out
}

func findDefinition(definitions *DefinitionsConfig, id string) *ChannelDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Channels {
		if definitions.Channels[i].ID == id {
			return &definitions.Channels[i]
		}
	}
	return nil
}

func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return nil
	}
	seenIDs := make(map[string]bool)
	for i, def := range definitions.Channels {
		prefix := fmt.Sprintf("definitions.channels[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true
		if def.Name == "" {
			return fmt.Errorf("%s: 'name' is required", prefix)
		}
		if err := validateSources(def.Sources, def.AudioMode, prefix); err != nil {
			return err
		}
	}
	return nil
}

func validateChannelReferences(channels []ChannelReference, definitions *DefinitionsConfig) error {
	for i, ref := range channels {
		prefix := fmt.Sprintf("channels[%d]", i)
		if ref.Ref == "" {
			return fmt.Errorf("%s: 'ref' is required", prefix)
		}
		if findDefinition(definitions, ref.Ref) == nil {
			return fmt.Errorf("%s: references undefined channel definition '%s'", prefix, ref.Ref)
		}
	}
	return nil
}

func validateSources(sources []string, audioMode, prefix string) error {
	if audioMode != "" && audioMode != "mono" && audioMode != "stereo" {
		return fmt.Errorf("%s: 'audioMode' must be 'mono' or 'stereo', got: %s", prefix, audioMode)
	}
	expected := 1
	if audioMode == "stereo" {
		expected = 2
	}
	if len(sources) != expected {
		return fmt.Errorf("%s: audioMode '%s' requires exactly %d source(s), got %d", prefix, audioMode, expected, len(sources))
	}
	for j, source := range sources {
		if !isValidAudioSource(source) {
			return fmt.Errorf("%s: source[%d] must be a valid audio source (JACK port), got: %s", prefix, j, source)
		}
	}
	return nil
}

// isValidAudioSource accepts "device:port" names, "disabled" and the empty string.
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" || source == "disabled" {
		return true
	}
	idx := strings.LastIndex(source, ":")
	if idx == -1 {
		return true
	}
	device := strings.TrimSpace(source[:idx])
	port := strings.TrimSpace(source[idx+1:])
	return device != "" && port != ""
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
