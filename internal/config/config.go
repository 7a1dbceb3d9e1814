// Package config holds the engine's runtime configuration. Values come from
// defaults, then an optional YAML or JSON file, then environment variables,
// in increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete engine configuration.
type Config struct {
	// Playback configuration
	Playback PlaybackConfig `yaml:"playback" json:"playback"`

	// Decode pipeline configuration
	Decode DecodeConfig `yaml:"decode" json:"decode"`

	// Editing behavior configuration
	Editing EditingConfig `yaml:"editing" json:"editing"`

	// Export configuration
	Export ExportConfig `yaml:"export" json:"export"`

	// Media import configuration
	Media MediaConfig `yaml:"media" json:"media"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PlaybackConfig tunes the preview player.
type PlaybackConfig struct {
	TickFPS          float64       `yaml:"tick_fps" json:"tick_fps" env:"OPENREEL_TICK_FPS" default:"30"`
	SeekDebounce     time.Duration `yaml:"seek_debounce" json:"seek_debounce" env:"OPENREEL_SEEK_DEBOUNCE" default:"16ms"`
	MasterGain       float64       `yaml:"master_gain" json:"master_gain" env:"OPENREEL_MASTER_GAIN" default:"1.0"`
	HoldOnDecodeFail bool          `yaml:"hold_on_decode_fail" json:"hold_on_decode_fail" env:"OPENREEL_HOLD_ON_FAIL" default:"true"`
}

// DecodeConfig tunes the per-asset decode pipelines.
type DecodeConfig struct {
	Lookahead      time.Duration `yaml:"lookahead" json:"lookahead" env:"OPENREEL_DECODE_LOOKAHEAD" default:"2s"`
	Behind         time.Duration `yaml:"behind" json:"behind" env:"OPENREEL_DECODE_BEHIND" default:"1s"`
	PlayTolerance  time.Duration `yaml:"play_tolerance" json:"play_tolerance" env:"OPENREEL_PLAY_TOLERANCE" default:"50ms"`
	ScrubTolerance time.Duration `yaml:"scrub_tolerance" json:"scrub_tolerance" env:"OPENREEL_SCRUB_TOLERANCE" default:"250ms"`
	CacheCapacity  int           `yaml:"cache_capacity" json:"cache_capacity" env:"OPENREEL_CACHE_CAPACITY" default:"0"`
}

// EditingConfig tunes command behavior.
type EditingConfig struct {
	UndoDepth       int  `yaml:"undo_depth" json:"undo_depth" env:"OPENREEL_UNDO_DEPTH" default:"50"`
	RippleAllTracks bool `yaml:"ripple_all_tracks" json:"ripple_all_tracks" env:"OPENREEL_RIPPLE_ALL_TRACKS" default:"false"`
	SnapToFrames    bool `yaml:"snap_to_frames" json:"snap_to_frames" env:"OPENREEL_SNAP_TO_FRAMES" default:"true"`
}

// ExportConfig holds export defaults.
type ExportConfig struct {
	VideoCodec   string `yaml:"video_codec" json:"video_codec" env:"OPENREEL_VIDEO_CODEC" default:"libx264"`
	VideoBitrate string `yaml:"video_bitrate" json:"video_bitrate" env:"OPENREEL_VIDEO_BITRATE" default:"8M"`
	SampleRate   int    `yaml:"sample_rate" json:"sample_rate" env:"OPENREEL_SAMPLE_RATE" default:"48000"`
	OutputDir    string `yaml:"output_dir" json:"output_dir" env:"OPENREEL_OUTPUT_DIR" default:"./exports"`
}

// MediaConfig tunes media import and relinking.
type MediaConfig struct {
	ThumbnailWidth  int  `yaml:"thumbnail_width" json:"thumbnail_width" env:"OPENREEL_THUMBNAIL_WIDTH" default:"160"`
	ThumbnailCount  int  `yaml:"thumbnail_count" json:"thumbnail_count" env:"OPENREEL_THUMBNAIL_COUNT" default:"10"`
	WaveformBuckets int  `yaml:"waveform_buckets" json:"waveform_buckets" env:"OPENREEL_WAVEFORM_BUCKETS" default:"512"`
	WatchAssets     bool `yaml:"watch_assets" json:"watch_assets" env:"OPENREEL_WATCH_ASSETS" default:"true"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"OPENREEL_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"OPENREEL_LOG_FORMAT" default:"text"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), false); err != nil {
		// Defaults are compile-time constants; a parse failure here is a bug.
		panic(fmt.Sprintf("invalid default config tag: %v", err))
	}
	return cfg
}

// Load builds a configuration from defaults, the optional file at path, and
// the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFromFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), true); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Playback.TickFPS <= 0 {
		return fmt.Errorf("playback.tick_fps must be positive, got %g", c.Playback.TickFPS)
	}
	if c.Editing.UndoDepth <= 0 {
		return fmt.Errorf("editing.undo_depth must be positive, got %d", c.Editing.UndoDepth)
	}
	if c.Export.SampleRate <= 0 {
		return fmt.Errorf("export.sample_rate must be positive, got %d", c.Export.SampleRate)
	}
	if c.Decode.Lookahead <= 0 {
		return fmt.Errorf("decode.lookahead must be positive, got %s", c.Decode.Lookahead)
	}
	return nil
}

// Save writes the configuration to path in a format chosen by extension.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}
}

// loadStructFromEnv walks struct fields recursively. With fromEnv false only
// default tags are applied; with it true, set environment variables win.
func loadStructFromEnv(v reflect.Value, fromEnv bool) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, fromEnv); err != nil {
				return err
			}
			continue
		}

		var value string
		if fromEnv {
			if envTag := fieldType.Tag.Get("env"); envTag != "" {
				value = os.Getenv(envTag)
			}
		} else {
			value = fieldType.Tag.Get("default")
		}
		if value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}
	return nil
}
