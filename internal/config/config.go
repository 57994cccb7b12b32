package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

const appName = "readaloud"

// Config is the fully resolved application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Text     TextConfig     `mapstructure:"text"`
	Process  ProcessConfig  `mapstructure:"process"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Engines  EnginesConfig  `mapstructure:"engines"`

	Credentials Credentials `mapstructure:"-"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type CacheConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Dir                  string `mapstructure:"dir"`
	MaxSizeMB            int64  `mapstructure:"max_size_mb"`
	MaxAgeDays           int    `mapstructure:"max_age_days"`
	CleanupIntervalHours int    `mapstructure:"cleanup_interval_hours"`
}

func (c CacheConfig) MaxSizeBytes() int64 {
	return c.MaxSizeMB * 1024 * 1024
}

func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

func (c CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

type ProfilesConfig struct {
	Dir string `mapstructure:"dir"`
}

type TTSConfig struct {
	Engine string `mapstructure:"engine"`
}

type TextConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

type ProcessConfig struct {
	Parallel  int    `mapstructure:"parallel"`
	OutputDir string `mapstructure:"output_dir"`
}

// AudioConfig holds the effect chains. Effects and Spectral are nested maps keyed
// by stage name; a missing stage is skipped.
type AudioConfig struct {
	SampleRate  int                    `mapstructure:"sample_rate"`
	FrameLength int                    `mapstructure:"frame_length"`
	HopLength   int                    `mapstructure:"hop_length"`
	Effects     map[string]interface{} `mapstructure:"effects"`
	Spectral    map[string]interface{} `mapstructure:"spectral"`
}

type EnginesConfig struct {
	Disabled   []string          `mapstructure:"disabled"`
	Aliases    map[string]string `mapstructure:"aliases"`
	ElevenLabs CloudEngineConfig `mapstructure:"elevenlabs"`
	OpenAI     CloudEngineConfig `mapstructure:"openai"`
	Google     CloudEngineConfig `mapstructure:"google"`
	ESpeak     ESpeakConfig      `mapstructure:"espeak"`
}

type CloudEngineConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

type ESpeakConfig struct {
	Binary string `mapstructure:"binary"`
}

// Credentials are read from the environment only, never from the config file.
type Credentials struct {
	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY"`
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	GoogleCredentials string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

func (c Credentials) HasGoogle() bool {
	return c.GoogleCredentials != ""
}

// SetDefaults registers every default with viper.
func SetDefaults() {
	viper.SetDefault("log.level", "info")

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.dir", defaultCacheDir())
	viper.SetDefault("cache.max_size_mb", 100)
	viper.SetDefault("cache.max_age_days", 7)
	viper.SetDefault("cache.cleanup_interval_hours", 24)

	viper.SetDefault("profiles.dir", defaultProfilesDir())

	viper.SetDefault("tts.engine", "auto") // Auto-select best engine

	viper.SetDefault("text.chunk_size", 1000)

	viper.SetDefault("process.parallel", 2)
	viper.SetDefault("process.output_dir", ".")

	viper.SetDefault("audio.sample_rate", 44100)
	viper.SetDefault("audio.frame_length", 2048)
	viper.SetDefault("audio.hop_length", 512)

	viper.SetDefault("engines.disabled", []string{})
	viper.SetDefault("engines.elevenlabs.base_url", "https://api.elevenlabs.io")
	viper.SetDefault("engines.elevenlabs.requests_per_minute", 60)
	viper.SetDefault("engines.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("engines.openai.requests_per_minute", 50)
	viper.SetDefault("engines.google.requests_per_minute", 300)
	viper.SetDefault("engines.espeak.binary", "")
}

// Init points viper at the config file locations. A missing file is not an error.
func Init(configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(appName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/." + appName)
		if dirs, err := gap.NewScope(gap.User, appName).ConfigDirs(); err == nil {
			for _, dir := range dirs {
				viper.AddConfigPath(dir)
			}
		}
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix(appName)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load unmarshals the viper state and the environment credentials. A .env
// file in the working directory fills in credentials the environment lacks.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	_ = godotenv.Load()
	creds, err := env.ParseAs[Credentials]()
	if err != nil {
		return cfg, fmt.Errorf("parse credentials: %w", err)
	}
	cfg.Credentials = creds
	return cfg, cfg.Validate()
}

// Validate rejects values that would make a component misbehave.
func (c Config) Validate() error {
	if c.Cache.MaxSizeMB <= 0 {
		return fmt.Errorf("cache.max_size_mb must be positive, got %d", c.Cache.MaxSizeMB)
	}
	if c.Cache.MaxAgeDays <= 0 {
		return fmt.Errorf("cache.max_age_days must be positive, got %d", c.Cache.MaxAgeDays)
	}
	if c.Text.ChunkSize <= 0 {
		return fmt.Errorf("text.chunk_size must be positive, got %d", c.Text.ChunkSize)
	}
	if c.Audio.FrameLength <= 0 || c.Audio.HopLength <= 0 || c.Audio.HopLength > c.Audio.FrameLength {
		return fmt.Errorf("audio.hop_length must be in (0, frame_length]")
	}
	if c.Process.Parallel <= 0 {
		return fmt.Errorf("process.parallel must be positive, got %d", c.Process.Parallel)
	}
	return nil
}

func defaultCacheDir() string {
	if dir, err := gap.NewScope(gap.User, appName).CacheDir(); err == nil {
		return dir
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "."+appName, "cache")
	}
	return "cache"
}

func defaultProfilesDir() string {
	if dirs, err := gap.NewScope(gap.User, appName).ConfigDirs(); err == nil && len(dirs) > 0 {
		return filepath.Join(dirs[0], "profiles")
	}
	return "profiles"
}
