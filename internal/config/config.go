// Package config handles scout daemon configuration
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/gridscout/platform/internal/errors"
)

type Config struct {
	HTTPAddr      string
	ReportURL     string
	ReportTimeout time.Duration
	RedisURL      string
	RedisChannel  string
	DBPath        string

	OCRAddr       string // empty runs Tesseract in-process
	OCRListenAddr string // where the OCR daemon serves
	TessdataPath  string
	OCRLanguage   string
	OCRBlacklist  string
	OCRDPI        int

	Scale         float64
	SauvolaWindow int // half-width of the local window
	SauvolaK      float64

	KeepAlive         time.Duration
	IdleBackoff       time.Duration
	FrameTimeout      time.Duration
	PollInterval      time.Duration
	FrameInterval     time.Duration
	WindowTitlePrefix string
	ChangeMaxDistance int // perceptual hash distance, 0 = exact digest only

	DisconnectPhrases []string
	ScoutsFile        string
	LogLevel          string
	Version           string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8085"),
		ReportURL:     getEnv("REPORT_URL", "http://localhost:3000/"),
		ReportTimeout: getEnvDuration("REPORT_TIMEOUT", 10*time.Second),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "gridscout:reports"),
		DBPath:        getEnv("DB_PATH", "gridscout.db"),

		OCRAddr:       getEnv("OCR_ADDR", ""),
		OCRListenAddr: getEnv("OCR_LISTEN_ADDR", ":50051"),
		TessdataPath:  getEnv("TESSDATA_PATH", "./tessdata"),
		OCRLanguage:   getEnv("OCR_LANGUAGE", "eve"),
		OCRBlacklist:  getEnv("OCR_BLACKLIST", "@"),
		OCRDPI:        getEnvInt("OCR_DPI", 300),

		Scale:         getEnvFloat("PREPROCESS_SCALE", 5.0),
		SauvolaWindow: getEnvInt("SAUVOLA_WINDOW", 10),
		SauvolaK:      getEnvFloat("SAUVOLA_K", 0.1),

		KeepAlive:         getEnvDuration("KEEP_ALIVE", 5*time.Minute),
		IdleBackoff:       getEnvDuration("IDLE_BACKOFF", 200*time.Millisecond),
		FrameTimeout:      getEnvDuration("FRAME_TIMEOUT", 3*time.Second),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		FrameInterval:     getEnvDuration("FRAME_INTERVAL", 250*time.Millisecond),
		WindowTitlePrefix: getEnv("WINDOW_TITLE_PREFIX", "EVE - "),
		ChangeMaxDistance: getEnvInt("CHANGE_MAX_DISTANCE", 0),

		DisconnectPhrases: getEnvList("DISCONNECT_PHRASES", []string{"connection lost", "socket closed", "disconnected"}),
		ScoutsFile:        getEnv("SCOUTS_FILE", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Version:           getEnv("APP_VERSION", "dev"),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Scale <= 0:
		return apperrors.Newf(apperrors.ConfigInvalid, "PREPROCESS_SCALE must be positive, got %v", c.Scale)
	case c.SauvolaWindow <= 0:
		return apperrors.Newf(apperrors.ConfigInvalid, "SAUVOLA_WINDOW must be positive, got %d", c.SauvolaWindow)
	case c.SauvolaK <= 0 || c.SauvolaK >= 1:
		return apperrors.Newf(apperrors.ConfigInvalid, "SAUVOLA_K must be in (0,1), got %v", c.SauvolaK)
	case c.KeepAlive <= 0, c.IdleBackoff <= 0, c.FrameTimeout <= 0, c.PollInterval <= 0, c.FrameInterval <= 0:
		return apperrors.New(apperrors.ConfigInvalid, "intervals must be positive")
	case c.ChangeMaxDistance < 0:
		return apperrors.Newf(apperrors.ConfigInvalid, "CHANGE_MAX_DISTANCE must not be negative, got %d", c.ChangeMaxDistance)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ScoutSpec is one entry of the watch list file.
type ScoutSpec struct {
	Title   string `yaml:"title"`
	System  string `yaml:"system"`
	Margins struct {
		Left   int `yaml:"left"`
		Top    int `yaml:"top"`
		Right  int `yaml:"right"`
		Bottom int `yaml:"bottom"`
	} `yaml:"margins"`
}

// LoadScouts reads the YAML watch list. An empty path yields no scouts.
func LoadScouts(path string) ([]ScoutSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "read scouts file %s", path)
	}
	var doc struct {
		Scouts []ScoutSpec `yaml:"scouts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "parse scouts file %s", path)
	}
	for i, s := range doc.Scouts {
		if strings.TrimSpace(s.Title) == "" {
			return nil, apperrors.New(apperrors.ConfigInvalid, fmt.Sprintf("scout %d has no title", i))
		}
	}
	return doc.Scouts, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
