package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// defaults mirrors the fallback values called out next to each variable in
// the configuration reference. They apply whenever the corresponding
// environment variable is unset or empty.
const (
	defaultListenAddr        = ":8080"
	defaultLogLevel          = "info"
	defaultLLMProvider       = "openai"
	defaultLLMTimeoutSec     = 30
	defaultIdleTickSec       = 1.5
	defaultInterimConfirmSec = 1.5
)

// Load reads configuration from the process environment, optionally after
// loading a ".env" file if one is present in the working directory. A
// missing .env file is not an error; one with malformed syntax is.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: getString("LISTEN_ADDR", defaultListenAddr),
			LogLevel:   getString("LOG_LEVEL", defaultLogLevel),
		},
		LLM: LLMConfig{
			Provider: getString("LLM_PROVIDER", defaultLLMProvider),
			Model:    getString("LLM_MODEL", ""),
			APIKey:   getString("LLM_API_KEY", ""),
			Timeout:  getSeconds("LLM_TIMEOUT_SEC", defaultLLMTimeoutSec),
		},
		STT: STTConfig{
			APIKey:       getString("DEEPGRAM_API_KEY", ""),
			EchoCooldown: getSeconds("ECHO_COOLDOWN_SEC", 4),
			MergeWindow:  getSeconds("STT_MERGE_WINDOW_SEC", 0.8),
		},
		TTS: TTSConfig{
			APIKey:  getString("ELEVENLABS_API_KEY", ""),
			VoiceID: getString("ELEVENLABS_VOICE_ID", ""),
		},
		Board: BoardConfig{
			WriteX:                   getFloat("BOARD_WRITE_X", 40),
			WriteY0:                  getFloat("BOARD_WRITE_Y0", 40),
			MaxHeight:                getFloat("MAX_BOARD_HEIGHT", 2000),
			MarginBelowStudent:       getFloat("MARGIN_BELOW_STUDENT", 24),
			InterlineMargin:          getFloat("INTERLINE_MARGIN", 12),
			LatexRenderURL:           getString("LATEX_RENDER_URL", ""),
			LatexTargetHeightInline:  getFloat("LATEX_TARGET_HEIGHT_INLINE", 28),
			LatexTargetHeightDisplay: getFloat("LATEX_TARGET_HEIGHT_DISPLAY", 64),
		},
		BargeIn: BargeInConfig{
			AutoBargeDebounce: getSeconds("AUTO_BARGE_DEBOUNCE_SEC", 2),
			StartGuard:        getSeconds("BARGE_START_GUARD_SEC", 0.4),
			ConfirmWindow:     getSeconds("AUTO_BARGE_CONFIRM_WINDOW_SEC", defaultInterimConfirmSec),
		},
		Scheduler: SchedulerConfig{
			TickPeriod:       getSeconds("IDLE_TICK_SEC", defaultIdleTickSec),
			SilenceThreshold: getSeconds("SILENCE_THRESHOLD_SEC", 8),
			MinInterval:      getSeconds("MIN_PROACTIVE_INTERVAL_SEC", 20),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if cfg.STT.APIKey == "" {
		errs = append(errs, errors.New("DEEPGRAM_API_KEY is required"))
	}
	if cfg.TTS.APIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required"))
	}
	if cfg.TTS.VoiceID == "" {
		errs = append(errs, errors.New("ELEVENLABS_VOICE_ID is required"))
	}
	if cfg.Board.LatexRenderURL == "" {
		slog.Warn("LATEX_RENDER_URL is empty; LaTeX rendering will fail at first use")
	}

	return errors.Join(errs...)
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return f
}

// getSeconds parses key as a floating-point number of seconds and returns it
// as a time.Duration, falling back to fallbackSec when unset or invalid.
func getSeconds(key string, fallbackSec float64) time.Duration {
	return time.Duration(getFloat(key, fallbackSec) * float64(time.Second))
}
