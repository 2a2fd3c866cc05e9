package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxSettingsFileSize = 1 << 20 // 1MB

// LoadSettings loads global settings from a YAML file, then overrides with
// OPENBOT_* environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (OPENBOT_LOG_LEVEL, OPENBOT_BRANCH_NAMESPACE, ...)
//  2. YAML config file (~/.openbot/config.yaml)
//  3. Hardcoded defaults
//
// If path is empty the default path is used. A missing file is not an error;
// defaults apply.
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if path == "" {
		home, err := Home()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, "config.yaml")
	}

	if info, err := os.Stat(path); err == nil {
		if info.Size() > maxSettingsFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxSettingsFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// OPENBOT_LOG_LEVEL -> log_level, OPENBOT_APPROVAL_TIMEOUT -> approval_timeout
	if err := k.Load(env.Provider("OPENBOT_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "OPENBOT_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	applySettingsDefaults(&settings)

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return &settings, nil
}

// applySettingsDefaults sets default values for missing fields.
func applySettingsDefaults(s *Settings) {
	if s.LogLevel == "" {
		s.LogLevel = "warn"
	}
	if s.LogFormat == "" {
		s.LogFormat = "console"
	}
	if s.BranchNamespace == "" {
		s.BranchNamespace = "openbot"
	}
	if s.ApprovalTimeout == 0 {
		s.ApprovalTimeout = 2 * time.Minute
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 5 * time.Second
	}
	if s.InterruptGrace == 0 {
		s.InterruptGrace = 10 * time.Second
	}
	if len(s.EngineCommand) == 0 {
		s.EngineCommand = []string{"codex"}
	}
}
