package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"apitap/pkg/logging"
)

const (
	userDataDir    = ".apitap"
	configFileName = "config.yaml"

	// EnvDataDir overrides the data directory (~/.apitap).
	EnvDataDir = "APITAP_DIR"
	// EnvSkillsDir overrides where skill files are written.
	EnvSkillsDir = "APITAP_SKILLS_DIR"
)

// GetDefaultDataPathOrPanic returns the data directory, honoring the
// APITAP_DIR override.
func GetDefaultDataPathOrPanic() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user home directory: %w", err))
	}
	return filepath.Join(homeDir, userDataDir)
}

// LoadConfig loads configuration from the given data directory. A
// missing config.yaml is not an error; defaults apply.
func LoadConfig(dataPath string) (Config, error) {
	config := GetDefaultConfig()
	config.SkillsDir = filepath.Join(dataPath, "skills")
	config.CredentialsDir = dataPath

	configFilePath := filepath.Join(dataPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("config", "No config.yaml at %s, using defaults", configFilePath)
			return applyEnv(config), nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Debug("config", "Loaded configuration from %s", configFilePath)
	return applyEnv(config), nil
}

func applyEnv(config Config) Config {
	if dir := os.Getenv(EnvSkillsDir); dir != "" {
		config.SkillsDir = dir
	}
	return config
}
