package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quailyquaily/slackrelay/integration"
	"github.com/spf13/viper"
)

const envPrefix = "SLACK_RELAY"

// initViper wires env lookup and defaults, then loads the config file: the
// --config path when given, else slackrelay.yaml in the working directory or
// ~/.config/slackrelay/config.yaml when present.
func initViper(configPath string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	integration.ApplyViperDefaults()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		configPath = findConfig()
	}
	if configPath == "" {
		return nil
	}
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configPath, err)
	}
	return nil
}

func findConfig() string {
	candidates := []string{"slackrelay.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "slackrelay", "config.yaml"))
	}
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}
