// Package configutil resolves settings that may come from a cobra flag or
// from viper (config file or SLACK_RELAY_* environment).
package configutil

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagChanged reports whether the flag exists and was set explicitly.
func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// FlagOrViperString prefers an explicitly set flag, then the viper key, then
// the flag default.
func FlagOrViperString(cmd *cobra.Command, flagName, key string) string {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetString(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetString(key)
	}
	if cmd != nil && cmd.Flags().Lookup(flagName) != nil {
		v, _ := cmd.Flags().GetString(flagName)
		return v
	}
	return ""
}

func FlagOrViperStringArray(cmd *cobra.Command, flagName, key string) []string {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetStringArray(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetStringSlice(key)
	}
	if cmd != nil && cmd.Flags().Lookup(flagName) != nil {
		v, _ := cmd.Flags().GetStringArray(flagName)
		return v
	}
	return nil
}

func FlagOrViperInt(cmd *cobra.Command, flagName, key string) int {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetInt(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetInt(key)
	}
	if cmd != nil && cmd.Flags().Lookup(flagName) != nil {
		v, _ := cmd.Flags().GetInt(flagName)
		return v
	}
	return 0
}

func FlagOrViperBool(cmd *cobra.Command, flagName, key string) bool {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetBool(key)
	}
	if cmd != nil && cmd.Flags().Lookup(flagName) != nil {
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	return false
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, key string) time.Duration {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetDuration(flagName)
		return v
	}
	if key != "" && viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	if cmd != nil && cmd.Flags().Lookup(flagName) != nil {
		v, _ := cmd.Flags().GetDuration(flagName)
		return v
	}
	return 0
}
