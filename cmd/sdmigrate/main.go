package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfigPath = "./config/sdmigrate.yaml"

var rootCmd = &cobra.Command{
	Use:           "sdmigrate",
	Short:         "Migrate library configs and library databases to the current schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Defaults
	v := viper.GetViper()
	v.SetDefault("config", defaultConfigPath)
	v.SetDefault("libraries_dir", "")
	v.SetDefault("log_level", "")

	// Environment variables support: SDMIGRATE_CONFIG, SDMIGRATE_LIBRARIES_DIR, SDMIGRATE_LOG_LEVEL
	v.SetEnvPrefix("SDMIGRATE")
	v.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", v.GetString("config"), "path to the sdmigrate config yaml")
	rootCmd.PersistentFlags().String("libraries-dir", v.GetString("libraries_dir"), "directory holding *.sdlibrary files (overrides config)")
	rootCmd.PersistentFlags().String("log-level", v.GetString("log_level"), "log level: error, warn, info, debug (overrides config)")

	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("libraries_dir", rootCmd.PersistentFlags().Lookup("libraries-dir"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(createCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
