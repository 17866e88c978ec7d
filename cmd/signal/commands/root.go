// Package commands implements the signal relay command line.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opd-ai/callcore/config"
)

var (
	_viper      = config.NewViper()
	_config     = config.NewDefaultConfig()
	_configFile string
)

// RootCmd is the root command of the signal relay.
var RootCmd = &cobra.Command{
	Use:              "signal",
	Short:            "websocket signaling relay for direct calls",
	TraverseChildren: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&_configFile, "config", "", "Config file (yaml, toml or json)")
	RootCmd.PersistentFlags().String("log", _config.LogLevel, "trace, debug, info, warn, error, fatal, panic")
	RootCmd.PersistentFlags().String("log-dir", _config.LogDir, "Directory for per-level log files")
	RootCmd.AddCommand(NewRunCmd())
}

// loadConfig binds the command's flags and decodes the configuration.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlags(_viper, cmd); err != nil {
		return err
	}
	cfg, err := config.FromViper(_viper, _configFile)
	if err != nil {
		return err
	}
	_config = cfg
	_config.ApplyToStandardLogger()
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return v.BindPFlags(cmd.InheritedFlags())
}
