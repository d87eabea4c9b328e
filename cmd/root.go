package cmd

import (
	"github.com/spf13/cobra"

	configcmd "github.com/liuyaodong/APNPush/cmd/config"
	"github.com/liuyaodong/APNPush/cmd/feedback"
	"github.com/liuyaodong/APNPush/cmd/push"
	"github.com/liuyaodong/APNPush/cmd/tokens"
	"github.com/liuyaodong/APNPush/internal/conf"
)

// RootCommand creates and returns the root command. settings is filled in
// from the configuration file before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "apnpush",
		Short:         "Bulk push notification sender for the APNs binary interface",
		Version:       settings.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/apnpush, /etc/apnpush)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output and force the sandbox environment")

	configCmd := configcmd.Command(settings)
	subcommands := []*cobra.Command{
		push.Command(settings),
		feedback.Command(settings),
		tokens.Command(settings),
		configCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip loading for config init, which writes the file
		if cmd.HasParent() && cmd.Parent() == configCmd && cmd.Name() == configcmd.InitCommandName {
			return nil
		}
		return initialize(settings, configFile, debug)
	}

	return rootCmd
}

// initialize loads the configuration into settings, keeping the build
// information and applying the global flags.
func initialize(settings *conf.Settings, configFile string, debug bool) error {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return err
	}

	version, buildDate := settings.Version, settings.BuildDate
	*settings = *loaded
	settings.Version, settings.BuildDate = version, buildDate
	if debug {
		settings.Debug = true
	}
	return nil
}
