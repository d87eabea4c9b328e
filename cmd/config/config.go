package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

// InitCommandName is the name of the subcommand that runs without a
// loaded configuration.
const InitCommandName = "init"

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration",
	}
	cmd.AddCommand(printCommand(settings), initCommand())
	return cmd
}

func printCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(settings)
			if err != nil {
				return errors.New(err).
					Component("configuration").
					Category(errors.CategoryConfiguration).
					Context("operation", "marshal_config").
					Build()
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), logger.RedactSensitiveData(string(data)))
			return err
		},
	}
}

func initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   InitCommandName + " [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Newf("%s already exists, use --force to overwrite", path).
					Component("configuration").
					Category(errors.CategoryFileIO).
					Build()
			}

			data, err := conf.DefaultConfig()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return errors.New(err).
					Component("configuration").
					Category(errors.CategoryFileIO).
					Context("path", path).
					Build()
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return errors.New(err).
					Component("configuration").
					Category(errors.CategoryFileIO).
					Context("path", path).
					Build()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
