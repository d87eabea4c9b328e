package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/liuyaodong/APNPush/internal/app"
	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/push"
)

// Command creates the feedback command.
func Command(settings *conf.Settings) *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Read expired tokens from the feedback service",
		Long: "Connects to the feedback service once, writes every reported token to a feedback " +
			"file in a new run directory and records it in the token store when enabled.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if cmd.Flags().Changed("environment") {
				settings.APNs.Environment = environment
			}
			ctx := cmd.Context()

			a, err := app.Setup(ctx, settings)
			if err != nil {
				return err
			}
			defer func() {
				cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				defer cancel()
				if cerr := a.Close(cctx); cerr != nil && err == nil {
					err = cerr
				}
			}()

			runner, err := push.New(settings, a.RunDir, a.RunnerOptions()...)
			if err != nil {
				return err
			}
			n, err := runner.Feedback(logger.WithRunID(ctx, runner.RunID()))
			fmt.Fprintf(cmd.OutOrStdout(), "%d expired tokens written to %s\n", n, a.RunDir.Path())
			return err
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "production or sandbox (overrides apns.environment)")
	return cmd
}
