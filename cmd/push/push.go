package push

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liuyaodong/APNPush/internal/app"
	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/logger"
	pushrun "github.com/liuyaodong/APNPush/internal/push"
)

// closeTimeout bounds flushing events and logs after the run.
const closeTimeout = 30 * time.Second

type flags struct {
	tokenFile   string
	alert       string
	environment string
	workers     int
	drainDelay  time.Duration
}

// Command creates the push command.
func Command(settings *conf.Settings) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send the configured notification to every token in the token file",
		Long: "Reads device tokens, delivers one notification per token over a pool of gateway " +
			"connections and writes the unsent and invalid tokens into a new run directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, f, settings)
			return run(cmd.Context(), cmd.OutOrStdout(), settings)
		},
	}

	cmd.Flags().StringVarP(&f.tokenFile, "tokens", "t", "", "Token file, one hex token per line (overrides tokens.file)")
	cmd.Flags().StringVarP(&f.alert, "alert", "a", "", "Alert text (overrides payload.alert)")
	cmd.Flags().StringVarP(&f.environment, "environment", "e", "", "production or sandbox (overrides apns.environment)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Number of gateway connections (overrides apns.workers)")
	cmd.Flags().DurationVar(&f.drainDelay, "drain-delay", 0, "Maximum wait after the last token is enqueued (overrides apns.draindelay)")

	return cmd
}

// applyFlags copies the flags the user set over the loaded settings.
func applyFlags(cmd *cobra.Command, f *flags, settings *conf.Settings) {
	if cmd.Flags().Changed("tokens") {
		settings.Tokens.File = f.tokenFile
	}
	if cmd.Flags().Changed("alert") {
		settings.Payload.Alert = f.alert
	}
	if cmd.Flags().Changed("environment") {
		settings.APNs.Environment = f.environment
	}
	if cmd.Flags().Changed("workers") && f.workers > 0 {
		settings.APNs.Workers = f.workers
	}
	if cmd.Flags().Changed("drain-delay") && f.drainDelay > 0 {
		settings.APNs.DrainDelay = f.drainDelay
	}
}

func run(ctx context.Context, out io.Writer, settings *conf.Settings) (err error) {
	a, err := app.Setup(ctx, settings)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := a.Close(cctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	runner, err := pushrun.New(settings, a.RunDir, a.RunnerOptions()...)
	if err != nil {
		return err
	}
	ctx = logger.WithRunID(ctx, runner.RunID())

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	g.Go(func() error { return a.ServeMetrics(serveCtx) })
	g.Go(func() error {
		defer stopServing()
		res, err := runner.Push(gctx)
		if res != nil {
			printResult(out, res, a.RunDir.Path())
		}
		return err
	})
	return g.Wait()
}

func printResult(out io.Writer, res *pushrun.Result, runDir string) {
	fmt.Fprintf(out, "run %s (%s) finished in %s\n", res.RunID, res.Environment, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  tokens read:       %d\n", res.Tokens.Read)
	fmt.Fprintf(out, "  enqueued:          %d\n", res.Tokens.Enqueued)
	fmt.Fprintf(out, "  skipped invalid:   %d\n", res.Tokens.SkippedInvalid)
	fmt.Fprintf(out, "  skipped known bad: %d\n", res.Tokens.SkippedKnownBad)
	fmt.Fprintf(out, "  rejected:          %d\n", res.Rejected)
	fmt.Fprintf(out, "  unsent:            %d\n", res.Unsent)
	if res.Feedback > 0 {
		fmt.Fprintf(out, "  feedback:          %d\n", res.Feedback)
	}
	fmt.Fprintf(out, "  run directory:     %s\n", runDir)
}
