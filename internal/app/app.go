// Package app assembles the optional services of a run from the settings:
// logging into the run directory, error telemetry, metrics, the token
// store, the MQTT publisher and the summary notifier.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/mqtt"
	"github.com/liuyaodong/APNPush/internal/notify"
	"github.com/liuyaodong/APNPush/internal/observability"
	"github.com/liuyaodong/APNPush/internal/push"
	"github.com/liuyaodong/APNPush/internal/runlog"
	"github.com/liuyaodong/APNPush/internal/tokenstore"
)

const (
	sentryFlushTimeout = 2 * time.Second
	mqttConnectTimeout = 15 * time.Second
)

// App holds the services of one run. Services that are disabled in the
// settings stay nil.
type App struct {
	Settings  *conf.Settings
	RunID     string
	RunDir    *runlog.RunDir
	Metrics   *observability.Metrics
	Endpoint  *observability.Endpoint
	Store     *tokenstore.Store
	Publisher *mqtt.Publisher
	Notifier  *notify.Notifier

	central  *logger.CentralLogger
	mqtt     mqtt.Client
	sentryOn bool
	log      logger.Logger
}

// Setup creates the run directory and starts every enabled service. On
// failure the services already started are closed.
func Setup(ctx context.Context, settings *conf.Settings) (a *App, err error) {
	a = &App{Settings: settings, RunID: uuid.NewString()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	a.RunDir, err = runlog.NewRunDir(settings.Main.LogPath, time.Now())
	if err != nil {
		return a, err
	}
	if err = a.setupLogging(); err != nil {
		return a, err
	}
	a.log = GetLogger().With(logger.String("run_id", a.RunID))
	a.log.Info("run starting",
		logger.String("version", settings.Version),
		logger.String("run_dir", a.RunDir.Path()))

	if err = a.setupSentry(); err != nil {
		return a, err
	}

	a.Metrics, err = observability.NewMetrics()
	if err != nil {
		return a, err
	}
	a.Metrics.InstallErrorHook()
	if settings.Metrics.Enabled {
		a.Endpoint, err = observability.NewEndpoint(settings.Metrics.Listen, a.Metrics)
		if err != nil {
			return a, err
		}
	}

	if settings.Database.Enabled {
		a.Store, err = tokenstore.Open(settings.Database, tokenstore.WithMetrics(a.Metrics.TokenStore))
		if err != nil {
			return a, err
		}
	}

	if settings.MQTT.Enabled {
		a.setupMQTT(ctx)
	}

	if settings.Notify.Enabled {
		a.Notifier, err = notify.New(settings.Notify)
		if err != nil {
			return a, err
		}
	}
	return a, nil
}

// setupLogging sends the log of this run to apn.log in the run directory
// next to the configured outputs.
func (a *App) setupLogging() error {
	cfg := a.Settings.Logging
	file := logger.FileOutput{Enabled: true, Path: a.RunDir.File(conf.RunLogFile), Level: cfg.DefaultLevel}
	if cfg.FileOutput != nil && cfg.FileOutput.Level != "" {
		file.Level = cfg.FileOutput.Level
	}
	cfg.FileOutput = &file
	if a.Settings.Debug {
		cfg.DefaultLevel = "debug"
	}

	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_logger").
			Build()
	}
	logger.SetGlobal(central)
	a.central = central
	return nil
}

func (a *App) setupSentry() error {
	s := a.Settings.Sentry
	if !s.Enabled {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         s.DSN,
		Release:     "apnpush@" + a.Settings.Version,
		Environment: a.Settings.ResolvedEnvironment(),
	})
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_sentry").
			Build()
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	a.sentryOn = true
	a.log.Info("error telemetry enabled")
	return nil
}

// setupMQTT connects to the broker. A broker that cannot be reached is
// logged and the run continues without events.
func (a *App) setupMQTT(ctx context.Context) {
	s := a.Settings.MQTT
	clientID := s.ClientID
	if clientID == "" {
		host, _ := os.Hostname()
		clientID = fmt.Sprintf("apnpush-%s-%s", host, a.RunID[:8])
	}

	cfg := mqtt.DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = clientID
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.QoS = byte(s.QoS) //nolint:gosec // validated to 0..2

	client := mqtt.NewClient(cfg, a.Metrics.MQTT)
	cctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := client.Connect(cctx); err != nil {
		a.log.Warn("MQTT broker unavailable, events disabled",
			logger.String("broker", logger.RedactSensitiveData(s.Broker)),
			logger.Error(err))
		return
	}

	a.mqtt = client
	a.Publisher = mqtt.NewPublisher(client, s.Topic, a.RunID,
		mqtt.WithSender(a.Settings.Main.Name),
		mqtt.WithPublisherMetrics(a.Metrics.MQTT))
}

// RunnerOptions returns the push options for the enabled services.
func (a *App) RunnerOptions() []push.Option {
	opts := []push.Option{push.WithRunID(a.RunID), push.WithMetrics(a.Metrics)}
	if a.Store != nil {
		opts = append(opts, push.WithTokenRecorder(a.Store), push.WithKnownBad(a.Store))
	}
	if a.Publisher != nil {
		opts = append(opts, push.WithPublisher(a.Publisher))
	}
	if a.Notifier != nil {
		opts = append(opts, push.WithNotifier(a.Notifier))
	}
	return opts
}

// ServeMetrics serves /metrics until ctx ends. It returns at once when the
// endpoint is disabled.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.Endpoint == nil {
		return nil
	}
	return a.Endpoint.Start(ctx)
}

// Close stops the services in reverse start order and flushes the logs.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Publisher != nil {
		if err := a.Publisher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.sentryOn {
		sentry.Flush(sentryFlushTimeout)
	}
	if a.central != nil {
		if err := a.central.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
