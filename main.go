package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync/atomic"
	"syscall"

	"github.com/sbaglivi/RunGraph/coach"
	"github.com/sbaglivi/RunGraph/config"
	"github.com/sbaglivi/RunGraph/console"
	"github.com/sbaglivi/RunGraph/database/postgres"
	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/metrics"
	"github.com/sbaglivi/RunGraph/nodes"
	"github.com/sbaglivi/RunGraph/statusapi"
	"github.com/sbaglivi/RunGraph/telegram"

	"github.com/hyperdxio/opentelemetry-logs-go/exporters/otlp/otlplogs"
	sdk "github.com/hyperdxio/opentelemetry-logs-go/sdk/logs"
	"github.com/hyperdxio/otel-config-go/otelconfig"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "rungraph",
		Short:        "A running coach that interviews you and drafts your training plan",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(consoleCmd(&configPath), telegramCmd(&configPath))
	return cmd
}

func consoleCmd(configPath *string) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the coach in this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, *configPath, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			term := console.Connect(console.ConsoleConnectProps{
				Logger: a.log,
				In:     os.Stdin,
				Out:    os.Stdout,
				Plain:  plain,
			})
			_, err = a.session(term).Run(ctx)
			if errors.Is(err, coach.ErrConversationClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors and markdown rendering")
	return cmd
}

func telegramCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Serve the coach over a Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			bot, err := telegram.Connect(ctx, telegram.TelegramConnectProps{
				Logger:      a.log,
				Token:       a.cfg.Telegram.Token,
				Debug:       a.cfg.Telegram.Debug,
				ChatID:      a.cfg.Telegram.ChatID,
				Transcriber: a.cfg.Transcriber(ctx, a.log),
				Speaker:     a.cfg.Speaker(ctx, a.log),
			})
			if err != nil {
				return err
			}

			listenErr := make(chan error, 1)
			go func() { listenErr <- bot.Listen(ctx) }()

			Logger := a.log.Logger(ctx)
			if a.cfg.Production {
				Logger.Info("[Telegram] Bot starting in production mode")
			} else {
				Logger.Info("[Telegram] Bot starting in development mode")
			}

			for ctx.Err() == nil {
				st, err := a.session(bot).Run(ctx)
				switch {
				case ctx.Err() != nil:
				case err != nil:
					Logger.Warn("[Telegram] Session ended early", zap.Error(err))
					_ = bot.Say(ctx, "Write me whenever you want to start over.")
				default:
					Logger.Info("[Telegram] Session finished", zap.String("session_id", st.ID))
					_ = bot.Say(ctx, "Good luck with your training! Write me whenever you want a new plan.")
				}
				if err := bot.Await(ctx); err != nil {
					break
				}
			}
			return <-listenErr
		},
	}
}

// app holds what every front end shares.
type app struct {
	cfg      *config.Config
	log      *logger.LogMiddleware
	metrics  *metrics.Metrics
	nodes    *nodes.Nodes
	db       *postgres.Database
	current  atomic.Pointer[coach.Session]
	shutdown []func(context.Context)
}

func setup(ctx context.Context, configPath string, quiet bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: metrics.New()}

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		return nil, fmt.Errorf("could not set up OpenTelemetry: %w", err)
	}
	a.shutdown = append(a.shutdown, func(context.Context) { otelShutdown() })

	var loggerProvider *sdk.LoggerProvider
	if cfg.Production {
		logExporter, err := otlplogs.NewExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not create log exporter: %w", err)
		}
		loggerProvider = sdk.NewLoggerProvider(sdk.WithBatcher(logExporter))
		a.shutdown = append(a.shutdown, func(ctx context.Context) { _ = loggerProvider.Shutdown(ctx) })
	}

	a.log = logger.Connect(logger.LoggerConnectProps{
		Production:     cfg.Production,
		LoggerProvider: loggerProvider,
		Quiet:          quiet,
	})
	a.shutdown = append(a.shutdown, func(context.Context) { a.log.Sync() })

	completer, err := cfg.Completer(ctx, a.log)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.nodes = nodes.Connect(nodes.NodesConnectProps{Logger: a.log, Completer: completer})

	if cfg.Postgres.Enabled() {
		db, err := postgres.Connect(ctx, postgres.DatabaseConnectProps{
			Logger:   a.log,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Name:     cfg.Postgres.Name,
			SSLMode:  cfg.Postgres.SSLMode,
		})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.db = db
		a.shutdown = append(a.shutdown, func(context.Context) { _ = db.Close() })
	}

	status := statusapi.Connect(statusapi.StatusConnectProps{
		Logger:  a.log,
		Port:    cfg.Port,
		Metrics: a.metrics,
		Source:  a,
	})
	go func() {
		if err := status.ListenAndServe(ctx); err != nil {
			a.log.Logger(ctx).Error("[StatusAPI] Server stopped", zap.Error(err))
		}
	}()

	return a, nil
}

// session starts a fresh conversation over io and makes it the one the
// status server reports.
func (a *app) session(io coach.UserIO) *coach.Session {
	props := coach.SessionConnectProps{
		Logger:  a.log,
		Nodes:   a.nodes,
		IO:      io,
		Limits:  a.cfg.CoachLimits(),
		Metrics: a.metrics,
	}
	if a.db != nil {
		props.Archiver = a.db
	}
	s := coach.NewSession(props)
	a.current.Store(s)
	return s
}

func (a *app) Snapshot() *coach.Snapshot {
	s := a.current.Load()
	if s == nil {
		return nil
	}
	return s.Snapshot()
}

func (a *app) close(ctx context.Context) {
	// Shutdown steps run in reverse; the logger syncs before its provider stops.
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		a.shutdown[i](context.WithoutCancel(ctx))
	}
	a.shutdown = nil
}
