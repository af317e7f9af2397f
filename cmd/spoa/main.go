package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/spoa/internal/config"
	"github.com/tzrikka/spoa/internal/logger"
	"github.com/tzrikka/spoa/pkg/actions"
	"github.com/tzrikka/spoa/pkg/listener"
	"github.com/tzrikka/spoa/pkg/metrics"
	"github.com/tzrikka/spoa/pkg/spop"
	"github.com/tzrikka/spoa/pkg/temporal"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "spoa"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "spoa",
		Usage:   "SPOP agent endpoint that hands HAProxy NOTIFY messages to a Temporal-backed policy",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	fs := []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}

	path := configFile()
	fs = append(fs, config.Flags(path)...)
	fs = append(fs, temporal.Flags(path)...)
	return fs
}

// configFile returns the path to the app's configuration file. It also
// creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

func run(ctx context.Context, cmd *cli.Command) error {
	l := initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))

	useTemporal := cmd.IsSet("temporal-address")

	handler, err := actionHandler(cmd, l, useTemporal)
	if err != nil {
		return err
	}

	if useTemporal {
		go func() {
			if err := temporal.Run(ctx, cmd, l.With().Str("component", "temporal-worker").Logger()); err != nil {
				l.Error().Err(err).Msg("Temporal worker stopped")
			}
		}()
	}

	sink := metrics.NewCSVSink(cmd.String("metrics-file"), l)
	maxFrameSize := uint32(cmd.Int("max-frame-size"))
	caps, err := spop.ParseCapabilities(cmd.String("capabilities"))
	if err != nil {
		return fmt.Errorf("--capabilities: %w", err)
	}

	newConn := func(sessionID string, rwc net.Conn) *spop.Conn {
		return spop.NewConn(rwc,
			spop.WithHandler(handler),
			spop.WithMetrics(sink),
			spop.WithMaxFrameSize(maxFrameSize),
			spop.WithCapabilities(caps),
			spop.WithLogger(l.With().Str("session_id", sessionID).Logger()),
		)
	}

	ls := listener.New(cmd.String("listen-addr"), newConn, listener.WithLogger(l))
	return ls.Serve(ctx)
}

// actionHandler builds the handler that resolves each NOTIFY into actions:
// a Temporal-backed one if a server address was explicitly configured, the
// no-op default otherwise.
func actionHandler(cmd *cli.Command, l zerolog.Logger, useTemporal bool) (spop.Handler, error) {
	if !useTemporal {
		return actions.DefaultHandler, nil
	}

	h, err := actions.NewTemporalHandler(actions.TemporalConfig{
		HostPort:  cmd.String("temporal-address"),
		Namespace: cmd.String("temporal-namespace"),
		TaskQueue: cmd.String("temporal-task-queue"),
		Timeout:   actions.DefaultTimeout,
		Logger:    l.With().Str("component", "temporal-client").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build Temporal action handler: %w", err)
	}
	return h, nil
}

// initLog builds the zerolog logger used by the SPOP listener, the
// connection state machine and the Temporal components. It does not
// configure slog: startup failures reported through [logger.FatalError] go
// to slog's default handler.
func initLog(devMode bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var l zerolog.Logger
	if devMode {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Caller().Logger()
		l = l.Level(zerolog.DebugLevel)
	} else {
		l = zerolog.New(os.Stderr).With().Timestamp().Logger()
		l = l.Level(zerolog.InfoLevel)
	}

	return l
}
