// Package config defines the CLI flags for the spoa agent: the SPOP
// listener address, frame-size and capability negotiation defaults, and the
// metrics sink file. All of these can also be set using environment
// variables or the application's configuration file.
package config

import (
	"errors"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/spoa/pkg/metrics"
	"github.com/tzrikka/spoa/pkg/spop"
)

const (
	// DefaultListenAddr is a TCP address by default; a UNIX socket path
	// (e.g. "/run/spoa.sock") is also accepted.
	DefaultListenAddr = "localhost:12345"

	DefaultCapabilities = "pipelining,async,fragmentation"
)

// Flags defines CLI flags to configure the SPOP listener and its metrics
// sink.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "SPOP listener address: \"host:port\" for TCP, or a path for a UNIX socket",
			Value: DefaultListenAddr,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SPOA_LISTEN_ADDR"),
				toml.TOML("spoa.listen_addr", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-frame-size",
			Usage: "largest SPOP frame this agent accepts (clamped to a 256-byte floor)",
			Value: spop.DefaultMaxFrameSize,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SPOA_MAX_FRAME_SIZE"),
				toml.TOML("spoa.max_frame_size", configFilePath),
			),
			Validator: validateMaxFrameSize,
		},
		&cli.StringFlag{
			Name:  "capabilities",
			Usage: "comma-separated SPOP capabilities this agent supports",
			Value: DefaultCapabilities,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SPOA_CAPABILITIES"),
				toml.TOML("spoa.capabilities", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "CSV file that frame and error counts are appended to",
			Value: metrics.DefaultFile,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SPOA_METRICS_FILE"),
				toml.TOML("spoa.metrics_file", configFilePath),
			),
		},
	}
}

func validateMaxFrameSize(n int) error {
	if n <= 0 {
		return errors.New("must be a positive number of bytes")
	}
	return nil
}
