package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/client"
	"github.com/cory-johannsen/matchrelay/internal/config"
	"github.com/cory-johannsen/matchrelay/internal/observability"
	"github.com/cory-johannsen/matchrelay/internal/protocol"
)

type rootOptions struct {
	addr     string
	logLevel string
	timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "matchctl",
		Short:         "Talk to a matchd server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "127.0.0.1:7777", "matchd listener address")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "client log level")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "dial and reply timeout")

	cmd.AddCommand(
		newPingCommand(opts),
		newStatusCommand(opts),
		newPlayCommand(opts),
		newRunsCommand(),
	)
	return cmd
}

func (o *rootOptions) logger() (*zap.Logger, error) {
	return observability.NewLogger(config.LoggingConfig{Level: o.logLevel, Format: "console", Service: "matchctl"})
}

// connect dials the server and returns the client along with its logger.
func (o *rootOptions) connect(ctx context.Context) (*client.Client, *zap.Logger, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	c, err := client.Dial(dialCtx, o.addr, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return c, logger, nil
}

// await returns the first line whose kind is one of kinds. An ERR line that
// was not asked for is returned as an error.
func await(c *client.Client, timeout time.Duration, kinds ...string) (protocol.ServerLine, error) {
	deadline := time.After(timeout)
	for {
		select {
		case sl, ok := <-c.Lines():
			if !ok {
				if err := c.Err(); err != nil {
					return protocol.ServerLine{}, err
				}
				return protocol.ServerLine{}, client.ErrClosed
			}
			for _, k := range kinds {
				if sl.Kind == k {
					return sl, nil
				}
			}
			if sl.Kind == protocol.KindErr {
				return sl, replyError(sl)
			}
		case <-deadline:
			return protocol.ServerLine{}, fmt.Errorf("timed out waiting for %v", kinds)
		}
	}
}

func replyError(sl protocol.ServerLine) error {
	if len(sl.Args) < 2 {
		return fmt.Errorf("server error")
	}
	return fmt.Errorf("server error %s: %s", sl.Args[0], sl.Args[1])
}
