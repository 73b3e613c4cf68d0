package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/client"
	"github.com/cory-johannsen/matchrelay/internal/config"
	"github.com/cory-johannsen/matchrelay/internal/protocol"
	"github.com/cory-johannsen/matchrelay/internal/storage/postgres"
)

func newPingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, logger, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			start := time.Now()
			if err := c.Ping(); err != nil {
				return err
			}
			if _, err := await(c, opts.timeout, protocol.KindPong); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PONG from %s session=%s rtt=%s\n", opts.addr, c.SessionID(), time.Since(start))
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the state of a fresh session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, logger, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()

			if err := c.Status(); err != nil {
				return err
			}
			sl, err := await(c, opts.timeout, protocol.KindStatus)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session=%s %s\n", c.SessionID(), strings.Join(sl.Args, " "))
			return nil
		},
	}
}

type playOptions struct {
	name  string
	code  int
	wait  time.Duration
	input io.Reader
}

func newPlayCommand(opts *rootOptions) *cobra.Command {
	po := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play <scene>",
		Short: "Queue for a scene, then relay stdin lines to the room",
		Long: "play queues for the given scene index and waits for a room. Once matched, " +
			"every stdin line is published to the room and every received message is printed. " +
			"End of input quits the session.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sceneIndex, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("scene must be an integer index: %w", err)
			}
			if po.input == nil {
				po.input = cmd.InOrStdin()
			}
			c, logger, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer c.Close()
			return play(cmd.Context(), c, logger, sceneIndex, po, opts.timeout, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&po.name, "name", "Chat", "envelope name for published lines")
	cmd.Flags().IntVar(&po.code, "code", 0, "envelope code for published lines")
	cmd.Flags().DurationVar(&po.wait, "wait", time.Minute, "how long to wait for a room")
	return cmd
}

func play(ctx context.Context, c *client.Client, logger *zap.Logger, sceneIndex int, po *playOptions, timeout time.Duration, out io.Writer) error {
	if err := c.Queue(sceneIndex); err != nil {
		return err
	}
	if _, err := await(c, timeout, protocol.KindOK); err != nil {
		return err
	}
	fmt.Fprintf(out, "queued for scene %d, waiting for a room\n", sceneIndex)

	room, err := await(c, po.wait, protocol.KindRoom)
	if err != nil {
		_ = c.Dequeue(sceneIndex)
		return err
	}
	fmt.Fprintf(out, "joined room %s\n", strings.Join(room.Args, " "))

	eof := make(chan struct{})
	go func() {
		defer close(eof)
		scanner := bufio.NewScanner(po.input)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := c.Say(po.name, po.code, line); err != nil {
				logger.Debug("publish failed", zap.Error(err))
				return
			}
		}
	}()

	quitting := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-eof:
			if !quitting {
				quitting = true
				if err := c.Quit(); err != nil {
					return err
				}
			}
			eof = nil
		case sl, ok := <-c.Lines():
			if !ok {
				return c.Err()
			}
			switch sl.Kind {
			case protocol.KindMsg:
				fmt.Fprintf(out, "%s %d %s\n", sl.Envelope.Name, sl.Envelope.Code, sl.Envelope.Payload)
			case protocol.KindErr:
				fmt.Fprintln(out, replyError(sl))
			case protocol.KindLeft:
				fmt.Fprintf(out, "left room %s\n", strings.Join(sl.Args, " "))
				if !quitting {
					quitting = true
					if err := c.Quit(); err != nil {
						return err
					}
				}
			case protocol.KindBye:
				return nil
			}
		}
	}
}

func newRunsCommand() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent server runs from the stats database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be > 0, got %d", limit)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			pool, err := postgres.NewPool(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			runs, err := postgres.NewStatsRepository(pool.DB()).RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "#%d %s..%s sessions=%d rooms=%d received=%d sent=%d\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.StoppedAt.Format(time.RFC3339),
					r.SessionsAccepted, r.RoomsFormed, r.Received, r.Sent)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "configs/dev.yaml", "path to configuration file")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to list")
	return cmd
}
