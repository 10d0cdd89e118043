package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/nnfs/internal/transport"
	"github.com/marmos91/nnfs/pkg/adapter/nnfs"
	"github.com/marmos91/nnfs/pkg/client"
)

func newPingCommand() *cobra.Command {
	var (
		address  string
		port     int
		count    int
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping a running server and close the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			dialCtx, cancel := context.WithTimeout(ctx, timeout)
			c, err := client.Dial(dialCtx, address, port, transport.Options{})
			cancel()
			if err != nil {
				return err
			}
			defer func() { _ = c.Abort() }()

			fmt.Fprintf(out, "PING %s:%d from %s\n", address, port, c.LocalAddr())

			for i := range count {
				if i > 0 {
					time.Sleep(interval)
				}

				reqCtx, cancel := context.WithTimeout(ctx, timeout)
				rtt, err := c.Ping(reqCtx)
				cancel()
				if err != nil {
					return fmt.Errorf("ping %d: %w", i+1, err)
				}
				fmt.Fprintf(out, "PONG seq=%d time=%v\n", i+1, rtt)
			}

			closeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := c.Close(closeCtx); err != nil {
				return fmt.Errorf("close: %w", err)
			}
			fmt.Fprintln(out, "session closed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1", "server address")
	cmd.Flags().IntVarP(&port, "port", "p", nnfs.DefaultPort, "server port")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of pings")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "delay between pings")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")

	return cmd
}
