package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type evictor interface {
	Evict(ctx context.Context, sessionID string) (int, error)
}

var evictCmd = &cobra.Command{
	Use:   "evict <session-id>",
	Short: "Return a session's unresolved items to the shared pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runEvict(ctx, env.Lease, args[0], cmd.OutOrStdout())
	},
}

func runEvict(ctx context.Context, ev evictor, sessionID string, out io.Writer) error {
	n, err := ev.Evict(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "released %d item(s) from session %s\n", n, sessionID)
	return nil
}

func init() {
	rootCmd.AddCommand(evictCmd)
}
