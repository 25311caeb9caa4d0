package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Return leased items whose lease has expired to pending",
	Long:  "Runs one reclaim sweep. Only items leased while lease.ttl_secs was positive carry an expiry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runReclaim(ctx, env.Lease, cmd.OutOrStdout())
	},
}

func runReclaim(ctx context.Context, r reclaimer, out io.Writer) error {
	n, err := r.Reclaim(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reclaimed %d expired lease(s)\n", n)
	return nil
}

func init() {
	rootCmd.AddCommand(reclaimCmd)
}
