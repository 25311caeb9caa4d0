package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/HoangAnhDev1805/checkpool/internal/monitoring"
)

var statsAlerts bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a pool health snapshot",
	Long:  "Prints item counts per status, stranded leases, running sessions and today's usage as JSON. With --alerts, also evaluates the monitoring thresholds.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Usage, cfg.Monitoring.StrandedLeaseAgeMins)
		var alerter *monitoring.Alerter
		if statsAlerts {
			alerter = monitoring.NewAlerter(cfg.Monitoring)
		}
		return runStats(ctx, collector, alerter, cmd.OutOrStdout())
	},
}

type statsReport struct {
	*monitoring.MetricsSnapshot
	Alerts []monitoring.Alert `json:"alerts,omitempty"`
}

// runStats prints one snapshot. alerter may be nil.
func runStats(ctx context.Context, c *monitoring.Collector, alerter *monitoring.Alerter, out io.Writer) error {
	snap, err := c.Collect(ctx)
	if err != nil {
		return err
	}
	report := statsReport{MetricsSnapshot: snap}
	if alerter != nil {
		report.Alerts = alerter.Evaluate(snap)
	}
	return writeIndented(out, report)
}

func init() {
	statsCmd.Flags().BoolVar(&statsAlerts, "alerts", false, "include the alerts the snapshot would trigger")
	rootCmd.AddCommand(statsCmd)
}
