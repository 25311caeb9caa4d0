package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/settings"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
)

var (
	settingsFile       string
	settingsShowSecret bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and update the live security settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the effective security settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, acc, err := openSettings(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runSettingsGet(ctx, acc, settingsShowSecret, cmd.OutOrStdout())
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [json]",
	Short: "Merge a JSON patch into the security settings",
	Long: `Merges the given JSON into the current security settings and saves the
result. Fields left out of the patch keep their current value. Running
servers pick the change up within settings.refresh_secs.

Example:
  checkpool settings set '{"rate_limit":{"enabled":true,"max_requests":60,"window_secs":60}}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var raw []byte
		switch {
		case settingsFile != "":
			b, err := os.ReadFile(settingsFile)
			if err != nil {
				return eris.Wrapf(err, "read %s", settingsFile)
			}
			raw = b
		case len(args) == 1:
			raw = []byte(args[0])
		default:
			return eris.New("settings set needs a JSON argument or --file")
		}

		st, acc, err := openSettings(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runSettingsSet(ctx, acc, raw, cmd.OutOrStdout())
	},
}

func openSettings(ctx context.Context) (store.Store, *settings.Accessor, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	acc := settings.NewAccessor(st, settings.DefaultsFrom(cfg.Security),
		time.Duration(cfg.Settings.RefreshSecs)*time.Second)
	return st, acc, nil
}

func runSettingsGet(ctx context.Context, acc *settings.Accessor, showSecret bool, out io.Writer) error {
	if err := acc.Refresh(ctx); err != nil {
		return err
	}
	s := acc.Security(ctx)
	if !showSecret && s.Signature.Secret != "" {
		s.Signature.Secret = "********"
	}
	return writeIndented(out, s)
}

func runSettingsSet(ctx context.Context, acc *settings.Accessor, patch []byte, out io.Writer) error {
	if err := acc.Refresh(ctx); err != nil {
		return err
	}
	next, err := settings.Decode(patch, acc.Security(ctx))
	if err != nil {
		return err
	}
	if next.Signature.Enabled && next.Signature.Secret == "" {
		zap.L().Warn("signature checks enabled without a secret; every checker request will fail")
	}
	if err := acc.Save(ctx, next); err != nil {
		return err
	}
	fmt.Fprintln(out, "security settings saved")
	return nil
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	settingsGetCmd.Flags().BoolVar(&settingsShowSecret, "show-secret", false, "print the signing secret instead of masking it")
	settingsSetCmd.Flags().StringVar(&settingsFile, "file", "", "read the JSON patch from a file")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
