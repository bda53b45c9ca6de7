package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/signature"
	"github.com/atikulmunna/warden/internal/updater"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch the remote attack catalogue once and store it locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("catalogue.path")
		engine := signature.NewEngine(logger)
		if err := engine.LoadFile(path); err != nil {
			logger.Info("no local catalogue yet", zap.String("path", path))
		}

		u := updater.New(engine, updater.Config{
			URL:     viper.GetString("catalogue.url"),
			Path:    path,
			Timeout: viper.GetDuration("catalogue.timeout"),
		}, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		updated, err := u.Check(ctx)
		if err != nil {
			return fmt.Errorf("catalogue update: %w", err)
		}
		if updated {
			fmt.Fprintf(cmd.OutOrStdout(), "catalogue updated to version %s (%s)\n", engine.Version(), path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "catalogue version %s is current\n", engine.Version())
		}
		return nil
	},
}

func init() {
	f := updateCmd.Flags()
	f.String("url", updater.DefaultURL, "remote catalogue URL")
	cobra.CheckErr(viper.BindPFlag("catalogue.url", f.Lookup("url")))
	rootCmd.AddCommand(updateCmd)
}
