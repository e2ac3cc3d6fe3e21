package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khipu/regionews"
)

func main() {
	cfg := &regionews.Config{}

	rootCmd := &cobra.Command{
		Use:   "regionews",
		Short: "Regional narrative clustering for geotagged local news",
		Long:  "Clusters geotagged news articles into regional narratives, discounting wire-service syndication, and estimates how tone varies by location.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := regionews.Load()
			if err != nil {
				return eris.Wrap(err, "load config")
			}
			*cfg = *loaded

			if err := regionews.InitLogger(cfg.Log); err != nil {
				return eris.Wrap(err, "init logger")
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
		SilenceUsage: true,
	}
	rootCmd.AddCommand(regionews.Commands(cfg)...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
