package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobfit-ai/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipelines over HTTP",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8000)")
	serveCmd.Flags().StringSlice("pipelines", nil, "pipelines to enable (default all)")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("pipelines.enabled", serveCmd.Flags().Lookup("pipelines"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer a.close()

	a.logger.Info("starting the jobfit-ai server", zap.String("version", resolveVersion()))

	svc, err := a.services(ctx, a.enabledPipelines())
	if err != nil {
		a.logger.Fatal("building pipelines", zap.Error(err))
	}

	srv := server.New(a.cfg.Server, svc, a.logger.Named("http"))
	if err := srv.Run(ctx); err != nil {
		a.logger.Fatal("serving http", zap.Error(err))
	}

	a.logger.Info("exiting", zap.String("reason", "shutdown requested"))
}
