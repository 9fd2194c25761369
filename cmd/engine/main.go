package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/codec"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/config"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine/gibbs"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/logging"
)

// #region main

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath, listen string
	root := &cobra.Command{
		Use:          "engine",
		Short:        "Sampling engine service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.Path(), "YAML config file ("+config.EnvConfigPath+")")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Gibbs sampler over gRPC (" + codec.ServiceName + ")",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			return serveEngine(cfg)
		},
	}
	serve.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	root.AddCommand(serve)
	return root
}

// #endregion main

// #region serve

func serveEngine(cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	srv := codec.NewGRPCServer(gibbs.New(gibbs.WithLogger(logger)), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutting down sampling engine")
		srv.GracefulStop()
	}()

	logger.Info("sampling engine listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// #endregion serve
