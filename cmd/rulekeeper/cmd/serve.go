package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/core/api"
	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/core/metrics"
	"github.com/solatis/rulekeeper/internal/core/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC audience service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
	serveCmd.Flags().Int("metrics-port", 0, "HTTP port serving /metrics (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg := e.cfg

	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("metrics-port") {
		port, _ := cmd.Flags().GetInt("metrics-port")
		cfg.Server.MetricsPort = port
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.DB().Close()

	statuses, err := db.MigrateStatus(ctx, store.DB())
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'rulekeeper migrate up' first", s.ID)
		}
	}

	var m *metrics.Metrics
	if cfg.Server.MetricsPort > 0 {
		m = metrics.New()
	}

	service, err := api.NewAudienceService(store, e.engine(store), m, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, m, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	e.logger.Info().
		Str("version", Version).
		Str("addr", cfg.Server.Addr()).
		Int("user_to_user_depth_limit", cfg.Rules.UserToUserDepthLimit).
		Int("max_ability_depth", cfg.Rules.MaxAbilityDepth).
		Msg("starting rulekeeper audience service")

	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		e.logger.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	}
}
