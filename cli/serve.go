package cli

import (
	"context"
	"fmt"

	"github.com/comfyflow/agentmode/engine/agentmode"
	"github.com/comfyflow/agentmode/engine/infra/monitoring"
	"github.com/comfyflow/agentmode/engine/infra/server"
	"github.com/comfyflow/agentmode/engine/llm/orchestrator"
	"github.com/comfyflow/agentmode/pkg/config"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
)

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the agent mode HTTP server",
		RunE:    executeServe,
	}
	cmd.Flags().String("host", "", "Host to bind")
	cmd.Flags().Int("port", 0, "Port to listen on")
	return cmd
}

func executeServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	gin.SetMode(gin.ReleaseMode)
	mon := monitoring.NewServiceWithFallback(ctx, &monitoring.Config{
		Enabled: cfg.Monitoring.Enabled,
		Path:    cfg.Monitoring.Path,
	})
	mon.SetAsGlobal()
	svc, err := newAgentService(ctx, cfg, mon.Meter())
	if err != nil {
		return err
	}
	srv, err := server.NewServer(ctx, svc, mon)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run()
}

// newAgentService builds the agent mode service with run metrics on meter.
func newAgentService(ctx context.Context, cfg *config.Config, meter metric.Meter) (*agentmode.Service, error) {
	var opts []agentmode.Option
	if meter != nil {
		metrics, err := orchestrator.NewMetrics(meter)
		if err != nil {
			logger.FromContext(ctx).Warn("Run metrics unavailable", "error", err)
		} else {
			opts = append(opts, agentmode.WithMetrics(metrics))
		}
	}
	svc, err := agentmode.NewService(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent mode service: %w", err)
	}
	return svc, nil
}
