package monitoring

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/comfyflow/agentmode/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Set via ldflags, e.g.
// go build -ldflags "-X 'github.com/comfyflow/agentmode/engine/infra/monitoring.Version=v1.0.0'"
var (
	Version    = "unknown"
	CommitHash = "unknown"
)

// InitSystemMetrics registers the build info gauge and the uptime gauge on meter.
// Each meter gets its own start time.
func InitSystemMetrics(ctx context.Context, meter metric.Meter) {
	log := logger.FromContext(ctx)
	buildInfo, err := meter.Float64Gauge(
		"agentmode_build_info",
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		log.Error("Failed to create build info gauge", "error", err)
	} else {
		version, commit, goVersion := getBuildInfo()
		buildInfo.Record(ctx, 1, metric.WithAttributes(
			attribute.String("version", version),
			attribute.String("commit_hash", commit),
			attribute.String("go_version", goVersion),
		))
		log.Debug("System metrics initialized", "version", version, "commit", commit, "go_version", goVersion)
	}
	uptime, err := meter.Float64ObservableGauge(
		"agentmode_uptime_seconds",
		metric.WithDescription("Service uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Error("Failed to create uptime gauge", "error", err)
		return
	}
	started := time.Now()
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(started).Seconds())
		return nil
	}, uptime)
	if err != nil {
		log.Error("Failed to register uptime callback", "error", err)
	}
}

func getBuildInfo() (version, commit, goVersion string) {
	version = Version
	commit = CommitHash
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "unknown" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		if commit == "unknown" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value
					break
				}
			}
		}
	}
	return version, commit, runtime.Version()
}
