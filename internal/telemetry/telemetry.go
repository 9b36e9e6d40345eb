// =============================================================================
// agentrelay 遥测初始化
// =============================================================================
// 编排器的 span 覆盖两段链路：对话转接（handoff.turn / handoff.respond /
// handoff.forward）与运行时 HTTP 调用。传播器始终安装，上游 traceparent
// 因此能透传到 agent 运行时；OTLP 导出器仅在启用时创建。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
)

const (
	// ServiceNamespace 所有 agentrelay 实例共享的服务命名空间
	ServiceNamespace = "agentrelay"
	// RoleAttribute 标记进程在编排体系中的角色
	RoleAttribute = attribute.Key("agentrelay.role")
)

// Providers 持有导出中的 TracerProvider 与 MeterProvider。
// 遥测关闭时两者为 nil，Shutdown 直接返回。
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Enabled 表示导出器是否在运行
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Init 安装传播器，并在启用时接入 OTLP 导出。
// version 为空时取构建信息中的模块版本。
func Init(cfg config.TelemetryConfig, version string, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	installPropagator()

	if !cfg.Enabled {
		logger.Info("telemetry disabled, turn spans stay local")
		return &Providers{}, nil
	}

	ctx := context.Background()
	if version == "" {
		version = buildVersion()
	}

	res, err := orchestratorResource(ctx, cfg.ServiceName, version)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	tp, mp, err := newProviders(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logger.Info("telemetry exporting",
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.String("version", version),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return &Providers{tp: tp, mp: mp}, nil
}

// installPropagator 使用 W3C traceparent + baggage
func installPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// orchestratorResource 描述当前编排器实例。每次启动生成新的 instance id，
// 便于区分同一主机上先后运行的进程。
func orchestratorResource(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = ServiceNamespace
	}
	return resource.New(ctx,
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithAttributes(
			semconv.ServiceNamespaceKey.String(ServiceNamespace),
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
			semconv.ServiceInstanceIDKey.String(uuid.NewString()),
			RoleAttribute.String("orchestrator"),
		),
	)
}

// newProviders 创建 gRPC 导出器；任一失败时回收已创建的部分
func newProviders(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, *sdkmetric.MeterProvider, error) {
	spanExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create span exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	// 上游已采样的转接链路保持完整，根 span 按比例采样
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	return tp, mp, nil
}

// Shutdown 刷新未发送的 span 与指标。nil 或未启用时为空操作。
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush spans: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
