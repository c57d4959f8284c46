package tracing

import (
	"context"
	"fmt"
	"threshold_bot/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

var serviceName = "default"

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Enabled bool
	Host    string
	Port    int

	// SampleRate — доля тиков в трейсах, 0 => все
	SampleRate float64
}

// InitTracer ставит глобальный jaeger-трейсер. При Enabled=false остаётся NoopTracer.
func InitTracer(conf Config) (opentracing.Tracer, func(), error) {
	if !conf.Enabled {
		return opentracing.GlobalTracer(), func() {}, nil
	}
	cfg := &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler:     sampler(conf.SampleRate),
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	jMetricsFactory := metrics.NullFactory
	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(jMetricsFactory),
	)
	if err != nil {
		return nil, nil, err
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, func() {
		if err := closer.Close(); err != nil {
			logger.Error("Error closing Jaeger tracer: %v", err)
		}
	}, nil
}

func sampler(rate float64) *jCfg.SamplerConfig {
	if rate <= 0 || rate >= 1 {
		return &jCfg.SamplerConfig{Type: "const", Param: 1}
	}
	return &jCfg.SamplerConfig{Type: "probabilistic", Param: rate}
}

// Start открывает дочерний спан; finish(err) помечает ошибку и закрывает спан.
func Start(ctx context.Context, op string) (context.Context, func(err error)) {
	span, ctx := opentracing.StartSpanFromContext(ctx, op)
	return ctx, func(err error) {
		if err != nil {
			ext.Error.Set(span, true)
			span.SetTag("error.message", err.Error())
		}
		span.Finish()
	}
}
