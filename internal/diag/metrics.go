package diag

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 指标（OpenTelemetry，全局 MeterProvider；未配置导出器时为 no-op）：
// - carname.op.total{comp,stage,result}
// - carname.error.total{comp,code}
// - carname.op.duration_ms{comp,stage}
// - carname.variants.total{result}

var (
	instOnce  sync.Once
	opTotal   metric.Int64Counter
	errTotal  metric.Int64Counter
	opDurMS   metric.Int64Histogram
	varsTotal metric.Int64Counter
)

func instruments() {
	instOnce.Do(func() {
		m := otel.Meter("carname/diag")
		opTotal, _ = m.Int64Counter("carname.op.total", metric.WithDescription("pipeline operations by result"))
		errTotal, _ = m.Int64Counter("carname.error.total", metric.WithDescription("errors by classification code"))
		opDurMS, _ = m.Int64Histogram("carname.op.duration_ms", metric.WithUnit("ms"))
		varsTotal, _ = m.Int64Counter("carname.variants.total", metric.WithDescription("variants by registry outcome"))
	})
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	instruments()
	if opTotal == nil {
		return
	}
	opTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("comp", comp), attribute.String("stage", stage), attribute.String("result", result)))
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	instruments()
	if errTotal == nil {
		return
	}
	errTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("comp", comp), attribute.String("code", code)))
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	instruments()
	if opDurMS == nil {
		return
	}
	opDurMS.Record(context.Background(), durMS, metric.WithAttributes(attribute.String("comp", comp), attribute.String("stage", stage)))
}

// AddVariants 累加变异计数（result=registered|unregistered|rejected|failed）。
func AddVariants(result string, n int64) {
	if n <= 0 {
		return
	}
	instruments()
	if varsTotal == nil {
		return
	}
	varsTotal.Add(context.Background(), n, metric.WithAttributes(attribute.String("result", result)))
}
