// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrument

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("srctrace.instrument")
	meter  = otel.Meter("srctrace.instrument")
)

var (
	filesTotal      metric.Int64Counter
	insertionsTotal metric.Int64Counter
	fileDuration    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filesTotal, err = meter.Int64Counter(
			"srctrace_files_total",
			metric.WithDescription("Files processed, by operation, mode and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		insertionsTotal, err = meter.Int64Counter(
			"srctrace_insertions_total",
			metric.WithDescription("Trace statements written"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fileDuration, err = meter.Float64Histogram(
			"srctrace_file_duration_seconds",
			metric.WithDescription("Time spent per file operation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordResult records metrics for one finished file operation.
func recordResult(ctx context.Context, r Result) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("op", r.Op.String()),
		attribute.String("mode", r.Mode.String()),
		attribute.String("outcome", r.Outcome.String()),
	)
	filesTotal.Add(ctx, 1, attrs)
	fileDuration.Record(ctx, r.Duration.Seconds(), attrs)

	if r.Outcome == OutcomeTraced && r.Insertions > 0 {
		insertionsTotal.Add(ctx, int64(r.Insertions),
			metric.WithAttributes(attribute.String("mode", r.Mode.String())),
		)
	}
}

// startFileSpan creates a span for a file operation. Caller must end it
// with endFileSpan.
func startFileSpan(ctx context.Context, op Operation, mode Mode, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine."+op.String(),
		trace.WithAttributes(
			attribute.String("srctrace.path", path),
			attribute.String("srctrace.mode", mode.String()),
		),
	)
}

func endFileSpan(span trace.Span, r Result) {
	span.SetAttributes(
		attribute.String("srctrace.outcome", r.Outcome.String()),
		attribute.Int("srctrace.insertions", r.Insertions),
	)
	if r.Outcome == OutcomeFailed && r.Err != nil {
		span.SetStatus(codes.Error, r.Err.Error())
	}
	span.End()
}
