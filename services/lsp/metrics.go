// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for LSP operations.
var (
	tracer = otel.Tracer("lspengine.lsp")
	meter  = otel.Meter("lspengine.lsp")
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	framesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lspengine",
		Subsystem: "decoder",
		Name:      "frames_total",
		Help:      "Total frames decoded into messages",
	})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lspengine",
		Subsystem: "decoder",
		Name:      "errors_total",
		Help:      "Frames or bytes dropped by the decoder, by reason",
	}, []string{"reason"})

	requestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lspengine",
		Subsystem: "correlator",
		Name:      "timeouts_total",
		Help:      "Requests that received no response within the timeout",
	}, []string{"method"})

	diagnosticsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lspengine",
		Subsystem: "diagnostics",
		Name:      "published_total",
		Help:      "publishDiagnostics notifications stored, by aggregate severity",
	}, []string{"severity"})

	subscriberPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lspengine",
		Subsystem: "diagnostics",
		Name:      "subscriber_panics_total",
		Help:      "Diagnostics subscriber callbacks that panicked",
	})

	lifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lspengine",
		Subsystem: "client",
		Name:      "transitions_total",
		Help:      "Lifecycle state transitions, by target state",
	}, []string{"state"})

	restartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lspengine",
		Subsystem: "client",
		Name:      "restarts_total",
		Help:      "Server restarts requested through Restart",
	})
)

// ==============================================================================
// OpenTelemetry Metrics
// ==============================================================================

var (
	requestLatency metric.Float64Histogram
	operationTotal metric.Int64Counter
	resultCount    metric.Int64Histogram
	processSpawns  metric.Int64Counter
	metricsOnce    sync.Once
	metricsErr     error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"lsp_request_duration_seconds",
			metric.WithDescription("Round-trip duration of LSP requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"lsp_operation_total",
			metric.WithDescription("Total number of host-facing LSP operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resultCount, err = meter.Int64Histogram(
			"lsp_result_count",
			metric.WithDescription("Number of results returned by LSP queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		processSpawns, err = meter.Int64Counter(
			"lsp_server_spawns_total",
			metric.WithDescription("Total number of language server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a host-facing operation.
func startOperationSpan(ctx context.Context, operation, uri string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+operation,
		trace.WithAttributes(
			attribute.String("lsp.operation", operation),
			attribute.String("lsp.uri", uri),
		),
	)
}

// setOperationSpanResult sets the result attributes on an operation span.
func setOperationSpanResult(span trace.Span, resultCnt int, success bool) {
	span.SetAttributes(
		attribute.Int("lsp.result_count", resultCnt),
		attribute.Bool("lsp.success", success),
	)
}

// recordOperationMetrics records metrics for a host-facing operation.
func recordOperationMetrics(ctx context.Context, operation string, resultCnt int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)
	operationTotal.Add(ctx, 1, attrs)
	if success {
		resultCount.Record(ctx, int64(resultCnt), metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// recordRequestLatency records the round trip of a correlated request.
func recordRequestLatency(ctx context.Context, method string, duration time.Duration, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	requestLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// recordServerSpawn records a server spawn event.
func recordServerSpawn(ctx context.Context, command string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	processSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.Bool("success", success),
	))
}
