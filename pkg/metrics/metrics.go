// Package metrics exposes demandcast's Prometheus collectors.
//
// Forecast metrics:
//   - demandcast_forecast_runs_total{result}: runs by outcome (ok, cached, invalid, error)
//   - demandcast_forecast_duration_seconds: compute time of uncached runs
//   - demandcast_forecast_degenerate_classes: degenerate classes in the last run
//   - demandcast_forecast_rejected_points_total: points dropped by the MAD filter
//   - demandcast_forecast_predictions: hours written by the last run
//
// Ingest metrics:
//   - demandcast_ingested_logins_total: raw login timestamps accepted
//   - demandcast_ingest_rejected_total{reason}: timestamps or requests refused
//
// HTTP metrics:
//   - demandcast_http_requests_total{method,route,status}
//   - demandcast_http_request_duration_seconds{method,route}
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicktill/demandcast/pkg/demand"
)

var (
	ForecastRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demandcast_forecast_runs_total",
			Help: "Forecast runs by result",
		},
		[]string{"result"},
	)

	ForecastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "demandcast_forecast_duration_seconds",
			Help:    "Duration of forecast computations in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	DegenerateClasses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "demandcast_forecast_degenerate_classes",
			Help: "Weekly classes that needed a fallback in the last forecast",
		},
	)

	RejectedPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "demandcast_forecast_rejected_points_total",
			Help: "History points rejected by the MAD outlier filter",
		},
	)

	PredictionsWritten = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "demandcast_forecast_predictions",
			Help: "Hourly predictions written by the last forecast",
		},
	)

	IngestedLogins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "demandcast_ingested_logins_total",
			Help: "Raw login timestamps accepted",
		},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demandcast_ingest_rejected_total",
			Help: "Login timestamps or requests refused by ingestion",
		},
		[]string{"reason"}, // "parse", "limit", "rate"
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demandcast_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demandcast_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Run results
const (
	ResultOK      = "ok"
	ResultCached  = "cached"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// RecordForecast records the outcome of one forecast run. duration is
// ignored for cached runs.
func RecordForecast(duration time.Duration, cached bool, diag demand.Diagnostics, written int, err error) {
	switch {
	case err != nil:
		ForecastRuns.WithLabelValues(resultFor(err)).Inc()
		return
	case cached:
		ForecastRuns.WithLabelValues(ResultCached).Inc()
	default:
		ForecastRuns.WithLabelValues(ResultOK).Inc()
		ForecastDuration.Observe(duration.Seconds())
		RejectedPoints.Add(float64(diag.Rejected))
	}
	DegenerateClasses.Set(float64(diag.Degenerate))
	PredictionsWritten.Set(float64(written))
}

func resultFor(err error) string {
	if errors.Is(err, demand.ErrInvalidParameter) ||
		errors.Is(err, demand.ErrEmptyHistory) ||
		errors.Is(err, demand.ErrInsufficientHistory) {
		return ResultInvalid
	}
	return ResultError
}

// RecordIngest records accepted and unparsable timestamps of one batch.
func RecordIngest(accepted, unparsable int) {
	IngestedLogins.Add(float64(accepted))
	if unparsable > 0 {
		IngestRejected.WithLabelValues("parse").Add(float64(unparsable))
	}
}
