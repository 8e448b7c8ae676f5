// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	writeRetryTotal     atomic.Uint64
	writeExhaustedTotal atomic.Uint64
)

func recordWriteRetry() {
	writeRetryTotal.Add(1)
}

func recordWriteExhausted() {
	writeExhaustedTotal.Add(1)
}

type MetricsCollector struct {
	writeRetryDesc     *prometheus.Desc
	writeExhaustedDesc *prometheus.Desc
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		writeRetryDesc: prometheus.NewDesc(
			"watcher_db_write_retry_total",
			"Number of times a store write was retried after the database reported it was locked",
			nil,
			nil,
		),
		writeExhaustedDesc: prometheus.NewDesc(
			"watcher_db_write_busy_total",
			"Number of store writes that failed because the database stayed locked for every attempt",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writeRetryDesc
	ch <- c.writeExhaustedDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.writeRetryDesc,
		prometheus.CounterValue,
		float64(writeRetryTotal.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.writeExhaustedDesc,
		prometheus.CounterValue,
		float64(writeExhaustedTotal.Load()),
	)
}
