// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrix

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncStrategyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "securecomms",
		Name:      "sync_strategy_total",
		Help:      "Sync loops started, by negotiated strategy.",
	}, []string{"strategy"})
	syncErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "securecomms",
		Name:      "sync_errors_total",
		Help:      "Sync loops that stopped with an error, by strategy.",
	}, []string{"strategy"})
	operationErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "securecomms",
		Name:      "operation_errors_total",
		Help:      "Failed client operations, by operation.",
	}, []string{"operation"})
	activeSyncs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "securecomms",
		Name:      "active_syncs",
		Help:      "Clients currently syncing.",
	})
)

func init() {
	prometheus.MustRegister(syncStrategyTotal)
	prometheus.MustRegister(syncErrorsTotal)
	prometheus.MustRegister(operationErrorsTotal)
	prometheus.MustRegister(activeSyncs)
}
