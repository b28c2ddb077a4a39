// Package metrics exposes node counters and gauges for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hyperbook"

var (
	InstructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "instructions_total",
			Help:      "Instructions applied, by kind and result",
		},
		[]string{"kind", "result"},
	)

	BlocksFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "blocks_finalized_total",
			Help:      "Blocks finalized and persisted",
		},
	)

	BlockHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "block_height",
			Help:      "Last finalized block height",
		},
	)

	BookOrders = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "orders",
			Help:      "Resting orders per market and side",
		},
		[]string{"market", "side"},
	)

	SlabFreeNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "slab_free_nodes",
			Help:      "Unallocated slab nodes per market",
		},
		[]string{"market"},
	)

	MempoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "pending",
			Help:      "Instructions waiting for a block",
		},
	)

	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		},
	)
)

// Result labels for InstructionsTotal.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
)
