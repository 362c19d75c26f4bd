package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions for the auction network. The bank and house
// binaries expose these on their ops HTTP endpoints.

var (
	// Bank metrics
	BankRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "bank",
			Name:      "requests_total",
			Help:      "Total number of bank requests by type and outcome",
		},
		[]string{"type", "status"},
	)

	BankAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "bank",
			Name:      "accounts_total",
			Help:      "Number of live bank accounts",
		},
	)

	BankConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "bank",
			Name:      "connections_active",
			Help:      "Number of connected bank clients",
		},
	)

	// Auction house metrics
	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "house",
			Name:      "bids_total",
			Help:      "Total number of bids by result",
		},
		[]string{"result"},
	)

	AuctionsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "house",
			Name:      "auctions_settled_total",
			Help:      "Auctions finished, by outcome (sold, withdrawn)",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "house",
			Name:      "sessions_active",
			Help:      "Number of connected agent sessions",
		},
	)

	OpenItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "house",
			Name:      "items_open",
			Help:      "Number of items currently in the catalog",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "house",
			Name:      "notifications_sent_total",
			Help:      "Asynchronous notifications pushed to agents, by status",
		},
		[]string{"status"},
	)
)
